package rtsession

import (
	"errors"
	"log/slog"
	"time"

	"github.com/codewandler/rtsession-go/conversation"
	"github.com/codewandler/rtsession-go/eventlog"
	"github.com/codewandler/rtsession-go/events"
	"github.com/codewandler/rtsession-go/tool"
)

// handleMessage is called by the transport for every inbound frame, one at
// a time in arrival order.
func (s *Session) handleMessage(gen uint64, data []byte) {
	evt, err := events.ParseServerEvent(data)

	s.mu.Lock()
	defer s.unlock()

	if s.gen != gen {
		return
	}
	if err != nil {
		eventType, _ := events.PeekType(data)
		s.reportLocked(&ProtocolError{EventType: eventType, Err: err})
		return
	}

	s.logEventLocked(eventlog.SourceServer, evt.EventType(), evt)
	s.dispatchLocked(evt)
}

func (s *Session) dispatchLocked(evt events.ServerEvent) {
	switch e := evt.(type) {
	case *events.ErrorEvent:
		s.reportLocked(e)
		return

	case *events.SessionCreatedEvent:
		select {
		case s.handshake <- nil:
		default:
		}
		return

	case *events.SessionUpdatedEvent,
		*events.InputAudioBufferCommittedEvent,
		*events.ResponseDoneEvent,
		*events.FunctionCallArgumentsDoneEvent,
		*events.RateLimitsUpdatedEvent:
		return

	case *events.UnknownEvent:
		s.logger.Debug("unhandled event", slog.String("type", e.Type))
		return

	case *events.SpeechStartedEvent:
		s.applyLocked(e)
		// the user started talking over the assistant
		s.interruptLocked()
		return

	case *events.ResponseCreatedEvent:
		s.responseStart = time.Now()
		s.applyLocked(e)
		return

	case *events.ResponseOutputItemDoneEvent:
		it := s.applyLocked(e)
		if it != nil && it.Type == conversation.TypeFunctionCall && it.Status == conversation.StatusCompleted {
			s.dispatchToolLocked(it)
		}
		return

	case *events.ConversationItemCreatedEvent,
		*events.ConversationItemTruncatedEvent,
		*events.ConversationItemDeletedEvent,
		*events.InputAudioTranscriptionCompletedEvent,
		*events.SpeechStoppedEvent,
		*events.ResponseOutputItemAddedEvent,
		*events.ResponseContentPartAddedEvent,
		*events.ResponseDeltaEvent:
		s.applyLocked(e)
		return
	}

	s.logger.Warn("event without handler", slog.String("type", evt.EventType()))
}

// applyLocked folds evt into the conversation, streams new audio to the
// speaker and notifies listeners.
func (s *Session) applyLocked(evt events.ServerEvent) *conversation.Item {
	it, delta, err := s.store.Apply(evt)
	if err != nil {
		s.reportLocked(&ProtocolError{EventType: evt.EventType(), Err: err})
		return nil
	}
	if it == nil {
		return nil
	}

	if delta != nil && len(delta.Audio) > 0 {
		if !s.responseStart.IsZero() {
			s.metrics.ObserveFirstAudioLatency(time.Since(s.responseStart))
			s.responseStart = time.Time{}
		}
		if err := s.pipeline.AddPlaybackChunk(delta.Audio, it.ID); err != nil {
			s.logger.Warn("failed to queue playback", slog.String("item_id", it.ID), slog.Any("err", err))
		}
	}

	if it.Status == conversation.StatusCompleted && len(it.Formatted.Audio) > 0 {
		if _, err := it.File(); err != nil {
			s.logger.Warn("failed to encode item audio", slog.String("item_id", it.ID), slog.Any("err", err))
		}
	}

	s.updatedLocked(it, delta)
	return it
}

// dispatchToolLocked runs the tool named by a completed function_call item
// on its own goroutine and feeds the result back to the agent.
func (s *Session) dispatchToolLocked(it *conversation.Item) {
	if it.Formatted.Tool == nil {
		return
	}
	call := it.Clone()
	gen := s.gen
	ctx := s.toolCtx

	s.toolWG.Add(1)
	go func() {
		defer s.toolWG.Done()

		name := call.Formatted.Tool.Name
		start := time.Now()
		res, err := s.tools.Invoke(ctx, name, call.Formatted.Tool.Arguments)
		s.metrics.ToolCall(name, res.OK(), time.Since(start))

		s.mu.Lock()
		defer s.unlock()

		if s.gen != gen {
			return
		}
		if errors.Is(err, tool.ErrToolNotFound) {
			s.reportLocked(err)
		}
		s.completeToolCallLocked(call, res)
	}()
}

func (s *Session) completeToolCallLocked(call *conversation.Item, res tool.Result) {
	output := res.JSON()
	out, delta := s.store.AddFunctionOutput(call, output)
	s.updatedLocked(out, delta)

	if err := s.sendLocked(events.ConversationItemCreateEvent{
		BaseEvent: events.NewBaseEvent(events.TypeConversationItemCreate),
		Item: events.ConversationItem{
			ID:     out.ID,
			Type:   string(conversation.TypeFunctionCallOutput),
			CallID: call.Formatted.Tool.CallID,
			Output: output,
		},
	}); err != nil {
		s.reportLocked(err)
		return
	}
	if err := s.createResponseLocked(); err != nil {
		s.reportLocked(err)
	}
}

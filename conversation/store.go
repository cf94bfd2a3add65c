package conversation

import (
	"encoding/base64"
	"errors"
	"fmt"
	"slices"

	"github.com/codewandler/rtsession-go/audio"
	"github.com/codewandler/rtsession-go/events"
)

var ErrItemNotFound = errors.New("item not found")

type speech struct {
	startMs int
	endMs   int
	audio   []byte
}

// Store is the ordered item history. It is not safe for concurrent use; the
// session serialises access.
type Store struct {
	items []*Item
	byID  map[string]*Item

	responses map[string][]string

	// captured input not yet committed; inputBase is the absolute sample
	// index of inputAudio[0]
	inputAudio  []byte
	inputBase   int
	queuedInput []byte

	queuedSpeech      map[string]*speech
	queuedTranscripts map[string]string
}

func NewStore() *Store {
	s := &Store{}
	s.Reset()
	return s
}

func (s *Store) Reset() {
	s.items = nil
	s.byID = make(map[string]*Item)
	s.responses = make(map[string][]string)
	s.inputAudio = nil
	s.inputBase = 0
	s.queuedInput = nil
	s.queuedSpeech = make(map[string]*speech)
	s.queuedTranscripts = make(map[string]string)
}

// Items returns the live items in order.
func (s *Store) Items() []*Item {
	return slices.Clone(s.items)
}

func (s *Store) Get(id string) (*Item, bool) {
	it, ok := s.byID[id]
	return it, ok
}

func (s *Store) Len() int { return len(s.items) }

// Delete removes id and reports whether it existed.
func (s *Store) Delete(id string) (*Item, bool) {
	it, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	delete(s.byID, id)
	s.items = slices.DeleteFunc(s.items, func(x *Item) bool { return x.ID == id })
	return it, true
}

func (s *Store) append(it *Item) {
	s.items = append(s.items, it)
	s.byID[it.ID] = it
}

// AppendInputAudio records microphone PCM forwarded to the server so it can
// later be attached to the user item it became part of.
func (s *Store) AppendInputAudio(pcm []byte) {
	s.inputAudio = append(s.inputAudio, pcm...)
}

// PendingInputAudio reports whether audio was appended since the last commit.
func (s *Store) PendingInputAudio() bool {
	return len(s.inputAudio) > 0
}

// CommitInputAudio moves the pending input to the next user audio item.
func (s *Store) CommitInputAudio() {
	s.queuedInput = s.inputAudio
	s.inputBase += audio.Samples(s.inputAudio)
	s.inputAudio = nil
}

// ClearInputAudio drops captured input that was never committed.
func (s *Store) ClearInputAudio() {
	s.inputBase += audio.Samples(s.inputAudio)
	s.inputAudio = nil
}

// AddFunctionOutput records the result of a tool call as a
// function_call_output item. The item shares its id with the call id so a
// server echo of the same item is recognised.
func (s *Store) AddFunctionOutput(call *Item, output string) (*Item, *Delta) {
	var name, callID string
	if call.Formatted.Tool != nil {
		name, callID = call.Formatted.Tool.Name, call.Formatted.Tool.CallID
	}
	delta := &Delta{FunctionOutput: &FunctionOutput{Name: name, CallID: callID, Output: output}}

	if it, ok := s.byID[callID]; ok {
		return it, delta
	}
	it := &Item{
		ID:     callID,
		Type:   TypeFunctionCallOutput,
		Role:   RoleAssistant,
		Status: StatusCompleted,
		Formatted: Formatted{
			Tool:   &ToolCall{Name: name, CallID: callID},
			Output: output,
		},
	}
	s.append(it)
	return it, delta
}

// Apply folds a server event into the store. It returns the item touched
// and the delta applied; both are nil for events that do not change an
// item. Events referring to unknown items yield ErrItemNotFound.
func (s *Store) Apply(evt events.ServerEvent) (*Item, *Delta, error) {
	switch e := evt.(type) {
	case *events.ConversationItemCreatedEvent:
		return s.itemCreated(e)
	case *events.ConversationItemTruncatedEvent:
		it, ok := s.byID[e.ItemID]
		if !ok {
			return nil, nil, fmt.Errorf("truncate %q: %w", e.ItemID, ErrItemNotFound)
		}
		end := min(e.AudioEndMs*audio.ProtocolSampleRate/1000*audio.BytesPerSample, len(it.Formatted.Audio))
		it.Formatted.Transcript = ""
		it.Formatted.Audio = slices.Clip(it.Formatted.Audio[:max(end, 0)])
		it.invalidateFile()
		return it, nil, nil
	case *events.ConversationItemDeletedEvent:
		// deletions are applied locally first; the echo is a no-op then
		it, _ := s.Delete(e.ItemID)
		return it, nil, nil
	case *events.InputAudioTranscriptionCompletedEvent:
		it, ok := s.byID[e.ItemID]
		if !ok {
			s.queuedTranscripts[e.ItemID] = e.Transcript
			return nil, nil, nil
		}
		if e.ContentIndex >= 0 && e.ContentIndex < len(it.Content) {
			it.Content[e.ContentIndex].Transcript = e.Transcript
		}
		it.Formatted.Transcript = e.Transcript
		return it, &Delta{Transcript: e.Transcript}, nil
	case *events.SpeechStartedEvent:
		s.queuedSpeech[e.ItemID] = &speech{startMs: e.AudioStartMs}
		return nil, nil, nil
	case *events.SpeechStoppedEvent:
		sp, ok := s.queuedSpeech[e.ItemID]
		if !ok {
			sp = &speech{startMs: e.AudioEndMs}
			s.queuedSpeech[e.ItemID] = sp
		}
		sp.endMs = e.AudioEndMs
		sp.audio = s.cutInput(sp.startMs, sp.endMs)
		return nil, nil, nil
	case *events.ResponseCreatedEvent:
		if _, ok := s.responses[e.Response.ID]; !ok {
			s.responses[e.Response.ID] = nil
		}
		return nil, nil, nil
	case *events.ResponseOutputItemAddedEvent:
		if _, ok := s.responses[e.ResponseID]; !ok {
			return nil, nil, fmt.Errorf("response %q not found", e.ResponseID)
		}
		s.responses[e.ResponseID] = append(s.responses[e.ResponseID], e.Item.ID)
		return nil, nil, nil
	case *events.ResponseOutputItemDoneEvent:
		it, ok := s.byID[e.Item.ID]
		if !ok {
			return nil, nil, fmt.Errorf("output item %q: %w", e.Item.ID, ErrItemNotFound)
		}
		it.Status = Status(e.Item.Status)
		if it.Formatted.Tool != nil && e.Item.Arguments != "" {
			it.Formatted.Tool.Arguments = e.Item.Arguments
		}
		return it, nil, nil
	case *events.ResponseContentPartAddedEvent:
		it, ok := s.byID[e.ItemID]
		if !ok {
			return nil, nil, fmt.Errorf("content part for %q: %w", e.ItemID, ErrItemNotFound)
		}
		it.Content = append(it.Content, e.Part)
		return it, nil, nil
	case *events.ResponseDeltaEvent:
		return s.delta(e)
	}
	return nil, nil, nil
}

func (s *Store) itemCreated(e *events.ConversationItemCreatedEvent) (*Item, *Delta, error) {
	if it, ok := s.byID[e.Item.ID]; ok {
		return it, nil, nil
	}

	it := newItem(e.Item)
	if it.Type == TypeMessage && it.Role == RoleUser {
		if slices.ContainsFunc(e.Item.Content, func(c events.ConversationItemContent) bool {
			return c.Type == "input_audio"
		}) && s.queuedInput != nil {
			it.Formatted.Audio = s.queuedInput
			s.queuedInput = nil
		}
	}
	if sp, ok := s.queuedSpeech[it.ID]; ok {
		if len(sp.audio) > 0 {
			it.Formatted.Audio = sp.audio
		}
		delete(s.queuedSpeech, it.ID)
	}
	if tr, ok := s.queuedTranscripts[it.ID]; ok {
		it.Formatted.Transcript = tr
		delete(s.queuedTranscripts, it.ID)
	}

	s.append(it)
	return it, nil, nil
}

func (s *Store) delta(e *events.ResponseDeltaEvent) (*Item, *Delta, error) {
	it, ok := s.byID[e.ItemID]
	if !ok {
		return nil, nil, fmt.Errorf("%s for %q: %w", e.Type, e.ItemID, ErrItemNotFound)
	}
	part := func() *events.ConversationItemContent {
		if e.ContentIndex >= 0 && e.ContentIndex < len(it.Content) {
			return &it.Content[e.ContentIndex]
		}
		return nil
	}

	switch e.Type {
	case events.TypeResponseAudioDelta:
		pcm, err := base64.StdEncoding.DecodeString(e.Delta)
		if err != nil {
			return nil, nil, fmt.Errorf("decode audio delta: %w", err)
		}
		it.Formatted.Audio = append(it.Formatted.Audio, pcm...)
		return it, &Delta{Audio: pcm}, nil
	case events.TypeResponseAudioTranscriptDelta:
		if p := part(); p != nil {
			p.Transcript += e.Delta
		}
		it.Formatted.Transcript += e.Delta
		return it, &Delta{Transcript: e.Delta}, nil
	case events.TypeResponseTextDelta:
		if p := part(); p != nil {
			p.Text += e.Delta
		}
		it.Formatted.Text += e.Delta
		return it, &Delta{Text: e.Delta}, nil
	case events.TypeResponseFunctionCallArgumentsDelta:
		if it.Formatted.Tool == nil {
			it.Formatted.Tool = &ToolCall{CallID: e.CallID}
		}
		it.Formatted.Tool.Arguments += e.Delta
		return it, &Delta{Arguments: e.Delta}, nil
	}
	return it, nil, nil
}

// cutInput returns the captured input between two server timestamps and
// drops everything before the end.
func (s *Store) cutInput(startMs, endMs int) []byte {
	toIndex := func(ms int) int {
		i := ms*audio.ProtocolSampleRate/1000 - s.inputBase
		return min(max(i, 0), audio.Samples(s.inputAudio)) * audio.BytesPerSample
	}
	from, to := toIndex(startMs), toIndex(endMs)
	if to <= from {
		return nil
	}
	out := slices.Clone(s.inputAudio[from:to])

	s.inputAudio = slices.Clone(s.inputAudio[to:])
	s.inputBase += to / audio.BytesPerSample
	return out
}

package events

import "fmt"

const (
	TypeError                              = "error"
	TypeSessionCreated                     = "session.created"
	TypeSessionUpdated                     = "session.updated"
	TypeConversationItemCreated            = "conversation.item.created"
	TypeConversationItemTruncated          = "conversation.item.truncated"
	TypeConversationItemDeleted            = "conversation.item.deleted"
	TypeInputAudioTranscriptionCompleted   = "conversation.item.input_audio_transcription.completed"
	TypeInputAudioBufferSpeechStarted      = "input_audio_buffer.speech_started"
	TypeInputAudioBufferSpeechStopped      = "input_audio_buffer.speech_stopped"
	TypeInputAudioBufferCommitted          = "input_audio_buffer.committed"
	TypeResponseCreated                    = "response.created"
	TypeResponseDone                       = "response.done"
	TypeResponseOutputItemAdded            = "response.output_item.added"
	TypeResponseOutputItemDone             = "response.output_item.done"
	TypeResponseContentPartAdded           = "response.content_part.added"
	TypeResponseAudioTranscriptDelta       = "response.audio_transcript.delta"
	TypeResponseAudioDelta                 = "response.audio.delta"
	TypeResponseTextDelta                  = "response.text.delta"
	TypeResponseFunctionCallArgumentsDelta = "response.function_call_arguments.delta"
	TypeResponseFunctionCallArgumentsDone  = "response.function_call_arguments.done"
	TypeRateLimitsUpdated                  = "rate_limits.updated"
)

// ServerEvent is the closed set of inbound events. Every concrete type below
// embeds ServerEventBase; anything else decodes to *UnknownEvent.
type ServerEvent interface {
	EventType() string
	isServerEvent()
}

type ServerEventBase struct {
	BaseEvent
}

func (ServerEventBase) isServerEvent() {}

type ErrorEvent struct {
	ServerEventBase
	ErrorDetail ErrorDetail `json:"error"`
}

func (e *ErrorEvent) Error() string {
	return e.ErrorDetail.Error()
}

// ErrorDetail holds the details of the error.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
	EventID string `json:"event_id"`
}

func (e *ErrorDetail) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type SessionCreatedEvent struct {
	ServerEventBase
	Session Session `json:"session"`
}

type SessionUpdatedEvent struct {
	ServerEventBase
	Session Session `json:"session"`
}

type ConversationItemCreatedEvent struct {
	ServerEventBase
	PreviousItemID string           `json:"previous_item_id"`
	Item           ConversationItem `json:"item"`
}

type ConversationItemTruncatedEvent struct {
	ServerEventBase
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

type ConversationItemDeletedEvent struct {
	ServerEventBase
	ItemID string `json:"item_id"`
}

type InputAudioTranscriptionCompletedEvent struct {
	ServerEventBase
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

type SpeechStartedEvent struct {
	ServerEventBase
	AudioStartMs int    `json:"audio_start_ms"`
	ItemID       string `json:"item_id"`
}

type SpeechStoppedEvent struct {
	ServerEventBase
	AudioEndMs int    `json:"audio_end_ms"`
	ItemID     string `json:"item_id"`
}

type InputAudioBufferCommittedEvent struct {
	ServerEventBase
	PreviousItemID string `json:"previous_item_id"`
	ItemID         string `json:"item_id"`
}

type Response struct {
	ID     string             `json:"id"`
	Object string             `json:"object,omitempty"`
	Status string             `json:"status"`
	Output []ConversationItem `json:"output"`
}

type ResponseCreatedEvent struct {
	ServerEventBase
	Response Response `json:"response"`
}

type ResponseDoneEvent struct {
	ServerEventBase
	Response Response `json:"response"`
}

type ResponseOutputItemAddedEvent struct {
	ServerEventBase
	ResponseID  string           `json:"response_id"`
	OutputIndex int              `json:"output_index"`
	Item        ConversationItem `json:"item"`
}

type ResponseOutputItemDoneEvent struct {
	ServerEventBase
	ResponseID  string           `json:"response_id"`
	OutputIndex int              `json:"output_index"`
	Item        ConversationItem `json:"item"`
}

type ResponseContentPartAddedEvent struct {
	ServerEventBase
	ResponseID   string                  `json:"response_id"`
	ItemID       string                  `json:"item_id"`
	OutputIndex  int                     `json:"output_index"`
	ContentIndex int                     `json:"content_index"`
	Part         ConversationItemContent `json:"part"`
}

// ResponseDeltaEvent covers the streamed audio, transcript, text and
// function-argument deltas. They share one shape and differ only by type.
type ResponseDeltaEvent struct {
	ServerEventBase
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	CallID       string `json:"call_id,omitempty"`
	Delta        string `json:"delta"`
}

type FunctionCallArgumentsDoneEvent struct {
	ServerEventBase
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	CallID     string `json:"call_id"`
	Arguments  string `json:"arguments"`
}

type RateLimit struct {
	Name         string  `json:"name"`
	Limit        int     `json:"limit"`
	Remaining    int     `json:"remaining"`
	ResetSeconds float64 `json:"reset_seconds"`
}

type RateLimitsUpdatedEvent struct {
	ServerEventBase
	RateLimits []RateLimit `json:"rate_limits"`
}

// UnknownEvent keeps types this package does not model. They are still logged.
type UnknownEvent struct {
	ServerEventBase
	Raw []byte `json:"-"`
}

// ParseServerEvent decodes a raw frame into its concrete ServerEvent.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	t, err := PeekType(data)
	if err != nil {
		return nil, fmt.Errorf("read event type: %w", err)
	}

	switch t {
	case TypeError:
		return parseAs[ErrorEvent](data)
	case TypeSessionCreated:
		return parseAs[SessionCreatedEvent](data)
	case TypeSessionUpdated:
		return parseAs[SessionUpdatedEvent](data)
	case TypeConversationItemCreated:
		return parseAs[ConversationItemCreatedEvent](data)
	case TypeConversationItemTruncated:
		return parseAs[ConversationItemTruncatedEvent](data)
	case TypeConversationItemDeleted:
		return parseAs[ConversationItemDeletedEvent](data)
	case TypeInputAudioTranscriptionCompleted:
		return parseAs[InputAudioTranscriptionCompletedEvent](data)
	case TypeInputAudioBufferSpeechStarted:
		return parseAs[SpeechStartedEvent](data)
	case TypeInputAudioBufferSpeechStopped:
		return parseAs[SpeechStoppedEvent](data)
	case TypeInputAudioBufferCommitted:
		return parseAs[InputAudioBufferCommittedEvent](data)
	case TypeResponseCreated:
		return parseAs[ResponseCreatedEvent](data)
	case TypeResponseDone:
		return parseAs[ResponseDoneEvent](data)
	case TypeResponseOutputItemAdded:
		return parseAs[ResponseOutputItemAddedEvent](data)
	case TypeResponseOutputItemDone:
		return parseAs[ResponseOutputItemDoneEvent](data)
	case TypeResponseContentPartAdded:
		return parseAs[ResponseContentPartAddedEvent](data)
	case TypeResponseAudioTranscriptDelta,
		TypeResponseAudioDelta,
		TypeResponseTextDelta,
		TypeResponseFunctionCallArgumentsDelta:
		return parseAs[ResponseDeltaEvent](data)
	case TypeResponseFunctionCallArgumentsDone:
		return parseAs[FunctionCallArgumentsDoneEvent](data)
	case TypeRateLimitsUpdated:
		return parseAs[RateLimitsUpdatedEvent](data)
	case "":
		return nil, fmt.Errorf("event without type")
	default:
		evt, err := parseAs[UnknownEvent](data)
		if err != nil {
			return nil, err
		}
		evt.Raw = append([]byte(nil), data...)
		return evt, nil
	}
}

func parseAs[T any, PT interface {
	*T
	ServerEvent
}](data []byte) (PT, error) {
	evt, err := Parse[T](data)
	if err != nil {
		return nil, fmt.Errorf("parse %T: %w", *new(T), err)
	}
	return PT(evt), nil
}

package events

const (
	TypeSessionUpdate            = "session.update"
	TypeInputAudioBufferAppend   = "input_audio_buffer.append"
	TypeInputAudioBufferCommit   = "input_audio_buffer.commit"
	TypeInputAudioBufferClear    = "input_audio_buffer.clear"
	TypeConversationItemCreate   = "conversation.item.create"
	TypeConversationItemTruncate = "conversation.item.truncate"
	TypeConversationItemDelete   = "conversation.item.delete"
	TypeResponseCreate           = "response.create"
	TypeResponseCancel           = "response.cancel"
)

type SessionUpdateEvent struct {
	BaseEvent
	Session SessionUpdate `json:"session"`
}

type InputAudioBufferAppendEvent struct {
	BaseEvent
	Audio string `json:"audio"`
}

type InputAudioBufferCommitEvent struct {
	BaseEvent
}

type InputAudioBufferClearEvent struct {
	BaseEvent
}

type ConversationItemCreateEvent struct {
	BaseEvent
	PreviousItemID string           `json:"previous_item_id,omitempty"`
	Item           ConversationItem `json:"item"`
}

type ConversationItemTruncateEvent struct {
	BaseEvent
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

type ConversationItemDeleteEvent struct {
	BaseEvent
	ItemID string `json:"item_id"`
}

type ResponseCreateEvent struct {
	BaseEvent
	Response ResponseCreatePayload `json:"response"`
}

type ResponseCreatePayload struct {
	Modalities      []string `json:"modalities,omitempty"`
	Instructions    string   `json:"instructions,omitempty"`
	Voice           string   `json:"voice,omitempty"`
	Temperature     float64  `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
}

type ResponseCancelEvent struct {
	BaseEvent
}

// ConversationItem is the inner “item” object.
type ConversationItem struct {
	ID        string                    `json:"id,omitempty"`
	Object    string                    `json:"object,omitempty"`
	Type      string                    `json:"type"`
	Status    string                    `json:"status,omitempty"`
	Role      string                    `json:"role,omitempty"`
	Content   []ConversationItemContent `json:"content,omitempty"`
	CallID    string                    `json:"call_id,omitempty"`
	Name      string                    `json:"name,omitempty"`
	Arguments string                    `json:"arguments,omitempty"`
	Output    string                    `json:"output,omitempty"`
}

type ConversationItemContent struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Audio      string `json:"audio,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// Package conversation holds the ordered item history of a realtime session
// and folds server events into it.
package conversation

import (
	"slices"

	"github.com/codewandler/rtsession-go/audio"
	"github.com/codewandler/rtsession-go/events"
)

type Type string

const (
	TypeMessage            Type = "message"
	TypeFunctionCall       Type = "function_call"
	TypeFunctionCallOutput Type = "function_call_output"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusIncomplete Status = "incomplete"
)

// ToolCall is the formatted view of a function_call item.
type ToolCall struct {
	Name      string
	CallID    string
	Arguments string
}

// Formatted is the display-ready payload accumulated from deltas.
type Formatted struct {
	Text       string
	Transcript string
	// Audio is PCM16 mono at audio.ProtocolSampleRate.
	Audio  []byte
	Tool   *ToolCall
	Output string
	// File is Audio encoded as WAV. See Item.File.
	File []byte
}

type Item struct {
	ID        string
	Type      Type
	Role      Role
	Status    Status
	Content   []events.ConversationItemContent
	Formatted Formatted

	fileLen int
}

// File returns the item's audio as a playable WAV file. The encoding is
// cached and only redone when the audio changed since the last call.
func (it *Item) File() ([]byte, error) {
	if len(it.Formatted.Audio) == 0 {
		return nil, nil
	}
	if it.Formatted.File != nil && it.fileLen == len(it.Formatted.Audio) {
		return it.Formatted.File, nil
	}
	wav, err := audio.EncodeWAV(it.Formatted.Audio, audio.ProtocolSampleRate)
	if err != nil {
		return nil, err
	}
	it.Formatted.File = wav
	it.fileLen = len(it.Formatted.Audio)
	return wav, nil
}

func (it *Item) invalidateFile() {
	it.Formatted.File = nil
	it.fileLen = 0
}

// Clone returns a snapshot of it. Audio and File are shared: the store only
// ever appends to or reslices them, so the snapshot's view never changes.
func (it *Item) Clone() *Item {
	c := *it
	c.Content = slices.Clone(it.Content)
	c.Formatted.Audio = slices.Clip(it.Formatted.Audio)
	c.Formatted.File = slices.Clip(it.Formatted.File)
	if it.Formatted.Tool != nil {
		tc := *it.Formatted.Tool
		c.Formatted.Tool = &tc
	}
	return &c
}

// FunctionOutput is set on a Delta when a tool result was recorded.
type FunctionOutput struct {
	Name   string
	CallID string
	Output string
}

// Delta is the incremental change an event applied to an item.
type Delta struct {
	Audio          []byte
	Text           string
	Transcript     string
	Arguments      string
	FunctionOutput *FunctionOutput
}

func newItem(src events.ConversationItem) *Item {
	it := &Item{
		ID:      src.ID,
		Type:    Type(src.Type),
		Role:    Role(src.Role),
		Status:  Status(src.Status),
		Content: slices.Clone(src.Content),
	}

	switch it.Type {
	case TypeMessage:
		for _, c := range src.Content {
			switch c.Type {
			case "text", "input_text":
				it.Formatted.Text += c.Text
			}
			it.Formatted.Transcript += c.Transcript
		}
	case TypeFunctionCall:
		it.Formatted.Tool = &ToolCall{
			Name:      src.Name,
			CallID:    src.CallID,
			Arguments: src.Arguments,
		}
		if it.Status == "" {
			it.Status = StatusInProgress
		}
	case TypeFunctionCallOutput:
		it.Formatted.Output = src.Output
		it.Status = StatusCompleted
	}
	return it
}

package events

import (
	"github.com/bytedance/sonic"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// codec keeps encoding/json compatible output (sorted map keys, html escaping)
// so relayed frames stay byte-stable.
var codec = sonic.ConfigStd

type BaseEvent struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

func (b BaseEvent) EventType() string { return b.Type }

func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID: NewID("evt_"),
		Type:    eventType,
	}
}

// NewID returns a prefixed nanoid. The realtime API caps ids at 32 characters.
func NewID(prefix string) string {
	id, err := nanoid.New(21)
	if err != nil {
		panic(err)
	}
	return prefix + id
}

func Parse[T any](data []byte) (*T, error) {
	var x T
	if err := codec.Unmarshal(data, &x); err != nil {
		return nil, err
	}
	return &x, nil
}

func Marshal(evt any) ([]byte, error) {
	return codec.Marshal(evt)
}

// PeekType reads only the discriminator of a raw event.
func PeekType(data []byte) (string, error) {
	var x struct {
		Type string `json:"type"`
	}
	if err := codec.Unmarshal(data, &x); err != nil {
		return "", err
	}
	return x.Type, nil
}

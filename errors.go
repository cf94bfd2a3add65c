package rtsession

import (
	"errors"
	"fmt"

	"github.com/codewandler/rtsession-go/audio"
	"github.com/codewandler/rtsession-go/tool"
)

var (
	ErrAlreadyConnected      = errors.New("session already connected")
	ErrNotConnected          = errors.New("session not connected")
	ErrPushToTalkUnavailable = errors.New("push-to-talk requires manual turn detection")
	ErrMissingCredential     = errors.New("no relay url and no api key configured")
)

// ConnectionError is a transport or handshake failure. It is fatal to the
// attempted operation and never retried by the session.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or unexpected inbound event. The session
// reports it and carries on.
type ProtocolError struct {
	EventType string
	Err       error
}

func (e *ProtocolError) Error() string {
	if e.EventType == "" {
		return fmt.Sprintf("protocol: %v", e.Err)
	}
	return fmt.Sprintf("protocol: %s: %v", e.EventType, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// DeviceError is a microphone or speaker acquisition failure.
type DeviceError = audio.DeviceError

// ToolInvocationError is a failed tool call, reported to the agent as data.
type ToolInvocationError = tool.InvocationError

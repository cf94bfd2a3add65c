package rtsession

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/codewandler/rtsession-go/internal/websocket"
)

const realtimeURL = "wss://api.openai.com/v1/realtime"

// Conn is an open protocol connection owned by one Session.
type Conn interface {
	WriteText(data []byte) error
	Close(ctx context.Context) error
}

// DialRequest describes the connection a Session wants. OnMessage must be
// called from a single goroutine in arrival order; OnClose once when the
// connection is gone.
type DialRequest struct {
	URL       string
	Header    http.Header
	OnMessage func(data []byte)
	OnClose   func(err error)
}

type Dialer func(ctx context.Context, req DialRequest) (Conn, error)

// WebsocketDialer dials with the gobwas based websocket client.
func WebsocketDialer(logger *slog.Logger) Dialer {
	return func(ctx context.Context, req DialRequest) (Conn, error) {
		client, err := websocket.Connect(ctx, websocket.ClientConfig{
			URL:     req.URL,
			Headers: req.Header,
			Logger:  logger,
			OnText: func(data []byte) error {
				req.OnMessage(data)
				return nil
			},
			OnClose: req.OnClose,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// dialTarget returns where to connect: the relay if one is configured,
// otherwise the realtime API directly with the credential attached.
func (c *SessionConfig) dialTarget() (string, http.Header) {
	if c.RelayURL != "" {
		return c.RelayURL, http.Header{}
	}

	headers := http.Header{}
	headers.Add("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))
	headers.Add("OpenAI-Beta", "realtime=v1")
	return fmt.Sprintf("%s?model=%s", realtimeURL, url.QueryEscape(c.Model)), headers
}

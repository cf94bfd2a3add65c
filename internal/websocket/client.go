package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var ErrClosed = errors.New("websocket closed")

type ClientConfig struct {
	URL         string
	DialTimeout time.Duration
	Headers     http.Header
	// OnText and OnBinary are called from a single goroutine in arrival order.
	OnText   func(data []byte) error
	OnBinary func(data []byte) error
	// OnClose is called once after the connection went away, from the same
	// goroutine as OnText. err is nil for a clean close.
	OnClose func(err error)
	Logger  *slog.Logger
}

type Client struct {
	conn     net.Conn
	out      chan wsutil.Message
	done     chan struct{}
	doneOnce sync.Once
	err      error
	logger   *slog.Logger

	// at most one close frame is sent per connection
	closeSent  atomic.Bool
	peerClosed atomic.Bool
}

func (c *Client) shutdown(err error) {
	c.doneOnce.Do(func() {
		c.err = err
		close(c.done)
		_ = c.conn.Close()
	})
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) WriteText(data []byte) error {
	return c.Write(ws.OpText, data)
}

func (c *Client) WriteBinary(data []byte) error {
	return c.Write(ws.OpBinary, data)
}

func (c *Client) Ping(data []byte) error {
	return c.Write(ws.OpPing, data)
}

func (c *Client) SendClose(code ws.StatusCode, reason string) error {
	return c.Write(ws.OpClose, ws.NewCloseFrameBody(code, reason))
}

// Close performs the closing handshake and waits for the peer to answer
// until ctx expires, after which the connection is dropped.
func (c *Client) Close(ctx context.Context) error {
	if err := c.SendClose(ws.StatusNormalClosure, "closing"); err != nil {
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.shutdown(nil)
		return fmt.Errorf("close failed: %w", ctx.Err())
	}
}

// echoClose answers a close frame from the server with the same status code
// and waits briefly for the writer to flush it.
func (c *Client) echoClose(out chan<- wsutil.Message, code ws.StatusCode) {
	var body []byte
	if code != 0 {
		body = ws.NewCloseFrameBody(code, "")
	}
	select {
	case out <- wsutil.Message{OpCode: ws.OpClose, Payload: body}:
	case <-c.done:
		return
	}
	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
}

func (c *Client) Write(opcode ws.OpCode, data []byte) error {
	if opcode == ws.OpClose && !c.closeSent.CompareAndSwap(false, true) {
		return nil
	}
	select {
	case <-c.done:
		return ErrClosed
	case c.out <- wsutil.Message{OpCode: opcode, Payload: data}:
		return nil
	}
}

func Connect(ctx context.Context, config ClientConfig) (*Client, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With(
		slog.String("url", config.URL),
	)

	dialTimeout := config.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}

	hsCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	d := ws.Dialer{
		Timeout: dialTimeout,
		Header:  ws.HandshakeHeaderHTTP(config.Headers),
	}
	conn, buf, hs, err := d.Dial(hsCtx, config.URL)
	if err != nil {
		return nil, err
	}
	logger.Debug("handshake complete", slog.Any("protocol", hs.Protocol))

	// frames the server sent along with the handshake response sit in buf
	var src io.Reader = conn
	if buf != nil {
		src = io.MultiReader(buf, conn)
	}

	var (
		input  = make(chan wsutil.Message, 1000)
		output = make(chan wsutil.Message, 1000)
	)

	client := &Client{
		conn:   conn,
		out:    output,
		done:   make(chan struct{}),
		logger: logger,
	}

	onTextFunc := config.OnText
	if onTextFunc == nil {
		onTextFunc = func(data []byte) error {
			return nil
		}
	}
	onBinaryFunc := config.OnBinary
	if onBinaryFunc == nil {
		onBinaryFunc = func(data []byte) error {
			return nil
		}
	}

	// websocket -> input channel
	go func() {
		if buf != nil {
			defer ws.PutReader(buf)
		}
		for {
			messages, err := wsutil.ReadServerMessage(src, nil)
			if err != nil {
				select {
				case <-client.done:
				default:
					if errors.Is(err, io.EOF) {
						client.shutdown(nil)
						return
					}
					logger.Error("ws read failed", slog.Any("err", err))
					client.shutdown(err)
				}
				return
			}
			for _, msg := range messages {
				select {
				case input <- msg:
				case <-client.done:
					return
				}
			}
		}
	}()

	// output channel -> websocket
	go func() {
		for {
			select {
			case <-client.done:
				return
			case msg := <-output:
				if err := wsutil.WriteClientMessage(conn, msg.OpCode, msg.Payload); err != nil {
					if client.peerClosed.Load() {
						client.shutdown(nil)
						return
					}
					logger.Error("ws write failed", slog.Any("err", err))
					client.shutdown(err)
					return
				}
				if msg.OpCode == ws.OpClose && client.peerClosed.Load() {
					// closing handshake answered
					client.shutdown(nil)
					return
				}
			}
		}
	}()

	// input channel processing
	go func() {
		defer func() {
			if config.OnClose != nil {
				config.OnClose(client.err)
			}
		}()

		for {
			select {
			case <-client.done:
				return
			case msg := <-input:
				if msg.OpCode.IsControl() {
					logger.Debug("rcv: control", slog.Any("opcode", msg.OpCode))

					switch msg.OpCode {
					case ws.OpPing:
						_ = client.Write(ws.OpPong, msg.Payload)
					case ws.OpClose:
						code, reason := ws.ParseCloseFrameData(msg.Payload)
						logger.Debug("rcv: close", slog.Int("code", int(code)), slog.String("reason", reason))
						client.peerClosed.Store(true)
						if client.closeSent.CompareAndSwap(false, true) {
							client.echoClose(output, code)
						}
						client.shutdown(nil)
						return
					}
					continue
				}

				switch msg.OpCode {
				case ws.OpText:
					if err := onTextFunc(msg.Payload); err != nil {
						logger.Error("text message handler failed", slog.Any("err", err))
					}
				case ws.OpBinary:
					if err := onBinaryFunc(msg.Payload); err != nil {
						logger.Error("binary message handler failed", slog.Any("err", err))
					}
				}
			}
		}
	}()

	logger.Info("connected to websocket")

	return client, nil
}

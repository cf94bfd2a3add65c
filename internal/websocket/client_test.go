package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/require"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			for {
				msg, op, err := wsutil.ReadClientData(conn)
				if err != nil {
					return
				}
				if string(msg) == "bye" {
					_ = wsutil.WriteServerMessage(conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, "bye"))
					return
				}
				if err := wsutil.WriteServerMessage(conn, op, msg); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientEchoKeepsOrder(t *testing.T) {
	srv := echoServer(t)
	received := make(chan string, 10)

	client, err := Connect(context.Background(), ClientConfig{
		URL:         wsURL(srv),
		DialTimeout: time.Second,
		OnText: func(data []byte) error {
			received <- string(data)
			return nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	for i := range 5 {
		require.NoError(t, client.WriteText([]byte(strconv.Itoa(i))))
	}
	for i := range 5 {
		select {
		case got := <-received:
			require.Equal(t, strconv.Itoa(i), got)
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d not echoed", i)
		}
	}
}

func TestClientClose(t *testing.T) {
	srv := echoServer(t)
	closed := make(chan error, 1)

	client, err := Connect(context.Background(), ClientConfig{
		URL:     wsURL(srv),
		OnClose: func(err error) { closed <- err },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Close(ctx))

	select {
	case <-client.Done():
	default:
		t.Fatal("client not done after close")
	}
	require.ErrorIs(t, client.WriteText([]byte("late")), ErrClosed)

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}
	require.NoError(t, client.Close(ctx))
}

func TestClientServerInitiatedClose(t *testing.T) {
	srv := echoServer(t)
	closed := make(chan struct{})

	client, err := Connect(context.Background(), ClientConfig{
		URL:     wsURL(srv),
		OnClose: func(error) { close(closed) },
	})
	require.NoError(t, err)
	require.NoError(t, client.WriteText([]byte("bye")))

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}
}

func TestClientAnswersServerClose(t *testing.T) {
	answer := make(chan ws.Frame, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			if err := wsutil.WriteServerMessage(conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusGoingAway, "restart")); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			f, err := ws.ReadFrame(conn)
			if err != nil {
				return
			}
			if f.Header.Masked {
				ws.Cipher(f.Payload, f.Header.Mask, 0)
			}
			answer <- f
		}()
	}))
	t.Cleanup(srv.Close)

	closed := make(chan error, 1)
	_, err := Connect(context.Background(), ClientConfig{
		URL:     wsURL(srv),
		OnClose: func(err error) { closed <- err },
	})
	require.NoError(t, err)

	select {
	case f := <-answer:
		require.Equal(t, ws.OpClose, f.Header.OpCode)
		code, _ := ws.ParseCloseFrameData(f.Payload)
		require.Equal(t, ws.StatusGoingAway, code)
	case <-time.After(2 * time.Second):
		t.Fatal("close frame not answered")
	}

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}
}

func TestConnectFailure(t *testing.T) {
	srv := echoServer(t)
	url := wsURL(srv)
	srv.Close()

	_, err := Connect(context.Background(), ClientConfig{URL: url, DialTimeout: time.Second})
	require.Error(t, err)
}

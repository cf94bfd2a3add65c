// Package relay forwards realtime sessions from local clients to the
// upstream realtime API, attaching the server-held credential so clients
// never see it.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/rtsession-go/internal/metrics"
	upstream "github.com/codewandler/rtsession-go/internal/websocket"
)

const (
	DefaultUpstreamURL = "wss://api.openai.com/v1/realtime"

	// client frames held while the upstream connection is being opened
	pendingFrames = 1024
)

type Config struct {
	UpstreamURL    string
	APIKey         string
	Model          string
	AllowAnyOrigin bool
	DialTimeout    time.Duration
	Logger         *slog.Logger
	Registerer     prometheus.Registerer
	Gatherer       prometheus.Gatherer
}

type Server struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	wg sync.WaitGroup
}

func New(cfg Config) (*Server, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("relay: api key is required")
	}
	if cfg.UpstreamURL == "" {
		cfg.UpstreamURL = DefaultUpstreamURL
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: metrics.New(cfg.Registerer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// non-browser clients
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleRelay)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler(s.cfg.Gatherer))
	return r
}

// Wait blocks until every relayed connection has been torn down.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"upstream": s.cfg.UpstreamURL,
	})
}

func (s *Server) upstreamTarget(r *http.Request) (string, http.Header) {
	model := strings.TrimSpace(r.URL.Query().Get("model"))
	if model == "" {
		model = s.cfg.Model
	}
	target := s.cfg.UpstreamURL
	if model != "" {
		target = fmt.Sprintf("%s?model=%s", target, url.QueryEscape(model))
	}

	headers := http.Header{}
	headers.Add("Authorization", fmt.Sprintf("Bearer %s", s.cfg.APIKey))
	headers.Add("OpenAI-Beta", "realtime=v1")
	return target, headers
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		respondJSON(w, http.StatusUpgradeRequired, map[string]any{"error": "websocket upgrade required"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()

	id := uuid.NewString()
	logger := s.logger.With(slog.String("relay_id", id))
	s.metrics.RelayOpened()
	defer s.metrics.RelayClosed()
	logger.Info("client connected", slog.String("remote", r.RemoteAddr))

	p := &pipe{
		client:   conn,
		pending:  make(chan []byte, pendingFrames),
		done:     make(chan struct{}),
		upstream: make(chan struct{}),
		logger:   logger,
		metrics:  s.metrics,
	}

	target, headers := s.upstreamTarget(r)
	go p.runUpstream(r.Context(), target, headers, s.cfg.DialTimeout)

	p.readClient()
	p.close(nil)
	<-p.upstream
	logger.Info("client disconnected")
}

// pipe is one relayed connection: a gorilla websocket towards the client
// and a gobwas websocket towards the upstream API.
type pipe struct {
	client  *websocket.Conn
	pending chan []byte
	logger  *slog.Logger
	metrics *metrics.Metrics

	writeMu sync.Mutex

	once sync.Once
	done chan struct{}
	// closed once the upstream leg has shut down
	upstream chan struct{}
}

// close ends the relay. A non-nil err is reported to the client first.
func (p *pipe) close(err error) {
	p.once.Do(func() {
		if err != nil {
			p.sendError(err)
		}
		p.writeMu.Lock()
		_ = p.client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		p.writeMu.Unlock()
		_ = p.client.Close()
		close(p.done)
	})
}

func (p *pipe) writeClient(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.client.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return p.client.WriteMessage(websocket.TextMessage, data)
}

// sendError tells the client why the relay is going away, shaped like a
// server error event.
func (p *pipe) sendError(err error) {
	data, mErr := sonic.ConfigStd.Marshal(map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    "relay_error",
			"message": err.Error(),
		},
	})
	if mErr != nil {
		return
	}
	_ = p.writeClient(data)
}

func (p *pipe) readClient() {
	p.client.SetReadLimit(16 << 20)
	for {
		msgType, data, err := p.client.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case p.pending <- data:
		case <-p.done:
			return
		}
	}
}

func (p *pipe) runUpstream(ctx context.Context, target string, headers http.Header, timeout time.Duration) {
	defer close(p.upstream)

	up, err := upstream.Connect(ctx, upstream.ClientConfig{
		URL:         target,
		DialTimeout: timeout,
		Headers:     headers,
		Logger:      p.logger,
		OnText: func(data []byte) error {
			p.metrics.RelayMessage("downstream")
			return p.writeClient(data)
		},
		OnClose: func(err error) {
			if err != nil {
				p.logger.Warn("upstream closed", slog.Any("err", err))
			}
			p.close(err)
		},
	})
	if err != nil {
		p.logger.Error("upstream dial failed", slog.Any("err", err))
		p.close(fmt.Errorf("upstream unavailable: %w", err))
		return
	}
	p.logger.Debug("upstream connected")

	for {
		select {
		case data := <-p.pending:
			p.metrics.RelayMessage("upstream")
			if err := up.WriteText(data); err != nil {
				p.close(err)
				return
			}
		case <-p.done:
			closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = up.Close(closeCtx)
			cancel()
			return
		}
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = sonic.ConfigStd.NewEncoder(w).Encode(v)
}

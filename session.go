package rtsession

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codewandler/rtsession-go/audio"
	"github.com/codewandler/rtsession-go/conversation"
	"github.com/codewandler/rtsession-go/eventlog"
	"github.com/codewandler/rtsession-go/events"
	"github.com/codewandler/rtsession-go/internal/metrics"
	"github.com/codewandler/rtsession-go/memory"
	"github.com/codewandler/rtsession-go/tool"
)

type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

var errConnectAborted = errors.New("aborted by disconnect")

// Session is one realtime conversation. It owns the protocol connection,
// the audio pipeline, the conversation store, the event log and the memory
// store, and serialises everything that touches them.
type Session struct {
	id       string
	cfg      SessionConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tools    *tool.Registry
	memory   memory.Store
	pipeline *audio.Pipeline

	// lifecycle serialises Connect, Disconnect and SetOutputMode
	lifecycle sync.Mutex

	mu            sync.Mutex
	state         ConnectionState
	active        bool
	gen           uint64
	conn          Conn
	handshake     chan error
	turnDetection TurnDetection
	outputMode    OutputMode
	capturing     bool
	startTime     time.Time
	draft         string
	store         *conversation.Store
	log           *eventlog.Log
	toolCtx       context.Context
	toolCancel    context.CancelFunc
	responseStart time.Time
	pending       []func()
	// set while a lifecycle operation runs; callbacks wait in held
	inLifecycle bool
	held        []func()

	toolWG sync.WaitGroup

	onUpdate func(*conversation.Item, *conversation.Delta)
	onError  func(error)
	onEvent  func(eventlog.Event)
}

// New creates a disconnected session. The built-in set_memory tool is
// always registered against the session's memory store.
func New(opts ...Option) (*Session, error) {
	cfg := SessionConfig{}
	withDefaults()(&cfg)
	WithOptions(opts...)(&cfg)
	cfg.fillDefaults()

	id := uuid.NewString()
	logger := cfg.Logger.With(slog.String("session_id", id))

	store := cfg.Memory
	if store == nil {
		store = memory.NewInMemoryStore()
	}

	tools := tool.NewRegistry(logger)
	if err := tools.RegisterAll(append([]tool.Binding{memory.Binding(store)}, cfg.Tools...)...); err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Metrics != nil {
		m = metrics.New(cfg.Metrics)
	}

	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer(logger)
	}

	return &Session{
		id:      id,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		tools:   tools,
		memory:  store,
		pipeline: audio.NewPipeline(
			audio.WithInputSampleRate(cfg.SampleRate),
			audio.WithOutputSampleRate(cfg.SampleRate),
			audio.WithFrameLatency(cfg.latency()),
			audio.WithResampler(audio.BeepResampler{}),
			audio.WithLogger(logger),
		),
		state:         StateDisconnected,
		turnDetection: cfg.TurnDetection,
		outputMode:    cfg.OutputMode,
		store:         conversation.NewStore(),
		log:           eventlog.New(),
	}, nil
}

func (c *SessionConfig) fillDefaults() {
	var d SessionConfig
	withDefaults()(&d)
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.TurnDetection == "" {
		c.TurnDetection = d.TurnDetection
	}
	if c.OutputMode == "" {
		c.OutputMode = d.OutputMode
	}
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.LatencyMS <= 0 {
		c.LatencyMS = d.LatencyMS
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
}

// unlock releases mu and then runs the callbacks queued while it was held,
// so callbacks may call back into the session. During a lifecycle operation
// they are held until endLifecycle.
func (s *Session) unlock() {
	pending := s.pending
	s.pending = nil
	if s.inLifecycle {
		s.held = append(s.held, pending...)
		pending = nil
	}
	s.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func (s *Session) beginLifecycle() {
	s.lifecycle.Lock()
	s.mu.Lock()
	s.inLifecycle = true
	s.mu.Unlock()
}

// endLifecycle releases the lifecycle lock and then runs the callbacks held
// back meanwhile, so a handler may call Connect or Disconnect.
func (s *Session) endLifecycle() {
	s.mu.Lock()
	s.inLifecycle = false
	held := s.held
	s.held = nil
	s.mu.Unlock()
	s.lifecycle.Unlock()
	for _, fn := range held {
		fn()
	}
}

func (s *Session) ID() string { return s.id }

// OnConversationUpdated is called after every change to a conversation
// item. The item is a snapshot; its audio must not be modified.
func (s *Session) OnConversationUpdated(h func(item *conversation.Item, delta *conversation.Delta)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = h
}

// OnError receives server error events, protocol errors and a lost
// connection. The session never reconnects by itself.
func (s *Session) OnError(h func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = h
}

// OnRealtimeEvent receives every logged entry, merged ones included.
func (s *Session) OnRealtimeEvent(h func(e eventlog.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = h
}

func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) TurnDetection() TurnDetection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnDetection
}

func (s *Session) OutputMode() OutputMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputMode
}

// CanPushToTalk reports whether Start/StopRecording are available.
func (s *Session) CanPushToTalk() bool {
	return s.TurnDetection() == TurnDetectionManual
}

func (s *Session) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}

func (s *Session) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startTime
}

// Items returns snapshots of the conversation in order.
func (s *Session) Items() []*conversation.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.store.Items()
	for i, it := range items {
		items[i] = it.Clone()
	}
	return items
}

// Events returns the aggregated event log.
func (s *Session) Events() []eventlog.Event {
	return s.log.Entries()
}

func (s *Session) Memory(ctx context.Context) (map[string]string, error) {
	return s.memory.Snapshot(ctx)
}

// SetMemory writes a memory entry directly, as the set_memory tool would.
func (s *Session) SetMemory(ctx context.Context, key, value string) error {
	return s.memory.Set(ctx, key, value)
}

func (s *Session) Tools() []tool.Tool {
	return s.tools.Definitions()
}

// Frequencies samples the spectrum of the microphone or speaker side.
func (s *Session) Frequencies(ch audio.Channel, kind audio.AnalysisType) audio.FrequencyData {
	return s.pipeline.Frequencies(ch, kind)
}

func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = text
}

func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Connect opens devices and the protocol connection, waits for the server
// to create the session and configures it.
func (s *Session) Connect(ctx context.Context) error {
	s.beginLifecycle()
	defer s.endLifecycle()
	return s.connect(ctx)
}

func (s *Session) connect(ctx context.Context) error {
	if err := s.cfg.validate(); err != nil {
		return &ConnectionError{Op: "configure", Err: err}
	}

	s.mu.Lock()
	if s.state != StateDisconnected {
		s.unlock()
		return ErrAlreadyConnected
	}
	s.gen++
	gen := s.gen
	s.state = StateConnecting
	s.active = true
	s.startTime = time.Now()
	s.log.Reset()
	s.store.Reset()
	s.handshake = make(chan error, 1)
	handshake := s.handshake
	s.toolCtx, s.toolCancel = context.WithCancel(context.Background())
	s.unlock()

	s.logger.Info("connecting", slog.String("turn_detection", string(s.TurnDetection())), slog.String("output_mode", string(s.OutputMode())))

	if s.cfg.Microphone != nil {
		if err := s.pipeline.Begin(ctx, s.cfg.Microphone); err != nil {
			s.abort(gen)
			return err
		}
	}
	if s.cfg.Speaker != nil {
		if err := s.pipeline.ConnectPlayback(s.cfg.Speaker); err != nil {
			s.abort(gen)
			return err
		}
	}

	target, header := s.cfg.dialTarget()
	conn, err := s.cfg.Dialer(ctx, DialRequest{
		URL:       target,
		Header:    header,
		OnMessage: func(data []byte) { s.handleMessage(gen, data) },
		OnClose:   func(err error) { s.connectionClosed(gen, err) },
	})
	if err != nil {
		s.abort(gen)
		return &ConnectionError{Op: "dial", Err: err}
	}

	s.mu.Lock()
	if s.gen != gen {
		s.unlock()
		_ = conn.Close(ctx)
		return &ConnectionError{Op: "dial", Err: errConnectAborted}
	}
	s.conn = conn
	s.unlock()

	timer := time.NewTimer(s.cfg.HandshakeTimeout)
	defer timer.Stop()
	select {
	case err = <-handshake:
	case <-timer.C:
		err = fmt.Errorf("timeout waiting for session.created")
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		s.abort(gen)
		return &ConnectionError{Op: "handshake", Err: err}
	}

	s.mu.Lock()
	if err := s.establishLocked(gen); err != nil {
		s.unlock()
		s.abort(gen)
		return err
	}
	s.unlock()

	s.metrics.SessionConnected()
	s.logger.Info("connected")
	return nil
}

func (s *Session) establishLocked(gen uint64) error {
	if s.gen != gen {
		return &ConnectionError{Op: "handshake", Err: errConnectAborted}
	}
	if err := s.sendLocked(events.SessionUpdateEvent{
		BaseEvent: events.NewBaseEvent(events.TypeSessionUpdate),
		Session:   s.sessionUpdateLocked(),
	}); err != nil {
		return err
	}
	if s.cfg.Greeting != "" {
		if err := s.sendUserTextLocked(s.cfg.Greeting); err != nil {
			return err
		}
	}
	if s.turnDetection == TurnDetectionServerVAD {
		if err := s.recordLocked(); err != nil {
			return err
		}
	}
	s.state = StateConnected
	return nil
}

// abort rolls back a failed connect attempt.
func (s *Session) abort(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.unlock()
		return
	}
	conn := s.detachLocked()
	s.active = false
	s.unlock()

	s.release(context.Background(), conn)
}

// detachLocked moves the session to disconnected and hands back the
// connection for release outside the lock.
func (s *Session) detachLocked() Conn {
	s.gen++
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.capturing = false
	s.pipeline.Pause()
	if s.toolCancel != nil {
		s.toolCancel()
	}
	return conn
}

func (s *Session) release(ctx context.Context, conn Conn) {
	if err := s.pipeline.End(); err != nil {
		s.logger.Warn("failed to release microphone", slog.Any("err", err))
	}
	if err := s.pipeline.DisconnectPlayback(); err != nil {
		s.logger.Warn("failed to release speaker", slog.Any("err", err))
	}
	if conn != nil {
		if err := conn.Close(ctx); err != nil {
			s.logger.Warn("failed to close connection", slog.Any("err", err))
		}
	}
	s.toolWG.Wait()
}

// Disconnect tears the session down and clears the event log, the
// conversation and the memory store. It is idempotent.
func (s *Session) Disconnect(ctx context.Context) error {
	s.beginLifecycle()
	defer s.endLifecycle()
	return s.disconnect(ctx)
}

func (s *Session) disconnect(ctx context.Context) error {
	s.mu.Lock()
	if !s.active {
		s.unlock()
		return nil
	}
	wasConnected := s.state == StateConnected
	conn := s.detachLocked()
	s.active = false
	s.log.Reset()
	s.store.Reset()
	s.unlock()

	s.release(ctx, conn)

	if err := s.memory.Clear(ctx); err != nil {
		s.logger.Warn("failed to clear memory", slog.Any("err", err))
	}
	if wasConnected {
		s.metrics.SessionDisconnected()
	}
	s.logger.Info("disconnected")
	return nil
}

// connectionClosed handles the transport going away underneath the session.
// Items and the event log are kept for inspection until Disconnect.
func (s *Session) connectionClosed(gen uint64, err error) {
	if err == nil {
		err = errors.New("closed by peer")
	}
	cerr := &ConnectionError{Op: "read", Err: err}

	s.mu.Lock()
	if s.gen != gen {
		s.unlock()
		return
	}
	if s.state == StateConnecting {
		// Connect holds the lifecycle lock and is waiting for this
		select {
		case s.handshake <- cerr:
		default:
		}
		s.unlock()
		return
	}
	s.unlock()

	s.beginLifecycle()
	defer s.endLifecycle()

	s.mu.Lock()
	if s.gen != gen {
		s.unlock()
		return
	}
	conn := s.detachLocked()
	s.reportLocked(cerr)
	s.unlock()

	s.metrics.SessionDisconnected()
	s.release(context.Background(), conn)
}

// SetOutputMode changes the response modalities. Modalities are negotiated
// at connect time, so a connected session is reconnected.
func (s *Session) SetOutputMode(ctx context.Context, mode OutputMode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid output mode %q", mode)
	}

	s.beginLifecycle()
	defer s.endLifecycle()

	s.mu.Lock()
	s.outputMode = mode
	connected := s.state == StateConnected
	s.unlock()

	if !connected {
		return nil
	}
	if err := s.disconnect(ctx); err != nil {
		return err
	}
	return s.connect(ctx)
}

// ChangeTurnEndType switches between push-to-talk and server VAD.
func (s *Session) ChangeTurnEndType(mode TurnDetection) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid turn detection %q", mode)
	}

	s.mu.Lock()
	defer s.unlock()

	if mode == s.turnDetection {
		return nil
	}
	if s.state != StateConnected {
		s.turnDetection = mode
		return nil
	}

	prev := s.turnDetection
	if mode == TurnDetectionServerVAD {
		// the server only detects turns in audio it receives
		if err := s.recordLocked(); err != nil {
			return err
		}
	}
	s.turnDetection = mode
	if err := s.sendLocked(events.SessionUpdateEvent{
		BaseEvent: events.NewBaseEvent(events.TypeSessionUpdate),
		Session:   s.sessionUpdateLocked(),
	}); err != nil {
		s.turnDetection = prev
		if mode == TurnDetectionServerVAD {
			s.pipeline.Pause()
			s.capturing = false
		}
		return err
	}
	if mode == TurnDetectionServerVAD {
		return nil
	}

	if s.capturing {
		s.pipeline.Pause()
		s.capturing = false
	}
	s.store.ClearInputAudio()
	return s.sendLocked(events.InputAudioBufferClearEvent{
		BaseEvent: events.NewBaseEvent(events.TypeInputAudioBufferClear),
	})
}

// StartRecording begins a push-to-talk turn. Assistant audio still playing
// is cut off and the server is told how much of it was heard.
func (s *Session) StartRecording() error {
	s.mu.Lock()
	defer s.unlock()

	if s.state != StateConnected {
		return ErrNotConnected
	}
	if s.turnDetection != TurnDetectionManual {
		return ErrPushToTalkUnavailable
	}
	if s.capturing {
		return nil
	}
	s.interruptLocked()
	return s.recordLocked()
}

// StopRecording ends a push-to-talk turn and asks for a response.
func (s *Session) StopRecording() error {
	s.mu.Lock()
	defer s.unlock()

	if s.state != StateConnected {
		return ErrNotConnected
	}
	if s.turnDetection != TurnDetectionManual {
		return ErrPushToTalkUnavailable
	}
	s.pipeline.Pause()
	s.capturing = false
	return s.createResponseLocked()
}

// SubmitText sends the trimmed message and clears the draft. Blank input
// is ignored.
func (s *Session) SubmitText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	defer s.unlock()

	if s.state != StateConnected {
		return ErrNotConnected
	}
	if err := s.sendUserTextLocked(text); err != nil {
		return err
	}
	s.draft = ""
	return nil
}

// DeleteItem removes an item locally and asks the server to forget it.
// Unknown ids are not an error.
func (s *Session) DeleteItem(id string) error {
	s.mu.Lock()
	defer s.unlock()

	s.store.Delete(id)
	if s.state != StateConnected {
		return nil
	}
	return s.sendLocked(events.ConversationItemDeleteEvent{
		BaseEvent: events.NewBaseEvent(events.TypeConversationItemDelete),
		ItemID:    id,
	})
}

// CancelResponse stops generation and truncates the assistant item to the
// given offset in 24 kHz samples. With an empty id only the response is
// cancelled.
func (s *Session) CancelResponse(itemID string, sampleOffset int) error {
	s.mu.Lock()
	defer s.unlock()

	if s.state != StateConnected {
		return ErrNotConnected
	}
	return s.cancelResponseLocked(itemID, sampleOffset)
}

// AddTool registers a tool. A connected session re-sends its configuration
// so the agent learns about it.
func (s *Session) AddTool(def tool.Tool, h tool.Handler) error {
	if err := s.tools.Register(def, h); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.unlock()
	if s.state != StateConnected {
		return nil
	}
	return s.sendLocked(events.SessionUpdateEvent{
		BaseEvent: events.NewBaseEvent(events.TypeSessionUpdate),
		Session:   s.sessionUpdateLocked(),
	})
}

func (s *Session) sessionUpdateLocked() events.SessionUpdate {
	modalities := []string{events.ModalityText}
	if s.outputMode == OutputModeConversation {
		modalities = append(modalities, events.ModalityAudio)
	}

	var td *events.TurnDetection
	if s.turnDetection == TurnDetectionServerVAD {
		td = &events.TurnDetection{Type: string(TurnDetectionServerVAD)}
	}

	var transcription *events.InputAudioTranscription
	if s.cfg.TranscriptionModel != "" {
		transcription = &events.InputAudioTranscription{Model: s.cfg.TranscriptionModel}
	}

	tools := s.tools.Definitions()
	toolChoice := tool.ChoiceNone
	if len(tools) > 0 {
		toolChoice = tool.ChoiceAuto
	}

	return events.SessionUpdate{
		Modalities:              modalities,
		Instructions:            s.cfg.Instructions,
		Voice:                   s.cfg.Voice,
		InputAudioFormat:        events.AudioFormatPCM16,
		OutputAudioFormat:       events.AudioFormatPCM16,
		InputAudioTranscription: transcription,
		TurnDetection:           td,
		Tools:                   tools,
		ToolChoice:              toolChoice,
		Temperature:             s.cfg.Temperature,
	}
}

func (s *Session) sendUserTextLocked(text string) error {
	if err := s.sendLocked(events.ConversationItemCreateEvent{
		BaseEvent: events.NewBaseEvent(events.TypeConversationItemCreate),
		Item: events.ConversationItem{
			ID:   events.NewID("item_"),
			Type: string(conversation.TypeMessage),
			Role: string(conversation.RoleUser),
			Content: []events.ConversationItemContent{
				{Type: "input_text", Text: text},
			},
		},
	}); err != nil {
		return err
	}
	return s.createResponseLocked()
}

// createResponseLocked commits pending push-to-talk audio before asking for
// a response.
func (s *Session) createResponseLocked() error {
	if s.turnDetection == TurnDetectionManual && s.store.PendingInputAudio() {
		if err := s.sendLocked(events.InputAudioBufferCommitEvent{
			BaseEvent: events.NewBaseEvent(events.TypeInputAudioBufferCommit),
		}); err != nil {
			return err
		}
		s.store.CommitInputAudio()
	}
	return s.sendLocked(events.ResponseCreateEvent{
		BaseEvent: events.NewBaseEvent(events.TypeResponseCreate),
	})
}

func (s *Session) cancelResponseLocked(itemID string, sampleOffset int) error {
	if itemID == "" {
		return s.sendLocked(events.ResponseCancelEvent{
			BaseEvent: events.NewBaseEvent(events.TypeResponseCancel),
		})
	}

	it, ok := s.store.Get(itemID)
	if !ok {
		return fmt.Errorf("cancel response: %w: %s", conversation.ErrItemNotFound, itemID)
	}
	if it.Type != conversation.TypeMessage || it.Role != conversation.RoleAssistant {
		return fmt.Errorf("cancel response: %s is not an assistant message", itemID)
	}
	contentIndex := 0
	for i, c := range it.Content {
		if c.Type == "audio" {
			contentIndex = i
			break
		}
	}

	if err := s.sendLocked(events.ResponseCancelEvent{
		BaseEvent: events.NewBaseEvent(events.TypeResponseCancel),
	}); err != nil {
		return err
	}
	return s.sendLocked(events.ConversationItemTruncateEvent{
		BaseEvent:    events.NewBaseEvent(events.TypeConversationItemTruncate),
		ItemID:       itemID,
		ContentIndex: contentIndex,
		AudioEndMs:   audio.PlaybackCancellation{TrackID: itemID, Offset: max(sampleOffset, 0)}.AudioEndMs(),
	})
}

// interruptLocked stops assistant playback and reports the cut to the
// server. Nothing is sent when nothing was playing.
func (s *Session) interruptLocked() {
	c := s.pipeline.Interrupt()
	if c == nil {
		return
	}
	s.metrics.Interrupted()
	s.logger.Debug("playback interrupted", slog.String("item_id", c.TrackID), slog.Int("offset", c.Offset))
	if err := s.cancelResponseLocked(c.TrackID, c.Offset); err != nil {
		s.reportLocked(err)
	}
}

func (s *Session) recordLocked() error {
	if err := s.pipeline.Record(s.forwardAudio(s.gen)); err != nil {
		return err
	}
	s.capturing = true
	return nil
}

// forwardAudio returns the capture callback for one connection. Frames that
// race with a pause or a reconnect are dropped.
func (s *Session) forwardAudio(gen uint64) func([]byte) error {
	return func(pcm []byte) error {
		s.mu.Lock()
		defer s.unlock()

		if s.gen != gen || s.conn == nil {
			return ErrNotConnected
		}
		if !s.capturing {
			return nil
		}
		s.store.AppendInputAudio(pcm)
		return s.sendLocked(events.InputAudioBufferAppendEvent{
			BaseEvent: events.NewBaseEvent(events.TypeInputAudioBufferAppend),
			Audio:     base64.StdEncoding.EncodeToString(pcm),
		})
	}
}

type clientEvent interface {
	EventType() string
}

func (s *Session) sendLocked(evt clientEvent) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	data, err := events.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s: %w", evt.EventType(), err)
	}
	if err := s.conn.WriteText(data); err != nil {
		return &ConnectionError{Op: "send", Err: err}
	}
	s.logEventLocked(eventlog.SourceClient, evt.EventType(), evt)
	return nil
}

func (s *Session) logEventLocked(src eventlog.Source, eventType string, payload any) {
	entry := s.log.Append(eventlog.Event{
		Time:    time.Now(),
		Source:  src,
		Type:    eventType,
		Payload: payload,
	})
	s.metrics.Event(string(src), eventType)
	if h := s.onEvent; h != nil {
		s.pending = append(s.pending, func() { h(entry) })
	}
}

func (s *Session) reportLocked(err error) {
	s.logger.Error("session error", slog.Any("err", err))
	if h := s.onError; h != nil {
		s.pending = append(s.pending, func() { h(err) })
	}
}

func (s *Session) updatedLocked(it *conversation.Item, delta *conversation.Delta) {
	if h := s.onUpdate; h != nil {
		snapshot := it.Clone()
		s.pending = append(s.pending, func() { h(snapshot, delta) })
	}
}

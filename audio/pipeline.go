package audio

import (
	"context"
	"log/slog"
	"time"
)

// Channel selects which side of the pipeline Frequencies samples.
type Channel string

const (
	ChannelInput  Channel = "input"
	ChannelOutput Channel = "output"
)

type pipelineConfig struct {
	inputRate  int
	outputRate int
	latency    time.Duration
	bufferFor  time.Duration
	resampler  Resampler
	logger     *slog.Logger
}

type PipelineOption func(*pipelineConfig)

// WithInputSampleRate sets the native rate of the microphone.
func WithInputSampleRate(rate int) PipelineOption {
	return func(c *pipelineConfig) {
		c.inputRate = rate
	}
}

// WithOutputSampleRate sets the native rate of the speaker.
func WithOutputSampleRate(rate int) PipelineOption {
	return func(c *pipelineConfig) {
		c.outputRate = rate
	}
}

// WithFrameLatency sets the duration of one captured frame.
func WithFrameLatency(latency time.Duration) PipelineOption {
	return func(c *pipelineConfig) {
		c.latency = latency
	}
}

func WithPlaybackBuffer(d time.Duration) PipelineOption {
	return func(c *pipelineConfig) {
		c.bufferFor = d
	}
}

func WithResampler(r Resampler) PipelineOption {
	return func(c *pipelineConfig) {
		c.resampler = r
	}
}

func WithLogger(logger *slog.Logger) PipelineOption {
	return func(c *pipelineConfig) {
		c.logger = logger
	}
}

// Pipeline is the bidirectional audio boundary: a Recorder for the
// microphone side and a Player for the speaker side.
type Pipeline struct {
	recorder *Recorder
	player   *Player
}

func NewPipeline(opts ...PipelineOption) *Pipeline {
	cfg := &pipelineConfig{
		inputRate:  ProtocolSampleRate,
		outputRate: ProtocolSampleRate,
		latency:    100 * time.Millisecond,
		bufferFor:  60 * time.Second,
		resampler:  LinearResampler{},
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Pipeline{
		recorder: NewRecorder(cfg.inputRate, cfg.latency, cfg.resampler, cfg.logger.With(slog.String("channel", string(ChannelInput)))),
		player:   NewPlayer(cfg.outputRate, cfg.bufferFor, cfg.resampler, cfg.logger.With(slog.String("channel", string(ChannelOutput)))),
	}
}

func (p *Pipeline) Begin(ctx context.Context, mic Microphone) error {
	return p.recorder.Begin(ctx, mic)
}

func (p *Pipeline) End() error {
	return p.recorder.End()
}

func (p *Pipeline) Record(onChunk func([]byte) error) error {
	return p.recorder.Record(onChunk)
}

func (p *Pipeline) Pause() {
	p.recorder.Pause()
}

func (p *Pipeline) IsRecording() bool {
	return p.recorder.IsRecording()
}

func (p *Pipeline) ConnectPlayback(spk Speaker) error {
	return p.player.Connect(spk)
}

func (p *Pipeline) DisconnectPlayback() error {
	return p.player.Disconnect()
}

// Interrupt halts the streamed response being played. See Player.Interrupt.
func (p *Pipeline) Interrupt() *PlaybackCancellation {
	return p.player.Interrupt()
}

func (p *Pipeline) AddPlaybackChunk(pcm []byte, itemID string) error {
	return p.player.Add(pcm, itemID)
}

// Frequencies samples the current spectrum of one channel.
func (p *Pipeline) Frequencies(ch Channel, kind AnalysisType) FrequencyData {
	if ch == ChannelOutput {
		return p.player.Frequencies(kind)
	}
	return p.recorder.Frequencies(kind)
}

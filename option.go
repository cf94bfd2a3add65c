package rtsession

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/rtsession-go/audio"
	"github.com/codewandler/rtsession-go/memory"
	"github.com/codewandler/rtsession-go/tool"
)

const (
	ApiKeyEnvVarNameShort = "OPENAI_KEY"
	ApiKeyEnvVarNameLong  = "OPENAI_API_KEY"

	DefaultModel    = "gpt-4o-realtime-preview-2024-10-01"
	DefaultGreeting = "Hello!"
)

// TurnDetection decides when the user's turn ends.
type TurnDetection string

const (
	TurnDetectionManual    TurnDetection = "manual"
	TurnDetectionServerVAD TurnDetection = "server_vad"
)

func (t TurnDetection) Valid() bool {
	return t == TurnDetectionManual || t == TurnDetectionServerVAD
}

// OutputMode selects the modalities the agent answers with.
type OutputMode string

const (
	OutputModeText         OutputMode = "text"
	OutputModeConversation OutputMode = "conversation"
)

func (m OutputMode) Valid() bool {
	return m == OutputModeText || m == OutputModeConversation
}

// SessionConfig is everything a Session needs to know up front. It replaces
// any process-wide lookup: build it with options or fill it directly and
// pass it with WithConfig.
type SessionConfig struct {
	APIKey             string
	RelayURL           string
	Model              string
	Voice              string
	Instructions       string
	TranscriptionModel string
	Temperature        float64
	TurnDetection      TurnDetection
	OutputMode         OutputMode
	// Greeting is sent as the first user message after connecting. Empty
	// disables it.
	Greeting string
	// SampleRate is the native rate of the microphone and speaker.
	SampleRate int
	// LatencyMS is the duration of one captured frame.
	LatencyMS        int
	HandshakeTimeout time.Duration

	Logger     *slog.Logger
	Metrics    prometheus.Registerer
	Dialer     Dialer
	Tools      []tool.Binding
	Memory     memory.Store
	Microphone audio.Microphone
	Speaker    audio.Speaker
}

func (c *SessionConfig) latency() time.Duration {
	return time.Duration(c.LatencyMS) * time.Millisecond
}

func (c *SessionConfig) validate() error {
	if c.RelayURL == "" && c.APIKey == "" {
		return ErrMissingCredential
	}
	if !c.TurnDetection.Valid() {
		return fmt.Errorf("invalid turn detection %q", c.TurnDetection)
	}
	if !c.OutputMode.Valid() {
		return fmt.Errorf("invalid output mode %q", c.OutputMode)
	}
	return nil
}

type Option func(*SessionConfig)

// WithConfig replaces the whole configuration. Options after it still apply.
func WithConfig(cfg SessionConfig) Option {
	return func(c *SessionConfig) {
		*c = cfg
	}
}

func WithKey(apiKey string) Option {
	return func(c *SessionConfig) {
		c.APIKey = apiKey
	}
}

// WithEnvKey reads the API key from the first non-empty variable.
func WithEnvKey(vars ...string) Option {
	return func(c *SessionConfig) {
		for _, envVarName := range vars {
			if k := os.Getenv(envVarName); k != "" {
				c.APIKey = k
				return
			}
		}
	}
}

// WithRelayURL connects through a relay that holds the credential.
func WithRelayURL(url string) Option {
	return func(c *SessionConfig) {
		c.RelayURL = url
	}
}

func WithModel(model string) Option {
	return func(c *SessionConfig) {
		c.Model = model
	}
}

func WithVoice(voice string) Option {
	return func(c *SessionConfig) {
		c.Voice = voice
	}
}

func WithInstructions(instructions string) Option {
	return func(c *SessionConfig) {
		c.Instructions = instructions
	}
}

func WithTranscriptionModel(model string) Option {
	return func(c *SessionConfig) {
		c.TranscriptionModel = model
	}
}

func WithTemperature(temperature float64) Option {
	return func(c *SessionConfig) {
		c.Temperature = temperature
	}
}

func WithTurnDetection(mode TurnDetection) Option {
	return func(c *SessionConfig) {
		c.TurnDetection = mode
	}
}

func WithOutputMode(mode OutputMode) Option {
	return func(c *SessionConfig) {
		c.OutputMode = mode
	}
}

func WithGreeting(text string) Option {
	return func(c *SessionConfig) {
		c.Greeting = text
	}
}

func WithSampleRate(sr int) Option {
	return func(c *SessionConfig) {
		c.SampleRate = sr
	}
}

// WithLatency sets the latency in milliseconds.
func WithLatency(latencyMS int) Option {
	return func(c *SessionConfig) {
		c.LatencyMS = latencyMS
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *SessionConfig) {
		c.HandshakeTimeout = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *SessionConfig) {
		c.Logger = logger
	}
}

func WithDefaultLogger() Option {
	return WithLogger(slog.Default())
}

// WithMetrics records session metrics into reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *SessionConfig) {
		c.Metrics = reg
	}
}

func WithDialer(d Dialer) Option {
	return func(c *SessionConfig) {
		c.Dialer = d
	}
}

// WithTools adds tools on top of the built-in set_memory tool.
func WithTools(bindings ...tool.Binding) Option {
	return func(c *SessionConfig) {
		c.Tools = append(c.Tools, bindings...)
	}
}

func WithMemoryStore(store memory.Store) Option {
	return func(c *SessionConfig) {
		c.Memory = store
	}
}

func WithMicrophone(mic audio.Microphone) Option {
	return func(c *SessionConfig) {
		c.Microphone = mic
	}
}

func WithSpeaker(spk audio.Speaker) Option {
	return func(c *SessionConfig) {
		c.Speaker = spk
	}
}

func WithOptions(opts ...Option) Option {
	return func(c *SessionConfig) {
		for _, opt := range opts {
			opt(c)
		}
	}
}

func withDefaults() Option {
	return WithOptions(
		WithLogger(slog.New(slog.DiscardHandler)),
		WithModel(DefaultModel),
		WithVoice("alloy"),
		WithInstructions("You are a helpful research assistant. Use your tools to look up papers and remember what the user tells you."),
		WithTranscriptionModel("whisper-1"),
		WithTemperature(0.8),
		WithTurnDetection(TurnDetectionManual),
		WithOutputMode(OutputModeText),
		WithGreeting(DefaultGreeting),
		WithSampleRate(audio.ProtocolSampleRate),
		WithLatency(100),
		WithHandshakeTimeout(10*time.Second),
	)
}

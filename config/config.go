// Package config loads session and relay settings from the environment and
// an optional .env file.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	rtsession "github.com/codewandler/rtsession-go"
	"github.com/codewandler/rtsession-go/memory"
	"github.com/codewandler/rtsession-go/tool/knowledge"
)

// Config holds everything the binaries read from the environment.
type Config struct {
	// session
	RelayURL      string
	APIKey        string
	Model         string
	Voice         string
	Instructions  string
	TurnDetection rtsession.TurnDetection
	OutputMode    rtsession.OutputMode
	SampleRate    int
	LatencyMS     int

	// tools and memory
	KnowledgeBaseURL  string
	KnowledgeAllTools bool
	RedisURL          string
	MemoryTTL         time.Duration

	// relay
	RelayBindAddr       string
	RelayUpstreamURL    string
	RelayAllowAnyOrigin bool
	ShutdownTimeout     time.Duration

	LogLevel slog.Level
}

// Load reads .env files (".env" when none are given; missing files are
// skipped) and then the environment, applying defaults.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		// variables already set in the environment win
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Config{
		RelayURL:         stringsTrimSpace("RELAY_SERVER_URL"),
		APIKey:           firstNonEmpty(rtsession.ApiKeyEnvVarNameLong, rtsession.ApiKeyEnvVarNameShort),
		Model:            envOrDefault("REALTIME_MODEL", rtsession.DefaultModel),
		Voice:            envOrDefault("REALTIME_VOICE", "alloy"),
		Instructions:     stringsTrimSpace("REALTIME_INSTRUCTIONS"),
		TurnDetection:    rtsession.TurnDetection(envOrDefault("TURN_DETECTION", string(rtsession.TurnDetectionManual))),
		OutputMode:       rtsession.OutputMode(envOrDefault("OUTPUT_MODE", string(rtsession.OutputModeText))),
		KnowledgeBaseURL: envOrDefault("KNOWLEDGE_BASE_URL", knowledge.DefaultBaseURL),
		RedisURL:         stringsTrimSpace("REDIS_URL"),
		RelayBindAddr:    envOrDefault("RELAY_BIND_ADDR", ":8081"),
		RelayUpstreamURL: envOrDefault("RELAY_UPSTREAM_URL", "wss://api.openai.com/v1/realtime"),
	}

	var err error
	if cfg.SampleRate, err = intFromEnv("AUDIO_SAMPLE_RATE", 24_000); err != nil {
		return Config{}, err
	}
	if cfg.LatencyMS, err = intFromEnv("AUDIO_LATENCY_MS", 100); err != nil {
		return Config{}, err
	}
	if cfg.KnowledgeAllTools, err = boolFromEnv("KNOWLEDGE_ALL_TOOLS", false); err != nil {
		return Config{}, err
	}
	if cfg.MemoryTTL, err = durationFromEnv("MEMORY_TTL", 30*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RelayAllowAnyOrigin, err = boolFromEnv("RELAY_ALLOW_ANY_ORIGIN", false); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = durationFromEnv("RELAY_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.LogLevel, err = levelFromEnv("LOG_LEVEL", slog.LevelInfo); err != nil {
		return Config{}, err
	}

	if !cfg.TurnDetection.Valid() {
		return Config{}, fmt.Errorf("TURN_DETECTION must be %q or %q", rtsession.TurnDetectionManual, rtsession.TurnDetectionServerVAD)
	}
	if !cfg.OutputMode.Valid() {
		return Config{}, fmt.Errorf("OUTPUT_MODE must be %q or %q", rtsession.OutputModeText, rtsession.OutputModeConversation)
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("AUDIO_SAMPLE_RATE must be positive")
	}
	if cfg.LatencyMS <= 0 {
		return Config{}, fmt.Errorf("AUDIO_LATENCY_MS must be positive")
	}

	return cfg, nil
}

// SessionOptions turns the configuration into session options. The
// knowledge tools are registered unless KNOWLEDGE_BASE_URL is set to "off".
func (c Config) SessionOptions() []rtsession.Option {
	opts := []rtsession.Option{
		rtsession.WithModel(c.Model),
		rtsession.WithVoice(c.Voice),
		rtsession.WithTurnDetection(c.TurnDetection),
		rtsession.WithOutputMode(c.OutputMode),
		rtsession.WithSampleRate(c.SampleRate),
		rtsession.WithLatency(c.LatencyMS),
	}
	if c.RelayURL != "" {
		opts = append(opts, rtsession.WithRelayURL(c.RelayURL))
	} else {
		opts = append(opts, rtsession.WithKey(c.APIKey))
	}
	if c.Instructions != "" {
		opts = append(opts, rtsession.WithInstructions(c.Instructions))
	}

	if c.KnowledgeBaseURL != "off" {
		kb := knowledge.NewClient(knowledge.WithBaseURL(c.KnowledgeBaseURL))
		if c.KnowledgeAllTools {
			opts = append(opts, rtsession.WithTools(knowledge.AllTools(kb)...))
		} else {
			opts = append(opts, rtsession.WithTools(knowledge.Tools(kb)...))
		}
	}
	return opts
}

// MemoryStore returns a Redis backed memory store when REDIS_URL is set and
// nil otherwise, letting the session fall back to process memory. The
// returned close function releases the client.
func (c Config) MemoryStore(ctx context.Context) (memory.Store, func() error, error) {
	if c.RedisURL == "" {
		return nil, func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("REDIS_URL parse error: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return memory.NewRedisStore(client, uuid.NewString(), c.MemoryTTL), client.Close, nil
}

// Logger builds a text logger at the configured level.
func (c Config) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: c.LogLevel}))
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func firstNonEmpty(keys ...string) string {
	for _, k := range keys {
		if v := stringsTrimSpace(k); v != "" {
			return v
		}
	}
	return ""
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

func levelFromEnv(key string, fallback slog.Level) (slog.Level, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		return fallback, fmt.Errorf("%s parse error: %w", key, err)
	}
	return l, nil
}

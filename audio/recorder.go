package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Microphone is an input device producing PCM16 mono at its own sample rate.
// Close must unblock a pending Read.
type Microphone interface {
	Start(ctx context.Context) error
	Read(p []byte) (int, error)
	Close() error
}

// Recorder owns a microphone between Begin and End. Frames are always read
// (to keep the analyser current) but only handed to onChunk while recording.
type Recorder struct {
	rate      int
	latency   time.Duration
	resampler Resampler
	analyser  *Analyser
	logger    *slog.Logger

	mu      sync.Mutex
	mic     Microphone
	cancel  context.CancelFunc
	done    chan struct{}
	onChunk func([]byte) error
}

func NewRecorder(sampleRate int, latency time.Duration, resampler Resampler, logger *slog.Logger) *Recorder {
	if sampleRate <= 0 {
		sampleRate = ProtocolSampleRate
	}
	if latency <= 0 {
		latency = 100 * time.Millisecond
	}
	if resampler == nil {
		resampler = LinearResampler{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{
		rate:      sampleRate,
		latency:   latency,
		resampler: resampler,
		analyser:  NewAnalyser(sampleRate),
		logger:    logger,
	}
}

// Begin acquires mic. Calling Begin while a microphone is held is a no-op.
func (r *Recorder) Begin(ctx context.Context, mic Microphone) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mic != nil {
		return nil
	}

	if err := mic.Start(ctx); err != nil {
		_ = mic.Close()
		return &DeviceError{Device: "microphone", Err: err}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.mic = mic
	r.cancel = cancel
	r.done = make(chan struct{})

	src := NewFrameReader(mic, r.rate, r.latency)
	go r.readLoop(loopCtx, src, r.resampler.NewStream(r.rate, ProtocolSampleRate), r.done)

	r.logger.Debug("microphone acquired", slog.Int("sample_rate", r.rate), slog.Duration("latency", r.latency))
	return nil
}

func (r *Recorder) readLoop(ctx context.Context, src *FrameReader, rs ResampleStream, done chan struct{}) {
	defer close(done)

	for {
		frame, err := src.Next()
		if len(frame) > 0 {
			r.deliver(frame, rs)
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				r.logger.Error("microphone read failed", slog.Any("err", err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// deliver runs on the read loop only. Every frame goes through the resample
// stream, recording or not, so the stream never sees a gap.
func (r *Recorder) deliver(frame []byte, rs ResampleStream) {
	r.analyser.Push(frame)

	pcm, err := rs.Process(frame)
	if err != nil {
		r.logger.Error("failed to resample microphone frame", slog.Any("err", err))
		return
	}

	r.mu.Lock()
	onChunk := r.onChunk
	r.mu.Unlock()
	if onChunk == nil || len(pcm) == 0 {
		return
	}
	if err := onChunk(pcm); err != nil {
		r.logger.Warn("dropped microphone frame", slog.Any("err", err))
	}
}

// Record starts handing 24 kHz frames to onChunk until Pause or End.
func (r *Recorder) Record(onChunk func([]byte) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mic == nil {
		return &DeviceError{Device: "microphone", Err: errors.New("not acquired")}
	}
	r.onChunk = onChunk
	return nil
}

// Pause stops delivery without releasing the device.
func (r *Recorder) Pause() {
	r.mu.Lock()
	r.onChunk = nil
	r.mu.Unlock()
}

func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onChunk != nil
}

// End releases the microphone and waits for the read loop to exit. It is
// safe to call at any time, including after a failed Begin.
func (r *Recorder) End() error {
	r.mu.Lock()
	mic, cancel, done := r.mic, r.cancel, r.done
	r.mic, r.cancel, r.done, r.onChunk = nil, nil, nil, nil
	r.mu.Unlock()

	if mic == nil {
		return nil
	}

	cancel()
	err := mic.Close()
	<-done
	r.analyser.Reset()

	if err != nil {
		return &DeviceError{Device: "microphone", Err: err}
	}
	return nil
}

func (r *Recorder) Frequencies(kind AnalysisType) FrequencyData {
	return r.analyser.Frequencies(kind)
}

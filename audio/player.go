package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"
)

// Speaker is an output device. Once started it pulls PCM16 mono at its own
// sample rate from src until closed.
type Speaker interface {
	Start(src io.Reader) error
	Close() error
}

// PlaybackCancellation says how much of a track had actually been played
// when it was interrupted. Offset is in samples at ProtocolSampleRate.
type PlaybackCancellation struct {
	TrackID string
	Offset  int
}

// AudioEndMs converts the offset to the millisecond position used by
// conversation.item.truncate.
func (c PlaybackCancellation) AudioEndMs() int {
	return int(SamplesToDuration(c.Offset, ProtocolSampleRate) / time.Millisecond)
}

type segment struct {
	trackID string
	bytes   int
}

type trackStats struct {
	queued int // bytes at device rate
	played int
}

// Player streams assistant audio to a Speaker and keeps per-track
// bookkeeping of what has actually been handed to the device.
type Player struct {
	mu          sync.Mutex
	rate        int
	stream      ResampleStream
	buf         *ringbuffer.RingBuffer
	segments    []segment
	tracks      map[string]*trackStats
	interrupted map[string]struct{}
	current     string
	speaker     Speaker
	analyser    *Analyser
	logger      *slog.Logger
}

// NewPlayer creates a player for a speaker running at sampleRate, able to
// hold bufferFor of queued audio.
func NewPlayer(sampleRate int, bufferFor time.Duration, resampler Resampler, logger *slog.Logger) *Player {
	if sampleRate <= 0 {
		sampleRate = ProtocolSampleRate
	}
	if bufferFor <= 0 {
		bufferFor = 60 * time.Second
	}
	if resampler == nil {
		resampler = LinearResampler{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Player{
		rate:        sampleRate,
		stream:      resampler.NewStream(ProtocolSampleRate, sampleRate),
		buf:         ringbuffer.New(FrameBytes(sampleRate, bufferFor)),
		tracks:      make(map[string]*trackStats),
		interrupted: make(map[string]struct{}),
		analyser:    NewAnalyser(sampleRate),
		logger:      logger,
	}
}

// Connect starts the speaker pulling from the player.
func (p *Player) Connect(spk Speaker) error {
	p.mu.Lock()
	if p.speaker != nil {
		p.mu.Unlock()
		return nil
	}
	p.speaker = spk
	p.mu.Unlock()

	if err := spk.Start(p); err != nil {
		p.mu.Lock()
		p.speaker = nil
		p.mu.Unlock()
		return &DeviceError{Device: "speaker", Err: err}
	}
	return nil
}

// Disconnect flushes pending audio and releases the speaker.
func (p *Player) Disconnect() error {
	p.mu.Lock()
	spk := p.speaker
	p.speaker = nil
	p.flushLocked()
	clear(p.tracks)
	clear(p.interrupted)
	p.current = ""
	p.mu.Unlock()

	p.analyser.Reset()
	if spk == nil {
		return nil
	}
	return spk.Close()
}

// Add queues 24 kHz PCM16 for trackID. Audio for a track that was
// interrupted is dropped so trailing deltas never reach the speaker.
func (p *Player) Add(pcm []byte, trackID string) error {
	if len(pcm) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.interrupted[trackID]; ok {
		return nil
	}

	out, err := p.stream.Process(pcm)
	if err != nil {
		return fmt.Errorf("resample playback: %w", err)
	}
	out = out[:len(out)&^1]
	if len(out) == 0 {
		return nil
	}

	n, err := p.buf.Write(out)
	if n > 0 {
		p.pushSegmentLocked(trackID, n)
	}
	if err != nil {
		return fmt.Errorf("queue playback (%d of %d bytes): %w", n, len(out), err)
	}
	return nil
}

func (p *Player) pushSegmentLocked(trackID string, n int) {
	st, ok := p.tracks[trackID]
	if !ok {
		st = &trackStats{}
		p.tracks[trackID] = st
	}
	st.queued += n

	if last := len(p.segments) - 1; last >= 0 && p.segments[last].trackID == trackID {
		p.segments[last].bytes += n
		return
	}
	p.segments = append(p.segments, segment{trackID: trackID, bytes: n})
}

// Read implements io.Reader for the speaker. It never blocks: when nothing
// is queued it yields silence.
func (p *Player) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	p.mu.Lock()
	want := min(len(b), p.buf.Length()) &^ 1
	n := 0
	if want > 0 {
		var err error
		n, err = p.buf.Read(b[:want])
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			p.logger.Error("failed to read playback buffer", slog.Any("err", err))
		}
		p.consumeLocked(n)
	}
	p.mu.Unlock()

	clear(b[n:])
	p.analyser.Push(b)
	return len(b), nil
}

func (p *Player) consumeLocked(n int) {
	for n > 0 && len(p.segments) > 0 {
		seg := &p.segments[0]
		take := min(n, seg.bytes)
		if st, ok := p.tracks[seg.trackID]; ok {
			st.played += take
		}
		p.current = seg.trackID
		seg.bytes -= take
		n -= take
		if seg.bytes == 0 {
			p.segments = p.segments[1:]
		}
	}
}

// Interrupt stops the track being played and reports how far it got. It
// returns nil when nothing is playing.
func (p *Player) Interrupt() *PlaybackCancellation {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.segments) == 0 {
		return nil
	}

	trackID := p.current
	if st, ok := p.tracks[trackID]; !ok || st.played >= st.queued {
		trackID = p.segments[0].trackID
	}

	for _, seg := range p.segments {
		p.interrupted[seg.trackID] = struct{}{}
	}
	p.interrupted[trackID] = struct{}{}

	played := 0
	if st, ok := p.tracks[trackID]; ok {
		played = st.played
	}
	p.flushLocked()

	return &PlaybackCancellation{
		TrackID: trackID,
		Offset:  played / BytesPerSample * ProtocolSampleRate / p.rate,
	}
}

func (p *Player) flushLocked() {
	p.buf.Reset()
	p.segments = nil
	p.stream.Reset()
}

// Pending reports the amount of queued, unplayed audio.
func (p *Player) Pending() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return SamplesToDuration(p.buf.Length()/BytesPerSample, p.rate)
}

func (p *Player) Frequencies(kind AnalysisType) FrequencyData {
	return p.analyser.Frequencies(kind)
}

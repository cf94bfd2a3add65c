package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/MarkKremer/microphone/v2"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

const (
	bytesPerSample = 2 // 16-bit mono PCM
	playLatency    = 100 * time.Millisecond
	captureFrames  = 1024
)

// mic is the default input device, delivering 16-bit mono PCM.
type mic struct {
	rate beep.SampleRate

	mu     sync.Mutex
	stream *microphone.Streamer
	frames chan []byte
	rest   []byte
}

func newMic(sampleRate int) *mic {
	return &mic{rate: beep.SampleRate(sampleRate)}
}

func (m *mic) Start(ctx context.Context) error {
	stream, _, err := microphone.OpenDefaultStream(m.rate, 1)
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	stream.Start()

	m.mu.Lock()
	m.stream = stream
	m.frames = make(chan []byte, 64)
	m.rest = nil
	frames := m.frames
	m.mu.Unlock()

	go func() {
		defer close(frames)
		buf := make([][2]float64, captureFrames)
		for {
			n, ok := stream.Stream(buf)
			if !ok {
				return
			}
			select {
			case frames <- stereoToPCM16Mono(buf[:n]):
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (m *mic) Read(p []byte) (int, error) {
	m.mu.Lock()
	frames := m.frames
	rest := m.rest
	m.mu.Unlock()

	if len(rest) == 0 {
		if frames == nil {
			return 0, io.EOF
		}
		chunk, ok := <-frames
		if !ok {
			return 0, io.EOF
		}
		rest = chunk
	}
	n := copy(p, rest)

	m.mu.Lock()
	m.rest = rest[n:]
	m.mu.Unlock()
	return n, nil
}

func (m *mic) Close() error {
	m.mu.Lock()
	stream := m.stream
	m.stream = nil
	m.mu.Unlock()

	if stream == nil {
		return nil
	}
	stream.Stop()
	stream.Close()
	return nil
}

// spk plays 16-bit mono PCM pulled from the session on the default output
// device. beep's speaker is process global, so it is initialised once.
type spk struct {
	rate beep.SampleRate
	once sync.Once
	err  error
}

func newSpeaker(sampleRate int) *spk {
	return &spk{rate: beep.SampleRate(sampleRate)}
}

func (s *spk) Start(src io.Reader) error {
	s.once.Do(func() {
		s.err = speaker.Init(s.rate, s.rate.N(playLatency))
	})
	if s.err != nil {
		return s.err
	}
	speaker.Play(&pcmStreamer{src: src})
	return nil
}

func (s *spk) Close() error {
	if s.err != nil {
		return nil
	}
	speaker.Clear()
	return nil
}

// pcmStreamer turns PCM16 mono from src into stereo beep samples.
type pcmStreamer struct {
	src io.Reader
	buf []byte
	err error
}

func (p *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	need := len(samples) * bytesPerSample
	if cap(p.buf) < need {
		p.buf = make([]byte, need)
	}
	b := p.buf[:need]
	n, err := io.ReadFull(p.src, b)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		p.err = err
		return 0, false
	}
	for i := range n / bytesPerSample {
		v := float64(int16(binary.LittleEndian.Uint16(b[i*2:]))) / 32768.0
		samples[i] = [2]float64{v, v}
	}
	return n / bytesPerSample, true
}

func (p *pcmStreamer) Err() error { return p.err }

func stereoToPCM16Mono(s [][2]float64) []byte {
	b := make([]byte, len(s)*bytesPerSample)
	for i, v := range s {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(int16(clamp(v[0])*32767)))
	}
	return b
}

func clamp(f float64) float64 {
	switch {
	case f > 1:
		return 1
	case f < -1:
		return -1
	default:
		return f
	}
}

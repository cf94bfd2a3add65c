package audio

import (
	"errors"
	"io"
	"time"
)

// FrameBytes is the size of d worth of PCM16 mono at rate, rounded down to
// whole samples and never less than one sample.
func FrameBytes(rate int, d time.Duration) int {
	samples := int(int64(rate) * int64(d) / int64(time.Second))
	return max(samples, 1) * BytesPerSample
}

// FrameReader cuts a PCM16 stream into frames of a fixed duration, however
// the underlying device happens to deliver its bytes.
type FrameReader struct {
	src  io.Reader
	size int
	done bool
}

func NewFrameReader(src io.Reader, rate int, d time.Duration) *FrameReader {
	return &FrameReader{src: src, size: FrameBytes(rate, d)}
}

// Size is the byte length of a full frame.
func (f *FrameReader) Size() int { return f.size }

// Next returns the next frame in a fresh slice. When the source ends part
// way through a frame the whole samples read so far come back as a short
// final frame; after that Next reports io.EOF.
func (f *FrameReader) Next() ([]byte, error) {
	if f.done {
		return nil, io.EOF
	}
	frame := make([]byte, f.size)
	n, err := io.ReadFull(f.src, frame)
	switch {
	case err == nil:
		return frame, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		f.done = true
		if n -= n % BytesPerSample; n == 0 {
			return nil, io.EOF
		}
		return frame[:n], nil
	default:
		f.done = true
		return nil, err
	}
}

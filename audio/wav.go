package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
)

// EncodeWAV wraps raw PCM16LE mono audio in a WAV container.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	if err := WriteWAV(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAV writes raw PCM16LE mono audio to out as a WAV stream.
func WriteWAV(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = ProtocolSampleRate
	}

	dataSize := uint32(len(pcm))
	header := []any{
		[]byte("RIFF"),
		uint32(36) + dataSize,
		[]byte("WAVE"),
		[]byte("fmt "),
		uint32(16),
		uint16(audioFormat),
		uint16(numChannels),
		uint32(sampleRate),
		uint32(sampleRate * numChannels * bitsPerSample / 8),
		uint16(numChannels * bitsPerSample / 8),
		uint16(bitsPerSample),
		[]byte("data"),
		dataSize,
	}

	w := bufio.NewWriter(out)
	for _, field := range header {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

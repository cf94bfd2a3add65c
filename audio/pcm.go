package audio

import (
	"encoding/binary"
	"time"
)

const (
	// ProtocolSampleRate is the PCM16 mono rate spoken on the wire.
	ProtocolSampleRate = 24_000
	BytesPerSample     = 2
)

// Samples returns the number of PCM16 mono samples in b.
func Samples(b []byte) int {
	return len(b) / BytesPerSample
}

// SamplesToDuration converts a sample count at rate to a duration.
func SamplesToDuration(samples, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(rate)
}

func pcmToFloats(b []byte, dst []float64) []float64 {
	n := Samples(b)
	dst = dst[:0]
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(b[i*2:]))
		dst = append(dst, float64(v)/32768.0)
	}
	return dst
}

func floatToPCM(f float64) int16 {
	switch {
	case f > 1:
		f = 1
	case f < -1:
		f = -1
	}
	return int16(f * 32767)
}

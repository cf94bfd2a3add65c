package audio

import (
	"encoding/binary"
	"math"

	"github.com/faiface/beep"
)

// Resampler creates converters between sample rates. One stream is used per
// continuous audio stream so interpolation carries across frame boundaries.
type Resampler interface {
	NewStream(fromRate, toRate int) ResampleStream
}

// ResampleStream converts consecutive PCM16 mono frames of one stream.
// Process may hold back a few input samples until enough follow them.
type ResampleStream interface {
	Process(pcm []byte) ([]byte, error)
	// Reset drops held back input, as after a cut in the stream.
	Reset()
}

type passthrough struct{}

func (passthrough) Process(pcm []byte) ([]byte, error) { return pcm, nil }
func (passthrough) Reset()                              {}

// beepBlock is how many source samples a beep.Resampler pulls at a time.
const beepBlock = 512

// BeepResampler uses beep's interpolating resampler. Quality is passed to
// beep.Resample; 3 is a good tradeoff for speech.
type BeepResampler struct {
	Quality int
}

func (r BeepResampler) NewStream(fromRate, toRate int) ResampleStream {
	if fromRate == toRate {
		return passthrough{}
	}
	quality := r.Quality
	if quality <= 0 {
		quality = 3
	}
	s := &beepStream{
		from:    beep.SampleRate(fromRate),
		to:      beep.SampleRate(toRate),
		ratio:   float64(fromRate) / float64(toRate),
		quality: quality,
		scratch: make([][2]float64, beepBlock),
	}
	s.Reset()
	return s
}

// sampleQueue feeds a beep.Resampler. It only hands out whole requests so
// the resampler's internal buffers keep their full length.
type sampleQueue struct {
	samples [][2]float64
}

func (q *sampleQueue) Stream(samples [][2]float64) (int, bool) {
	if len(q.samples) < len(samples) {
		return 0, true
	}
	n := copy(samples, q.samples)
	q.samples = q.samples[n:]
	return n, true
}

func (q *sampleQueue) Err() error { return nil }

type beepStream struct {
	from, to beep.SampleRate
	ratio    float64
	quality  int

	queue   *sampleQueue
	rs      *beep.Resampler
	fed     int // input samples pushed since Reset
	emitted int // output samples produced since Reset
	scratch [][2]float64
}

func (s *beepStream) Reset() {
	s.queue = &sampleQueue{}
	s.rs = beep.Resample(s.quality, s.from, s.to, s.queue)
	s.fed = 0
	s.emitted = 0
}

func (s *beepStream) Process(pcm []byte) ([]byte, error) {
	n := Samples(pcm)
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		s.queue.samples = append(s.queue.samples, [2]float64{v, v})
	}
	s.fed += n

	want := s.ready() - s.emitted
	if want <= 0 {
		return nil, nil
	}

	out := make([]byte, 0, want*BytesPerSample)
	for want > 0 {
		chunk := s.scratch[:min(want, len(s.scratch))]
		got, _ := s.rs.Stream(chunk)
		for _, smp := range chunk[:got] {
			out = binary.LittleEndian.AppendUint16(out, uint16(floatToPCM((smp[0]+smp[1])/2)))
		}
		s.emitted += got
		want -= got
		if got < len(chunk) {
			break
		}
	}
	return out, nil
}

// ready is the number of output samples whose whole interpolation window
// lies in source blocks the resampler can already pull. Output sample p
// reads source samples up to int(p*ratio)+quality.
func (s *beepStream) ready() int {
	avail := s.fed / beepBlock * beepBlock
	if avail <= s.quality {
		return 0
	}
	p := int(math.Ceil(float64(avail-s.quality) / s.ratio))
	for p > 0 && int(float64(p-1)*s.ratio)+s.quality >= avail {
		p--
	}
	return p
}

// LinearResampler interpolates linearly between neighbouring samples of each
// frame. It keeps no state between frames.
type LinearResampler struct{}

func (LinearResampler) NewStream(fromRate, toRate int) ResampleStream {
	if fromRate == toRate {
		return passthrough{}
	}
	return linearStream{from: fromRate, to: toRate}
}

type linearStream struct {
	from, to int
}

func (l linearStream) Process(pcm []byte) ([]byte, error) {
	return LinearResampler{}.Resample(pcm, l.from, l.to)
}

func (linearStream) Reset() {}

func (LinearResampler) Resample(pcm []byte, fromRate, toRate int) ([]byte, error) {
	in := Samples(pcm)
	if fromRate == toRate || in == 0 {
		return pcm, nil
	}
	out := in * toRate / fromRate
	if out == 0 {
		return nil, nil
	}

	src := make([]int16, in)
	for i := range src {
		src[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	dst := make([]byte, out*BytesPerSample)
	step := float64(fromRate) / float64(toRate)
	for i := 0; i < out; i++ {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)
		a := float64(src[min(j, in-1)])
		b := float64(src[min(j+1, in-1)])
		v := int16(a + (b-a)*frac)
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(v))
	}
	return dst, nil
}

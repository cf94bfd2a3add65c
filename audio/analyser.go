package audio

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// AnalysisType limits the band reported by Frequencies.
type AnalysisType string

const (
	AnalysisFrequency AnalysisType = "frequency"
	AnalysisMusic     AnalysisType = "music"
	AnalysisVoice     AnalysisType = "voice"
)

const (
	analysisWindow = 1024
	minDecibels    = -100.0
	maxDecibels    = -30.0
)

// FrequencyData is an amplitude spectrum normalised to [0, 1].
type FrequencyData struct {
	Values      []float64
	Frequencies []float64
}

// Analyser keeps the most recent window of samples flowing through a stream
// and computes its spectrum on demand.
type Analyser struct {
	mu     sync.Mutex
	rate   int
	window []float64
	pos    int
	fft    *fourier.FFT
	hann   []float64
	tmp    []float64
}

func NewAnalyser(sampleRate int) *Analyser {
	hann := make([]float64, analysisWindow)
	for i := range hann {
		hann[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(analysisWindow-1)))
	}
	return &Analyser{
		rate:   sampleRate,
		window: make([]float64, analysisWindow),
		fft:    fourier.NewFFT(analysisWindow),
		hann:   hann,
		tmp:    make([]float64, analysisWindow),
	}
}

// Push appends PCM16 mono samples to the analysis window.
func (a *Analyser) Push(pcm []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tmp = pcmToFloats(pcm, a.tmp)
	a.pushFloats(a.tmp)
}

func (a *Analyser) pushFloats(samples []float64) {
	if len(samples) >= analysisWindow {
		copy(a.window, samples[len(samples)-analysisWindow:])
		a.pos = 0
		return
	}
	for _, s := range samples {
		a.window[a.pos] = s
		a.pos++
		if a.pos == analysisWindow {
			a.pos = 0
		}
	}
}

func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.window)
	a.pos = 0
}

// Frequencies never fails: with no audio it returns a zeroed spectrum.
func (a *Analyser) Frequencies(kind AnalysisType) FrequencyData {
	lo, hi := bandFor(kind, a.rate)

	a.mu.Lock()
	seq := make([]float64, analysisWindow)
	for i := range seq {
		seq[i] = a.window[(a.pos+i)%analysisWindow] * a.hann[i]
	}
	// fourier.FFT reuses internal work space
	coeffs := a.fft.Coefficients(nil, seq)
	a.mu.Unlock()

	var out FrequencyData
	for i, c := range coeffs {
		f := a.fft.Freq(i) * float64(a.rate)
		if f < lo || f > hi {
			continue
		}
		out.Frequencies = append(out.Frequencies, f)
		out.Values = append(out.Values, normalise(c))
	}
	return out
}

func normalise(c complex128) float64 {
	mag := math.Hypot(real(c), imag(c)) / analysisWindow
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := (db - minDecibels) / (maxDecibels - minDecibels)
	return math.Max(0, math.Min(1, v))
}

func bandFor(kind AnalysisType, rate int) (lo, hi float64) {
	nyquist := float64(rate) / 2
	switch kind {
	case AnalysisMusic:
		return 27.5, math.Min(4186, nyquist)
	case AnalysisVoice:
		return 32, math.Min(2000, nyquist)
	default:
		return 0, nyquist
	}
}

package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	DefaultFFTSize     = 256
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
	blackmanAlpha      = 0.16
	minFFTSize         = 32
	maxFFTSize         = 32768
)

// Analyser exposes frequency-domain data of the analysed bus without
// altering the signal. The most recent FFTSize mono samples are kept in a ring.
type Analyser struct {
	mu          sync.Mutex
	fftSize     int
	smoothing   float64
	minDecibels float64
	maxDecibels float64

	ring   []float64
	pos    int
	window []float64
	fft    *fourier.FFT
	input  []float64
	coeffs []complex128
	smooth []float64
}

func NewAnalyser() *Analyser {
	a := &Analyser{
		smoothing:   DefaultSmoothing,
		minDecibels: DefaultMinDecibels,
		maxDecibels: DefaultMaxDecibels,
	}
	a.resize(DefaultFFTSize)
	return a
}

func (a *Analyser) resize(n int) {
	a.fftSize = n
	a.ring = make([]float64, n)
	a.pos = 0
	a.input = make([]float64, n)
	a.smooth = make([]float64, n/2)
	a.fft = fourier.NewFFT(n)
	a.window = blackman(n)
}

func blackman(n int) []float64 {
	a0 := 0.5 * (1 - blackmanAlpha)
	a1 := 0.5
	a2 := 0.5 * blackmanAlpha
	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

// SetFFTSize changes the transform size. n must be a power of two in
// [32, 32768]; other values are ignored.
func (a *Analyser) SetFFTSize(n int) {
	if n < minFFTSize || n > maxFFTSize || n&(n-1) != 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if n != a.fftSize {
		a.resize(n)
	}
}

func (a *Analyser) FFTSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fftSize
}

// FrequencyBinCount is half the FFT size.
func (a *Analyser) FrequencyBinCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fftSize / 2
}

func (a *Analyser) SetSmoothing(tau float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.smoothing = math.Max(0, math.Min(1, tau))
}

func (a *Analyser) capture(samples [][2]float64) {
	a.mu.Lock()
	for _, s := range samples {
		a.ring[a.pos] = (s[0] + s[1]) / 2
		a.pos = (a.pos + 1) % a.fftSize
	}
	a.mu.Unlock()
}

// analyse must be called with mu held.
func (a *Analyser) analyse() {
	n := a.fftSize
	for i := 0; i < n; i++ {
		a.input[i] = a.ring[(a.pos+i)%n] * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.input)

	scale := 1 / float64(n)
	for k := range a.smooth {
		mag := cmplx.Abs(a.coeffs[k]) * scale
		v := a.smoothing*a.smooth[k] + (1-a.smoothing)*mag
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		a.smooth[k] = v
	}
}

// FloatFrequencyData fills dst with per-bin magnitudes in decibels and
// returns the number of bins written.
func (a *Analyser) FloatFrequencyData(dst []float64) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.analyse()
	n := min(len(dst), len(a.smooth))
	for k := 0; k < n; k++ {
		dst[k] = toDecibels(a.smooth[k])
	}
	return n
}

// ByteFrequencyData fills dst with magnitudes scaled from the decibel range
// onto [0, 255] and returns the number of bins written.
func (a *Analyser) ByteFrequencyData(dst []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.analyse()
	n := min(len(dst), len(a.smooth))
	span := a.maxDecibels - a.minDecibels
	for k := 0; k < n; k++ {
		db := toDecibels(a.smooth[k])
		scaled := math.Floor(255 / span * (db - a.minDecibels))
		switch {
		case math.IsNaN(scaled) || scaled < 0:
			dst[k] = 0
		case scaled > 255:
			dst[k] = 255
		default:
			dst[k] = byte(scaled)
		}
	}
	return n
}

func toDecibels(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v)
}

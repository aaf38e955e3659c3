package audio

import (
	"encoding/binary"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	FFTSize  = 256
	BinCount = FFTSize / 2

	minDecibels = -100.0
	maxDecibels = -30.0
	smoothing   = 0.8
)

// Level reduces a byte magnitude spectrum to a single value in [0,1]:
// the mean bin magnitude over 255.
func Level(bins []uint8) float64 {
	if len(bins) == 0 {
		return 0
	}
	sum := 0
	for _, b := range bins {
		sum += int(b)
	}
	return float64(sum) / float64(len(bins)) / 255
}

// Analyser turns the most recent FFTSize samples into a byte spectrum the way
// a browser AnalyserNode does: Blackman window, smoothed magnitudes, decibels
// clamped to [minDecibels,maxDecibels] and scaled to 0..255.
type Analyser struct {
	mu       sync.Mutex
	fft      *fourier.FFT
	window   []float64
	ring     []float64
	pos      int
	frame    []float64
	coeffs   []complex128
	smoothed []float64
	closed   bool
}

func NewAnalyser() *Analyser {
	window := make([]float64, FFTSize)
	for n := range window {
		x := 2 * math.Pi * float64(n) / FFTSize
		window[n] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
	}
	return &Analyser{
		fft:      fourier.NewFFT(FFTSize),
		window:   window,
		ring:     make([]float64, FFTSize),
		frame:    make([]float64, FFTSize),
		coeffs:   make([]complex128, FFTSize/2+1),
		smoothed: make([]float64, BinCount),
	}
}

// Write appends little-endian 16-bit PCM.
func (a *Analyser) Write(pcm []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		a.ring[a.pos] = float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) / 32768
		a.pos = (a.pos + 1) % FFTSize
	}
}

// ByteFrequencyData fills dst (grown to BinCount if short) with the current
// spectrum. A closed analyser reports silence.
func (a *Analyser) ByteFrequencyData(dst []uint8) []uint8 {
	if cap(dst) < BinCount {
		dst = make([]uint8, BinCount)
	}
	dst = dst[:BinCount]

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		clear(dst)
		return dst
	}

	for n := range FFTSize {
		a.frame[n] = a.ring[(a.pos+n)%FFTSize] * a.window[n]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	const scale = 255 / (maxDecibels - minDecibels)
	for k := range BinCount {
		mag := cmplx.Abs(a.coeffs[k]) / FFTSize
		a.smoothed[k] = smoothing*a.smoothed[k] + (1-smoothing)*mag
		db := minDecibels
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		v := scale * (db - minDecibels)
		dst[k] = uint8(max(0, min(255, v)))
	}
	return dst
}

func (a *Analyser) Level() float64 {
	return Level(a.ByteFrequencyData(nil))
}

func (a *Analyser) Close() {
	a.mu.Lock()
	a.closed = true
	a.ring = nil
	a.mu.Unlock()
}

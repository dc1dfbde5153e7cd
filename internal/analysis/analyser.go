// SPDX-License-Identifier: MIT
/*
Package analysis implements a real-time analyser for captured audio:
- A ring buffer of the most recent mono samples
- Time-domain snapshots as bytes or floats
- A smoothed, windowed FFT magnitude spectrum in decibels or bytes

An Analyser is a media.Sink. Write runs on the audio thread and never
allocates; readers take a snapshot under the same lock.
*/
package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	applog "mediarec/internal/log"
	"mediarec/pkg/bitint"
)

const (
	DefaultFFTSize     = 2048
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0

	MinFFTSize = 32
	MaxFFTSize = 32768
)

var log = applog.New("analysis")

var (
	ErrFFTSize     = fmt.Errorf("analysis: fft size must be a power of two in [%d, %d]", MinFFTSize, MaxFFTSize)
	ErrDecibels    = errors.New("analysis: min decibels must be below max decibels")
	ErrSmoothing   = errors.New("analysis: smoothing must be in [0, 1]")
	ErrSampleRate  = errors.New("analysis: sample rate must be positive")
	ErrChannelsLow = errors.New("analysis: channels must be at least 1")
)

// Options configure an Analyser. A zero FFTSize, Channels or decibel range
// takes the default; Smoothing is used as given.
type Options struct {
	FFTSize     int
	SampleRate  float64
	Channels    int
	Smoothing   float64
	MinDecibels float64
	MaxDecibels float64
	Window      WindowFunc
}

// DefaultOptions returns the default analyser options for mono input.
func DefaultOptions(sampleRate float64) Options {
	return Options{
		FFTSize:     DefaultFFTSize,
		SampleRate:  sampleRate,
		Channels:    1,
		Smoothing:   DefaultSmoothing,
		MinDecibels: DefaultMinDecibels,
		MaxDecibels: DefaultMaxDecibels,
		Window:      Blackman,
	}
}

func (o *Options) withDefaults() {
	if o.FFTSize == 0 {
		o.FFTSize = DefaultFFTSize
	}
	if o.Channels == 0 {
		o.Channels = 1
	}
	if o.MinDecibels == 0 && o.MaxDecibels == 0 {
		o.MinDecibels, o.MaxDecibels = DefaultMinDecibels, DefaultMaxDecibels
	}
}

func (o Options) validate() error {
	if !bitint.IsPowerOfTwo(o.FFTSize) || o.FFTSize < MinFFTSize || o.FFTSize > MaxFFTSize {
		return fmt.Errorf("%w, got %d", ErrFFTSize, o.FFTSize)
	}
	if o.SampleRate <= 0 {
		return ErrSampleRate
	}
	if o.Channels < 1 {
		return ErrChannelsLow
	}
	if o.Smoothing < 0 || o.Smoothing > 1 {
		return ErrSmoothing
	}
	if o.MinDecibels >= o.MaxDecibels {
		return ErrDecibels
	}
	return nil
}

// Analyser keeps the latest FFTSize mono samples of its input.
type Analyser struct {
	opts   Options
	fft    *fourier.FFT
	window []float64

	mu       sync.Mutex
	ring     []float64 // latest samples, normalized to [-1, 1)
	pos      int       // next write index in ring
	frame    []float64 // ring unrolled oldest first
	windowed []float64
	coeffs   []complex128
	smoothed []float64 // per-bin magnitude, smoothed across calls
}

// NewAnalyser validates opts and returns an analyser.
func NewAnalyser(opts Options) (*Analyser, error) {
	opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	n := opts.FFTSize
	log.Debugf("analyser: fft %d at %.0f Hz, window %s, smoothing %.2f", n, opts.SampleRate, opts.Window, opts.Smoothing)
	return &Analyser{
		opts:     opts,
		fft:      fourier.NewFFT(n),
		window:   windowCoefficients(n, opts.Window),
		ring:     make([]float64, n),
		frame:    make([]float64, n),
		windowed: make([]float64, n),
		coeffs:   make([]complex128, n/2+1),
		smoothed: make([]float64, n/2),
	}, nil
}

// FFTSize returns the number of samples analysed per transform.
func (a *Analyser) FFTSize() int { return a.opts.FFTSize }

// FrequencyBinCount is half the FFT size.
func (a *Analyser) FrequencyBinCount() int { return a.opts.FFTSize / 2 }

// SampleRate returns the input sample rate.
func (a *Analyser) SampleRate() float64 { return a.opts.SampleRate }

// FrequencyForBin returns the center frequency of bin i, or 0 when out of range.
func (a *Analyser) FrequencyForBin(i int) float64 {
	if i < 0 || i >= a.FrequencyBinCount() {
		return 0
	}
	return float64(i) * a.opts.SampleRate / float64(a.opts.FFTSize)
}

// Write mixes interleaved frames down to mono and appends them to the ring.
func (a *Analyser) Write(samples []int16) {
	const norm = 1.0 / 32768.0
	ch := a.opts.Channels

	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i+ch <= len(samples); i += ch {
		var sum float64
		for c := range ch {
			sum += float64(samples[i+c])
		}
		a.ring[a.pos] = sum / float64(ch) * norm
		a.pos++
		if a.pos == len(a.ring) {
			a.pos = 0
		}
	}
}

// Reset clears the buffered samples and the smoothing state.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.ring)
	clear(a.smoothed)
	a.pos = 0
}

// unroll copies the ring into frame, oldest sample first. Callers hold mu.
func (a *Analyser) unroll() {
	n := copy(a.frame, a.ring[a.pos:])
	copy(a.frame[n:], a.ring[:a.pos])
}

// FloatTimeDomainData copies the latest samples into dst and returns the
// number written. A short dst receives the oldest samples of the frame.
func (a *Analyser) FloatTimeDomainData(dst []float64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unroll()
	return copy(dst, a.frame)
}

// ByteTimeDomainData writes the latest samples scaled to [0, 255] with
// silence at 128.
func (a *Analyser) ByteTimeDomainData(dst []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unroll()

	n := min(len(dst), len(a.frame))
	for i := range n {
		dst[i] = clampByte(128 * (1 + a.frame[i]))
	}
	return n
}

// transform runs the windowed FFT over the current frame and folds the
// result into the smoothed magnitudes. Callers hold mu.
func (a *Analyser) transform() {
	a.unroll()
	for i, v := range a.frame {
		a.windowed[i] = v * a.window[i]
	}
	a.fft.Coefficients(a.coeffs, a.windowed)

	tau := a.opts.Smoothing
	scale := 1.0 / float64(a.opts.FFTSize)
	for i := range a.smoothed {
		mag := cmplx.Abs(a.coeffs[i]) * scale
		a.smoothed[i] = tau*a.smoothed[i] + (1-tau)*mag
	}
}

// FloatFrequencyData writes the spectrum in decibels. Silent bins are -Inf.
func (a *Analyser) FloatFrequencyData(dst []float64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transform()

	n := min(len(dst), len(a.smoothed))
	for i := range n {
		dst[i] = toDecibels(a.smoothed[i])
	}
	return n
}

// ByteFrequencyData writes the spectrum mapped linearly from
// [MinDecibels, MaxDecibels] onto [0, 255].
func (a *Analyser) ByteFrequencyData(dst []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transform()

	lo, hi := a.opts.MinDecibels, a.opts.MaxDecibels
	n := min(len(dst), len(a.smoothed))
	for i := range n {
		db := toDecibels(a.smoothed[i])
		dst[i] = clampByte(255 * (db - lo) / (hi - lo))
	}
	return n
}

// Level returns the RMS of the buffered frame in [0, 1].
func (a *Analyser) Level() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	var sum float64
	for _, v := range a.ring {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(a.ring)))
}

func toDecibels(mag float64) float64 {
	if mag <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(mag)
}

func clampByte(v float64) byte {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return byte(v)
	}
}

package noise

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/tphakala/proctor-go/internal/errors"
	"github.com/tphakala/proctor-go/internal/stream"
)

// Analyser defaults.
const (
	DefaultFFTSize     = 2048
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

var (
	// ErrInsufficientSamples is returned until the track has buffered a full window.
	ErrInsufficientSamples = errors.NewStd("not enough audio buffered for analysis")
	// ErrTrackEnded is returned once the audio track has stopped.
	ErrTrackEnded = errors.NewStd("audio track ended")
)

// AnalyserNode turns the most recent FFTSize samples of an audio track into
// byte-scaled frequency magnitudes. It is not safe for concurrent use.
type AnalyserNode struct {
	track   stream.AudioTrack
	fftSize int
	minDB   float64
	maxDB   float64

	fft      *fourier.FFT
	window   []float64
	samples  []float32
	windowed []float64
	spec     []complex128
	bytes    []uint8
}

// NewAnalyser attaches an analyser to track.
func NewAnalyser(track stream.AudioTrack, fftSize int, minDB, maxDB float64) (*AnalyserNode, error) {
	if !isPowerOfTwo(fftSize) || fftSize < 32 {
		return nil, errors.Newf("fft size %d is not a power of two >= 32", fftSize).
			Component("noise").
			Category(errors.CategoryValidation).
			Build()
	}
	if minDB >= maxDB {
		return nil, errors.Newf("min decibels %.1f must be below max decibels %.1f", minDB, maxDB).
			Component("noise").
			Category(errors.CategoryValidation).
			Build()
	}

	return &AnalyserNode{
		track:    track,
		fftSize:  fftSize,
		minDB:    minDB,
		maxDB:    maxDB,
		fft:      fourier.NewFFT(fftSize),
		window:   hannWindow(fftSize),
		samples:  make([]float32, fftSize),
		windowed: make([]float64, fftSize),
		spec:     make([]complex128, fftSize/2+1),
		bytes:    make([]uint8, fftSize/2),
	}, nil
}

// hannWindow returns the n-point periodic Hann window: the symmetric
// window of n+1 points without its last coefficient.
func hannWindow(n int) []float64 {
	w := make([]float64, n+1)
	for i := range w {
		w[i] = 1
	}
	return window.Hann(w)[:n]
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// FFTSize returns the analysis window length in samples.
func (a *AnalyserNode) FFTSize() int { return a.fftSize }

// FrequencyBinCount returns the number of magnitude bins, FFTSize/2.
func (a *AnalyserNode) FrequencyBinCount() int { return a.fftSize / 2 }

// SampleRate returns the sample rate of the attached track.
func (a *AnalyserNode) SampleRate() int { return a.track.SampleRate() }

// TrackID returns the id of the attached track.
func (a *AnalyserNode) TrackID() string { return a.track.ID() }

// TimeDomainData copies the latest window of samples into dst.
func (a *AnalyserNode) TimeDomainData(dst []float32) error {
	if a.track.State() == stream.StateEnded {
		return ErrTrackEnded
	}
	if n := a.track.ReadSamples(a.samples); n < a.fftSize {
		return ErrInsufficientSamples
	}
	copy(dst, a.samples)
	return nil
}

// ByteFrequencyData analyses the latest window and returns FFTSize/2
// magnitudes in 0..255, linear in dB between the analyser's min and max
// decibels. The returned slice is reused by the next call.
func (a *AnalyserNode) ByteFrequencyData() ([]uint8, error) {
	if err := a.TimeDomainData(a.samples); err != nil {
		return nil, err
	}

	for i, s := range a.samples {
		a.windowed[i] = float64(s) * a.window[i]
	}
	a.spec = a.fft.Coefficients(a.spec, a.windowed)

	scale := 255 / (a.maxDB - a.minDB)
	n := float64(a.fftSize)
	for k := range a.bytes {
		re, im := real(a.spec[k]), imag(a.spec[k])
		mag := math.Sqrt(re*re+im*im) / n
		db := a.minDB
		if mag > 0 {
			db = 20 * math.Log10(mag)
		}
		a.bytes[k] = uint8(max(0, min(255, math.Floor((db-a.minDB)*scale))))
	}
	return a.bytes, nil
}

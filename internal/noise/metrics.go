package noise

import "math"

// Band edges and peak spacing used by Measure.
type Bands struct {
	SpeechLowHz      float64
	SpeechHighHz     float64
	AmbientLowHz     float64
	PeakSeparationHz float64
}

// DefaultBands returns the 300-3400 Hz speech band and the >= 4 kHz ambient band.
func DefaultBands() Bands {
	return Bands{
		SpeechLowHz:      300,
		SpeechHighHz:     3400,
		AmbientLowHz:     4000,
		PeakSeparationHz: 150,
	}
}

// Metrics are the spectral features of one analysed window.
type Metrics struct {
	Level              float64 // mean magnitude scaled to 0..100
	SpeechShare        float64 // speech-band magnitude over total
	AmbientShare       float64 // ambient-band magnitude over total
	SNR                float64 // peak power over mean power
	SecondaryPeakRatio float64 // second speech-band peak over the dominant one
	DominantHz         float64
}

// Measure derives Metrics from byte-scaled magnitudes of bins spaced
// sampleRate/(2*len(spectrum)) Hz apart.
func Measure(spectrum []uint8, sampleRate int, b Bands) Metrics {
	var m Metrics
	if len(spectrum) == 0 || sampleRate <= 0 {
		return m
	}
	binHz := float64(sampleRate) / float64(2*len(spectrum))

	var total, speech, ambient, powerSum, peakPower float64
	for k, v := range spectrum {
		mag := float64(v)
		hz := float64(k) * binHz
		total += mag
		if hz >= b.SpeechLowHz && hz <= b.SpeechHighHz {
			speech += mag
		}
		if hz >= b.AmbientLowHz {
			ambient += mag
		}
		p := (mag / 255) * (mag / 255)
		powerSum += p
		peakPower = max(peakPower, p)
	}

	m.Level = total / float64(len(spectrum)) / 255 * 100
	if total > 0 {
		m.SpeechShare = speech / total
		m.AmbientShare = ambient / total
	}
	if mean := powerSum / float64(len(spectrum)); mean > 0 {
		m.SNR = peakPower / mean
	}
	m.SecondaryPeakRatio, m.DominantHz = secondaryPeak(spectrum, binHz, b)
	return m
}

// secondaryPeak finds the dominant speech-band bin and the strongest local
// maximum at least PeakSeparationHz away from it.
func secondaryPeak(spectrum []uint8, binHz float64, b Bands) (ratio, dominantHz float64) {
	lo := int(math.Ceil(b.SpeechLowHz / binHz))
	hi := min(int(math.Floor(b.SpeechHighHz/binHz)), len(spectrum)-1)
	if lo > hi {
		return 0, 0
	}

	dominant := lo
	for k := lo; k <= hi; k++ {
		if spectrum[k] > spectrum[dominant] {
			dominant = k
		}
	}
	if spectrum[dominant] == 0 {
		return 0, 0
	}

	sep := max(1, int(math.Ceil(b.PeakSeparationHz/binHz)))
	var second uint8
	for k := lo; k <= hi; k++ {
		if k > dominant-sep && k < dominant+sep {
			continue
		}
		if !isLocalMax(spectrum, k) {
			continue
		}
		second = max(second, spectrum[k])
	}
	return float64(second) / float64(spectrum[dominant]), float64(dominant) * binHz
}

func isLocalMax(s []uint8, k int) bool {
	if k > 0 && s[k-1] > s[k] {
		return false
	}
	if k < len(s)-1 && s[k+1] > s[k] {
		return false
	}
	return s[k] > 0
}

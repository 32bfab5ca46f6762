package noise

// Thresholds decide the classification of a window.
type Thresholds struct {
	ElevatedLevel      float64 // level 0..100 regarded as loud
	PoorSNR            float64 // SNR below this is a poor signal
	AmbientShare       float64
	SpeechShare        float64
	SpeechLevel        float64
	SecondaryPeakRatio float64
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ElevatedLevel:      35,
		PoorSNR:            4,
		AmbientShare:       0.35,
		SpeechShare:        0.5,
		SpeechLevel:        25,
		SecondaryPeakRatio: 0.8,
	}
}

// Classify applies the rules in priority order; the first match wins.
func Classify(m Metrics, th Thresholds) Classification {
	loud := m.Level >= th.ElevatedLevel
	poorSignal := m.SNR < th.PoorSNR

	switch {
	case loud && m.AmbientShare >= th.AmbientShare && poorSignal:
		return ClassBackground
	case m.SpeechShare >= th.SpeechShare && m.Level >= th.SpeechLevel && m.SecondaryPeakRatio >= th.SecondaryPeakRatio:
		return ClassSecondarySpeaker
	case poorSignal && loud:
		return ClassPoorQuality
	default:
		return ClassClean
	}
}

// NewResult builds the tick result for metrics classified as c.
func NewResult(m Metrics, c Classification) Result {
	return Result{
		Level:            int(m.Level + 0.5),
		BackgroundNoise:  c == ClassBackground,
		SecondarySpeaker: c == ClassSecondarySpeaker,
		PoorQuality:      c == ClassPoorQuality,
		SNR:              m.SNR,
	}
}

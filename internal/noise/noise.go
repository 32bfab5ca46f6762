// Package noise watches the microphone for background noise, a second voice
// and poor signal quality.
package noise

import (
	"github.com/tphakala/proctor-go/internal/logger"
)

// Classification of one analysed window. At most one applies per tick.
type Classification string

const (
	ClassClean            Classification = "clean"
	ClassBackground       Classification = "background"
	ClassSecondarySpeaker Classification = "secondary_speaker"
	ClassPoorQuality      Classification = "poor_quality"
)

// Result is the outcome of one detector tick.
type Result struct {
	Level            int // 0..100
	BackgroundNoise  bool
	SecondarySpeaker bool
	PoorQuality      bool
	SNR              float64
}

// Classification returns the single classification the flags encode.
func (r Result) Classification() Classification {
	switch {
	case r.BackgroundNoise:
		return ClassBackground
	case r.SecondarySpeaker:
		return ClassSecondarySpeaker
	case r.PoorQuality:
		return ClassPoorQuality
	default:
		return ClassClean
	}
}

// GetLogger returns the noise package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("noise")
}

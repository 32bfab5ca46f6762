// Package face watches the camera for the candidate's face.
//
// A Detector polls the attached video track at a fixed interval, counts
// faces with a Model and reports absence or multiple faces to the violation sink.
package face

import (
	"context"
	"image"

	"github.com/tphakala/proctor-go/internal/logger"
)

// Classification of a face count.
type Classification string

const (
	ClassNone     Classification = "none"
	ClassSingle   Classification = "single"
	ClassMultiple Classification = "multiple"
)

// Result is the outcome of one detector tick.
type Result struct {
	Count          int
	Classification Classification
}

// Classify maps a face count to its classification.
func Classify(count int) Classification {
	switch {
	case count <= 0:
		return ClassNone
	case count == 1:
		return ClassSingle
	default:
		return ClassMultiple
	}
}

// BoundingBox is one detected face in frame pixel coordinates.
type BoundingBox struct {
	image.Rectangle
	Score float64
}

// Model estimates face locations in a frame. Implementations need not be
// safe for concurrent use; the Detector never overlaps calls.
type Model interface {
	EstimateFaces(ctx context.Context, frame image.Image) ([]BoundingBox, error)
	Close() error
}

// GetLogger returns the face package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("face")
}

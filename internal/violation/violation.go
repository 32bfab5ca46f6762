// Package violation debounces detector classifications into a bounded,
// most-recent-first violation log and fans emitted records out to consumers.
package violation

import (
	"strings"
	"time"

	"github.com/tphakala/proctor-go/internal/logger"
)

// Severity of a violation record.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Violation kinds. Device storage kinds carry the device id after a slash,
// e.g. "device.storage/usb:1-2".
const (
	KindFaceAbsent       = "face.absent"
	KindFaceMultiple     = "face.multiple"
	KindNoiseBackground  = "noise.background"
	KindNoiseSecondary   = "noise.secondary_speaker"
	KindNoisePoorQuality = "noise.poor_quality"
	KindDeviceStorage    = "device.storage"
	KindDeviceUnknown    = "device.unknown"
)

// Report is a positive classification handed to the sink by a detector.
type Report struct {
	Kind     string
	Severity Severity
	Message  string
	Source   string // detector name
}

// Record is an emitted violation. Records are never modified after creation.
type Record struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
}

// StorageKind returns the per-device kind for a storage-class device.
func StorageKind(deviceID string) string {
	return KindDeviceStorage + "/" + deviceID
}

// Family returns the detector family of a kind: "face", "noise" or "device".
func Family(kind string) string {
	if i := strings.IndexByte(kind, '.'); i > 0 {
		return kind[:i]
	}
	return kind
}

// KindLabel strips per-device suffixes so a kind is usable as a metric label.
func KindLabel(kind string) string {
	if i := strings.IndexByte(kind, '/'); i > 0 {
		return kind[:i]
	}
	return kind
}

// GetLogger returns the violation package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("violation")
}

// Package device detects media, input, USB and storage devices attached
// after the session started.
//
// A Detector captures a Baseline of every enumerated device once, then on
// each tick diffs the current inventory against it. New storage-class
// devices are reported as violations.
package device

import (
	"maps"
	"slices"
	"time"

	"github.com/tphakala/proctor-go/internal/logger"
)

// Classification is the heuristic class of a device.
type Classification string

const (
	ClassBuiltIn    Classification = "built-in"
	ClassPeripheral Classification = "peripheral"
	ClassStorage    Classification = "storage"
)

// Source names the subsystem a device was enumerated from.
type Source string

const (
	SourceAudio     Source = "audio"
	SourceVideo     Source = "video"
	SourceInput     Source = "input"
	SourceUSB       Source = "usb"
	SourcePartition Source = "partition"
)

// Info describes one enumerated device.
type Info struct {
	ID             string         `json:"id"`
	DisplayName    string         `json:"display_name"`
	Source         Source         `json:"source"`
	Classification Classification `json:"classification"`
	FirstSeenAt    time.Time      `json:"first_seen_at,omitzero"`
	// Parent is the id of the USB device a partition lives on, if any.
	Parent string `json:"parent,omitempty"`
}

// Result is the outcome of one detector tick.
type Result struct {
	NewDevicesDetected bool
	Candidates         []Info
}

// Baseline is the device inventory captured when monitoring started.
// It is never modified after capture.
type Baseline struct {
	devices    map[string]Info
	capturedAt time.Time
}

func newBaseline(devices []Info, at time.Time) *Baseline {
	b := &Baseline{devices: make(map[string]Info, len(devices)), capturedAt: at}
	for _, d := range devices {
		b.devices[d.ID] = d
	}
	return b
}

// Contains reports whether id was present at capture.
func (b *Baseline) Contains(id string) bool {
	if b == nil {
		return false
	}
	_, ok := b.devices[id]
	return ok
}

// Len returns the number of baseline devices.
func (b *Baseline) Len() int {
	if b == nil {
		return 0
	}
	return len(b.devices)
}

// CapturedAt returns when the baseline was taken.
func (b *Baseline) CapturedAt() time.Time { return b.capturedAt }

// Devices returns the baseline devices sorted by id.
func (b *Baseline) Devices() []Info {
	if b == nil {
		return nil
	}
	ids := slices.Sorted(maps.Keys(b.devices))
	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.devices[id])
	}
	return out
}

// GetLogger returns the device package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("device")
}

package device

import (
	"strings"
)

// Patterns are case-insensitive substrings matched against device names.
type Patterns struct {
	Storage []string
	Exclude []string
	BuiltIn []string
}

// DefaultPatterns returns the stock pattern tables, matching the
// device.patterns defaults of the configuration.
func DefaultPatterns() Patterns {
	return Patterns{
		Storage: []string{
			"drive", "flash", "storage", "disk", "mass storage", "usb stick", "thumb",
			"sandisk", "cruzer", "kingston", "datatraveler", "lexar", "transcend",
			"pny", "verbatim", "seagate", "western digital", "wd ", "toshiba", "samsung t",
			"sd card", "card reader",
		},
		Exclude: []string{
			"keyboard", "mouse", "trackpad", "touchpad", "camera", "webcam", "headset",
			"headphone", "microphone", "speaker", "audio", "hub", "bluetooth", "receiver",
			"controller", "gamepad",
		},
		BuiltIn: []string{
			"built-in", "builtin", "internal", "integrated", "default", "hda intel",
			"at translated set", "power button", "sleep button", "lid switch", "video bus",
			"pc speaker", "root hub", "host controller",
		},
	}
}

// Classifier tags device names using data-driven pattern tables.
type Classifier struct {
	storage []string
	exclude []string
	builtIn []string
}

// NewClassifier builds a classifier. Patterns are lowercased and blank ones
// dropped; surrounding spaces are significant ("wd ").
func NewClassifier(p Patterns) *Classifier {
	return &Classifier{
		storage: normalizePatterns(p.Storage),
		exclude: normalizePatterns(p.Exclude),
		builtIn: normalizePatterns(p.BuiltIn),
	}
}

func normalizePatterns(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, strings.ToLower(p))
	}
	return out
}

// Classify returns storage when a storage pattern matches and no exclude
// pattern does, built-in when a built-in pattern matches, and peripheral
// otherwise.
func (c *Classifier) Classify(name string) Classification {
	lower := strings.ToLower(name)
	switch {
	case containsAny(lower, c.storage) && !containsAny(lower, c.exclude):
		return ClassStorage
	case containsAny(lower, c.builtIn):
		return ClassBuiltIn
	default:
		return ClassPeripheral
	}
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Identifiable reports whether a device name says anything about the device.
func Identifiable(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "", "unknown", "unknown device", "usb device", "generic":
		return false
	}
	return !strings.HasPrefix(n, "unknown ")
}

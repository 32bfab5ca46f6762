package violation

import (
	"maps"
	"time"
)

// DebounceState holds the last emission time per violation kind.
// The zero value is ready to use. Values are never mutated in place;
// Debounce returns a new state when it records an emission.
type DebounceState struct {
	last map[string]time.Time
}

// LastEmitted returns when kind was last emitted.
func (s DebounceState) LastEmitted(kind string) (time.Time, bool) {
	t, ok := s.last[kind]
	return t, ok
}

// Len returns the number of kinds tracked.
func (s DebounceState) Len() int {
	return len(s.last)
}

// Debounce decides whether a classification of kind at now should be emitted.
// It suppresses when now - last(kind) < coolDown, otherwise it emits and
// returns a state recording now for kind.
func Debounce(state DebounceState, now time.Time, kind string, coolDown time.Duration) (emit bool, next DebounceState) {
	if last, ok := state.last[kind]; ok && now.Sub(last) < coolDown {
		return false, state
	}

	updated := make(map[string]time.Time, len(state.last)+1)
	maps.Copy(updated, state.last)
	updated[kind] = now
	return true, DebounceState{last: updated}
}

// CoolDowns maps detector families to their debounce windows.
type CoolDowns struct {
	Face    time.Duration
	Noise   time.Duration
	Device  time.Duration
	Default time.Duration // kinds outside the known families
}

// DefaultCoolDowns returns 5s for face and noise, 10s for device kinds.
func DefaultCoolDowns() CoolDowns {
	return CoolDowns{
		Face:    5 * time.Second,
		Noise:   5 * time.Second,
		Device:  10 * time.Second,
		Default: 5 * time.Second,
	}
}

// For returns the cool-down that applies to kind.
func (c CoolDowns) For(kind string) time.Duration {
	switch Family(kind) {
	case "face":
		return c.Face
	case "noise":
		return c.Noise
	case "device":
		return c.Device
	default:
		return c.Default
	}
}

//go:build !linux

package device

import "context"

// InputEnumerator is only available on Linux.
type InputEnumerator struct{}

// NewInputEnumerator returns nil where evdev is unavailable.
func NewInputEnumerator() *InputEnumerator { return nil }

func (e *InputEnumerator) Name() string { return string(SourceInput) }

func (e *InputEnumerator) Enumerate(context.Context) ([]Info, error) { return nil, nil }

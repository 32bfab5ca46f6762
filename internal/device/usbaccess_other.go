//go:build !linux

package device

import (
	"context"

	"github.com/tphakala/proctor-go/internal/errors"
)

type unsupportedSource struct{}

func newUEventSource() ueventSource { return unsupportedSource{} }

func (unsupportedSource) Existing() ([]uevent, error) { return nil, nil }

func (unsupportedSource) Monitor(context.Context) (<-chan uevent, error) {
	return nil, errors.NewStd("usb uevents are only available on linux")
}

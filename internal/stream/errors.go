package stream

import (
	"github.com/tphakala/proctor-go/internal/errors"
)

// Acquisition failure classes. Providers wrap one of these so the Acquirer
// can classify the failure.
var (
	ErrPermissionDenied  = errors.NewStd("permission to capture was denied")
	ErrDeviceUnavailable = errors.NewStd("capture device not found or busy")
	ErrOverconstrained   = errors.NewStd("no capture device satisfies the constraints")
)

// reason returns a short label for an acquisition failure.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, ErrOverconstrained):
		return "overconstrained"
	default:
		return "unknown"
	}
}

// acquisitionError wraps a provider failure for the session controller.
func acquisitionError(err error, relaxed bool) error {
	return errors.New(err).
		Component("stream").
		Category(errors.CategoryStreamAcquisition).
		Context("operation", "request_stream").
		Context("reason", reason(err)).
		Context("relaxed_constraints", relaxed).
		Build()
}

// IsAcquisitionError reports whether err is a stream acquisition failure.
func IsAcquisitionError(err error) bool {
	return errors.IsCategory(err, errors.CategoryStreamAcquisition)
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

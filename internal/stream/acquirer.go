package stream

import (
	"context"
	"sync"

	"github.com/tphakala/proctor-go/internal/errors"
	"github.com/tphakala/proctor-go/internal/logger"
)

// Provider opens capture devices. Implementations wrap ErrPermissionDenied,
// ErrDeviceUnavailable or ErrOverconstrained so failures can be classified.
type Provider interface {
	Name() string
	Open(ctx context.Context, c Constraints) ([]OwnedTrack, error)
}

// Acquirer requests the stream and owns the resulting Handle.
type Acquirer struct {
	provider    Provider
	constraints Constraints
	log         logger.Logger

	mu      sync.Mutex
	current *Handle
}

// NewAcquirer creates an Acquirer for provider with the requested constraints.
func NewAcquirer(provider Provider, constraints Constraints) *Acquirer {
	return &Acquirer{
		provider:    provider,
		constraints: constraints,
		log:         GetLogger(),
	}
}

// SetLogger replaces the package logger.
func (a *Acquirer) SetLogger(l logger.Logger) {
	a.log = l
}

// Start acquires the stream. On ErrOverconstrained it retries exactly once with
// relaxed constraints. The handle is attached before Start returns, so
// Current reflects it immediately. Starting while a live handle is attached
// returns that handle.
func (a *Acquirer) Start(ctx context.Context) (*Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current != nil && !a.current.Released() {
		return a.current, nil
	}

	tracks, err := a.provider.Open(ctx, a.constraints)
	relaxed := false
	if err != nil && errors.Is(err, ErrOverconstrained) {
		a.log.Warn("stream constraints could not be satisfied, retrying with relaxed constraints",
			logger.String("provider", a.provider.Name()),
			logger.Error(err))
		relaxed = true
		tracks, err = a.provider.Open(ctx, a.constraints.Relaxed())
	}
	if err != nil {
		a.log.Error("stream acquisition failed",
			logger.String("provider", a.provider.Name()),
			logger.String("reason", reason(err)),
			logger.Bool("relaxed", relaxed),
			logger.Error(err))
		return nil, acquisitionError(err, relaxed)
	}
	if len(tracks) == 0 {
		return nil, acquisitionError(errors.Join(ErrDeviceUnavailable, errors.NewStd("provider returned no tracks")), relaxed)
	}

	h := newHandle(tracks)
	a.current = h

	fields := []logger.Field{
		logger.String("handle_id", h.ID()),
		logger.String("provider", a.provider.Name()),
		logger.Int("tracks", len(tracks)),
		logger.Bool("relaxed", relaxed),
	}
	for _, t := range tracks {
		fields = append(fields, logger.String(string(t.Kind()), t.Label()))
	}
	a.log.Info("stream acquired", fields...)
	return h, nil
}

// Stop stops every track of h. It is safe to call repeatedly, concurrently
// and with a nil handle; only the first call stops the tracks.
func (a *Acquirer) Stop(h *Handle) error {
	if h == nil {
		return nil
	}

	a.mu.Lock()
	if a.current == h {
		a.current = nil
	}
	a.mu.Unlock()

	if h.Released() {
		return nil
	}
	err := h.release()
	if err != nil {
		a.log.Warn("errors while stopping stream tracks",
			logger.String("handle_id", h.ID()),
			logger.Error(err))
	} else {
		a.log.Info("stream released", logger.String("handle_id", h.ID()))
	}
	return err
}

// Current returns the attached handle, or nil.
func (a *Acquirer) Current() *Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

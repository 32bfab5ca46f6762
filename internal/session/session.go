// Package session runs one monitored session: it acquires the stream,
// starts the detectors against it and tears everything down in order.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/proctor-go/internal/errors"
	"github.com/tphakala/proctor-go/internal/logger"
	"github.com/tphakala/proctor-go/internal/stream"
)

// State of a session.
type State string

const (
	StateIdle      State = "idle"
	StateAcquiring State = "acquiring"
	StateRunning   State = "running"
	StateFailed    State = "failed"
	StateStopping  State = "stopping"
	StateStopped   State = "stopped"
)

// Detector is a detector the session starts and stops.
type Detector interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
	Status() string
}

// baselineCapturer is a detector that snapshots state before any detector runs.
type baselineCapturer interface {
	CaptureBaseline(ctx context.Context) error
}

// StreamSource acquires and releases the media stream.
type StreamSource interface {
	Start(ctx context.Context) (*stream.Handle, error)
	Stop(h *stream.Handle) error
	Current() *stream.Handle
}

// Status is a point-in-time view of the session.
type Status struct {
	Name      string            `json:"name"`
	State     State             `json:"state"`
	StreamID  string            `json:"stream_id,omitempty"`
	StartedAt time.Time         `json:"started_at,omitzero"`
	Error     string            `json:"error,omitempty"`
	Detectors map[string]string `json:"detectors"`
}

// Option customizes a Session.
type Option func(*Session)

// WithLogger replaces the package logger.
func WithLogger(l logger.Logger) Option { return func(s *Session) { s.log = l } }

// WithRetryOnFailure keeps Run alive after an acquisition failure, waiting
// for Retry instead of returning the error.
func WithRetryOnFailure() Option { return func(s *Session) { s.waitForRetry = true } }

// Session owns the stream and detector lifecycle.
type Session struct {
	name         string
	streams      StreamSource
	detectors    []Detector
	log          logger.Logger
	waitForRetry bool

	mu        sync.Mutex
	state     State
	handle    *stream.Handle
	startedAt time.Time
	lastErr   error
	retry     chan struct{}
}

// New creates a session over streams. Detectors start in parallel and stop
// in reverse order.
func New(name string, streams StreamSource, detectors []Detector, opts ...Option) *Session {
	s := &Session{
		name:      name,
		streams:   streams,
		detectors: detectors,
		log:       GetLogger(),
		state:     StateIdle,
		retry:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run acquires the stream, captures baselines, starts the detectors and
// blocks until ctx is done. Detectors are always stopped before the stream
// is released, exactly once, whether Run returns normally or with an error.
// Acquisition failures are returned unless WithRetryOnFailure was given.
func (s *Session) Run(ctx context.Context) error {
	for {
		h, err := s.acquire(ctx)
		if err == nil {
			return s.monitor(ctx, h)
		}
		if !s.waitForRetry {
			return err
		}

		s.log.Info("waiting for retry after acquisition failure")
		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			return nil
		case <-s.retry:
			s.log.Info("retrying stream acquisition")
		}
	}
}

func (s *Session) acquire(ctx context.Context) (*stream.Handle, error) {
	s.setState(StateAcquiring)
	start := time.Now()

	h, err := s.streams.Start(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.lastErr = err
		s.mu.Unlock()
		s.log.Error("stream acquisition failed", logger.Error(err))
		return nil, err
	}

	s.mu.Lock()
	s.handle = h
	s.startedAt = time.Now()
	s.lastErr = nil
	s.mu.Unlock()
	s.log.Info("stream acquired",
		logger.String("stream_id", h.ID()),
		logger.Duration("elapsed", time.Since(start)))
	return h, nil
}

func (s *Session) monitor(ctx context.Context, h *stream.Handle) (err error) {
	var once sync.Once
	teardown := func() {
		once.Do(func() { s.teardown(h) })
	}
	defer teardown()

	for _, d := range s.detectors {
		if bc, ok := d.(baselineCapturer); ok {
			if err := bc.CaptureBaseline(ctx); err != nil {
				return s.fail(fmt.Errorf("capture %s baseline: %w", d.Name(), err))
			}
		}
	}

	var g errgroup.Group
	for _, d := range s.detectors {
		g.Go(func() error {
			if err := d.Start(ctx); err != nil {
				return fmt.Errorf("start %s detector: %w", d.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return s.fail(err)
	}

	s.setState(StateRunning)
	s.log.Info("session running",
		logger.String("session", s.name),
		logger.Int("detectors", len(s.detectors)))

	<-ctx.Done()
	return nil
}

// teardown stops every detector, in reverse start order, before releasing
// the stream.
func (s *Session) teardown(h *stream.Handle) {
	s.mu.Lock()
	failed := s.state == StateFailed
	if !failed {
		s.state = StateStopping
	}
	s.mu.Unlock()

	for i := len(s.detectors) - 1; i >= 0; i-- {
		s.detectors[i].Stop()
	}
	if err := s.streams.Stop(h); err != nil {
		s.log.Warn("stream release reported errors", logger.Error(err))
	}

	s.mu.Lock()
	s.handle = nil
	if !failed {
		s.state = StateStopped
	}
	s.mu.Unlock()
	s.log.Info("session stopped", logger.String("session", s.name))
}

func (s *Session) fail(err error) error {
	err = errors.New(err).
		Component("session").
		Category(errors.CategoryState).
		Context("session", s.name).
		Build()
	s.mu.Lock()
	s.state = StateFailed
	s.lastErr = err
	s.mu.Unlock()
	s.log.Error("session failed to start", logger.Error(err))
	return err
}

// Retry asks a Run waiting after an acquisition failure to try again.
func (s *Session) Retry() error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state != StateFailed || !s.waitForRetry {
		return errors.Newf("session is %s, retry requires a failed acquisition", state).
			Component("session").
			Category(errors.CategoryState).
			Build()
	}
	select {
	case s.retry <- struct{}{}:
	default:
	}
	return nil
}

// Status returns a snapshot of the session and its detectors.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		Name:      s.name,
		State:     s.state,
		StartedAt: s.startedAt,
		Detectors: make(map[string]string, len(s.detectors)),
	}
	if s.handle != nil {
		st.StreamID = s.handle.ID()
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	s.mu.Unlock()

	for _, d := range s.detectors {
		st.Detectors[d.Name()] = d.Status()
	}
	return st
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// GetLogger returns the session package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("session")
}

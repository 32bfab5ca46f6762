package face

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/proctor-go/internal/errors"
	"github.com/tphakala/proctor-go/internal/logger"
)

// Loader creates a Model. It is called at most once per successful ModelService.
type Loader func(ctx context.Context) (Model, error)

// ModelService owns the face model and loads it on first use.
type ModelService struct {
	loader Loader
	log    logger.Logger

	mu       sync.Mutex
	model    Model
	loadedAt time.Time
}

// NewModelService creates a service that loads its model with loader.
func NewModelService(loader Loader) *ModelService {
	return &ModelService{loader: loader, log: GetLogger()}
}

// EnsureInitialized loads the model if it is not loaded yet. Concurrent and
// repeated calls load it once; a failed load is retried on the next call.
func (s *ModelService) EnsureInitialized(ctx context.Context) (Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.model != nil {
		return s.model, nil
	}

	start := time.Now()
	m, err := s.loader(ctx)
	if err != nil {
		return nil, errors.New(err).
			Component("face").
			Category(errors.CategoryModelLoad).
			Context("operation", "load_face_model").
			Timing("model-load", time.Since(start)).
			Build()
	}
	s.model = m
	s.loadedAt = time.Now()
	s.log.Info("face model initialized", logger.Duration("load_time", time.Since(start)))
	return m, nil
}

// Loaded reports whether the model is available.
func (s *ModelService) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model != nil
}

// Close releases the model. A later EnsureInitialized loads it again.
func (s *ModelService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return nil
	}
	err := s.model.Close()
	s.model = nil
	return err
}

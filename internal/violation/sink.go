package violation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/proctor-go/internal/logger"
)

// DefaultQueueSize bounds the consumer dispatch queue.
const DefaultQueueSize = 64

// Consumer receives emitted records. Consume is called from the sink's
// dispatcher goroutine, one record at a time.
type Consumer interface {
	Name() string
	Consume(Record) error
}

// Observer is notified of debounce outcomes, typically a metrics collector.
type Observer interface {
	RecordEmitted(kind string, severity Severity)
	RecordSuppressed(kind string)
	RecordDropped(consumer string)
}

// Config configures a Sink.
type Config struct {
	LogCapacity int
	QueueSize   int
	CoolDowns   CoolDowns
}

// Option customizes a Sink.
type Option func(*Sink)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// WithObserver installs an Observer.
func WithObserver(o Observer) Option {
	return func(s *Sink) { s.observer = o }
}

// WithLogger replaces the package logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Sink) { s.log = l }
}

// Sink is the single consumer of all detector classifications. It debounces
// per kind, prepends emitted records to the Log and queues them for consumers
// so a slow consumer never blocks a detector tick.
type Sink struct {
	mu          sync.Mutex
	state       DebounceState
	coolDowns   CoolDowns
	records     *Log
	consumers   []Consumer
	subscribers map[int]chan Record
	nextSubID   int
	closed      bool

	queue     chan Record
	wg        sync.WaitGroup
	closeOnce sync.Once

	now      func() time.Time
	observer Observer
	log      logger.Logger
}

// NewSink creates a sink and starts its dispatcher goroutine. Call Close to stop it.
func NewSink(cfg Config, opts ...Option) *Sink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.CoolDowns == (CoolDowns{}) {
		cfg.CoolDowns = DefaultCoolDowns()
	}

	s := &Sink{
		coolDowns:   cfg.CoolDowns,
		records:     NewLog(cfg.LogCapacity),
		subscribers: make(map[int]chan Record),
		queue:       make(chan Record, cfg.QueueSize),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}

	s.wg.Add(1)
	go s.dispatch()
	return s
}

// AddConsumer registers a consumer. Names must be unique.
func (s *Sink) AddConsumer(c Consumer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.consumers {
		if existing.Name() == c.Name() {
			return fmt.Errorf("consumer %s already registered", c.Name())
		}
	}
	s.consumers = append(s.consumers, c)
	s.log.Info("registered violation consumer", logger.String("consumer", c.Name()))
	return nil
}

// Subscribe returns a channel receiving every record emitted after the call.
// Records are dropped for a subscriber whose buffer is full. The returned
// function unsubscribes and closes the channel; it is safe to call twice.
func (s *Sink) Subscribe(buffer int) (<-chan Record, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Record, buffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
}

// Report applies the debounce policy to r. When r is emitted the new record
// is returned with true.
func (s *Sink) Report(ctx context.Context, r Report) (Record, bool) {
	log := s.log.WithContext(ctx)

	s.mu.Lock()
	now := s.now()
	emit, next := Debounce(s.state, now, r.Kind, s.coolDowns.For(r.Kind))
	if !emit {
		s.mu.Unlock()
		if s.observer != nil {
			s.observer.RecordSuppressed(KindLabel(r.Kind))
		}
		log.Trace("violation suppressed by cool-down", logger.String("kind", r.Kind))
		return Record{}, false
	}
	s.state = next

	rec := Record{
		ID:         uuid.NewString(),
		Kind:       r.Kind,
		Severity:   r.Severity,
		Message:    r.Message,
		Source:     r.Source,
		OccurredAt: now,
	}
	s.records.Add(rec)

	closed := s.closed
	if !closed {
		select {
		case s.queue <- rec:
		default:
			log.Warn("violation dispatch queue full, consumers will miss record",
				logger.String("kind", r.Kind))
			if s.observer != nil {
				s.observer.RecordDropped("queue")
			}
		}
	}
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.RecordEmitted(KindLabel(r.Kind), r.Severity)
	}
	log.Info("violation recorded",
		logger.String("kind", rec.Kind),
		logger.String("severity", string(rec.Severity)),
		logger.String("message", rec.Message))
	return rec, true
}

// Log returns the bounded violation log.
func (s *Sink) Log() *Log {
	return s.records
}

// Snapshot returns the log contents, most recent first.
func (s *Sink) Snapshot() []Record {
	return s.records.Snapshot()
}

// Close stops accepting dispatches, drains queued records to consumers and
// waits for the dispatcher. Reports after Close still update the log.
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()

		s.wg.Wait()

		s.mu.Lock()
		for id, ch := range s.subscribers {
			delete(s.subscribers, id)
			close(ch)
		}
		s.mu.Unlock()
	})
}

func (s *Sink) dispatch() {
	defer s.wg.Done()

	for rec := range s.queue {
		s.mu.Lock()
		consumers := make([]Consumer, len(s.consumers))
		copy(consumers, s.consumers)
		for _, ch := range s.subscribers {
			select {
			case ch <- rec:
			default:
				if s.observer != nil {
					s.observer.RecordDropped("subscriber")
				}
			}
		}
		s.mu.Unlock()

		for _, c := range consumers {
			if err := c.Consume(rec); err != nil {
				s.log.Error("violation consumer failed",
					logger.String("consumer", c.Name()),
					logger.String("kind", rec.Kind),
					logger.Error(err))
			}
		}
	}
}

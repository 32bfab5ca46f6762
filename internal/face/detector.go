package face

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/tphakala/proctor-go/internal/errors"
	"github.com/tphakala/proctor-go/internal/logger"
	"github.com/tphakala/proctor-go/internal/stream"
	"github.com/tphakala/proctor-go/internal/violation"
)

const detectorName = "face"

// Defaults for Config.
const (
	DefaultInterval      = 2 * time.Second
	DefaultMissThreshold = 3
	MinInterval          = 500 * time.Millisecond
)

// State of the detector lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateLoadingModel State = "loading_model"
	StateActive       State = "active"
	StateStopped      State = "stopped"
)

// Tick outcomes recorded by the Observer.
const (
	OutcomeOK          = "ok"
	OutcomeNoModel     = "model_unavailable"
	OutcomeNotReady    = "stream_not_ready"
	OutcomeBusy        = "busy"
	OutcomeTimeout     = "timeout"
	OutcomeError       = "error"
	OutcomeInterrupted = "interrupted"
)

// Reporter receives positive classifications.
type Reporter interface {
	Report(ctx context.Context, r violation.Report) (violation.Record, bool)
}

// HandleSource returns the attached stream, or nil before acquisition.
type HandleSource interface {
	Current() *stream.Handle
}

// Observer records tick outcomes and inference latency.
type Observer interface {
	RecordTick(detector, outcome string)
	RecordInference(detector string, d time.Duration, err error)
}

// Config configures a Detector.
type Config struct {
	Interval      time.Duration
	MissThreshold int // consecutive "none" results before a violation
}

// Option customizes a Detector.
type Option func(*Detector)

// WithObserver installs an Observer.
func WithObserver(o Observer) Option { return func(d *Detector) { d.observer = o } }

// WithLogger replaces the package logger.
func WithLogger(l logger.Logger) Option { return func(d *Detector) { d.log = l } }

// WithResultHook is called with every classified result from the loop goroutine.
func WithResultHook(fn func(Result)) Option { return func(d *Detector) { d.onResult = fn } }

// Detector polls the video track and classifies the face count.
type Detector struct {
	cfg      Config
	models   *ModelService
	source   HandleSource
	sink     Reporter
	observer Observer
	log      logger.Logger
	onResult func(Result)

	mu      sync.Mutex
	state   State
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// touched only by the loop goroutine
	misses   int
	inflight chan struct{}
}

// NewDetector creates a detector. It does nothing until Start.
func NewDetector(cfg Config, models *ModelService, source HandleSource, sink Reporter, opts ...Option) *Detector {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	cfg.Interval = max(cfg.Interval, MinInterval)
	if cfg.MissThreshold <= 0 {
		cfg.MissThreshold = DefaultMissThreshold
	}

	d := &Detector{
		cfg:    cfg,
		models: models,
		source: source,
		sink:   sink,
		state:  StateIdle,
		log:    GetLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name identifies the detector.
func (d *Detector) Name() string { return detectorName }

// Start begins polling. Calling Start on a running detector is a no-op.
func (d *Detector) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}
	if d.models == nil || d.source == nil || d.sink == nil {
		return errors.Newf("face detector requires a model service, stream source and sink").
			Component("face").
			Category(errors.CategoryState).
			Build()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.state = StateLoadingModel
	d.misses = 0

	d.wg.Add(1)
	go d.loop(loopCtx)

	d.log.Info("face detector started",
		logger.Duration("interval", d.cfg.Interval),
		logger.Int("miss_threshold", d.cfg.MissThreshold))
	return nil
}

// Stop cancels polling and waits for the loop, including an in-flight
// inference, to finish. It is safe to call before Start and repeatedly.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel := d.cancel
	d.mu.Unlock()

	cancel()
	d.wg.Wait()

	d.setState(StateStopped)
	d.log.Info("face detector stopped")
}

// State returns the current lifecycle state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Status returns the lifecycle state as text.
func (d *Detector) Status() string { return string(d.State()) }

func (d *Detector) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Detector) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Detector) record(outcome string) {
	if d.observer != nil {
		d.observer.RecordTick(detectorName, outcome)
	}
}

// tick runs one poll. Failed preconditions skip the tick without touching
// the miss counter.
func (d *Detector) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	model, err := d.models.EnsureInitialized(ctx)
	if err != nil {
		d.log.Warn("face model unavailable, skipping tick", logger.Error(err))
		d.record(OutcomeNoModel)
		return
	}

	frame, ok := d.readyFrame()
	if !ok {
		d.record(OutcomeNotReady)
		return
	}
	if d.State() == StateLoadingModel {
		d.setState(StateActive)
	}

	boxes, outcome := d.infer(ctx, model, frame)
	if outcome != OutcomeOK {
		d.record(outcome)
		return
	}
	// stopped while inferring; a result now could come from a dying stream
	if ctx.Err() != nil {
		d.record(OutcomeInterrupted)
		return
	}

	res := Result{Count: len(boxes), Classification: Classify(len(boxes))}
	d.record(OutcomeOK)
	d.evaluate(ctx, res)
	if d.onResult != nil {
		d.onResult(res)
	}
}

// readyFrame returns the latest frame when the video track is live with data.
func (d *Detector) readyFrame() (image.Image, bool) {
	video := d.source.Current().Video()
	if video == nil || video.State() != stream.StateLive || !video.Ready() || video.Bounds().Empty() {
		return nil, false
	}
	frame, err := video.Frame()
	if err != nil {
		return nil, false
	}
	return frame, true
}

type inference struct {
	boxes []BoundingBox
	err   error
}

// infer runs the model bounded by the poll interval. An overrunning inference
// keeps running in the background and later ticks are skipped until it ends,
// so inferences never overlap.
func (d *Detector) infer(ctx context.Context, model Model, frame image.Image) ([]BoundingBox, string) {
	if d.inflight != nil {
		select {
		case <-d.inflight:
			d.inflight = nil
		default:
			return nil, OutcomeBusy
		}
	}

	tickCtx, cancel := context.WithTimeout(ctx, d.cfg.Interval)
	defer cancel()

	done := make(chan struct{})
	result := make(chan inference, 1)
	start := time.Now()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(done)
		boxes, err := model.EstimateFaces(tickCtx, frame)
		if d.observer != nil {
			d.observer.RecordInference(detectorName, time.Since(start), err)
		}
		result <- inference{boxes: boxes, err: err}
	}()

	select {
	case r := <-result:
		if r.err != nil {
			if ctx.Err() != nil {
				return nil, OutcomeInterrupted
			}
			if errors.Is(r.err, context.DeadlineExceeded) {
				d.log.Warn("face inference exceeded poll interval, tick skipped",
					logger.Duration("interval", d.cfg.Interval))
				return nil, OutcomeTimeout
			}
			d.log.Error("face inference failed", logger.Error(r.err))
			return nil, OutcomeError
		}
		return r.boxes, OutcomeOK
	case <-tickCtx.Done():
		d.inflight = done
		if ctx.Err() != nil {
			return nil, OutcomeInterrupted
		}
		d.log.Warn("face inference exceeded poll interval, tick skipped",
			logger.Duration("interval", d.cfg.Interval),
			logger.Duration("elapsed", time.Since(start)))
		return nil, OutcomeTimeout
	}
}

// evaluate applies the emission rule to one classified result.
func (d *Detector) evaluate(ctx context.Context, res Result) {
	switch res.Classification {
	case ClassSingle:
		d.misses = 0
	case ClassNone:
		d.misses++
		if d.misses < d.cfg.MissThreshold {
			d.log.Debug("no face in frame", logger.Int("consecutive_misses", d.misses))
			return
		}
		d.sink.Report(ctx, violation.Report{
			Kind:     violation.KindFaceAbsent,
			Severity: violation.SeverityWarning,
			Message:  "No face detected",
			Source:   detectorName,
		})
	case ClassMultiple:
		d.misses = 0
		d.sink.Report(ctx, violation.Report{
			Kind:     violation.KindFaceMultiple,
			Severity: violation.SeverityError,
			Message:  fmt.Sprintf("Multiple faces detected (%d)", res.Count),
			Source:   detectorName,
		})
	}
}

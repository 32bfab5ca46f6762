package device

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/proctor-go/internal/errors"
	"github.com/tphakala/proctor-go/internal/logger"
	"github.com/tphakala/proctor-go/internal/violation"
)

const detectorName = "device"

// DefaultInterval is the default poll interval.
const DefaultInterval = 5 * time.Second

// State of the detector lifecycle.
type State string

const (
	StateIdle             State = "idle"
	StateBaselineCaptured State = "baseline_captured"
	StateActive           State = "active"
	StateStopped          State = "stopped"
)

// Tick outcomes recorded by the Observer.
const (
	OutcomeOK          = "ok"
	OutcomePartial     = "partial"
	OutcomeInterrupted = "interrupted"
)

// Reporter receives positive classifications.
type Reporter interface {
	Report(ctx context.Context, r violation.Report) (violation.Record, bool)
}

// Observer records tick outcomes and the baseline size.
type Observer interface {
	RecordTick(detector, outcome string)
	SetBaselineDevices(n int)
}

// Config configures a Detector.
type Config struct {
	Interval      time.Duration
	EventLookback time.Duration
}

// Option customizes a Detector.
type Option func(*Detector)

// WithObserver installs an Observer.
func WithObserver(o Observer) Option { return func(d *Detector) { d.observer = o } }

// WithLogger replaces the package logger.
func WithLogger(l logger.Logger) Option { return func(d *Detector) { d.log = l } }

// WithUSBAccess adds authorized USB devices to the baseline and connect
// events to the lookback.
func WithUSBAccess(u USBAccess) Option { return func(d *Detector) { d.usb = u } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(d *Detector) { d.now = now } }

// WithResultHook is called with every result from the loop goroutine.
func WithResultHook(fn func(Result)) Option { return func(d *Detector) { d.onResult = fn } }

// Detector reports storage devices attached after its baseline was captured.
type Detector struct {
	cfg         Config
	enumerators []Enumerator
	classifier  *Classifier
	usb         USBAccess
	sink        Reporter
	observer    Observer
	log         logger.Logger
	now         func() time.Time
	onResult    func(Result)

	mu       sync.Mutex
	state    State
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	baseline *Baseline
	unsub    func()

	events *eventLog

	// loop goroutine only
	firstSeen map[string]time.Time
	logged    map[string]bool
}

// NewDetector creates a detector over enumerators. Nil enumerators are ignored.
func NewDetector(cfg Config, enumerators []Enumerator, classifier *Classifier, sink Reporter, opts ...Option) *Detector {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.EventLookback <= 0 {
		cfg.EventLookback = DefaultEventLookback
	}
	if classifier == nil {
		classifier = NewClassifier(DefaultPatterns())
	}

	d := &Detector{
		cfg:         cfg,
		enumerators: slices.DeleteFunc(slices.Clone(enumerators), func(e Enumerator) bool { return e == nil }),
		classifier:  classifier,
		sink:        sink,
		state:       StateIdle,
		log:         GetLogger(),
		now:         time.Now,
		events:      newEventLog(cfg.EventLookback),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name identifies the detector.
func (d *Detector) Name() string { return detectorName }

// Start captures the baseline, subscribes to USB events and begins polling.
// Calling Start on a running detector is a no-op; the baseline is captured
// once per detector and kept across restarts.
func (d *Detector) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}
	if d.sink == nil {
		return errors.Newf("device detector requires a sink").
			Component("device").
			Category(errors.CategoryState).
			Build()
	}

	d.ensureBaseline(ctx)
	if d.usb != nil {
		d.unsub = d.usb.Subscribe(d.events.Add)
	}
	d.firstSeen = make(map[string]time.Time)
	d.logged = make(map[string]bool)

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.state = StateActive

	d.wg.Add(1)
	go d.loop(loopCtx)

	d.log.Info("device detector started",
		logger.Int("baseline_devices", d.baseline.Len()),
		logger.Int("enumerators", len(d.enumerators)),
		logger.Duration("interval", d.cfg.Interval))
	return nil
}

// Stop cancels polling and waits for the loop. Safe before Start and repeatedly.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel, unsub := d.cancel, d.unsub
	d.unsub = nil
	d.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	cancel()
	d.wg.Wait()

	d.mu.Lock()
	d.state = StateStopped
	d.mu.Unlock()
	d.log.Info("device detector stopped")
}

// State returns the current lifecycle state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Status returns the lifecycle state as text.
func (d *Detector) Status() string { return string(d.State()) }

// Baseline returns the captured baseline, or nil before Start.
func (d *Detector) Baseline() *Baseline {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baseline
}

// CaptureBaseline takes the baseline if it has not been taken yet. Start
// calls it too; calling it first lets the caller capture the inventory
// before other detectors start.
func (d *Detector) CaptureBaseline(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	d.ensureBaseline(ctx)
	return nil
}

// ensureBaseline must be called with d.mu held.
func (d *Detector) ensureBaseline(ctx context.Context) {
	if d.baseline != nil {
		return
	}
	d.baseline = d.captureBaseline(ctx)
	d.state = StateBaselineCaptured
	if d.observer != nil {
		d.observer.SetBaselineDevices(d.baseline.Len())
	}
}

// captureBaseline enumerates everything once. Enumeration failures leave
// that subsystem out of the baseline.
func (d *Detector) captureBaseline(ctx context.Context) *Baseline {
	devices, errs := d.inventory(ctx)
	for _, err := range errs {
		d.log.Warn("device enumeration failed during baseline capture", logger.Error(err))
	}

	if d.usb != nil {
		authorized, err := d.usb.AuthorizedDevices(ctx)
		if err != nil {
			d.log.Warn("cannot list authorized USB devices", logger.Error(err))
		}
		for _, info := range authorized {
			info.Classification = d.classifier.Classify(info.DisplayName)
			devices = append(devices, info)
		}
	}

	b := newBaseline(devices, d.now())
	for _, info := range b.Devices() {
		d.log.Debug("baseline device",
			logger.String("device_id", info.ID),
			logger.String("name", info.DisplayName),
			logger.String("classification", string(info.Classification)))
	}
	return b
}

func (d *Detector) inventory(ctx context.Context) ([]Info, []error) {
	return Inventory(ctx, d.enumerators, d.classifier)
}

func (d *Detector) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

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

// tick diffs the inventory and recent connect events against the baseline.
func (d *Detector) tick(ctx context.Context) Result {
	if ctx.Err() != nil {
		return Result{}
	}

	current, errs := d.inventory(ctx)
	for _, err := range errs {
		d.log.Warn("device enumeration failed", logger.Error(err))
	}

	now := d.now()
	candidates := make(map[string]Info)
	for _, info := range current {
		if !d.baseline.Contains(info.ID) {
			candidates[info.ID] = info
		}
	}
	for _, info := range d.events.Recent() {
		if d.baseline.Contains(info.ID) {
			continue
		}
		if _, ok := candidates[info.ID]; !ok {
			info.Classification = d.classifier.Classify(info.DisplayName)
			candidates[info.ID] = info
		}
	}

	// a partition is the same stick as its new USB parent
	for id, info := range candidates {
		if _, ok := candidates[info.Parent]; ok && info.Parent != "" {
			delete(candidates, id)
		}
	}

	var res Result
	for _, id := range slices.Sorted(maps.Keys(candidates)) {
		info := candidates[id]
		first, seen := d.firstSeen[id]
		if !seen {
			first = now
			if !info.FirstSeenAt.IsZero() {
				first = info.FirstSeenAt
			}
			d.firstSeen[id] = first
		}
		info.FirstSeenAt = first
		res.Candidates = append(res.Candidates, info)
	}
	res.NewDevicesDetected = len(res.Candidates) > 0

	if ctx.Err() != nil {
		d.record(OutcomeInterrupted)
		return res
	}
	if len(errs) > 0 {
		d.record(OutcomePartial)
	} else {
		d.record(OutcomeOK)
	}

	d.emit(ctx, res)
	if d.onResult != nil {
		d.onResult(res)
	}
	return res
}

// emit reports storage candidates individually and unidentifiable ones as
// a single unknown-device warning. Named non-storage peripherals are logged.
func (d *Detector) emit(ctx context.Context, res Result) {
	if !res.NewDevicesDetected {
		return
	}

	identifiable := false
	for _, info := range res.Candidates {
		if !Identifiable(info.DisplayName) {
			continue
		}
		identifiable = true

		if info.Classification == ClassStorage {
			d.sink.Report(ctx, violation.Report{
				Kind:     violation.StorageKind(info.ID),
				Severity: violation.SeverityError,
				Message:  fmt.Sprintf("External storage device detected: %s", info.DisplayName),
				Source:   detectorName,
			})
			continue
		}
		if !d.logged[info.ID] {
			d.logged[info.ID] = true
			d.log.Info("new peripheral attached",
				logger.String("device_id", info.ID),
				logger.String("name", info.DisplayName),
				logger.String("source", string(info.Source)),
				logger.String("classification", string(info.Classification)))
		}
	}

	if !identifiable {
		d.sink.Report(ctx, violation.Report{
			Kind:     violation.KindDeviceUnknown,
			Severity: violation.SeverityWarning,
			Message:  "External device detected",
			Source:   detectorName,
		})
	}
}

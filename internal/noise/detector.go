package noise

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/proctor-go/internal/errors"
	"github.com/tphakala/proctor-go/internal/logger"
	"github.com/tphakala/proctor-go/internal/stream"
	"github.com/tphakala/proctor-go/internal/violation"
)

const detectorName = "noise"

// DefaultInterval is the default poll interval.
const DefaultInterval = time.Second

// State of the detector lifecycle.
type State string

const (
	StateIdle    State = "idle"
	StateActive  State = "active"
	StateStopped State = "stopped"
)

// Tick outcomes recorded by the Observer.
const (
	OutcomeOK          = "ok"
	OutcomeNotReady    = "stream_not_ready"
	OutcomeBuffering   = "buffering"
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

// Observer records tick outcomes and the measured level.
type Observer interface {
	RecordTick(detector, outcome string)
	SetNoiseLevel(level float64)
}

// Config configures a Detector.
type Config struct {
	Interval    time.Duration
	FFTSize     int
	MinDecibels float64
	MaxDecibels float64
	Bands       Bands
	Thresholds  Thresholds
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Interval:    DefaultInterval,
		FFTSize:     DefaultFFTSize,
		MinDecibels: DefaultMinDecibels,
		MaxDecibels: DefaultMaxDecibels,
		Bands:       DefaultBands(),
		Thresholds:  DefaultThresholds(),
	}
}

// Option customizes a Detector.
type Option func(*Detector)

// WithObserver installs an Observer.
func WithObserver(o Observer) Option { return func(d *Detector) { d.observer = o } }

// WithLogger replaces the package logger.
func WithLogger(l logger.Logger) Option { return func(d *Detector) { d.log = l } }

// WithResultHook is called with every result from the loop goroutine.
func WithResultHook(fn func(Result)) Option { return func(d *Detector) { d.onResult = fn } }

var violations = map[Classification]violation.Report{
	ClassBackground: {
		Kind:     violation.KindNoiseBackground,
		Severity: violation.SeverityWarning,
		Message:  "Background noise detected",
		Source:   detectorName,
	},
	ClassSecondarySpeaker: {
		Kind:     violation.KindNoiseSecondary,
		Severity: violation.SeverityWarning,
		Message:  "Multiple voices detected",
		Source:   detectorName,
	},
	ClassPoorQuality: {
		Kind:     violation.KindNoisePoorQuality,
		Severity: violation.SeverityWarning,
		Message:  "Poor audio quality",
		Source:   detectorName,
	},
}

// Detector polls the audio track and classifies its spectrum.
type Detector struct {
	cfg      Config
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

	analyser *AnalyserNode // loop goroutine only
}

// NewDetector creates a detector. Zero config fields take their defaults.
func NewDetector(cfg Config, source HandleSource, sink Reporter, opts ...Option) *Detector {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FFTSize == 0 {
		cfg.FFTSize = def.FFTSize
	}
	if cfg.MinDecibels == 0 && cfg.MaxDecibels == 0 {
		cfg.MinDecibels, cfg.MaxDecibels = def.MinDecibels, def.MaxDecibels
	}
	if cfg.Bands == (Bands{}) {
		cfg.Bands = def.Bands
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}

	d := &Detector{
		cfg:    cfg,
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
	if d.source == nil || d.sink == nil {
		return errors.Newf("noise detector requires a stream source and sink").
			Component("noise").
			Category(errors.CategoryState).
			Build()
	}
	if !isPowerOfTwo(d.cfg.FFTSize) {
		return errors.Newf("fft size %d is not a power of two", d.cfg.FFTSize).
			Component("noise").
			Category(errors.CategoryValidation).
			Build()
	}

	d.state = StateIdle
	d.analyser = nil
	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true

	d.wg.Add(1)
	go d.loop(loopCtx)

	d.log.Info("noise detector started",
		logger.Duration("interval", d.cfg.Interval),
		logger.Int("fft_size", d.cfg.FFTSize))
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
	cancel := d.cancel
	d.mu.Unlock()

	cancel()
	d.wg.Wait()

	d.setState(StateStopped)
	d.log.Info("noise detector stopped")
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

// analyserFor returns an analyser bound to the live audio track, rebuilding
// it when the stream was re-acquired.
func (d *Detector) analyserFor() (*AnalyserNode, error) {
	audio := d.source.Current().Audio()
	if audio == nil || audio.State() != stream.StateLive {
		d.analyser = nil
		return nil, nil
	}
	if d.analyser != nil && d.analyser.TrackID() == audio.ID() {
		return d.analyser, nil
	}
	a, err := NewAnalyser(audio, d.cfg.FFTSize, d.cfg.MinDecibels, d.cfg.MaxDecibels)
	if err != nil {
		return nil, err
	}
	d.analyser = a
	return a, nil
}

func (d *Detector) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	analyser, err := d.analyserFor()
	if err != nil {
		d.log.Error("cannot attach analyser", logger.Error(err))
		d.record(OutcomeError)
		return
	}
	if analyser == nil {
		d.record(OutcomeNotReady)
		return
	}
	if d.State() == StateIdle {
		d.setState(StateActive)
	}

	spectrum, err := analyser.ByteFrequencyData()
	switch {
	case errors.Is(err, ErrInsufficientSamples):
		d.record(OutcomeBuffering)
		return
	case err != nil:
		d.log.Warn("audio analysis failed, tick skipped", logger.Error(err))
		d.record(OutcomeError)
		return
	}

	m := Measure(spectrum, analyser.SampleRate(), d.cfg.Bands)
	class := Classify(m, d.cfg.Thresholds)
	res := NewResult(m, class)

	if ctx.Err() != nil {
		d.record(OutcomeInterrupted)
		return
	}
	d.record(OutcomeOK)
	if d.observer != nil {
		d.observer.SetNoiseLevel(m.Level)
	}

	if rep, ok := violations[class]; ok {
		d.log.Debug("noise classified",
			logger.String("classification", string(class)),
			logger.Float64("level", m.Level),
			logger.Float64("snr", m.SNR),
			logger.Float64("ambient_share", m.AmbientShare),
			logger.Float64("speech_share", m.SpeechShare),
			logger.Float64("secondary_peak_ratio", m.SecondaryPeakRatio))
		d.sink.Report(ctx, rep)
	}
	if d.onResult != nil {
		d.onResult(res)
	}
}

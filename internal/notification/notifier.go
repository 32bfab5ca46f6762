// Package notification pushes violations to a proctor through shoutrrr
// services, filtered by severity and rate limited.
package notification

import (
	"fmt"
	"strings"
	"time"

	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"golang.org/x/time/rate"

	"github.com/tphakala/proctor-go/internal/errors"
	"github.com/tphakala/proctor-go/internal/logger"
	"github.com/tphakala/proctor-go/internal/privacy"
	"github.com/tphakala/proctor-go/internal/violation"
)

const consumerName = "notification"

// Defaults for Config.
const (
	DefaultRatePerMinute = 6
	DefaultTimeout       = 10 * time.Second
)

// Recorder records delivery outcomes and rate limited records.
type Recorder interface {
	RecordDelivery(consumer string, d time.Duration, err error)
	RecordRateLimited(consumer string)
}

// Config configures a Notifier.
type Config struct {
	Session       string
	MinSeverity   violation.Severity
	RatePerMinute float64
}

// Notifier is a violation consumer sending push notifications.
type Notifier struct {
	cfg      Config
	sender   Sender
	limiter  *rate.Limiter
	recorder Recorder
	log      logger.Logger
	now      func() time.Time
}

// Option customizes a Notifier.
type Option func(*Notifier)

// WithRecorder installs a Recorder.
func WithRecorder(r Recorder) Option { return func(n *Notifier) { n.recorder = r } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(n *Notifier) { n.now = now } }

// NewNotifier creates a notifier. The limiter bursts up to one minute's quota.
func NewNotifier(cfg Config, sender Sender, opts ...Option) *Notifier {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = DefaultRatePerMinute
	}
	if cfg.MinSeverity == "" {
		cfg.MinSeverity = violation.SeverityWarning
	}

	n := &Notifier{
		cfg:     cfg,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerMinute/60), max(int(cfg.RatePerMinute), 1)),
		log:     GetLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name implements violation.Consumer.
func (n *Notifier) Name() string { return consumerName }

// Consume implements violation.Consumer. Records below the minimum severity
// and records over the rate limit are skipped without error.
func (n *Notifier) Consume(rec violation.Record) error {
	if severityRank(rec.Severity) < severityRank(n.cfg.MinSeverity) {
		return nil
	}
	if !n.limiter.AllowN(n.now(), 1) {
		if n.recorder != nil {
			n.recorder.RecordRateLimited(consumerName)
		}
		n.log.Debug("notification rate limited", logger.String("kind", rec.Kind))
		return nil
	}

	start := time.Now()
	err := n.send(rec)
	if n.recorder != nil {
		n.recorder.RecordDelivery(consumerName, time.Since(start), err)
	}
	return err
}

func (n *Notifier) send(rec violation.Record) error {
	params := stypes.Params{}
	params.SetTitle(Title(n.cfg.Session, rec))

	if err := firstError(n.sender.Send(Body(rec), &params)); err != nil {
		return errors.New(privacy.WrapError(err)).
			Component("notification").
			Category(errors.CategoryNotification).
			Context("kind", violation.KindLabel(rec.Kind)).
			Build()
	}
	n.log.Info("violation notification sent",
		logger.String("kind", rec.Kind),
		logger.String("severity", string(rec.Severity)))
	return nil
}

// Title returns the notification title for rec.
func Title(session string, rec violation.Record) string {
	if session == "" {
		return fmt.Sprintf("Proctoring %s", rec.Severity)
	}
	return fmt.Sprintf("Proctoring %s: %s", rec.Severity, session)
}

// Body returns the notification text for rec.
func Body(rec violation.Record) string {
	return fmt.Sprintf("[%s] %s at %s",
		strings.ToUpper(string(rec.Severity)), rec.Message, rec.OccurredAt.Format(time.TimeOnly))
}

// ParseSeverity maps a configured severity name, defaulting to warning.
func ParseSeverity(s string) violation.Severity {
	if strings.EqualFold(strings.TrimSpace(s), string(violation.SeverityError)) {
		return violation.SeverityError
	}
	return violation.SeverityWarning
}

func severityRank(s violation.Severity) int {
	switch s {
	case violation.SeverityError:
		return 2
	case violation.SeverityWarning:
		return 1
	default:
		return 0
	}
}

// GetLogger returns the notification package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("notification")
}

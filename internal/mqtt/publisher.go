package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tphakala/proctor-go/internal/logger"
	"github.com/tphakala/proctor-go/internal/violation"
)

const consumerName = "mqtt"

// DeliveryRecorder records per-consumer delivery outcomes.
type DeliveryRecorder interface {
	RecordDelivery(consumer string, d time.Duration, err error)
}

// Message is the JSON payload published for each violation.
type Message struct {
	Session    string             `json:"session"`
	ID         string             `json:"id"`
	Kind       string             `json:"kind"`
	Family     string             `json:"family"`
	Severity   violation.Severity `json:"severity"`
	Message    string             `json:"message"`
	Source     string             `json:"source"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// Publisher is a violation consumer that publishes each record as JSON to
// <prefix>/<session>/violations.
type Publisher struct {
	client   Client
	session  string
	topic    string
	timeout  time.Duration
	recorder DeliveryRecorder
	log      logger.Logger
}

// NewPublisher creates a publisher for session. recorder may be nil.
func NewPublisher(client Client, cfg Config, session string, recorder DeliveryRecorder) *Publisher {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().PublishTimeout
	}
	return &Publisher{
		client:   client,
		session:  session,
		topic:    Topic(cfg.Topic, session),
		timeout:  timeout,
		recorder: recorder,
		log:      GetLogger(),
	}
}

// Topic returns the violation topic for session under prefix.
func Topic(prefix, session string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultConfig().Topic
	}
	return fmt.Sprintf("%s/%s/violations", prefix, sanitizeTopicLevel(session))
}

// sanitizeTopicLevel removes characters that are not allowed or would split
// a single topic level.
func sanitizeTopicLevel(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#':
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
	if s == "" {
		return "default"
	}
	return s
}

// Name implements violation.Consumer.
func (p *Publisher) Name() string { return consumerName }

// Consume implements violation.Consumer.
func (p *Publisher) Consume(rec violation.Record) error {
	start := time.Now()
	err := p.publish(rec)
	if p.recorder != nil {
		p.recorder.RecordDelivery(consumerName, time.Since(start), err)
	}
	return err
}

func (p *Publisher) publish(rec violation.Record) error {
	payload, err := json.Marshal(Message{
		Session:    p.session,
		ID:         rec.ID,
		Kind:       rec.Kind,
		Family:     violation.Family(rec.Kind),
		Severity:   rec.Severity,
		Message:    rec.Message,
		Source:     rec.Source,
		OccurredAt: rec.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal violation: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if !p.client.IsConnected() {
		if err := p.client.Connect(ctx); err != nil {
			p.log.Warn("MQTT broker unavailable, violation not published",
				logger.String("kind", rec.Kind),
				logger.Error(err))
			return err
		}
	}

	if err := p.client.Publish(ctx, p.topic, payload); err != nil {
		return err
	}
	p.log.Debug("violation published",
		logger.String("topic", p.topic),
		logger.String("kind", rec.Kind))
	return nil
}

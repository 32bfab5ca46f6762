package datastore

import (
	"context"
	"time"

	"github.com/tphakala/proctor-go/internal/violation"
)

const consumerName = "datastore"

// DeliveryRecorder records per-consumer delivery outcomes.
type DeliveryRecorder interface {
	RecordDelivery(consumer string, d time.Duration, err error)
}

// Archive is a violation consumer writing every record to a Store.
type Archive struct {
	store    *Store
	session  string
	timeout  time.Duration
	recorder DeliveryRecorder
}

// NewArchive creates an archive consumer for session. recorder may be nil.
func NewArchive(store *Store, session string, recorder DeliveryRecorder) *Archive {
	return &Archive{store: store, session: session, timeout: 5 * time.Second, recorder: recorder}
}

// Name implements violation.Consumer.
func (a *Archive) Name() string { return consumerName }

// Consume implements violation.Consumer.
func (a *Archive) Consume(rec violation.Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	start := time.Now()
	err := a.store.Save(ctx, FromRecord(a.session, rec))
	if a.recorder != nil {
		a.recorder.RecordDelivery(consumerName, time.Since(start), err)
	}
	return err
}

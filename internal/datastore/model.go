// Package datastore archives emitted violations in SQLite or MySQL through gorm.
package datastore

import (
	"time"

	"github.com/tphakala/proctor-go/internal/logger"
	"github.com/tphakala/proctor-go/internal/violation"
)

// ViolationRecord is the archived form of a violation.Record.
type ViolationRecord struct {
	ID         uint      `gorm:"primaryKey"`
	RecordID   string    `gorm:"size:36;uniqueIndex"`
	Session    string    `gorm:"size:128;index:idx_session_time,priority:1"`
	Kind       string    `gorm:"size:255;index"`
	Family     string    `gorm:"size:16;index"`
	Severity   string    `gorm:"size:16"`
	Message    string    `gorm:"size:512"`
	Source     string    `gorm:"size:32"`
	OccurredAt time.Time `gorm:"index:idx_session_time,priority:2"`
	CreatedAt  time.Time
}

// TableName keeps the table name stable across model renames.
func (ViolationRecord) TableName() string { return "violations" }

// FromRecord converts an emitted record for session.
func FromRecord(session string, rec violation.Record) ViolationRecord {
	return ViolationRecord{
		RecordID:   rec.ID,
		Session:    session,
		Kind:       rec.Kind,
		Family:     violation.Family(rec.Kind),
		Severity:   string(rec.Severity),
		Message:    rec.Message,
		Source:     rec.Source,
		OccurredAt: rec.OccurredAt.UTC(),
	}
}

// Record converts back to a violation.Record.
func (v *ViolationRecord) Record() violation.Record {
	return violation.Record{
		ID:         v.RecordID,
		Kind:       v.Kind,
		Severity:   violation.Severity(v.Severity),
		Message:    v.Message,
		Source:     v.Source,
		OccurredAt: v.OccurredAt,
	}
}

// GetLogger returns the datastore package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("datastore")
}

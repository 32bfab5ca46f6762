package datastore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tphakala/proctor-go/internal/conf"
	"github.com/tphakala/proctor-go/internal/errors"
	"github.com/tphakala/proctor-go/internal/logger"
)

// Database types.
const (
	TypeSQLite = "sqlite"
	TypeMySQL  = "mysql"
)

// Config selects and locates the database.
type Config struct {
	Type       string
	SQLitePath string
	MySQLDSN   string
}

// ConfigFromSettings builds a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) Config {
	return Config{
		Type:       strings.ToLower(settings.Datastore.Type),
		SQLitePath: settings.Datastore.SQLite.Path,
		MySQLDSN:   settings.Datastore.MySQL.DSN,
	}
}

// Observer records database operation outcomes.
type Observer interface {
	RecordOperation(operation string, d time.Duration, err error)
	RecordArchived(n int64)
}

// Option customizes a Store.
type Option func(*Store)

// WithObserver installs an Observer.
func WithObserver(o Observer) Option { return func(s *Store) { s.observer = o } }

// Store is the violation archive.
type Store struct {
	db       *gorm.DB
	dbType   string
	log      logger.Logger
	observer Observer
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config, opts ...Option) (*Store, error) {
	log := GetLogger().With(logger.String("db_type", cfg.Type))

	dialector, info, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: NewGormLogger(DefaultSlowQueryThreshold, gormlogger.Warn)})
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("db_type", cfg.Type).
			Context("operation", "open").
			Build()
	}

	if err := db.AutoMigrate(&ViolationRecord{}); err != nil {
		closeDB(db)
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("db_type", cfg.Type).
			Context("operation", "auto_migrate").
			Build()
	}

	log.Info("violation archive opened", logger.String("location", info))
	s := &Store{db: db, dbType: cfg.Type, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) record(operation string, start time.Time, err error) {
	if s.observer != nil {
		s.observer.RecordOperation(operation, time.Since(start), err)
	}
}

func dialectorFor(cfg Config) (gorm.Dialector, string, error) {
	switch cfg.Type {
	case TypeSQLite, "":
		if cfg.SQLitePath == "" {
			return nil, "", configError(cfg.Type, "sqlite path is required")
		}
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, "", errors.New(err).
					Component("datastore").
					Category(errors.CategoryFileIO).
					Context("path", dir).
					Build()
			}
		}
		return sqlite.Open(cfg.SQLitePath + "?_busy_timeout=5000&_journal_mode=WAL"), cfg.SQLitePath, nil
	case TypeMySQL:
		if cfg.MySQLDSN == "" {
			return nil, "", configError(cfg.Type, "mysql dsn is required")
		}
		dsn, err := mysqldriver.ParseDSN(cfg.MySQLDSN)
		if err != nil {
			return nil, "", configError(cfg.Type, fmt.Sprintf("invalid mysql dsn: %v", err))
		}
		// the DSN carries the password; log only address and schema
		location := fmt.Sprintf("%s/%s", dsn.Addr, dsn.DBName)
		if !dsn.ParseTime {
			dsn.ParseTime = true
		}
		return mysql.Open(dsn.FormatDSN()), location, nil
	default:
		return nil, "", configError(cfg.Type, fmt.Sprintf("unsupported database type %q", cfg.Type))
	}
}

func configError(dbType, msg string) error {
	return errors.Newf("%s", msg).
		Component("datastore").
		Category(errors.CategoryConfiguration).
		Context("db_type", dbType).
		Build()
}

// Save archives rec. Saving a record ID twice is a no-op.
func (s *Store) Save(ctx context.Context, rec ViolationRecord) error {
	start := time.Now()
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "record_id"}}, DoNothing: true}).
		Create(&rec)
	s.record("save", start, result.Error)
	if result.Error != nil {
		return errors.New(result.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "save_violation").
			Context("kind", rec.Kind).
			Build()
	}
	if s.observer != nil && result.RowsAffected > 0 {
		s.observer.RecordArchived(result.RowsAffected)
	}
	return nil
}

// Recent returns up to limit violations of session, most recent first.
func (s *Store) Recent(ctx context.Context, session string, limit int) ([]ViolationRecord, error) {
	start := time.Now()
	var out []ViolationRecord
	err := s.db.WithContext(ctx).
		Where("session = ?", session).
		Order("occurred_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	s.record("recent", start, err)
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "recent_violations").
			Build()
	}
	return out, nil
}

// KindCount is one row of CountByFamily.
type KindCount struct {
	Family string
	Count  int64
}

// CountByFamily returns the number of archived violations of session per
// detector family.
func (s *Store) CountByFamily(ctx context.Context, session string) ([]KindCount, error) {
	start := time.Now()
	var out []KindCount
	err := s.db.WithContext(ctx).
		Model(&ViolationRecord{}).
		Select("family, COUNT(*) AS count").
		Where("session = ?", session).
		Group("family").
		Order("family").
		Scan(&out).Error
	s.record("count", start, err)
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "count_by_family").
			Build()
	}
	return out, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve generic DB object: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "close").
			Build()
	}
	s.db = nil
	return nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

package history

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Cycle actions.
const (
	ActionNone    = "none"
	ActionTrigger = "trigger"
	ActionDismiss = "dismiss"
)

// CycleRecord is the persisted outcome of one monitor cycle.
type CycleRecord struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	StartedAt     time.Time `gorm:"not null;index" json:"started_at"`
	DurationMs    int64     `gorm:"not null;default:0" json:"duration_ms"`
	ConfigVersion uint64    `gorm:"not null" json:"config_version"`
	Activation    string    `json:"activation"`
	Template      string    `json:"template"`
	Confidence    float64   `json:"confidence"`
	Threshold     float64   `json:"threshold"`
	Found         bool      `gorm:"not null;default:false;index" json:"found"`
	Action        string    `gorm:"not null;default:'none'" json:"action"`
	X             int       `json:"x"`
	Y             int       `json:"y"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// NewCycleRecord returns a record with a fresh ID.
func NewCycleRecord(startedAt time.Time) *CycleRecord {
	return &CycleRecord{
		ID:        uuid.NewString(),
		StartedAt: startedAt,
		Action:    ActionNone,
	}
}

// Store persists cycle records in SQLite.
type Store struct {
	db *gorm.DB
}

// DefaultDBPath returns ~/.config/nudger/history.db.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "nudger", "history.db"), nil
}

// Open connects to the database at path and migrates the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		var err error
		path, err = DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&CycleRecord{}); err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Create inserts a cycle record.
func (s *Store) Create(rec *CycleRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if result := s.db.Create(rec); result.Error != nil {
		return errors.Wrap(result.Error, "failed to insert cycle record")
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(limit int) ([]CycleRecord, error) {
	var records []CycleRecord
	result := s.db.Order("started_at DESC").Limit(limit).Find(&records)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query cycle records")
	}
	return records, nil
}

// Since returns the records started at or after since, oldest first.
func (s *Store) Since(since time.Time) ([]CycleRecord, error) {
	var records []CycleRecord
	result := s.db.Where("started_at >= ?", since).Order("started_at ASC").Find(&records)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query cycle records")
	}
	return records, nil
}

// Get returns the record with the given ID.
func (s *Store) Get(id string) (*CycleRecord, error) {
	var rec CycleRecord
	result := s.db.First(&rec, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, errors.Wrap(result.Error, "failed to get cycle record")
	}
	return &rec, nil
}

// Summary counts cycles by action since a point in time.
type Summary struct {
	Cycles   int64 `json:"cycles"`
	Found    int64 `json:"found"`
	Triggers int64 `json:"triggers"`
	Dismiss  int64 `json:"dismiss"`
	Errors   int64 `json:"errors"`
}

// SummarySince aggregates the records started at or after since.
func (s *Store) SummarySince(since time.Time) (Summary, error) {
	var sum Summary
	result := s.db.Model(&CycleRecord{}).
		Select(
			"COUNT(*) AS cycles, "+
				"COALESCE(SUM(CASE WHEN found THEN 1 ELSE 0 END), 0) AS found, "+
				"COALESCE(SUM(CASE WHEN action = ? THEN 1 ELSE 0 END), 0) AS triggers, "+
				"COALESCE(SUM(CASE WHEN action = ? THEN 1 ELSE 0 END), 0) AS dismiss, "+
				"COALESCE(SUM(CASE WHEN error <> '' THEN 1 ELSE 0 END), 0) AS errors",
			ActionTrigger, ActionDismiss,
		).
		Where("started_at >= ?", since).
		Scan(&sum)
	if result.Error != nil {
		return Summary{}, errors.Wrap(result.Error, "failed to summarize cycle records")
	}
	return sum, nil
}

// Prune deletes records started before the given time.
func (s *Store) Prune(before time.Time) (int64, error) {
	result := s.db.Where("started_at < ?", before).Delete(&CycleRecord{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to prune cycle records")
	}
	return result.RowsAffected, nil
}

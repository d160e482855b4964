package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// RunRecord is the catalog entry for a finished run. Config and Report
// hold the encoded documents as JSON.
type RunRecord struct {
	RunID       string         `gorm:"column:run_id;primaryKey"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
	Start       time.Time      `gorm:"column:start_date"`
	End         time.Time      `gorm:"column:end_date"`
	Symbols     string         `gorm:"column:symbols"`
	Status      string         `gorm:"column:status"`
	FinalValue  float64        `gorm:"column:final_value"`
	TotalReturn float64        `gorm:"column:total_return"`
	Sharpe      float64        `gorm:"column:sharpe"`
	MaxDrawdown float64        `gorm:"column:max_drawdown"`
	TradeCount  int            `gorm:"column:trade_count"`
	Config      datatypes.JSON `gorm:"column:config"`
	Report      datatypes.JSON `gorm:"column:report"`
}

func (RunRecord) TableName() string { return "backtest_runs" }

// Run statuses.
const (
	StatusComplete = "complete"
	StatusPartial  = "partial"
)

// RunStore catalogs runs in SQLite through gorm.
type RunStore struct {
	db *gorm.DB
}

func OpenRunStore(path string) (*RunStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("run store: path is required")
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, err
	}
	return &RunStore{db: db}, nil
}

// Save inserts rec or replaces the run with the same id.
func (s *RunStore) Save(ctx context.Context, rec RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("run store: run id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			UpdateAll: true,
		}).
		Create(&rec).Error
}

var ErrRunNotFound = errors.New("run not found")

func (s *RunStore) Get(ctx context.Context, runID string) (RunRecord, error) {
	var rec RunRecord
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return rec, err
}

// List returns runs newest first, at most limit when limit > 0.
func (s *RunStore) List(ctx context.Context, limit int) ([]RunRecord, error) {
	var recs []RunRecord
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("run_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *RunStore) Delete(ctx context.Context, runID string) error {
	return s.db.WithContext(ctx).Where("run_id = ?", runID).Delete(&RunRecord{}).Error
}

func (s *RunStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/himanishpuri/audion/pkg/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "audion.sqlite3"
const errDBClientNil = "db client is nil"

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

const (
	KindMatch   = "match"
	KindAnalyze = "analyze"
	KindCompare = "compare"
)

const (
	RoleTest      = "test"
	RoleReference = "reference"
	RoleInput     = "input"
)

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

// Run is one stored analysis, match or compare request.
type Run struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Kind           string    `gorm:"index:idx_run_kind" json:"kind"`
	TestCount      int       `json:"test_count"`
	ReferenceCount int       `json:"reference_count"`
	TotalScore     float64   `json:"total_score"`
	UnmatchedCount int       `json:"unmatched_count"`
	Payload        string    `gorm:"type:text" json:"-"`
	Clips          []RunClip `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"clips,omitempty"`
	CreatedAt      time.Time `gorm:"index:idx_run_created" json:"created_at"`
}

// RunClip records one input file of a run.
type RunClip struct {
	ID          uint    `gorm:"primaryKey;autoIncrement" json:"-"`
	RunID       string  `gorm:"type:varchar(36);index:idx_clip_run" json:"-"`
	Role        string  `json:"role"`
	Position    int     `json:"position"`
	Name        string  `json:"name"`
	SampleRate  int     `json:"sample_rate"`
	DurationSec float64 `json:"duration_sec"`
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("AUDION_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := utils.MakeDir(dir); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=foreign_keys(1)"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Run{}, &RunClip{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// SaveRun stores run and its clips, assigning an ID when run.ID is empty.
func (c *DBClient) SaveRun(run *Run) (string, error) {
	if c == nil || c.DB == nil {
		return "", errors.New(errDBClientNil)
	}
	if run == nil {
		return "", errors.New("run is nil")
	}
	if run.ID == "" {
		run.ID = utils.GenerateUUID()
	}
	for i := range run.Clips {
		run.Clips[i].RunID = run.ID
	}

	if err := c.DB.Create(run).Error; err != nil {
		return "", fmt.Errorf("creating run: %w", err)
	}
	return run.ID, nil
}

// GetRun loads a run with its clips ordered by role and position.
func (c *DBClient) GetRun(id string) (*Run, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}

	var run Run
	err := c.DB.
		Preload("Clips", func(db *gorm.DB) *gorm.DB {
			return db.Order("role DESC, position ASC")
		}).
		Where("id = ?", id).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return &run, nil
}

// ListRuns returns runs newest first, without clips or payload. An empty
// kind lists every kind; limit <= 0 means no limit.
func (c *DBClient) ListRuns(kind string, limit int) ([]Run, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}

	q := c.DB.Model(&Run{}).
		Omit("Payload").
		Order("created_at DESC")
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var runs []Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

func (c *DBClient) DeleteRun(id string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", id).Delete(&RunClip{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Run{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil
	})
}

func (c *DBClient) CountRuns() (int64, error) {
	if c == nil || c.DB == nil {
		return 0, errors.New(errDBClientNil)
	}
	var n int64
	if err := c.DB.Model(&Run{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting runs: %w", err)
	}
	return n, nil
}

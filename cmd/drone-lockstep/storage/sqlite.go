package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/picogrid/drone-lockstep/cmd/drone-lockstep/reporting"
)

// ErrRunNotFound is returned when no run matches the requested id
var ErrRunNotFound = errors.New("run not found")

// RunRecord is one finished simulation run
type RunRecord struct {
	ID             uint      `gorm:"primaryKey"`
	RunID          string    `gorm:"size:64;uniqueIndex"`
	Simulation     string    `gorm:"size:127"`
	Outcome        string    `gorm:"size:32;index"`
	Verdict        string    `gorm:"size:8;index"`
	Reason         string    `gorm:"size:512"`
	StartedAt      time.Time `gorm:"index"`
	EndedAt        time.Time
	DurationMS     int64
	NumAgents      int
	DroneSize      float64
	MaxCollisions  int
	TimeSteps      int
	LogCapacity    int
	StepsCompleted int
	TerminatedAt   int
	CollisionCount int
	Dropped        int
	Faults         string `gorm:"size:4000"`

	Agents     []AgentRecord     `gorm:"constraint:OnDelete:CASCADE"`
	Collisions []CollisionRecord `gorm:"constraint:OnDelete:CASCADE"`
}

// AgentRecord is a drone's final status in a run
type AgentRecord struct {
	ID           uint `gorm:"primaryKey"`
	RunRecordID  uint `gorm:"index"`
	AgentID      int
	HasPosition  bool
	X, Y, Z      float64
	LastStep     int
	Active       bool
	Reason       string `gorm:"size:512"`
	Notices      int
	ForceStopped bool
}

// CollisionRecord is one logged collision event
type CollisionRecord struct {
	ID          uint `gorm:"primaryKey"`
	RunRecordID uint `gorm:"index:idx_collision_run_seq"`
	Seq         int  `gorm:"index:idx_collision_run_seq"`
	Timestep    int
	AgentA      int
	AgentB      int
	AX, AY, AZ  float64
	BX, BY, BZ  float64
}

// SQLiteStore persists run reports in a SQLite database
type SQLiteStore struct {
	db   *gorm.DB
	path string
}

// Open creates or opens the database at path and migrates the schema
func Open(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("error creating database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite database %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	if err := db.AutoMigrate(&RunRecord{}, &AgentRecord{}, &CollisionRecord{}); err != nil {
		return nil, fmt.Errorf("error migrating schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file
func (s *SQLiteStore) Path() string {
	return s.path
}

// SaveRun stores the report with its agents and collisions in one transaction
func (s *SQLiteStore) SaveRun(ctx context.Context, r *reporting.Report) error {
	rec := recordFromReport(r)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rec).Error
	})
	if err != nil {
		return fmt.Errorf("error saving run %s: %w", r.RunID, err)
	}
	return nil
}

// ListRuns returns the most recent runs first, without agents or collisions
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	var runs []RunRecord
	q := s.db.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("error listing runs: %w", err)
	}
	return runs, nil
}

// GetRun loads one run with its agents and collisions in log order
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var run RunRecord
	err := s.db.WithContext(ctx).
		Preload("Agents", func(db *gorm.DB) *gorm.DB { return db.Order("agent_id") }).
		Preload("Collisions", func(db *gorm.DB) *gorm.DB { return db.Order("seq") }).
		Where("run_id = ?", runID).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading run %s: %w", runID, err)
	}
	return &run, nil
}

// Close releases the database handle
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func recordFromReport(r *reporting.Report) RunRecord {
	rec := RunRecord{
		RunID:          r.RunID,
		Simulation:     r.Simulation,
		Outcome:        r.Outcome,
		Verdict:        r.Verdict,
		Reason:         r.Reason,
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt,
		DurationMS:     r.DurationMS,
		NumAgents:      r.Config.NumAgents,
		DroneSize:      r.Config.DroneSize,
		MaxCollisions:  r.Config.MaxCollisions,
		TimeSteps:      r.Config.TimeSteps,
		LogCapacity:    r.Config.LogCapacity,
		StepsCompleted: r.StepsCompleted,
		TerminatedAt:   r.TerminatedAt,
		CollisionCount: r.CollisionCount,
		Dropped:        r.Dropped,
		Faults:         strings.Join(r.Faults, "\n"),
	}

	rec.Agents = make([]AgentRecord, 0, len(r.Agents))
	for _, a := range r.Agents {
		ar := AgentRecord{
			AgentID:      a.ID,
			LastStep:     a.LastStep,
			Active:       a.Active,
			Reason:       a.Reason,
			Notices:      a.Notices,
			ForceStopped: a.ForceStopped,
		}
		if a.LastPosition != nil {
			ar.HasPosition = true
			ar.X, ar.Y, ar.Z = a.LastPosition.X, a.LastPosition.Y, a.LastPosition.Z
		}
		rec.Agents = append(rec.Agents, ar)
	}

	rec.Collisions = make([]CollisionRecord, 0, len(r.Collisions))
	for i, c := range r.Collisions {
		rec.Collisions = append(rec.Collisions, CollisionRecord{
			Seq:      i,
			Timestep: c.Timestep,
			AgentA:   c.AgentA,
			AgentB:   c.AgentB,
			AX:       c.PositionA.X,
			AY:       c.PositionA.Y,
			AZ:       c.PositionA.Z,
			BX:       c.PositionB.X,
			BY:       c.PositionB.Y,
			BZ:       c.PositionB.Z,
		})
	}
	return rec
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	// import db drivers
	_ "github.com/lib/pq"

	"github.com/sevigo/stack-warden/internal/core"
)

// RunRecord is one row of the run history.
type RunRecord struct {
	ID             string       `db:"id"`
	StackID        string       `db:"stack_id"`
	Requester      string       `db:"requester"`
	Status         string       `db:"status"`
	StartRev       string       `db:"start_rev"`
	FinalRev       string       `db:"final_rev"`
	PatchesApplied int          `db:"patches_applied"`
	Mirrored       int          `db:"mirrored"`
	MirrorDisabled bool         `db:"mirror_disabled"`
	Warnings       string       `db:"warnings"`
	Error          string       `db:"error"`
	StartedAt      time.Time    `db:"started_at"`
	FinishedAt     sql.NullTime `db:"finished_at"`
}

// Store defines the interface for all database operations.
type Store interface {
	CreateRun(ctx context.Context, event *core.ReconcileEvent, startedAt time.Time) error
	FinishRun(ctx context.Context, report *core.ReconcileReport, runErr error) error
	GetRecentRuns(ctx context.Context, stackID string, limit int) ([]RunRecord, error)
}

type postgresStore struct {
	db *sqlx.DB
}

// NewStore creates a new Store
func NewStore(db *sqlx.DB) Store {
	return &postgresStore{db: db}
}

// CreateRun inserts a new run record in the running state.
func (s *postgresStore) CreateRun(ctx context.Context, event *core.ReconcileEvent, startedAt time.Time) error {
	query := `INSERT INTO runs (id, stack_id, requester, status, started_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.ExecContext(ctx, query, event.RunID, event.StackID, event.Requester, core.RunStatusRunning, startedAt)
	return err
}

// FinishRun records the outcome of a completed run.
func (s *postgresStore) FinishRun(ctx context.Context, report *core.ReconcileReport, runErr error) error {
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	query := `
		UPDATE runs
		SET status = $2, start_rev = $3, final_rev = $4, patches_applied = $5,
		    mirrored = $6, mirror_disabled = $7, warnings = $8, error = $9, finished_at = $10
		WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query,
		report.RunID,
		report.Status,
		report.StartRev,
		report.FinalRev,
		report.Applied,
		report.Mirrored,
		report.MirrorDisabled,
		strings.Join(report.Warnings, "\n"),
		errMsg,
		report.FinishedAt,
	)
	return err
}

// GetRecentRuns returns the most recent runs, optionally filtered by stack id.
func (s *postgresStore) GetRecentRuns(ctx context.Context, stackID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	var (
		rows []RunRecord
		err  error
	)
	if stackID == "" {
		query := `SELECT * FROM runs ORDER BY started_at DESC LIMIT $1`
		err = s.db.SelectContext(ctx, &rows, query, limit)
	} else {
		query := `SELECT * FROM runs WHERE stack_id = $1 ORDER BY started_at DESC LIMIT $2`
		err = s.db.SelectContext(ctx, &rows, query, stackID, limit)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query run history: %w", err)
	}
	return rows, nil
}

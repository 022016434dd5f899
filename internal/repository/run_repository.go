package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/spire-automator/internal/models"
)

const runSchema = `
CREATE TABLE IF NOT EXISTS automator_runs (
	id          TEXT PRIMARY KEY,
	mode        TEXT NOT NULL,
	term        TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	cycles      INTEGER NOT NULL DEFAULT 0,
	error       TEXT
);
CREATE TABLE IF NOT EXISTS action_attempts (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES automator_runs(id),
	cycle        INTEGER NOT NULL,
	action_id    TEXT NOT NULL,
	action_kind  TEXT NOT NULL,
	description  TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	satisfied_by TEXT,
	error        TEXT,
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	attempted_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS action_attempts_run_idx ON action_attempts (run_id, attempted_at);`

// RunRepository persists automator runs and their action attempts.
type RunRepository struct {
	db *sqlx.DB
}

// NewRunRepository constructs the repository.
func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

// EnsureSchema creates the ledger tables when missing.
func (r *RunRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, runSchema); err != nil {
		return fmt.Errorf("ensure run schema: %w", err)
	}
	return nil
}

// CreateRun inserts a new run row.
func (r *RunRepository) CreateRun(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	const query = `INSERT INTO automator_runs (id, mode, term, status, started_at, finished_at, cycles, error)
	VALUES (:id, :mode, :term, :status, :started_at, :finished_at, :cycles, :error)`
	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun records the terminal status of a run.
func (r *RunRepository) FinishRun(ctx context.Context, id string, status models.RunStatus, cycles int, runErr *string) error {
	const query = `UPDATE automator_runs SET status = :status, finished_at = :finished_at, cycles = :cycles, error = :error
	WHERE id = :id AND status = '` + string(models.RunStatusRunning) + `'`
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":          id,
		"status":      status,
		"finished_at": time.Now().UTC(),
		"cycles":      cycles,
		"error":       runErr,
	})
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check run update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetRun fetches a run by identifier.
func (r *RunRepository) GetRun(ctx context.Context, id string) (*models.Run, error) {
	const query = `SELECT id, mode, term, status, started_at, finished_at, cycles, error FROM automator_runs WHERE id = $1`
	var run models.Run
	if err := r.db.GetContext(ctx, &run, query, id); err != nil {
		return nil, err
	}
	return &run, nil
}

// RecordAttempt inserts one ledger row.
func (r *RunRepository) RecordAttempt(ctx context.Context, attempt *models.ActionAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}
	const query = `INSERT INTO action_attempts
	(id, run_id, cycle, action_id, action_kind, description, outcome, satisfied_by, error, duration_ms, attempted_at)
	VALUES (:id, :run_id, :cycle, :action_id, :action_kind, :description, :outcome, :satisfied_by, :error, :duration_ms, :attempted_at)`
	if _, err := r.db.NamedExecContext(ctx, query, attempt); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the attempts of a run, oldest first.
func (r *RunRepository) ListAttempts(ctx context.Context, runID string, limit int) ([]models.ActionAttempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT id, run_id, cycle, action_id, action_kind, description, outcome, satisfied_by, error, duration_ms, attempted_at
	FROM action_attempts WHERE run_id = $1 ORDER BY attempted_at ASC LIMIT %d`, limit)
	var attempts []models.ActionAttempt
	if err := r.db.SelectContext(ctx, &attempts, query, runID); err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

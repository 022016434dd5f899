package models

import "time"

// RunStatus tracks the lifecycle of one automator run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// Run is a persisted automator run.
type Run struct {
	ID         string     `db:"id" json:"id"`
	Mode       string     `db:"mode" json:"mode"`
	Term       string     `db:"term" json:"term"`
	Status     RunStatus  `db:"status" json:"status"`
	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	Cycles     int        `db:"cycles" json:"cycles"`
	Error      *string    `db:"error" json:"error,omitempty"`
}

// AttemptOutcome describes how an action attempt ended.
type AttemptOutcome string

const (
	AttemptSucceeded   AttemptOutcome = "SUCCEEDED"
	AttemptFailed      AttemptOutcome = "FAILED"
	AttemptFaulted     AttemptOutcome = "FAULTED"
	AttemptSatisfiedBy AttemptOutcome = "SATISFIED_BY"
)

// ActionAttempt is one ledger row: a perform call or an out-of-band satisfaction.
type ActionAttempt struct {
	ID          string         `db:"id" json:"id"`
	RunID       string         `db:"run_id" json:"run_id"`
	Cycle       int            `db:"cycle" json:"cycle"`
	ActionID    string         `db:"action_id" json:"action_id"`
	ActionKind  string         `db:"action_kind" json:"action_kind"`
	Description string         `db:"description" json:"description"`
	Outcome     AttemptOutcome `db:"outcome" json:"outcome"`
	SatisfiedBy *string        `db:"satisfied_by" json:"satisfied_by,omitempty"`
	Error       *string        `db:"error" json:"error,omitempty"`
	DurationMs  int64          `db:"duration_ms" json:"duration_ms"`
	AttemptedAt time.Time      `db:"attempted_at" json:"attempted_at"`
}

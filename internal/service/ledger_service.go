package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/spire-automator/internal/engine"
	"github.com/noah-isme/spire-automator/internal/models"
	"github.com/noah-isme/spire-automator/pkg/config"
	appErrors "github.com/noah-isme/spire-automator/pkg/errors"
	"github.com/noah-isme/spire-automator/pkg/jobs"
)

const attemptJobType = "action_attempt"

// RunRepository persists runs and their attempts.
type RunRepository interface {
	CreateRun(ctx context.Context, run *models.Run) error
	FinishRun(ctx context.Context, id string, status models.RunStatus, cycles int, runErr *string) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	RecordAttempt(ctx context.Context, attempt *models.ActionAttempt) error
	ListAttempts(ctx context.Context, runID string, limit int) ([]models.ActionAttempt, error)
}

// LedgerService records every action attempt of a run. Writes go through a
// background queue so a slow database never stalls the scheduler.
type LedgerService struct {
	repo    RunRepository
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time

	mu  sync.RWMutex
	run *models.Run
}

var (
	_ engine.Observer        = (*LedgerService)(nil)
	_ engine.HousingObserver = (*LedgerService)(nil)
)

// NewLedgerService constructs the ledger.
func NewLedgerService(repo RunRepository, cfg config.LedgerConfig, metrics *MetricsService, logger *zap.Logger) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &LedgerService{repo: repo, metrics: metrics, logger: logger, now: time.Now}
	s.queue = jobs.NewQueue("ledger", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.Retries,
		RetryDelay: 500 * time.Millisecond,
		Logger:     logger,
	})
	return s
}

// Begin persists a new run and starts the write queue.
func (s *LedgerService) Begin(ctx context.Context, mode, term string) (*models.Run, error) {
	run := &models.Run{Mode: mode, Term: term, Status: models.RunStatusRunning, StartedAt: s.now().UTC()}
	start := time.Now()
	err := s.repo.CreateRun(ctx, run)
	s.metrics.ObserveDBQuery("create_run", time.Since(start))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create run")
	}
	s.mu.Lock()
	s.run = run
	s.mu.Unlock()
	s.queue.Start(context.Background())
	s.logger.Info("run started", zap.String("run_id", run.ID), zap.String("mode", mode))
	return run, nil
}

// Finish flushes queued writes and records the terminal status derived from runErr.
func (s *LedgerService) Finish(ctx context.Context, cycles int, runErr error) error {
	run := s.Run()
	if run == nil {
		return appErrors.Clone(appErrors.ErrValidation, "ledger run not started")
	}
	if err := s.queue.Drain(ctx); err != nil {
		s.logger.Warn("ledger drain incomplete", zap.Error(err), zap.Int64("pending", s.queue.Pending()))
	}

	status := RunStatusFor(runErr)
	var msg *string
	if runErr != nil {
		text := runErr.Error()
		msg = &text
	}
	start := time.Now()
	err := s.repo.FinishRun(ctx, run.ID, status, cycles, msg)
	s.metrics.ObserveDBQuery("finish_run", time.Since(start))
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	s.mu.Lock()
	finished := s.now().UTC()
	s.run.Status = status
	s.run.Cycles = cycles
	s.run.FinishedAt = &finished
	s.run.Error = msg
	s.mu.Unlock()
	s.logger.Info("run finished", zap.String("run_id", run.ID), zap.String("status", string(status)), zap.Int("cycles", cycles))
	return nil
}

// RunStatusFor maps the result of a run onto its terminal status.
func RunStatusFor(runErr error) models.RunStatus {
	switch {
	case runErr == nil:
		return models.RunStatusCompleted
	case isCancellation(runErr):
		return models.RunStatusCancelled
	default:
		return models.RunStatusFailed
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Run returns a copy of the current run record.
func (s *LedgerService) Run() *models.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.run == nil {
		return nil
	}
	run := *s.run
	return &run
}

// Attempts lists the recorded attempts of the current run.
func (s *LedgerService) Attempts(ctx context.Context, limit int) ([]models.ActionAttempt, error) {
	run := s.Run()
	if run == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no run in progress")
	}
	start := time.Now()
	attempts, err := s.repo.ListAttempts(ctx, run.ID, limit)
	s.metrics.ObserveDBQuery("list_attempts", time.Since(start))
	return attempts, err
}

func (s *LedgerService) CycleStarted(int) {}

func (s *LedgerService) Refreshed(models.Snapshot) {}

func (s *LedgerService) CycleFinished(int, []engine.Action) {}

func (s *LedgerService) SearchCompleted(int, models.RoomSearch, int, error, time.Duration) {}

// ActionAttempted queues a ledger row for a perform call.
func (s *LedgerService) ActionAttempted(cycle int, action engine.Action, ok bool, err error, elapsed time.Duration) {
	attempt := models.ActionAttempt{
		Cycle:       cycle,
		ActionID:    action.ID(),
		ActionKind:  string(action.Kind()),
		Description: action.String(),
		Outcome:     attemptOutcome(ok, err),
		DurationMs:  elapsed.Milliseconds(),
	}
	if err != nil {
		text := err.Error()
		attempt.Error = &text
	}
	s.enqueue(attempt)
}

// ActionSatisfied queues a ledger row for an out-of-band satisfaction.
func (s *LedgerService) ActionSatisfied(cycle int, action engine.Action, by engine.Action) {
	byID := by.ID()
	s.enqueue(models.ActionAttempt{
		Cycle:       cycle,
		ActionID:    action.ID(),
		ActionKind:  string(action.Kind()),
		Description: action.String(),
		Outcome:     models.AttemptSatisfiedBy,
		SatisfiedBy: &byID,
	})
}

// RoomAssigned queues a ledger row for an assignment request.
func (s *LedgerService) RoomAssigned(cycle int, room models.Room, ok bool, err error) {
	attempt := models.ActionAttempt{
		Cycle:       cycle,
		ActionID:    room.Key(),
		ActionKind:  "ASSIGN",
		Description: "Assign " + room.String(),
		Outcome:     attemptOutcome(ok, err),
	}
	if err != nil {
		text := err.Error()
		attempt.Error = &text
	}
	s.enqueue(attempt)
}

func (s *LedgerService) enqueue(attempt models.ActionAttempt) {
	run := s.Run()
	if run == nil {
		return
	}
	attempt.RunID = run.ID
	attempt.AttemptedAt = s.now().UTC()
	job := jobs.Job{ID: fmt.Sprintf("%s-%d-%s", run.ID, attempt.Cycle, attempt.ActionID), Type: attemptJobType, Payload: attempt}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to queue ledger write", zap.String("action", attempt.ActionID), zap.Error(err))
	}
}

func (s *LedgerService) handle(ctx context.Context, job jobs.Job) error {
	attempt, ok := job.Payload.(models.ActionAttempt)
	if !ok {
		s.logger.Error("unexpected ledger payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	start := time.Now()
	err := s.repo.RecordAttempt(ctx, &attempt)
	s.metrics.ObserveDBQuery("record_attempt", time.Since(start))
	return err
}

package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/spire-automator/internal/engine"
	"github.com/noah-isme/spire-automator/internal/models"
	"github.com/noah-isme/spire-automator/pkg/config"
	appErrors "github.com/noah-isme/spire-automator/pkg/errors"
)

const (
	finalizeTimeout    = 30 * time.Second
	exportAttemptLimit = 500
)

// AutomatorDeps wires the collaborators of a run. Ledger, Exports, Metrics and
// Notifier are optional.
type AutomatorDeps struct {
	Portal   engine.Portal
	Plans    *PlanService
	Ledger   *LedgerService
	Status   *StatusService
	Metrics  *MetricsService
	Exports  *ExportService
	Notifier *NotificationService

	SchedulerOptions []engine.SchedulerOption
	HouserOptions    []engine.HouserOption
}

// RunReport summarises a finished run.
type RunReport struct {
	Run     *models.Run    `json:"run"`
	Cycles  int            `json:"cycles"`
	Pending int            `json:"pending"`
	Room    *models.Room   `json:"room,omitempty"`
	Exports []ExportResult `json:"exports,omitempty"`
}

// AutomatorService runs one enroller or houser session end to end.
type AutomatorService struct {
	cfg    config.Config
	deps   AutomatorDeps
	logger *zap.Logger
}

// NewAutomatorService constructs the run orchestrator.
func NewAutomatorService(cfg config.Config, deps AutomatorDeps, logger *zap.Logger) *AutomatorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Plans == nil {
		deps.Plans = NewPlanService(nil, logger)
	}
	if deps.Status == nil {
		deps.Status = NewStatusService(cfg.Mode, nil, 0, logger)
	}
	return &AutomatorService{cfg: cfg, deps: deps, logger: logger}
}

// Run executes the configured automator until it completes, ctx is cancelled, or an
// irrecoverable portal fault occurs. The report is returned even when the run fails.
func (s *AutomatorService) Run(ctx context.Context) (*RunReport, error) {
	if s.deps.Portal == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "portal is required")
	}
	switch s.cfg.Mode {
	case config.ModeEnroller:
		return s.runEnroller(ctx)
	case config.ModeHouser:
		return s.runHouser(ctx)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown automator "+s.cfg.Mode)
	}
}

func (s *AutomatorService) runEnroller(ctx context.Context) (*RunReport, error) {
	plan, err := s.deps.Plans.Load(ctx, s.deps.Portal, s.cfg.Enroll.PlanFile)
	if err != nil {
		return nil, err
	}
	run, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}

	opts := []engine.SchedulerOption{
		engine.WithLoadInterval(s.cfg.Enroll.LoadInterval),
		engine.WithLogger(s.logger.Named("scheduler")),
	}
	for _, o := range s.observers() {
		opts = append(opts, engine.WithObserver(o))
	}
	scheduler := engine.NewScheduler(s.deps.Portal, plan, append(opts, s.deps.SchedulerOptions...)...)
	runErr := scheduler.Run(ctx)

	fctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	report := &RunReport{Cycles: scheduler.Cycles(), Pending: len(scheduler.Pending())}
	report.Run = s.finish(fctx, run, report.Cycles, report.Pending, runErr)

	if s.deps.Exports != nil {
		report.Exports = s.collect(report.Exports, func() ([]ExportResult, error) {
			return s.deps.Exports.ExportSchedule(fctx, report.Run, scheduler.Snapshot())
		})
		if s.deps.Ledger != nil {
			report.Exports = s.collect(report.Exports, func() ([]ExportResult, error) {
				attempts, err := s.deps.Ledger.Attempts(fctx, exportAttemptLimit)
				if err != nil {
					return nil, err
				}
				return s.deps.Exports.ExportAttempts(fctx, report.Run, attempts)
			})
		}
	}
	return report, runErr
}

func (s *AutomatorService) runHouser(ctx context.Context) (*RunReport, error) {
	searches, err := s.deps.Plans.LoadSearches(s.cfg.Housing.SearchesFile)
	if err != nil {
		return nil, err
	}
	run, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}

	opts := []engine.HouserOption{
		engine.WithSearchForever(s.cfg.Housing.SearchForever),
		engine.WithHousingLoadInterval(s.cfg.Housing.LoadInterval),
		engine.WithHousingLogger(s.logger.Named("houser")),
	}
	for _, o := range s.housingObservers() {
		opts = append(opts, engine.WithHousingObserver(o))
	}
	houser := engine.NewHouser(s.deps.Portal, searches, append(opts, s.deps.HouserOptions...)...)
	runErr := houser.Run(ctx)
	if s.cfg.Housing.SearchForever && errors.Is(runErr, context.Canceled) {
		if _, ok := houser.Current(); ok {
			runErr = nil
		}
	}

	fctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	report := &RunReport{Cycles: houser.Cycles()}
	report.Run = s.finish(fctx, run, report.Cycles, 0, runErr)
	if room, ok := houser.Current(); ok {
		report.Room = &room
		if s.deps.Exports != nil {
			report.Exports = s.collect(report.Exports, func() ([]ExportResult, error) {
				return s.deps.Exports.ExportAssignment(fctx, report.Run, room)
			})
		}
	}
	return report, runErr
}

func (s *AutomatorService) begin(ctx context.Context) (*models.Run, error) {
	var run *models.Run
	if s.deps.Ledger != nil {
		stored, err := s.deps.Ledger.Begin(ctx, s.cfg.Mode, s.cfg.Portal.Term)
		if err != nil {
			return nil, err
		}
		run = stored
	} else {
		run = &models.Run{
			ID:        uuid.NewString(),
			Mode:      s.cfg.Mode,
			Term:      s.cfg.Portal.Term,
			Status:    models.RunStatusRunning,
			StartedAt: time.Now().UTC(),
		}
	}
	s.deps.Status.SetRun(run)
	s.deps.Notifier.Start(run)
	return run, nil
}

func (s *AutomatorService) finish(ctx context.Context, run *models.Run, cycles, pending int, runErr error) *models.Run {
	final := *run
	if s.deps.Ledger != nil {
		if err := s.deps.Ledger.Finish(ctx, cycles, runErr); err != nil {
			s.logger.Error("failed to record run result", zap.String("run_id", run.ID), zap.Error(err))
		}
		if recorded := s.deps.Ledger.Run(); recorded != nil {
			final = *recorded
		}
	}
	if final.Status == models.RunStatusRunning {
		finished := time.Now().UTC()
		final.Status = RunStatusFor(runErr)
		final.Cycles = cycles
		final.FinishedAt = &finished
		if runErr != nil {
			msg := runErr.Error()
			final.Error = &msg
		}
	}
	s.deps.Status.SetRun(&final)
	s.deps.Status.Fail(runErr)
	s.deps.Notifier.RunFinished(ctx, &final, pending, runErr)

	fields := []zap.Field{zap.String("run_id", final.ID), zap.String("status", string(final.Status)), zap.Int("cycles", cycles)}
	if runErr != nil {
		s.logger.Warn("run ended", append(fields, zap.Error(runErr))...)
	} else {
		s.logger.Info("run ended", fields...)
	}
	return &final
}

func (s *AutomatorService) collect(results []ExportResult, fn func() ([]ExportResult, error)) []ExportResult {
	out, err := fn()
	if err != nil {
		s.logger.Warn("export failed", zap.Error(err))
	}
	return append(results, out...)
}

func (s *AutomatorService) observers() []engine.Observer {
	list := []engine.Observer{s.deps.Status}
	if s.deps.Metrics != nil {
		list = append(list, s.deps.Metrics)
	}
	if s.deps.Ledger != nil {
		list = append(list, s.deps.Ledger)
	}
	if s.deps.Notifier.Enabled() {
		list = append(list, s.deps.Notifier)
	}
	return list
}

func (s *AutomatorService) housingObservers() []engine.HousingObserver {
	list := []engine.HousingObserver{s.deps.Status}
	if s.deps.Metrics != nil {
		list = append(list, s.deps.Metrics)
	}
	if s.deps.Ledger != nil {
		list = append(list, s.deps.Ledger)
	}
	if s.deps.Notifier.Enabled() {
		list = append(list, s.deps.Notifier)
	}
	return list
}

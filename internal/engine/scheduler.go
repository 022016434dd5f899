package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/spire-automator/internal/models"
	appErrors "github.com/noah-isme/spire-automator/pkg/errors"
)

// DefaultLoadInterval is the minimum time between cycle starts.
const DefaultLoadInterval = 5 * time.Second

// Scheduler drives a Plan to completion against an EnrollmentPortal.
//
// Each cycle refreshes the snapshot, attempts every eligible pending action in
// plan order, refreshing again after each success, prunes satisfied actions and
// then paces. Run returns once the plan is empty. The scheduler is not safe for
// concurrent use; Snapshot and Pending return copies.
type Scheduler struct {
	portal   EnrollmentPortal
	plan     *Plan
	pacer    *pacer
	now      Clock
	logger   *zap.Logger
	observer Observer

	snapshot   models.Snapshot
	generation uint64
	cycles     int
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLoadInterval sets the minimum interval between cycle starts.
func WithLoadInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.pacer.interval = d
	}
}

// WithSleeper replaces the pacing wait; tests pass a no-op.
func WithSleeper(sleep Sleeper) SchedulerOption {
	return func(s *Scheduler) {
		if sleep != nil {
			s.pacer.sleep = sleep
		}
	}
}

// WithClock replaces the time source.
func WithClock(now Clock) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
			s.pacer.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver adds an observer. Multiple observers are called in registration order.
func WithObserver(observer Observer) SchedulerOption {
	return func(s *Scheduler) {
		if observer == nil {
			return
		}
		if existing, ok := s.observer.(Observers); ok {
			s.observer = append(existing, observer)
			return
		}
		s.observer = Observers{observer}
	}
}

// NewScheduler constructs a scheduler over plan.
func NewScheduler(portal EnrollmentPortal, plan *Plan, opts ...SchedulerOption) *Scheduler {
	if plan == nil {
		plan = NewPlan()
	}
	s := &Scheduler{
		portal:   portal,
		plan:     plan,
		pacer:    newPacer(DefaultLoadInterval, nil, nil),
		now:      time.Now,
		logger:   zap.NewNop(),
		observer: NopObserver{},
		snapshot: models.NewSnapshot(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Run blocks until every action is satisfied, ctx is done, or an irrecoverable fault occurs.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("beginning automated refresh", zap.Int("actions", s.plan.Len()))
	for s.plan.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Cycle(ctx); err != nil {
			return err
		}
		if s.plan.Len() == 0 {
			break
		}
		slept, err := s.pacer.wait(ctx)
		if err != nil {
			return err
		}
		if slept > 0 {
			s.logger.Debug("pacing before next refresh", zap.Duration("sleep", slept))
		}
	}
	s.logger.Info("all actions performed", zap.Int("cycles", s.cycles))
	s.report()
	return nil
}

// Cycle runs one refresh, act and prune pass. Transient faults are logged and absorbed;
// irrecoverable faults and context cancellation are returned.
func (s *Scheduler) Cycle(ctx context.Context) error {
	s.cycles++
	cycle := s.cycles
	s.pacer.mark()
	s.observer.CycleStarted(cycle)

	if err := s.Refresh(ctx); err != nil {
		if fatal := s.absorb(ctx, err, "refresh failed, skipping cycle", zap.Int("cycle", cycle)); fatal != nil {
			return fatal
		}
	} else {
		s.report()
		if err := s.act(ctx, cycle); err != nil {
			return err
		}
	}

	for _, a := range s.plan.Prune() {
		s.logger.Info("removing satisfied action", zap.String("action", a.String()))
	}
	s.observer.CycleFinished(cycle, s.plan.Pending())
	return nil
}

func (s *Scheduler) act(ctx context.Context, cycle int) error {
	for _, action := range s.plan.Pending() {
		if action.Satisfied() || !action.AllConditionsMet(s.snapshot) {
			continue
		}
		s.logger.Info("all conditions met, performing action", zap.String("action", action.String()))

		start := s.now()
		ok, err := action.Perform(ctx, s.portal)
		s.observer.ActionAttempted(cycle, action, ok && err == nil, err, s.now().Sub(start))
		if err != nil {
			return s.absorb(ctx, err, "action faulted, retrying next cycle", zap.String("action", action.String()))
		}
		if !ok {
			s.logger.Info("failed to perform action", zap.String("action", action.String()))
			if action.Kind() != KindSwap {
				continue
			}
			// The drop half may have applied; only observed state counts.
			if err := s.Refresh(ctx); err != nil {
				return s.absorb(ctx, err, "resync after failed swap failed", zap.String("action", action.String()))
			}
			s.report()
			continue
		}

		s.logger.Info("successfully performed action", zap.String("action", action.String()))
		action.SetSatisfied(true)
		for _, other := range s.plan.SatisfyOthers(action) {
			s.logger.Info("action satisfied by another action",
				zap.String("action", other.String()), zap.String("by", action.ID()))
			s.observer.ActionSatisfied(cycle, other, action)
		}
		if err := s.Refresh(ctx); err != nil {
			return s.absorb(ctx, err, "refresh after success failed", zap.String("action", action.String()))
		}
		s.report()
	}
	return nil
}

// absorb logs a fault and decides whether it ends the run.
func (s *Scheduler) absorb(ctx context.Context, err error, msg string, fields ...zap.Field) error {
	if appErrors.IsIrrecoverable(err) {
		s.logger.Error("irrecoverable portal fault", append(fields, zap.Error(err))...)
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}
	s.logger.Warn(msg, append(fields, zap.Error(err))...)
	return nil
}

// Refresh re-reads schedule, cart and watched seats from the portal and replaces the snapshot.
// Seat observations that fail transiently are recorded as Unknown.
func (s *Scheduler) Refresh(ctx context.Context) error {
	schedule, err := s.portal.CurrentSchedule(ctx)
	if err != nil {
		return err
	}
	cart, err := s.portal.ShoppingCart(ctx)
	if err != nil {
		return err
	}

	sections := s.plan.WatchedSections()
	seats := make(map[string]models.SeatStatus, len(sections))
	for _, id := range sections {
		status, err := s.portal.SectionStatus(ctx, id)
		if err != nil {
			if appErrors.IsIrrecoverable(err) || ctx.Err() != nil {
				return err
			}
			s.logger.Debug("seat observation failed", zap.String("section", id), zap.Error(err))
			status = models.SeatUnknown
		}
		seats[id] = status
	}

	s.generation++
	snap := models.Snapshot{
		Generation: s.generation,
		TakenAt:    s.now(),
		Schedule:   copyLectures(schedule),
		Cart:       copyLectures(cart),
		Seats:      seats,
	}
	s.snapshot = snap
	s.observer.Refreshed(snap)
	return nil
}

// Snapshot returns the latest observation.
func (s *Scheduler) Snapshot() models.Snapshot {
	return s.snapshot
}

// Pending returns the actions still pending, in order.
func (s *Scheduler) Pending() []Action {
	return s.plan.Pending()
}

// Cycles returns the number of cycles started so far.
func (s *Scheduler) Cycles() int {
	return s.cycles
}

func (s *Scheduler) report() {
	if ce := s.logger.Check(zap.InfoLevel, "progress"); ce == nil {
		return
	}
	schedule := make([]string, 0, len(s.snapshot.Schedule))
	for _, l := range s.snapshot.ScheduleList() {
		schedule = append(schedule, l.String())
	}
	cart := make([]string, 0, len(s.snapshot.Cart))
	for _, l := range s.snapshot.CartList() {
		cart = append(cart, l.String())
	}
	pending := make([]string, 0, s.plan.Len())
	for _, a := range s.plan.Pending() {
		pending = append(pending, a.String())
	}
	s.logger.Info("progress",
		zap.Uint64("generation", s.snapshot.Generation),
		zap.Strings("schedule", schedule),
		zap.Strings("cart", cart),
		zap.Strings("actions", pending),
	)
}

func copyLectures(in map[string]models.Lecture) map[string]models.Lecture {
	out := make(map[string]models.Lecture, len(in))
	for id, l := range in {
		out[id] = l.Clone()
	}
	return out
}

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/spire-automator/internal/models"
	appErrors "github.com/noah-isme/spire-automator/pkg/errors"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestScheduler(portal EnrollmentPortal, plan *Plan, opts ...SchedulerOption) *Scheduler {
	return NewScheduler(portal, plan, append([]SchedulerOption{WithSleeper(noSleep)}, opts...)...)
}

func TestSchedulerAttemptsActionsInPlanOrder(t *testing.T) {
	var log []string
	plan := NewPlan()
	require.NoError(t, plan.Add(
		newRecordingAction("a", &log),
		newRecordingAction("b", &log),
		newRecordingAction("c", &log),
	))

	sched := newTestScheduler(newFakePortal(), plan)
	require.NoError(t, sched.Run(context.Background()))

	assert.Equal(t, []string{"a", "b", "c"}, log)
	assert.Equal(t, 1, sched.Cycles())
	assert.Empty(t, sched.Pending())
}

func TestSchedulerNeverAttemptsSatisfiedActions(t *testing.T) {
	var log []string
	plan := NewPlan()
	done := newRecordingAction("done", &log)
	done.SetSatisfied(true)
	require.NoError(t, plan.Add(done, newRecordingAction("next", &log)))

	sched := newTestScheduler(newFakePortal(), plan)
	require.NoError(t, sched.Run(context.Background()))

	assert.Equal(t, []string{"next"}, log)
}

func TestSchedulerPropagatesSatisfaction(t *testing.T) {
	var log []string
	plan := NewPlan()
	require.NoError(t, plan.Add(newRecordingAction("x", &log), newRecordingAction("y", &log)))
	require.NoError(t, plan.Link("x", "y"))

	observer := &countingObserver{}
	sched := newTestScheduler(newFakePortal(), plan, WithObserver(observer))
	require.NoError(t, sched.Run(context.Background()))

	assert.Equal(t, []string{"x"}, log)
	assert.Equal(t, map[string]string{"y": "x"}, observer.satisfied)
	assert.Equal(t, []string{"x"}, observer.attempts)
	assert.Equal(t, []int{0}, observer.finished)
}

func TestSchedulerEditWaitsForOpenSeat(t *testing.T) {
	portal := newFakePortal()
	lecture := lectureWithDiscussions("L", "CS 121", "D_aa", "D_ab")
	current, _ := lecture.Discussion("D_ab")
	target, _ := lecture.Discussion("D_aa")
	enrolled := lecture.Clone()
	enrolled.Enrolled = &current
	portal.schedule["L"] = enrolled
	portal.seats["D_aa"] = []models.SeatStatus{models.SeatClosed, models.SeatClosed, models.SeatOpen}

	plan := NewPlan()
	require.NoError(t, plan.Add(NewEdit("edit", lecture, target, SectionOpen("D_aa"))))

	clock := newFakeClock()
	sched := NewScheduler(portal, plan, WithSleeper(clock.Sleep), WithClock(clock.Now), WithLoadInterval(5*time.Second))
	require.NoError(t, sched.Run(context.Background()))

	assert.Equal(t, 3, sched.Cycles())
	assert.Equal(t, []string{"edit:L>D_aa"}, portal.calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, clock.slept)

	got, ok := sched.Snapshot().ScheduledLecture("L")
	require.True(t, ok)
	assert.True(t, got.IsEnrolledIn("D_aa"))
}

func TestSchedulerCompetingEditsPerformOnce(t *testing.T) {
	portal := newFakePortal()
	lecture := lectureWithDiscussions("L", "CS 121", "D0", "D1", "D2")
	d0, _ := lecture.Discussion("D0")
	d1, _ := lecture.Discussion("D1")
	d2, _ := lecture.Discussion("D2")
	enrolled := lecture.Clone()
	enrolled.Enrolled = &d0
	portal.schedule["L"] = enrolled
	portal.seats["D1"] = []models.SeatStatus{models.SeatOpen}
	portal.seats["D2"] = []models.SeatStatus{models.SeatOpen}

	plan := NewPlan()
	require.NoError(t, plan.Add(
		NewEdit("edit1", lecture, d1, SectionOpen("D1")),
		NewEdit("edit2", lecture, d2, SectionOpen("D2")),
	))
	require.NoError(t, plan.Compete("edit1", "edit2"))

	sched := newTestScheduler(portal, plan)
	require.NoError(t, sched.Run(context.Background()))

	assert.Equal(t, []string{"edit:L>D1"}, portal.calls)
	assert.Equal(t, 1, sched.Cycles())
}

func TestSchedulerResyncsAfterFailedSwap(t *testing.T) {
	t.Run("atomic failure leaves schedule unchanged", func(t *testing.T) {
		portal := newFakePortal()
		dropped := models.NewLecture("L1", "CS 101", "")
		added := models.NewLecture("L2", "CS 102", "")
		portal.schedule["L1"] = dropped
		portal.results["swap:L1>L2"] = false

		plan := NewPlan()
		require.NoError(t, plan.Add(NewSwap("swap", dropped, added, nil)))
		sched := newTestScheduler(portal, plan)

		require.NoError(t, sched.Cycle(context.Background()))
		assert.Equal(t, 2, portal.refreshes, "failed swap triggers a resync")

		snap := sched.Snapshot()
		_, hasOld := snap.ScheduledLecture("L1")
		_, hasNew := snap.ScheduledLecture("L2")
		assert.True(t, hasOld)
		assert.False(t, hasNew)
		assert.Len(t, sched.Pending(), 1)
	})

	t.Run("partial failure is observed", func(t *testing.T) {
		portal := newFakePortal()
		portal.partialSwap = true
		dropped := models.NewLecture("L1", "CS 101", "")
		added := models.NewLecture("L2", "CS 102", "")
		portal.schedule["L1"] = dropped
		portal.results["swap:L1>L2"] = false

		plan := NewPlan()
		require.NoError(t, plan.Add(NewSwap("swap", dropped, added, nil, LectureEnrolled("L1"))))
		sched := newTestScheduler(portal, plan)

		require.NoError(t, sched.Cycle(context.Background()))
		_, hasOld := sched.Snapshot().ScheduledLecture("L1")
		assert.False(t, hasOld)

		require.NoError(t, sched.Cycle(context.Background()))
		assert.Equal(t, []string{"swap:L1>L2"}, portal.calls, "swap condition no longer holds")
	})
}

func TestSchedulerAbsorbsTransientRefreshFault(t *testing.T) {
	portal := newFakePortal()
	portal.refreshErrs = []error{appErrors.Transient(errors.New("timeout"), "portal timed out")}

	var log []string
	plan := NewPlan()
	require.NoError(t, plan.Add(newRecordingAction("a", &log)))

	sched := newTestScheduler(portal, plan)
	require.NoError(t, sched.Run(context.Background()))

	assert.Equal(t, 2, sched.Cycles())
	assert.Equal(t, []string{"a"}, log)
}

func TestSchedulerTreatsUnclassifiedFaultsAsTransient(t *testing.T) {
	portal := newFakePortal()
	portal.refreshErrs = []error{errors.New("connection reset")}

	var log []string
	plan := NewPlan()
	require.NoError(t, plan.Add(newRecordingAction("a", &log)))

	sched := newTestScheduler(portal, plan)
	require.NoError(t, sched.Run(context.Background()))
	assert.Equal(t, 2, sched.Cycles())
}

func TestSchedulerPropagatesIrrecoverableFaults(t *testing.T) {
	cases := map[string]error{
		"auth lost":    appErrors.Clone(appErrors.ErrAuthLost, "session expired"),
		"unrecognized": appErrors.Clone(appErrors.ErrPortalUnrecognized, "schedule table missing"),
	}
	for name, fault := range cases {
		t.Run(name, func(t *testing.T) {
			portal := newFakePortal()
			portal.refreshErrs = []error{fault}

			var log []string
			plan := NewPlan()
			require.NoError(t, plan.Add(newRecordingAction("a", &log)))

			sched := newTestScheduler(portal, plan)
			err := sched.Run(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, fault))
			assert.True(t, appErrors.IsIrrecoverable(err))
			assert.Empty(t, log)
		})
	}
}

func TestSchedulerTransientPerformFaultEndsActPhase(t *testing.T) {
	var log []string
	plan := NewPlan()
	first := newRecordingAction("a", &log)
	first.err = appErrors.Transient(errors.New("502"), "bad gateway")
	require.NoError(t, plan.Add(first, newRecordingAction("b", &log)))

	sched := newTestScheduler(newFakePortal(), plan)
	require.NoError(t, sched.Cycle(context.Background()))
	assert.Equal(t, []string{"a"}, log)
	assert.Len(t, sched.Pending(), 2)

	first.err = nil
	require.NoError(t, sched.Cycle(context.Background()))
	assert.Equal(t, []string{"a", "a", "b"}, log)
	assert.Empty(t, sched.Pending())
}

func TestSchedulerRecordsFailedSeatObservationAsUnknown(t *testing.T) {
	portal := newFakePortal()
	portal.seatErrs["S1"] = errors.New("seat page timed out")

	var log []string
	plan := NewPlan()
	require.NoError(t, plan.Add(newRecordingAction("a", &log, SectionOpen("S1"))))

	sched := newTestScheduler(portal, plan)
	require.NoError(t, sched.Cycle(context.Background()))

	assert.Empty(t, log)
	assert.Equal(t, models.SeatUnknown, sched.Snapshot().SeatStatus("S1"))
	assert.Equal(t, uint64(1), sched.Snapshot().Generation)

	portal.seatErrs["S1"] = appErrors.Clone(appErrors.ErrAuthLost, "login page")
	err := sched.Cycle(context.Background())
	assert.True(t, errors.Is(err, appErrors.ErrAuthLost))
}

func TestSchedulerTerminatesWhenAllActionsSucceed(t *testing.T) {
	const n = 5
	var log []string
	plan := NewPlan()
	for i := 0; i < n; i++ {
		require.NoError(t, plan.Add(newRecordingAction(string(rune('a'+i)), &log)))
	}

	sched := newTestScheduler(newFakePortal(), plan)
	require.NoError(t, sched.Run(context.Background()))
	assert.LessOrEqual(t, sched.Cycles(), n)
	assert.Len(t, log, n)
}

func TestSchedulerStopsOnCancelledContext(t *testing.T) {
	var log []string
	plan := NewPlan()
	require.NoError(t, plan.Add(newRecordingAction("a", &log)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sched := newTestScheduler(newFakePortal(), plan)
	err := sched.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, log)
	assert.Zero(t, sched.Cycles())
}

func TestSchedulerRetriesFailedActionNextCycle(t *testing.T) {
	var log []string
	plan := NewPlan()
	flaky := newRecordingAction("a", &log)
	flaky.result = false
	require.NoError(t, plan.Add(flaky))

	sched := newTestScheduler(newFakePortal(), plan)
	require.NoError(t, sched.Cycle(context.Background()))
	flaky.result = true
	require.NoError(t, sched.Run(context.Background()))

	assert.Equal(t, []string{"a", "a"}, log)
	assert.Equal(t, 2, sched.Cycles())
}

func TestPacerSleepsRemainderOfInterval(t *testing.T) {
	clock := newFakeClock()
	p := newPacer(5*time.Second, clock.Sleep, clock.Now)

	p.mark()
	clock.now = clock.now.Add(2 * time.Second)
	slept, err := p.wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, slept)

	p.mark()
	clock.now = clock.now.Add(7 * time.Second)
	slept, err = p.wait(context.Background())
	require.NoError(t, err)
	assert.Zero(t, slept)
	assert.Equal(t, []time.Duration{3 * time.Second}, clock.slept)
}

func TestSleepContextHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := SleepContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/spire-automator/internal/engine"
	"github.com/noah-isme/spire-automator/internal/models"
	"github.com/noah-isme/spire-automator/internal/portal/memory"
	"github.com/noah-isme/spire-automator/pkg/config"
	appErrors "github.com/noah-isme/spire-automator/pkg/errors"
	"github.com/noah-isme/spire-automator/pkg/storage"
)

func noSleep(context.Context, time.Duration) error { return nil }

func automatorConfig(mode string) config.Config {
	return config.Config{
		Mode:    mode,
		Portal:  config.PortalConfig{Term: "Fall 2026"},
		Enroll:  config.EnrollConfig{LoadInterval: time.Second},
		Housing: config.HousingConfig{LoadInterval: time.Second},
	}
}

func TestAutomatorServiceEnrollerCompletes(t *testing.T) {
	portal, err := memory.New(memory.Fixture{
		Lectures: []memory.FixtureLecture{
			{ID: "L1", Name: "COMPSCI 121", Discussions: []models.Discussion{{ID: "D1"}, {ID: "D2"}}},
			{ID: "L4", Name: "HIST 101"},
		},
		Cart:  []string{"L1", "L4"},
		Seats: map[string]models.SeatStatus{"D1": models.SeatClosed},
	})
	require.NoError(t, err)

	opened := false
	sleeper := func(context.Context, time.Duration) error {
		if !opened {
			portal.SetSeat("D2", models.SeatOpen)
			opened = true
		}
		return nil
	}

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := newRunRepoStub()
	metrics := NewMetricsService()
	status := NewStatusService(config.ModeEnroller, nil, 0, nil)
	svc := NewAutomatorService(automatorConfig(config.ModeEnroller), AutomatorDeps{
		Portal:           portal,
		Ledger:           NewLedgerService(repo, config.LedgerConfig{}, metrics, nil),
		Status:           status,
		Metrics:          metrics,
		Exports:          NewExportService(store, nil, []string{"csv"}, nil),
		SchedulerOptions: []engine.SchedulerOption{engine.WithSleeper(sleeper)},
	}, zap.NewNop())

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Run)
	assert.Equal(t, models.RunStatusCompleted, report.Run.Status)
	assert.Equal(t, 2, report.Cycles)
	assert.Zero(t, report.Pending)
	require.Len(t, report.Exports, 2)
	assert.Equal(t, "run-1/schedule.csv", report.Exports[0].RelativePath)
	assert.Equal(t, 2, report.Exports[0].Rows)
	assert.Equal(t, "run-1/attempts.csv", report.Exports[1].RelativePath)

	schedule := portal.Schedule()
	require.Len(t, schedule, 2)
	assert.True(t, schedule[0].IsEnrolledIn("D2"))

	current, err := status.Current(context.Background())
	require.NoError(t, err)
	require.NotNil(t, current.Run)
	assert.Equal(t, models.RunStatusCompleted, current.Run.Status)
	assert.Empty(t, current.Pending)

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(2), snap.Cycles)
	assert.Equal(t, uint64(2), snap.Successes)
}

func TestAutomatorServiceCancelledRunStillReports(t *testing.T) {
	portal, err := memory.New(memory.Fixture{
		Lectures: []memory.FixtureLecture{{ID: "L1", Name: "COMPSCI 121", Discussions: []models.Discussion{{ID: "D1"}}}},
		Cart:     []string{"L1"},
		Seats:    map[string]models.SeatStatus{"D1": models.SeatClosed},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeper := func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc := NewAutomatorService(automatorConfig(config.ModeEnroller), AutomatorDeps{
		Portal:           portal,
		Exports:          NewExportService(store, nil, nil, nil),
		SchedulerOptions: []engine.SchedulerOption{engine.WithSleeper(sleeper)},
	}, nil)

	report, err := svc.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, models.RunStatusCancelled, report.Run.Status)
	assert.NotEmpty(t, report.Run.ID)
	assert.Equal(t, 1, report.Pending)
	require.Len(t, report.Exports, 1)
}

func TestAutomatorServiceHouser(t *testing.T) {
	portal, err := memory.New(memory.Fixture{
		Rooms: []models.Room{
			{Area: "Central", Building: "Baker", Number: "101", Type: "Double", OpenSpaces: 1},
			{Area: "Southwest", Building: "Kennedy", Number: "210", Type: "Single", OpenSpaces: 1},
		},
	})
	require.NoError(t, err)

	cfg := automatorConfig(config.ModeHouser)
	cfg.Housing.SearchesFile = writeFile(t, "searches.yaml", "searches:\n  - name: singles\n    location: all\n    types: [Single]\n")
	sink := &recordingMailer{}
	svc := NewAutomatorService(cfg, AutomatorDeps{
		Portal:        portal,
		Notifier:      NewNotificationService(sink, config.NotifyConfig{To: []string{"student@example.edu"}}, nil),
		HouserOptions: []engine.HouserOption{engine.WithHousingSleeper(noSleep)},
	}, nil)

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Room)
	assert.Equal(t, "Kennedy", report.Room.Building)
	assert.Equal(t, models.RunStatusCompleted, report.Run.Status)

	assigned, ok := portal.Assigned()
	require.True(t, ok)
	assert.Equal(t, "210", assigned.Number)

	subjects := sink.subjects()
	require.Len(t, subjects, 2)
	assert.Contains(t, subjects[0], "Room assigned")
	assert.Equal(t, "[SPIRE] Run COMPLETED: houser", subjects[1])
}

func TestAutomatorServiceIrrecoverableFault(t *testing.T) {
	portal, err := memory.New(memory.Fixture{
		Lectures: []memory.FixtureLecture{{ID: "L4", Name: "HIST 101"}},
		Cart:     []string{"L4"},
	})
	require.NoError(t, err)

	repo := newRunRepoStub()
	svc := NewAutomatorService(automatorConfig(config.ModeEnroller), AutomatorDeps{
		Portal: portal,
		Ledger: NewLedgerService(repo, config.LedgerConfig{}, nil, nil),
		SchedulerOptions: []engine.SchedulerOption{
			engine.WithSleeper(noSleep),
			engine.WithObserver(faultInjector{portal: portal, err: appErrors.ErrAuthLost}),
		},
	}, nil)

	report, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrAuthLost))
	assert.Equal(t, models.RunStatusFailed, report.Run.Status)
	assert.Equal(t, []models.RunStatus{models.RunStatusFailed}, repo.finished)
}

func TestAutomatorServiceRejectsUnknownMode(t *testing.T) {
	portal, err := memory.New(memory.Fixture{})
	require.NoError(t, err)
	_, err = NewAutomatorService(automatorConfig("registrar"), AutomatorDeps{Portal: portal}, nil).Run(context.Background())
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = NewAutomatorService(automatorConfig(config.ModeEnroller), AutomatorDeps{}, nil).Run(context.Background())
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

// faultInjector queues a portal fault at the start of every cycle.
type faultInjector struct {
	engine.NopObserver
	portal *memory.Portal
	err    error
}

func (f faultInjector) CycleStarted(int) { f.portal.InjectFault(f.err) }

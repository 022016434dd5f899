package service

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/spire-automator/internal/models"
	appErrors "github.com/noah-isme/spire-automator/pkg/errors"
	"github.com/noah-isme/spire-automator/pkg/storage"
)

func newExportServiceForTest(t *testing.T, formats ...string) (*ExportService, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewDownloadSigner("secret", time.Hour)
	return NewExportService(store, signer, formats, zap.NewNop()), store
}

func exportSnapshot() models.Snapshot {
	snap := models.NewSnapshot()
	snap.Generation = 7
	l1 := models.NewLecture("L1", "COMPSCI 121", "Intro to Problem Solving")
	d := models.Discussion{ID: "D1", Name: "DIS", Section: "01AA"}
	l1.AddDiscussions(d)
	l1.Enrolled = &d
	snap.Schedule["L1"] = l1
	snap.Schedule["L2"] = models.NewLecture("L2", "MATH 235", "")
	snap.Seats["D1"] = models.SeatClosed
	return snap
}

func TestExportServiceScheduleCSV(t *testing.T) {
	svc, store := newExportServiceForTest(t, "csv")
	run := &models.Run{ID: "run-1", Term: "Fall 2026"}

	results, err := svc.ExportSchedule(context.Background(), run, exportSnapshot())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "run-1/schedule.csv", results[0].RelativePath)
	assert.Equal(t, 2, results[0].Rows)
	assert.True(t, strings.HasPrefix(results[0].URL, "/exports/"))

	body, err := os.ReadFile(store.Path(results[0].RelativePath))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Lecture ID,Lecture,Description,Discussion,Seats", lines[0])
	assert.Equal(t, "L1,COMPSCI 121,Intro to Problem Solving,DIS-01AA (D1),CLOSED", lines[1])
	assert.Equal(t, "L2,MATH 235,,,UNKNOWN", lines[2])
}

func TestExportServiceAllFormats(t *testing.T) {
	svc, store := newExportServiceForTest(t, "csv", "PDF", "xlsx")
	run := &models.Run{ID: "run-2"}
	reason := "portal slow"
	by := "add-1"
	attempts := []models.ActionAttempt{
		{Cycle: 1, Description: "Add COMPSCI 121", ActionKind: "ADD", Outcome: models.AttemptSucceeded, DurationMs: 12},
		{Cycle: 1, Description: "Drop MATH 235", ActionKind: "DROP", Outcome: models.AttemptSatisfiedBy, SatisfiedBy: &by},
		{Cycle: 2, Description: "Edit STATS 240", ActionKind: "EDIT", Outcome: models.AttemptFaulted, Error: &reason},
	}

	results, err := svc.ExportAttempts(context.Background(), run, attempts)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "csv", results[0].Format)
	assert.Equal(t, "pdf", results[1].Format)
	for _, r := range results {
		info, err := os.Stat(store.Path(r.RelativePath))
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}

	room, err := svc.ExportAssignment(context.Background(), run, models.Room{Building: "Baker", Number: "101"})
	require.NoError(t, err)
	assert.Equal(t, "run-2/assignment.pdf", room[1].RelativePath)
}

func TestExportServiceDownloads(t *testing.T) {
	svc, _ := newExportServiceForTest(t)
	run := &models.Run{ID: "run-3"}
	results, err := svc.ExportSchedule(context.Background(), run, exportSnapshot())
	require.NoError(t, err)

	token := strings.TrimPrefix(results[0].URL, "/exports/")
	file, contentType, err := svc.OpenDownload(token)
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, "text/csv", contentType)
	body, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Contains(t, string(body), "COMPSCI 121")

	_, _, err = svc.OpenDownload(token + "x")
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	disabled := NewExportService(nil, nil, nil, nil)
	_, _, err = disabled.OpenDownload(token)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestExportServiceRequiresRun(t *testing.T) {
	svc, _ := newExportServiceForTest(t)
	_, err := svc.ExportSchedule(context.Background(), nil, exportSnapshot())
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.ExportSchedule(ctx, &models.Run{ID: "run-4"}, exportSnapshot())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExportServiceCleanup(t *testing.T) {
	svc, store := newExportServiceForTest(t)
	_, err := svc.ExportSchedule(context.Background(), &models.Run{ID: "run-5"}, exportSnapshot())
	require.NoError(t, err)
	past := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(store.Path("run-5/schedule.csv"), past, past))

	removed, err := svc.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = svc.Cleanup(0)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

package service

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/spire-automator/internal/engine"
	"github.com/noah-isme/spire-automator/internal/models"
	appErrors "github.com/noah-isme/spire-automator/pkg/errors"
)

func TestMetricsServiceObservesScheduler(t *testing.T) {
	metrics := NewMetricsService()
	add := engine.NewAdd("add-1", testLecture("L1"), nil)
	drop := engine.NewDrop("drop-1", testLecture("L2"))

	metrics.CycleStarted(1)
	snap := models.NewSnapshot()
	snap.Generation = 9
	snap.Seats["D1"] = models.SeatOpen
	snap.Seats["D2"] = models.SeatUnknown
	metrics.Refreshed(snap)
	metrics.ActionAttempted(1, add, true, nil, 20*time.Millisecond)
	metrics.ActionAttempted(1, drop, false, appErrors.Transient(errors.New("timeout"), "slow"), time.Millisecond)
	metrics.ActionAttempted(1, drop, false, nil, time.Millisecond)
	metrics.ActionSatisfied(1, drop, add)
	metrics.CycleFinished(1, []engine.Action{drop})
	metrics.ObservePortalRequest(http.MethodGet, "/schedule", http.StatusOK, 10*time.Millisecond)
	metrics.ObservePortalRequest(http.MethodGet, "/cart", 0, 30*time.Millisecond)

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(1), snapshot.Cycles)
	assert.Equal(t, uint64(3), snapshot.Attempts)
	assert.Equal(t, uint64(1), snapshot.Successes)
	assert.Equal(t, uint64(1), snapshot.Faults)
	assert.Equal(t, uint64(1), snapshot.Propagated)
	assert.Equal(t, int64(1), snapshot.PendingActions)
	assert.Equal(t, uint64(9), snapshot.SnapshotGeneration)
	assert.Equal(t, uint64(2), snapshot.PortalRequests)
	assert.InDelta(t, 20.0, snapshot.AveragePortalMs, 0.001)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `automator_action_attempts_total{kind="ADD",outcome="SUCCEEDED"} 1`)
	assert.Contains(t, body, `automator_watched_sections{status="UNKNOWN"} 1`)
	assert.Contains(t, body, `portal_request_duration_seconds_count{method="GET",route="/cart",status="error"} 1`)
}

func TestMetricsServiceObservesHousing(t *testing.T) {
	metrics := NewMetricsService()
	search := models.RoomSearch{Name: "singles"}

	metrics.SearchCompleted(1, search, 0, nil, time.Millisecond)
	metrics.SearchCompleted(2, search, 3, nil, time.Millisecond)
	metrics.RoomAssigned(2, models.Room{Building: "Baker"}, true, nil)
	metrics.RoomAssigned(3, models.Room{Building: "Kennedy"}, false, nil)

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(2), snapshot.Searches)
	assert.Equal(t, uint64(2), snapshot.Cycles)
	assert.Equal(t, uint64(1), snapshot.Assignments)
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var metrics *MetricsService
	require.NotPanics(t, func() {
		metrics.CycleStarted(1)
		metrics.RecordCacheOperation(true, time.Millisecond)
		metrics.ObserveDBQuery("record_attempt", time.Millisecond)
		metrics.RoomAssigned(1, models.Room{}, true, nil)
	})
	assert.Equal(t, MetricsSnapshot{}, metrics.Snapshot())
	assert.Nil(t, metrics.Registry())

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

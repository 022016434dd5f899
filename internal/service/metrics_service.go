package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/spire-automator/internal/engine"
	"github.com/noah-isme/spire-automator/internal/models"
)

// MetricsSnapshot is the JSON view of the automator counters served by the status API.
type MetricsSnapshot struct {
	Cycles             uint64    `json:"cycles"`
	Attempts           uint64    `json:"attempts"`
	Successes          uint64    `json:"successes"`
	Faults             uint64    `json:"faults"`
	Propagated         uint64    `json:"propagated"`
	PendingActions     int64     `json:"pending_actions"`
	SnapshotGeneration uint64    `json:"snapshot_generation"`
	Searches           uint64    `json:"searches"`
	Assignments        uint64    `json:"assignments"`
	PortalRequests     uint64    `json:"portal_requests"`
	AveragePortalMs    float64   `json:"average_portal_ms"`
	CacheHitRatio      float64   `json:"cache_hit_ratio"`
	LedgerWrites       uint64    `json:"ledger_writes"`
	AverageLedgerMs    float64   `json:"average_ledger_ms"`
	Goroutines         int       `json:"goroutines"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// MetricsService encapsulates Prometheus instrumentation. It observes the
// scheduler and the housing loop and times portal, cache and ledger calls.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	portalDuration  *prometheus.HistogramVec

	cycles          *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	satisfied       *prometheus.CounterVec
	pending         prometheus.Gauge
	generation      prometheus.Gauge
	seats           *prometheus.GaugeVec

	searches       *prometheus.CounterVec
	searchDuration prometheus.Observer
	assignments    *prometheus.CounterVec

	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec

	cycleCount         uint64
	attemptCount       uint64
	successCount       uint64
	faultCount         uint64
	propagatedCount    uint64
	pendingCount       int64
	searchCount        uint64
	assignmentCount    uint64
	generationValue    uint64
	portalCount        uint64
	portalDurationSum  uint64
	cacheHitCount      uint64
	cacheMissCount     uint64
	dbQueryCount       uint64
	dbQueryDurationSum uint64
}

var (
	_ engine.Observer        = (*MetricsService)(nil)
	_ engine.HousingObserver = (*MetricsService)(nil)
)

// NewMetricsService registers the automator collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of status API requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of status API requests",
	}, []string{"method", "path", "status"})

	portalDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_request_duration_seconds",
		Help:    "Duration of portal gateway round trips",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "route", "status"})

	cycles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automator_cycles_total",
		Help: "Refresh cycles started",
	}, []string{"mode"})

	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automator_action_attempts_total",
		Help: "Action perform calls by kind and outcome",
	}, []string{"kind", "outcome"})

	attemptDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "automator_action_duration_seconds",
		Help:    "Duration of action perform calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	satisfied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automator_actions_satisfied_total",
		Help: "Actions satisfied, directly or through another action",
	}, []string{"kind", "via"})

	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "automator_pending_actions",
		Help: "Actions still pending after the last cycle",
	})

	generation := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "automator_snapshot_generation",
		Help: "Generation of the latest portal snapshot",
	})

	seats := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "automator_watched_sections",
		Help: "Watched sections by last observed seat status",
	}, []string{"status"})

	searches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "housing_searches_total",
		Help: "Room searches by outcome",
	}, []string{"search", "outcome"})

	searchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "housing_search_duration_seconds",
		Help:    "Duration of room searches",
		Buckets: prometheus.DefBuckets,
	})

	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "housing_assignments_total",
		Help: "Room assignment requests by outcome",
	}, []string{"outcome"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of ledger queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, portalDuration,
		cycles, attempts, attemptDuration, satisfied, pending, generation, seats,
		searches, searchDuration, assignments,
		cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses, dbQueryDuration, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		portalDuration:  portalDuration,
		cycles:          cycles,
		attempts:        attempts,
		attemptDuration: attemptDuration,
		satisfied:       satisfied,
		pending:         pending,
		generation:      generation,
		seats:           seats,
		searches:        searches,
		searchDuration:  searchDuration,
		assignments:     assignments,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		dbQueryDuration: dbQueryDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records status API request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObservePortalRequest records one gateway round trip. Status 0 means no response.
func (m *MetricsService) ObservePortalRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := "error"
	if status > 0 {
		labelStatus = fmt.Sprintf("%d", status)
	}
	m.portalDuration.WithLabelValues(method, route, labelStatus).Observe(duration.Seconds())
	atomic.AddUint64(&m.portalCount, 1)
	atomic.AddUint64(&m.portalDurationSum, uint64(duration.Nanoseconds()))
}

// CycleStarted counts an enrollment cycle.
func (m *MetricsService) CycleStarted(int) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues("enroller").Inc()
	atomic.AddUint64(&m.cycleCount, 1)
}

// Refreshed publishes the snapshot generation and seat counts.
func (m *MetricsService) Refreshed(snap models.Snapshot) {
	if m == nil {
		return
	}
	m.generation.Set(float64(snap.Generation))
	atomic.StoreUint64(&m.generationValue, snap.Generation)
	counts := map[models.SeatStatus]int{models.SeatOpen: 0, models.SeatClosed: 0, models.SeatUnknown: 0}
	for _, status := range snap.Seats {
		counts[status]++
	}
	for status, n := range counts {
		m.seats.WithLabelValues(string(status)).Set(float64(n))
	}
}

// ActionAttempted records a perform call.
func (m *MetricsService) ActionAttempted(_ int, action engine.Action, ok bool, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	kind := string(action.Kind())
	outcome := attemptOutcome(ok, err)
	m.attempts.WithLabelValues(kind, string(outcome)).Inc()
	m.attemptDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	atomic.AddUint64(&m.attemptCount, 1)
	switch outcome {
	case models.AttemptSucceeded:
		m.satisfied.WithLabelValues(kind, "perform").Inc()
		atomic.AddUint64(&m.successCount, 1)
	case models.AttemptFaulted:
		atomic.AddUint64(&m.faultCount, 1)
	}
}

// ActionSatisfied records satisfaction through another action.
func (m *MetricsService) ActionSatisfied(_ int, action engine.Action, _ engine.Action) {
	if m == nil {
		return
	}
	m.satisfied.WithLabelValues(string(action.Kind()), "propagated").Inc()
	atomic.AddUint64(&m.propagatedCount, 1)
}

// CycleFinished publishes the pending action count.
func (m *MetricsService) CycleFinished(_ int, pending []engine.Action) {
	if m == nil {
		return
	}
	m.pending.Set(float64(len(pending)))
	atomic.StoreInt64(&m.pendingCount, int64(len(pending)))
}

// SearchCompleted records a housing search.
func (m *MetricsService) SearchCompleted(_ int, search models.RoomSearch, results int, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "empty"
	switch {
	case err != nil:
		outcome = "error"
	case results > 0:
		outcome = "results"
	}
	m.cycles.WithLabelValues("houser").Inc()
	m.searches.WithLabelValues(search.Name, outcome).Inc()
	m.searchDuration.Observe(elapsed.Seconds())
	atomic.AddUint64(&m.cycleCount, 1)
	atomic.AddUint64(&m.searchCount, 1)
}

// RoomAssigned records an assignment request.
func (m *MetricsService) RoomAssigned(_ int, _ models.Room, ok bool, err error) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(string(attemptOutcome(ok, err))).Inc()
	if ok {
		atomic.AddUint64(&m.assignmentCount, 1)
	}
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records ledger query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryDurationSum, uint64(duration.Nanoseconds()))
}

// Snapshot returns aggregated counters for the status API.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	portal := atomic.LoadUint64(&m.portalCount)
	portalSum := atomic.LoadUint64(&m.portalDurationSum)
	db := atomic.LoadUint64(&m.dbQueryCount)
	dbSum := atomic.LoadUint64(&m.dbQueryDurationSum)

	snap := MetricsSnapshot{
		Cycles:             atomic.LoadUint64(&m.cycleCount),
		Attempts:           atomic.LoadUint64(&m.attemptCount),
		Successes:          atomic.LoadUint64(&m.successCount),
		Faults:             atomic.LoadUint64(&m.faultCount),
		Propagated:         atomic.LoadUint64(&m.propagatedCount),
		PendingActions:     atomic.LoadInt64(&m.pendingCount),
		SnapshotGeneration: atomic.LoadUint64(&m.generationValue),
		Searches:           atomic.LoadUint64(&m.searchCount),
		Assignments:        atomic.LoadUint64(&m.assignmentCount),
		PortalRequests:     portal,
		LedgerWrites:       db,
		Goroutines:         runtime.NumGoroutine(),
		GeneratedAt:        time.Now().UTC(),
	}
	if total := hits + misses; total > 0 {
		snap.CacheHitRatio = float64(hits) / float64(total)
	}
	if portal > 0 {
		snap.AveragePortalMs = float64(portalSum) / float64(portal) / float64(time.Millisecond)
	}
	if db > 0 {
		snap.AverageLedgerMs = float64(dbSum) / float64(db) / float64(time.Millisecond)
	}
	return snap
}

func attemptOutcome(ok bool, err error) models.AttemptOutcome {
	switch {
	case err != nil:
		return models.AttemptFaulted
	case ok:
		return models.AttemptSucceeded
	default:
		return models.AttemptFailed
	}
}

package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/spire-automator/internal/engine"
	"github.com/noah-isme/spire-automator/internal/models"
	appErrors "github.com/noah-isme/spire-automator/pkg/errors"
)

const statusCacheKey = "status:latest"

// Status sources reported by Current.
const (
	StatusSourceLive  = "live"
	StatusSourceCache = "cache"
)

// AutomatorStatus is the read model served by the status API.
type AutomatorStatus struct {
	Run         *models.Run      `json:"run,omitempty"`
	Mode        string           `json:"mode"`
	Cycle       int              `json:"cycle"`
	Snapshot    *models.Snapshot `json:"snapshot,omitempty"`
	Pending     []PendingAction  `json:"pending"`
	CurrentRoom *models.Room     `json:"current_room,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Source      string           `json:"source"`
}

// PendingAction describes an action that has not been satisfied yet.
type PendingAction struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

// StatusService keeps the latest observed state of the running automator.
type StatusService struct {
	cache    *CacheService
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.RWMutex
	status AutomatorStatus
	seen   bool
}

var (
	_ engine.Observer        = (*StatusService)(nil)
	_ engine.HousingObserver = (*StatusService)(nil)
)

// NewStatusService constructs the status tracker.
func NewStatusService(mode string, cache *CacheService, cacheTTL time.Duration, logger *zap.Logger) *StatusService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusService{
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
		now:      time.Now,
		status:   AutomatorStatus{Mode: mode, Pending: []PendingAction{}},
	}
}

// SetRun attaches the persisted run record to the status.
func (s *StatusService) SetRun(run *models.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run != nil {
		copyRun := *run
		s.status.Run = &copyRun
	}
	s.touch()
}

// Fail records the error that ended the run and publishes the final state.
func (s *StatusService) Fail(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.status.LastError = err.Error()
	s.touch()
	s.mu.Unlock()
	s.publish()
}

func (s *StatusService) CycleStarted(cycle int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Cycle = cycle
	s.touch()
}

func (s *StatusService) Refreshed(snap models.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Snapshot = &snap
	s.touch()
}

func (s *StatusService) ActionAttempted(int, engine.Action, bool, error, time.Duration) {}

func (s *StatusService) ActionSatisfied(int, engine.Action, engine.Action) {}

// CycleFinished records the remaining plan and writes the state through to the cache.
func (s *StatusService) CycleFinished(cycle int, pending []engine.Action) {
	list := make([]PendingAction, 0, len(pending))
	for _, a := range pending {
		list = append(list, PendingAction{ID: a.ID(), Kind: string(a.Kind()), Description: a.String()})
	}
	s.mu.Lock()
	s.status.Cycle = cycle
	s.status.Pending = list
	s.touch()
	s.mu.Unlock()
	s.publish()
}

func (s *StatusService) SearchCompleted(cycle int, _ models.RoomSearch, _ int, err error, _ time.Duration) {
	s.mu.Lock()
	s.status.Cycle = cycle
	if err != nil {
		s.status.LastError = err.Error()
	}
	s.touch()
	s.mu.Unlock()
	s.publish()
}

// RoomAssigned tracks the confirmed room.
func (s *StatusService) RoomAssigned(cycle int, room models.Room, ok bool, err error) {
	if !ok || err != nil {
		return
	}
	s.mu.Lock()
	s.status.Cycle = cycle
	s.status.CurrentRoom = &room
	s.touch()
	s.mu.Unlock()
	s.publish()
}

// Current returns the in-memory status, falling back to the last cached copy when
// this process has not observed a cycle yet.
func (s *StatusService) Current(ctx context.Context) (AutomatorStatus, error) {
	s.mu.RLock()
	status, seen := s.status, s.seen
	s.mu.RUnlock()
	if seen {
		status.Source = StatusSourceLive
		return status, nil
	}

	var cached AutomatorStatus
	hit, err := s.cache.Get(ctx, statusCacheKey, &cached)
	if err != nil {
		status.Source = StatusSourceLive
		return status, nil
	}
	if !hit {
		return AutomatorStatus{}, appErrors.Clone(appErrors.ErrNotFound, "no automator status recorded")
	}
	cached.Source = StatusSourceCache
	return cached, nil
}

func (s *StatusService) touch() {
	s.status.UpdatedAt = s.now().UTC()
	s.seen = true
}

func (s *StatusService) publish() {
	if !s.cache.Enabled() {
		return
	}
	s.mu.RLock()
	status := s.status
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.cache.Set(ctx, statusCacheKey, status, s.cacheTTL); err != nil {
		s.logger.Debug("status cache write skipped", zap.Error(err))
	}
}

package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/spire-automator/internal/engine"
	"github.com/noah-isme/spire-automator/internal/models"
	"github.com/noah-isme/spire-automator/pkg/config"
	"github.com/noah-isme/spire-automator/pkg/jobs"
	"github.com/noah-isme/spire-automator/pkg/mailer"
)

const notificationJobType = "notification"

// NotificationService emails the configured recipients when an action succeeds,
// a room is assigned, or a run ends. Delivery is asynchronous.
type NotificationService struct {
	mailer   mailer.Mailer
	renderer *mailer.Renderer
	to       []string
	queue    *jobs.Queue
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.RWMutex
	runID string
	mode  string
}

var (
	_ engine.Observer        = (*NotificationService)(nil)
	_ engine.HousingObserver = (*NotificationService)(nil)
)

// NewNotificationService constructs the notifier. It stays disabled without recipients.
func NewNotificationService(m mailer.Mailer, cfg config.NotifyConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{mailer: m, renderer: mailer.NewRenderer(), to: cfg.To, logger: logger, now: time.Now}
	s.queue = jobs.NewQueue("notify", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: 2,
		RetryDelay: 2 * time.Second,
		Logger:     logger,
	})
	return s
}

// Enabled reports whether notifications will be sent.
func (s *NotificationService) Enabled() bool {
	return s != nil && s.mailer != nil && len(s.to) > 0
}

// Start binds the notifier to a run and starts delivery.
func (s *NotificationService) Start(run *models.Run) {
	if !s.Enabled() || run == nil {
		return
	}
	s.mu.Lock()
	s.runID = run.ID
	s.mode = run.Mode
	s.mu.Unlock()
	s.queue.Start(context.Background())
}

// RunFinished queues the end-of-run notice and waits for pending deliveries.
func (s *NotificationService) RunFinished(ctx context.Context, run *models.Run, pending int, runErr error) {
	if !s.Enabled() || run == nil {
		return
	}
	data := map[string]interface{}{
		"Mode":    run.Mode,
		"RunID":   run.ID,
		"Status":  string(run.Status),
		"Cycles":  run.Cycles,
		"Pending": pending,
		"Error":   "",
	}
	if runErr != nil {
		data["Error"] = runErr.Error()
	}
	s.enqueue("run_finished", run.ID, data)
	if err := s.queue.Drain(ctx); err != nil {
		s.logger.Warn("notification drain incomplete", zap.Error(err), zap.Int64("pending", s.queue.Pending()))
	}
}

// ActionAttempted notifies on confirmed actions only.
func (s *NotificationService) ActionAttempted(cycle int, action engine.Action, ok bool, err error, _ time.Duration) {
	if !ok || err != nil {
		return
	}
	s.enqueue("action_succeeded", action.ID(), map[string]interface{}{
		"Kind":   string(action.Kind()),
		"Action": action.String(),
		"Cycle":  cycle,
	})
}

// RoomAssigned notifies on confirmed assignments only.
func (s *NotificationService) RoomAssigned(cycle int, room models.Room, ok bool, err error) {
	if !ok || err != nil {
		return
	}
	s.enqueue("room_assigned", room.Key(), map[string]interface{}{
		"Room":  room.String(),
		"Area":  room.Area,
		"Cycle": cycle,
	})
}

func (s *NotificationService) CycleStarted(int) {}

func (s *NotificationService) Refreshed(models.Snapshot) {}

func (s *NotificationService) ActionSatisfied(int, engine.Action, engine.Action) {}

func (s *NotificationService) CycleFinished(int, []engine.Action) {}

func (s *NotificationService) SearchCompleted(int, models.RoomSearch, int, error, time.Duration) {}

func (s *NotificationService) enqueue(template, key string, data map[string]interface{}) {
	if !s.Enabled() {
		return
	}
	s.mu.RLock()
	runID := s.runID
	s.mu.RUnlock()
	if runID == "" {
		return
	}
	if _, ok := data["RunID"]; !ok {
		data["RunID"] = runID
	}
	data["At"] = s.now().UTC().Format(time.RFC3339)

	msg, err := s.renderer.Render(template, data)
	if err != nil {
		s.logger.Error("failed to render notification", zap.String("template", template), zap.Error(err))
		return
	}
	msg.To = s.to
	job := jobs.Job{ID: fmt.Sprintf("%s-%s-%s", runID, template, key), Type: notificationJobType, Payload: msg}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to queue notification", zap.String("template", template), zap.Error(err))
	}
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(mailer.Message)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}
	return s.mailer.Send(ctx, msg)
}

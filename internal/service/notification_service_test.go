package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/spire-automator/internal/engine"
	"github.com/noah-isme/spire-automator/internal/models"
	"github.com/noah-isme/spire-automator/pkg/config"
	appErrors "github.com/noah-isme/spire-automator/pkg/errors"
	"github.com/noah-isme/spire-automator/pkg/mailer"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (m *recordingMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) subjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, msg := range m.sent {
		out = append(out, msg.Subject)
	}
	sort.Strings(out)
	return out
}

func TestNotificationServiceSendsConfirmedEvents(t *testing.T) {
	sink := &recordingMailer{}
	notifier := NewNotificationService(sink, config.NotifyConfig{To: []string{"student@example.edu"}}, nil)
	require.True(t, notifier.Enabled())

	run := &models.Run{ID: "run-1", Mode: config.ModeEnroller, Status: models.RunStatusRunning}
	notifier.Start(run)

	add := engine.NewAdd("add-1", testLecture("L1"), nil)
	notifier.ActionAttempted(1, add, true, nil, 0)
	notifier.ActionAttempted(1, add, false, nil, 0)
	notifier.ActionAttempted(1, add, false, appErrors.ErrPortalTransient, 0)
	notifier.RoomAssigned(2, models.Room{Building: "Baker", Number: "101"}, true, nil)
	notifier.RoomAssigned(2, models.Room{Building: "Kennedy", Number: "210"}, false, nil)

	run.Status = models.RunStatusFailed
	run.Cycles = 2
	notifier.RunFinished(context.Background(), run, 1, errors.New("portal session lost"))

	subjects := sink.subjects()
	require.Len(t, subjects, 3)
	assert.Contains(t, subjects[0], "ADD succeeded")
	assert.Contains(t, subjects[1], "Room assigned")
	assert.Equal(t, "[SPIRE] Run FAILED: enroller", subjects[2])
	for _, msg := range sink.sent {
		assert.Equal(t, []string{"student@example.edu"}, msg.To)
	}
}

func TestNotificationServiceDisabled(t *testing.T) {
	sink := &recordingMailer{}
	notifier := NewNotificationService(sink, config.NotifyConfig{}, nil)
	assert.False(t, notifier.Enabled())

	run := &models.Run{ID: "run-1"}
	notifier.Start(run)
	notifier.ActionAttempted(1, engine.NewDrop("drop-1", testLecture("L2")), true, nil, 0)
	notifier.RunFinished(context.Background(), run, 0, nil)
	assert.Empty(t, sink.sent)

	var missing *NotificationService
	assert.False(t, missing.Enabled())
	missing.Start(run)
	missing.RunFinished(context.Background(), run, 0, nil)
}

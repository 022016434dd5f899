package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/spire-automator/internal/middleware"
	"github.com/noah-isme/spire-automator/internal/models"
	"github.com/noah-isme/spire-automator/internal/service"
	appErrors "github.com/noah-isme/spire-automator/pkg/errors"
)

type responseEnvelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

type fakeStatusSrv struct {
	status service.AutomatorStatus
	err    error
}

func (f *fakeStatusSrv) Current(context.Context) (service.AutomatorStatus, error) {
	return f.status, f.err
}

type fakeAttemptSrv struct {
	attempts  []models.ActionAttempt
	err       error
	lastLimit int
}

func (f *fakeAttemptSrv) Attempts(_ context.Context, limit int) ([]models.ActionAttempt, error) {
	f.lastLimit = limit
	return f.attempts, f.err
}

type fakeDownloadSrv struct {
	path        string
	contentType string
	err         error
	lastToken   string
}

func (f *fakeDownloadSrv) OpenDownload(token string) (*os.File, string, error) {
	f.lastToken = token
	if f.err != nil {
		return nil, "", f.err
	}
	file, err := os.Open(f.path)
	return file, f.contentType, err
}

func newTestContext(method, target string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, nil)
	return c, w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) responseEnvelope {
	t.Helper()
	var env responseEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestStatusHandlerCurrent(t *testing.T) {
	srv := &fakeStatusSrv{status: service.AutomatorStatus{Mode: "enroller", Cycle: 7, Source: service.StatusSourceCache, Pending: []service.PendingAction{{ID: "add-1", Kind: "ADD"}}}}
	handler := NewStatusHandler(srv, nil, nil)

	c, w := newTestContext(http.MethodGet, "/status")
	c.Set(middleware.ContextViewerKey, &models.ViewerClaims{Scope: models.ScopeStatusRead})
	handler.Current(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	env := decode(t, w)
	var status service.AutomatorStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, 7, status.Cycle)
	require.Len(t, status.Pending, 1)
	assert.Equal(t, "add-1", status.Pending[0].ID)
	assert.Contains(t, env.Meta, "viewer")
	assert.Equal(t, true, env.Meta["cache_hit"])
}

func TestStatusHandlerCurrentNotFound(t *testing.T) {
	handler := NewStatusHandler(&fakeStatusSrv{err: appErrors.Clone(appErrors.ErrNotFound, "no automator status recorded")}, nil, nil)
	c, w := newTestContext(http.MethodGet, "/status")
	handler.Current(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	env := decode(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestStatusHandlerAttempts(t *testing.T) {
	attempts := &fakeAttemptSrv{attempts: []models.ActionAttempt{{ID: "a-1", RunID: "run-1", ActionID: "add-1", Outcome: models.AttemptSucceeded}}}
	handler := NewStatusHandler(&fakeStatusSrv{}, attempts, nil)

	c, w := newTestContext(http.MethodGet, "/status/attempts?limit=5000")
	handler.Attempts(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, maxAttemptLimit, attempts.lastLimit)
	env := decode(t, w)
	assert.EqualValues(t, 1, env.Meta["count"])

	c, w = newTestContext(http.MethodGet, "/status/attempts")
	handler.Attempts(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultAttemptLimit, attempts.lastLimit)

	c, w = newTestContext(http.MethodGet, "/status/attempts?limit=abc")
	handler.Attempts(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	attempts.err = errors.New("db down")
	c, w = newTestContext(http.MethodGet, "/status/attempts")
	handler.Attempts(c)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	c, w = newTestContext(http.MethodGet, "/status/attempts")
	NewStatusHandler(&fakeStatusSrv{}, nil, nil).Attempts(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusHandlerDownload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.csv")
	require.NoError(t, os.WriteFile(path, []byte("Lecture ID,Lecture\nL1,COMPSCI 121\n"), 0o600))
	downloads := &fakeDownloadSrv{path: path, contentType: "text/csv"}
	handler := NewStatusHandler(&fakeStatusSrv{}, nil, downloads)

	c, w := newTestContext(http.MethodGet, "/exports/abc")
	c.Params = gin.Params{{Key: "token", Value: "abc"}}
	handler.Download(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc", downloads.lastToken)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "schedule.csv")
	assert.Contains(t, w.Body.String(), "COMPSCI 121")

	downloads.err = appErrors.Clone(appErrors.ErrUnauthorized, "download link expired")
	c, w = newTestContext(http.MethodGet, "/exports/abc")
	handler.Download(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, w = newTestContext(http.MethodGet, "/exports/abc")
	NewStatusHandler(&fakeStatusSrv{}, nil, nil).Download(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

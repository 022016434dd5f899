package handler

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/spire-automator/internal/middleware"
	"github.com/noah-isme/spire-automator/internal/models"
	"github.com/noah-isme/spire-automator/internal/service"
	appErrors "github.com/noah-isme/spire-automator/pkg/errors"
	"github.com/noah-isme/spire-automator/pkg/response"
)

const (
	defaultAttemptLimit = 50
	maxAttemptLimit     = 500
)

// StatusReader returns the latest automator state.
type StatusReader interface {
	Current(ctx context.Context) (service.AutomatorStatus, error)
}

// AttemptLister lists ledger rows of the current run.
type AttemptLister interface {
	Attempts(ctx context.Context, limit int) ([]models.ActionAttempt, error)
}

// DownloadOpener resolves signed export links.
type DownloadOpener interface {
	OpenDownload(token string) (*os.File, string, error)
}

// StatusHandler serves the read-only automator status API.
type StatusHandler struct {
	status   StatusReader
	attempts AttemptLister
	exports  DownloadOpener
}

// NewStatusHandler constructs a status handler. attempts and exports may be nil
// when the ledger or export links are disabled.
func NewStatusHandler(status StatusReader, attempts AttemptLister, exports DownloadOpener) *StatusHandler {
	return &StatusHandler{status: status, attempts: attempts, exports: exports}
}

// Current returns the latest observed automator state.
func (h *StatusHandler) Current(c *gin.Context) {
	status, err := h.status.Current(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, status.Source == service.StatusSourceCache)
	meta := middleware.ExtractMeta(c)
	if viewer := viewerFromContext(c); viewer != nil {
		meta["viewer"] = viewer.Subject
	}
	response.JSON(c, http.StatusOK, status, meta)
}

// Attempts lists the ledger rows of the current run, newest first.
func (h *StatusHandler) Attempts(c *gin.Context) {
	if h.attempts == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "attempt ledger disabled"))
		return
	}
	limit := defaultAttemptLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	if limit > maxAttemptLimit {
		limit = maxAttemptLimit
	}

	attempts, err := h.attempts.Attempts(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, attempts, map[string]interface{}{"limit": limit, "count": len(attempts)})
}

// Download streams an export file addressed by a signed token.
func (h *StatusHandler) Download(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "export links disabled"))
		return
	}
	file, contentType, err := h.exports.OpenDownload(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", "attachment; filename=\""+filepath.Base(file.Name())+"\"")
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, file); err != nil {
		_ = c.Error(err)
	}
}

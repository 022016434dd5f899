package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/spire-automator/internal/models"
	"github.com/noah-isme/spire-automator/internal/service"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(handlers...)
	router.GET("/status", func(c *gin.Context) {
		if v, ok := c.Get(ContextViewerKey); ok {
			c.String(http.StatusOK, v.(*models.ViewerClaims).Subject)
			return
		}
		c.String(http.StatusOK, "anonymous")
	})
	return router
}

func get(router *gin.Engine, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestJWTMiddleware(t *testing.T) {
	tokens := service.NewTokenService("secret", "spire-automator")
	token, _, err := tokens.Issue("ops", time.Hour)
	require.NoError(t, err)
	router := newRouter(JWT(tokens))

	w := get(router, "/status", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, get(router, "/status", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, "/status", "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, "/status", "Bearer nope").Code)
}

func TestJWTMiddlewareDisabled(t *testing.T) {
	router := newRouter(JWT(service.NewTokenService("", "")))
	w := get(router, "/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "anonymous", w.Body.String())

	router = newRouter(JWT(nil))
	assert.Equal(t, http.StatusOK, get(router, "/status", "").Code)
}

func TestMetricsMiddleware(t *testing.T) {
	metrics := service.NewMetricsService()
	router := newRouter(Metrics(metrics))

	get(router, "/status", "")
	get(router, "/does-not-exist", "")

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `path="/status"`)
	assert.Contains(t, body, `path="unmatched"`)

	assert.Equal(t, http.StatusOK, get(newRouter(Metrics(nil)), "/status", "").Code)
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(WithResponseMeta())
	var meta map[string]interface{}
	router.GET("/status", func(c *gin.Context) {
		SetCacheHit(c, true)
		meta = ExtractMeta(c)
		c.Status(http.StatusNoContent)
	})

	get(router, "/status", "")
	require.NotNil(t, meta)
	assert.Equal(t, true, meta["cache_hit"])
	assert.Contains(t, meta, "processing_time_ms")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	assert.Nil(t, ExtractMeta(c))
}

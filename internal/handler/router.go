package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/spire-automator/internal/middleware"
	"github.com/noah-isme/spire-automator/internal/service"
	"github.com/noah-isme/spire-automator/pkg/logger"
	corsmiddleware "github.com/noah-isme/spire-automator/pkg/middleware/cors"
	"github.com/noah-isme/spire-automator/pkg/middleware/requestid"
)

// RouterConfig wires the status server.
type RouterConfig struct {
	Status         *StatusHandler
	Metrics        *MetricsHandler
	MetricsService *service.MetricsService
	Tokens         middleware.TokenValidator
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter builds the status API engine. Health and Prometheus endpoints stay
// public; everything under /status requires a viewer token when tokens are enabled.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestid.Middleware())
	if cfg.Logger != nil {
		r.Use(logger.GinMiddleware(cfg.Logger))
	}
	r.Use(corsmiddleware.New(cfg.AllowedOrigins))
	r.Use(middleware.Metrics(cfg.MetricsService))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", cfg.Metrics.Health)
	r.GET("/metrics", cfg.Metrics.Prometheus)
	r.GET("/exports/:token", cfg.Status.Download)

	status := r.Group("/status")
	status.Use(middleware.JWT(cfg.Tokens))
	status.GET("", cfg.Status.Current)
	status.GET("/metrics", cfg.Metrics.Summary)
	status.GET("/attempts", cfg.Status.Attempts)

	return r
}

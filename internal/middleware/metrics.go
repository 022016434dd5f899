package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/spire-automator/internal/service"
)

// Metrics records request counts and latency for the status server. Unmatched
// routes share one label so probes for random paths cannot grow the series.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

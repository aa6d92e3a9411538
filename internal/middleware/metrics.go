package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pesantren-billing-api/internal/service"
)

// unmatchedRoute labels requests that hit no registered route so arbitrary paths do not
// become metric series.
const unmatchedRoute = "unmatched"

// Metrics returns middleware that records request latency per route template.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		switch path {
		case "":
			path = unmatchedRoute
		case "/metrics":
			return
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lostfound-api/internal/service"
)

const unmatchedRoute = "unmatched"

// Metrics records one observation per request, labelled by route template so
// artifact keys and ids do not fan out into separate series. Paths in skip are
// not observed.
func Metrics(metricsSvc *service.MetricsService, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, path := range skip {
		skipped[path] = struct{}{}
	}

	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		if _, ok := skipped[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// unmatchedRoute метка запросов без маршрута, чтобы сканеры не
// раздували кардинальность произвольными путями
const unmatchedRoute = "unmatched"

// HTTPMetricsMiddleware считает запросы API по шаблону маршрута.
// Маршруты из skipRoutes (долгоживущие WebSocket, сам /metrics)
// в гистограмму длительности не попадают.
func HTTPMetricsMiddleware(skipRoutes ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipRoutes))
	for _, r := range skipRoutes {
		skip[r] = struct{}{}
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if _, ok := skip[route]; ok {
			c.Next()
			return
		}
		if route == "" {
			route = unmatchedRoute
		}

		HTTPRequestsInFlight.Inc()
		start := time.Now()
		c.Next()
		HTTPRequestsInFlight.Dec()

		status := strconv.Itoa(c.Writer.Status())
		HTTPRequestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
	}
}

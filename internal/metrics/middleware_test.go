package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(HTTPMetricsMiddleware("/ws/v1/events"))
	router.GET("/api/v1/runs/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	})
	router.GET("/ws/v1/events", func(c *gin.Context) {
		c.Status(http.StatusSwitchingProtocols)
	})

	request := func(path string) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	byRoute := HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/runs/:id", "200")
	unmatched := HTTPRequestsTotal.WithLabelValues("GET", unmatchedRoute, "404")
	events := HTTPRequestsTotal.WithLabelValues("GET", "/ws/v1/events", "101")

	beforeRoute := testutil.ToFloat64(byRoute)
	beforeUnmatched := testutil.ToFloat64(unmatched)
	beforeEvents := testutil.ToFloat64(events)

	request("/api/v1/runs/run-1")
	request("/api/v1/runs/run-2")
	request("/wp-login.php")
	request("/ws/v1/events")

	// Разные идентификаторы попадают в одну серию шаблона маршрута
	assert.Equal(t, beforeRoute+2, testutil.ToFloat64(byRoute))
	assert.Equal(t, beforeUnmatched+1, testutil.ToFloat64(unmatched))
	assert.Equal(t, beforeEvents, testutil.ToFloat64(events))
	assert.Zero(t, testutil.ToFloat64(HTTPRequestsInFlight))
}

package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/lessongen-backend/internal/observability"
)

// Metrics counts API requests per route template. Progress streams only
// move the open-streams gauge. Scrape and health calls are not recorded.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		route := c.FullPath()
		switch {
		case route == "/metrics" || route == "/healthcheck":
			c.Next()
			return
		case route == "":
			route = "unmatched"
		}

		if isStreamRoute(route) {
			m.StreamOpened()
			defer m.StreamClosed()
			c.Next()
			return
		}

		start := time.Now()
		m.ApiInflightInc()
		defer m.ApiInflightDec()

		c.Next()

		m.ObserveAPI(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

func isStreamRoute(route string) bool {
	return strings.HasSuffix(route, "/events") || strings.HasSuffix(route, "/ws")
}

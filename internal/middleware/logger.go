package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger returns a Gin middleware that logs each request using zap.
// Health probes and the event stream are skipped to keep logs readable.
func Logger(log *zap.Logger) gin.HandlerFunc {
	skip := map[string]struct{}{
		"/api/v2/health":        {},
		"/api/v2/events/stream": {},
	}
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if _, ok := skip[path]; ok && c.Writer.Status() < 400 {
			return
		}
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}

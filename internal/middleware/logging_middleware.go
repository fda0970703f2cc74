// internal/middleware/logging_middleware.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"hcom/internal/utils"
)

// LoggingMiddleware logs API requests through logger. Successful
// requests to quietPaths, such as probes, are not logged.
func LoggingMiddleware(logger *utils.ServiceLogger, quietPaths ...string) gin.HandlerFunc {
	quiet := make(map[string]struct{}, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if _, ok := quiet[c.FullPath()]; ok && status < 400 {
			return
		}
		logger.LogAPIRequest(c.Request.Method, c.Request.URL.Path, c.ClientIP(), status, time.Since(start))
	}
}

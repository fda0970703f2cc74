// internal/middleware/cors_middleware.go
package middleware

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"hcom/internal/config"
)

// CORSMiddleware lets browser dashboards on the allowed origins drive
// the device. An empty list or "*" allows any origin without
// credentials.
func CORSMiddleware(security *config.SecurityConfig) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}

	if len(security.AllowedOrigins) == 0 || slices.Contains(security.AllowedOrigins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = security.AllowedOrigins
		cfg.AllowCredentials = true
	}

	return cors.New(cfg)
}

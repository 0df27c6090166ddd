package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"contract-backend/internal/shared/telemetry"
)

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		}
		if userID := UserIDFromContext(c); userID != "" {
			fields["user_id"] = userID
		}
		if analysisID := c.GetString("analysisId"); analysisID != "" {
			fields["analysis_id"] = analysisID
		}
		if transition := c.GetString("statusTransition"); transition != "" {
			fields["status_transition"] = transition
		}
		telemetry.Info("request.complete", fields)
	}
}

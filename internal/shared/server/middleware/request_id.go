package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"contract-backend/internal/shared/telemetry"
)

const (
	ctxRequestID    = "requestId"
	headerRequestID = "X-Request-Id"
	maxRequestIDLen = 128
)

// RequestID accepts a caller-supplied X-Request-Id or mints one, echoes it on
// the response and stores it on both the gin and the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Request = c.Request.WithContext(telemetry.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// RequestIDFromContext returns the id stored by RequestID.
func RequestIDFromContext(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}

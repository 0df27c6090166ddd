package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"contract-backend/internal/shared/server/respond"
	"contract-backend/internal/shared/telemetry"
)

// Recovery turns a handler panic into a 500 with the standard error body.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			telemetry.L().Error("panic",
				zap.String("request_id", RequestIDFromContext(c)),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Any("error", rec),
				zap.StackSkip("stack", 2),
			)
			respond.Error(c, http.StatusInternalServerError, "internal", "Unexpected server error", nil)
		}()
		c.Next()
	}
}

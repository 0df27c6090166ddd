// Package respond writes the JSON bodies shared by every API handler.
package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"contract-backend/internal/shared/telemetry"
)

// Problem is the body of every non-2xx response.
type Problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type envelope struct {
	Error Problem `json:"error"`
}

// JSON writes payload with status.
func JSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}

// OK writes payload with 200.
func OK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// Error aborts the request with a Problem body. Server errors are logged at
// error level; client errors at warn.
func Error(c *gin.Context, status int, code, message string, details any) {
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"request_id": c.GetString("requestId"),
	}
	if userID := c.GetString("userId"); userID != "" {
		fields["user_id"] = userID
	}
	if status >= http.StatusInternalServerError {
		fields["message"] = message
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.rejected", fields)
	}
	c.AbortWithStatusJSON(status, envelope{Error: Problem{Code: code, Message: message, Details: details}})
}

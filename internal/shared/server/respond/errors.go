package respond

import (
	"github.com/gin-gonic/gin"

	"smartflow-backend/internal/shared/telemetry"
)

// ErrorBody defines the standardized error object. CorrelationID echoes the
// request-scoped identifier so callers can reference it in support requests.
type ErrorBody struct {
	Code          string      `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId,omitempty"`
	Details       interface{} `json:"details,omitempty"`
}

// ErrorResponse wraps the error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error sends a standardized error response.
func Error(c *gin.Context, status int, code, message string, details interface{}) {
	correlationID := c.GetString("correlationId")

	fields := map[string]any{
		"status":         status,
		"code":           code,
		"message":        message,
		"path":           c.Request.URL.Path,
		"method":         c.Request.Method,
		"correlation_id": correlationID,
	}
	if userID := c.GetString("userId"); userID != "" {
		fields["user_id"] = userID
	}
	if isGuest, ok := c.Get("isGuest"); ok {
		fields["is_guest"] = isGuest
	}
	telemetry.Error("http.error", fields)

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorBody{
			Code:          code,
			Message:       message,
			CorrelationID: correlationID,
			Details:       details,
		},
	})
}

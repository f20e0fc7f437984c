package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/gin-gonic/gin"

	"smartflow-backend/internal/shared/correlation"
)

const correlationIDKey = "correlationId"

// CorrelationID attaches a correlation ID to the request context and response
// header. Incoming X-Correlation-Id values are honored so callers can stitch
// client and server logs together; otherwise a fresh one is generated. The ID
// also rides the request's context.Context so background work spawned from a
// handler keeps the same identifier.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Correlation-Id")
		if id == "" {
			id = generateCorrelationID()
		}
		c.Set(correlationIDKey, id)
		c.Writer.Header().Set("X-Correlation-Id", id)
		c.Request = c.Request.WithContext(correlation.WithID(c.Request.Context(), id))
		c.Next()
	}
}

// CorrelationIDFromContext fetches the ID stored by CorrelationID middleware.
func CorrelationIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(correlationIDKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}

func generateCorrelationID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return time.Now().UTC().Format("20060102150405.000000000")
	}
	return hex.EncodeToString(b[:])
}

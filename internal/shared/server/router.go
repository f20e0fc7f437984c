package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"smartflow-backend/internal/conversation"
	"smartflow-backend/internal/services/health"
	"smartflow-backend/internal/sessions"
	"smartflow-backend/internal/shared/config"
	"smartflow-backend/internal/shared/metrics"
	"smartflow-backend/internal/shared/server/middleware"
	"smartflow-backend/internal/shared/server/respond"
)

// RouterDeps carries the handlers the router wires up.
type RouterDeps struct {
	Config              config.Config
	SessionHandler      *sessions.Handler
	ConversationHandler *conversation.Handler
	Health              *health.Service
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.CorrelationID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(deps.Config.Env),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit(middleware.RateLimitConfig{
		Rules: map[string]middleware.RateLimitRule{
			"UPLOAD":  {Rate: 0.5, Burst: 5},
			"MESSAGE": {Rate: 2, Burst: 10},
			"DEFAULT": {Rate: 20, Burst: 40},
		},
		GroupFor: func(c *gin.Context) string {
			if c.Request.Method != http.MethodPost {
				return ""
			}
			switch {
			case c.FullPath() == "/api/v1/sessions":
				return "UPLOAD"
			case c.FullPath() == "/api/v1/sessions/:id/messages":
				return "MESSAGE"
			}
			return ""
		},
	}))
	api.GET("/health", func(c *gin.Context) {
		payload := gin.H{"ok": true}
		if deps.Health != nil {
			status := deps.Health.Status(c.Request.Context())
			payload = gin.H{"ok": status["status"] != "unhealthy"}
			for k, v := range status {
				payload[k] = v
			}
		}
		respond.JSON(c, http.StatusOK, payload)
	})
	registerMeRoutes(api)
	if deps.SessionHandler != nil {
		deps.SessionHandler.RegisterRoutes(api)
	}
	if deps.ConversationHandler != nil {
		deps.ConversationHandler.RegisterRoutes(api)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}

package health

import (
	"context"
	"database/sql"
	"time"

	"smartflow-backend/internal/agent"
)

const checkTimeout = 2 * time.Second

// Service encapsulates health-related checks.
type Service struct {
	Agent agent.Client
	DB    *sql.DB
}

// NewService constructs a new health service. Either dependency may be
// nil; its check is reported as skipped.
func NewService(agentClient agent.Client, db *sql.DB) *Service {
	return &Service{Agent: agentClient, DB: db}
}

// Status aggregates dependency checks into a single payload. The service
// is "degraded" when the agent is degraded or unreachable and
// "unhealthy" only when the database is down: sessions cannot be served
// without the store, but an unavailable agent only delays analyses.
func (s *Service) Status(ctx context.Context) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	overall := "healthy"
	checks := map[string]any{}

	if s.DB != nil {
		if err := s.DB.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
			overall = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "skipped"
	}

	if s.Agent != nil {
		state, err := s.Agent.Health(ctx)
		switch {
		case err != nil, state == agent.HealthUnhealthy:
			checks["agent"] = string(agent.HealthUnhealthy)
			if overall == "healthy" {
				overall = "degraded"
			}
		case state == agent.HealthDegraded:
			checks["agent"] = string(agent.HealthDegraded)
			if overall == "healthy" {
				overall = "degraded"
			}
		default:
			checks["agent"] = string(agent.HealthHealthy)
		}
	} else {
		checks["agent"] = "skipped"
	}

	return map[string]any{
		"status": overall,
		"checks": checks,
	}
}

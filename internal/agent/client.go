package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// JobRef identifies an in-flight analysis job on the agent side. It is
// opaque to callers and persisted on the session record.
type JobRef string

// OutcomeState is the coarse state of a fetched job outcome.
type OutcomeState string

const (
	OutcomePending   OutcomeState = "pending"
	OutcomeSucceeded OutcomeState = "succeeded"
	OutcomeFailed    OutcomeState = "failed"
)

// Outcome is the response to a FetchResult call. Result is set iff State
// is OutcomeSucceeded; FailureReason is set iff State is OutcomeFailed.
type Outcome struct {
	State         OutcomeState
	Result        *AnalysisResult
	FailureReason string
}

// HealthState reports agent availability.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// SubmitDocument is one document reference handed to the agent. The
// storage location is opaque to this client; the agent resolves it.
type SubmitDocument struct {
	DocumentID      string `json:"documentId"`
	FileName        string `json:"fileName"`
	DocumentType    string `json:"documentType"`
	StorageLocation string `json:"storageLocation"`
}

// Client abstracts the external document analysis agent.
type Client interface {
	Submit(ctx context.Context, docs []SubmitDocument) (JobRef, error)
	FetchResult(ctx context.Context, ref JobRef) (Outcome, error)
	Health(ctx context.Context) (HealthState, error)
}

// Error is a classified failure from the agent. Transient errors are
// eligible for retry; everything else fails the caller immediately.
type Error struct {
	StatusCode int
	Reason     string
	Transient  bool
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("agent: %s (http %d)", e.Reason, e.StatusCode)
	}
	return "agent: " + e.Reason
}

// IsTransient reports whether err is worth retrying against the agent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var agentErr *Error
	if errors.As(err, &agentErr) {
		return agentErr.Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

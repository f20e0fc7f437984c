package sessions

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrValidation            = errors.New("validation failed")
	ErrInvalidTransition     = errors.New("invalid session state transition")
	ErrConflict              = errors.New("concurrency token mismatch")
	ErrConcurrencyExhausted  = errors.New("store conflict retries exhausted")
	ErrAgentUnavailable      = errors.New("analysis agent unavailable")
	ErrPermissionDenied      = errors.New("permission denied")
	ErrContinuationCorrupted = errors.New("invalid continuation token")
)

const (
	ErrorCodeValidation           = "VALIDATION_ERROR"
	ErrorCodeInvalidTransition    = "INVALID_TRANSITION"
	ErrorCodeNotFound             = "NOT_FOUND"
	ErrorCodeConcurrencyExhausted = "CONCURRENCY_EXHAUSTED"
	ErrorCodeAgentUnavailable     = "AGENT_UNAVAILABLE"
	ErrorCodePermissionDenied     = "PERMISSION_DENIED"
	ErrorCodeInternal             = "INTERNAL_ERROR"
)

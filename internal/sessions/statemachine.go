package sessions

import (
	"fmt"
	"time"
)

// Trigger names an event that may move a session between states.
type Trigger string

const (
	TriggerUploadFinalized Trigger = "upload_finalized"
	TriggerAnalysisSubmit  Trigger = "analysis_submitted"
	TriggerAgentSucceeded  Trigger = "agent_succeeded"
	TriggerAgentFailed     Trigger = "agent_failed"
	TriggerCancelRequested Trigger = "cancel_requested"
	TriggerInternalFailure Trigger = "internal_failure"
)

// GuardInputs carries everything a transition guard may inspect. The
// machine itself performs no I/O; callers populate this from the loaded
// session and the triggering event.
type GuardInputs struct {
	DocumentCount   int
	FailedDocuments int
	HasActiveJob    bool
	ResultValid     bool
	Now             time.Time
}

// DerivedUpdates are field changes the caller must apply alongside the
// status change.
type DerivedUpdates struct {
	LastModifiedTimestamp time.Time
}

// TransitionError reports a rejected transition. The stored session must
// be left untouched when one is returned.
type TransitionError struct {
	From    SessionStatus
	Trigger Trigger
	Reason  string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transition %s on %s rejected: %s", e.Trigger, e.From, e.Reason)
	}
	return fmt.Sprintf("no transition for %s on %s", e.Trigger, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Next applies the transition table to (current, trigger, in). It returns
// the next status and derived field updates, or a *TransitionError
// wrapping ErrInvalidTransition.
func Next(current SessionStatus, trigger Trigger, in GuardInputs) (SessionStatus, DerivedUpdates, error) {
	reject := func(reason string) (SessionStatus, DerivedUpdates, error) {
		return current, DerivedUpdates{}, &TransitionError{From: current, Trigger: trigger, Reason: reason}
	}
	accept := func(next SessionStatus) (SessionStatus, DerivedUpdates, error) {
		return next, DerivedUpdates{LastModifiedTimestamp: in.Now.UTC()}, nil
	}

	switch trigger {
	case TriggerUploadFinalized:
		if current != StatusUploading {
			return reject("")
		}
		if in.DocumentCount == 0 {
			return reject("session has no documents")
		}
		if in.FailedDocuments > 0 {
			return reject("session has failed required documents")
		}
		return accept(StatusPending)

	case TriggerAnalysisSubmit:
		if current != StatusPending {
			return reject("")
		}
		if in.HasActiveJob {
			return reject("an analysis job is already active")
		}
		return accept(StatusProcessing)

	case TriggerAgentSucceeded:
		if current != StatusProcessing {
			return reject("")
		}
		if !in.ResultValid {
			return reject("result payload missing or malformed")
		}
		return accept(StatusCompleted)

	case TriggerAgentFailed:
		if current != StatusProcessing {
			return reject("")
		}
		return accept(StatusFailed)

	case TriggerCancelRequested:
		if current.IsTerminal() {
			return reject("")
		}
		return accept(StatusCancelled)

	case TriggerInternalFailure:
		if current.IsTerminal() {
			return reject("")
		}
		return accept(StatusFailed)
	}

	return reject("unknown trigger")
}

// ApplyDerived folds derived updates into the session, preserving the
// monotonic-non-decreasing guarantee on LastModifiedTimestamp.
func ApplyDerived(s *AnalysisSession, upd DerivedUpdates) {
	ts := upd.LastModifiedTimestamp
	if ts.Before(s.UploadTimestamp) {
		ts = s.UploadTimestamp
	}
	if s.LastModifiedTimestamp != nil && ts.Before(*s.LastModifiedTimestamp) {
		ts = *s.LastModifiedTimestamp
	}
	s.LastModifiedTimestamp = &ts
}

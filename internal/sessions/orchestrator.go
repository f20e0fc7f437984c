package sessions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"smartflow-backend/internal/agent"
	"smartflow-backend/internal/queue"
	"smartflow-backend/internal/shared/correlation"
	"smartflow-backend/internal/shared/metrics"
	"smartflow-backend/internal/shared/storage/object"
	"smartflow-backend/internal/shared/telemetry"
)

const (
	defaultStoreRetries     = 3
	defaultAgentMaxAttempts = 4
	defaultBackoffBase      = 500 * time.Millisecond
)

// SleepFunc blocks for d or until the context is done. Injected so retry
// backoff is deterministic in tests.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Orchestrator owns the session lifecycle: upload registration, analysis
// submission, outcome reconciliation, cancellation, and deletion. It
// never caches a session across calls; every operation re-reads through
// the store and writes back with the concurrency token.
type Orchestrator struct {
	Store SessionStore
	Agent agent.Client
	Blobs object.ObjectStore
	Queue queue.Client

	// OnCompleted and OnDeleted are wired at bootstrap so the
	// conversation layer can react without an import cycle.
	OnCompleted func(ctx context.Context, session AnalysisSession)
	OnDeleted   func(ctx context.Context, sessionID string)

	Now              func() time.Time
	Sleep            SleepFunc
	StoreRetries     int
	AgentMaxAttempts int
	BackoffBase      time.Duration
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.Sleep != nil {
		return o.Sleep(ctx, d)
	}
	return defaultSleep(ctx, d)
}

func (o *Orchestrator) storeRetries() int {
	if o.StoreRetries > 0 {
		return o.StoreRetries
	}
	return defaultStoreRetries
}

func (o *Orchestrator) agentMaxAttempts() int {
	if o.AgentMaxAttempts > 0 {
		return o.AgentMaxAttempts
	}
	return defaultAgentMaxAttempts
}

func (o *Orchestrator) backoffBase() time.Duration {
	if o.BackoffBase > 0 {
		return o.BackoffBase
	}
	return defaultBackoffBase
}

// RegisterUpload validates every file, stores each one, and creates a new
// session in the uploading state. Validation is all-or-nothing: a single
// bad file rejects the request before any state is created.
func (o *Orchestrator) RegisterUpload(ctx context.Context, userID string, files []UploadFile) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("%w: userID is required", ErrValidation)
	}
	if err := ValidateUploadFiles(files); err != nil {
		return "", err
	}

	now := o.now()
	session := AnalysisSession{
		SessionID:       uuid.NewString(),
		UserID:          userID,
		UploadTimestamp: now,
		Status:          StatusUploading,
		Documents:       make([]UploadedDocument, 0, len(files)),
	}

	for _, f := range files {
		ref, _, _, err := o.Blobs.Save(ctx, userID, f.FileName, bytes.NewReader(f.Content))
		if err != nil {
			return "", fmt.Errorf("store upload %q: %w", f.FileName, err)
		}
		session.Documents = append(session.Documents, UploadedDocument{
			DocumentID:               uuid.NewString(),
			FileName:                 f.FileName,
			FileSizeBytes:            int64(len(f.Content)),
			UploadTimestamp:          now,
			StorageLocationReference: ref,
			DocumentType:             ClassifyDocumentType(f.FileName),
			ProcessingStatus:         DocStatusNew,
		})
	}

	if _, err := o.Store.Put(ctx, session, ""); err != nil {
		return "", err
	}
	metrics.IncSessionCreated()
	telemetry.Info("session.status", map[string]any{
		"correlation_id": correlation.FromContext(ctx),
		"session_id":     session.SessionID,
		"user_id":        userID,
		"status":         string(StatusUploading),
		"documents":      len(session.Documents),
	})
	return session.SessionID, nil
}

// FinalizeUpload moves an uploading session to pending once the last
// document has been registered. Calling it again on a pending session is
// a no-op.
func (o *Orchestrator) FinalizeUpload(ctx context.Context, sessionID string) error {
	_, err := o.mutate(ctx, sessionID, func(s *AnalysisSession) (bool, error) {
		if s.Status == StatusPending {
			return false, nil
		}
		failed := 0
		for i := range s.Documents {
			if s.Documents[i].ProcessingStatus == DocStatusFailed {
				failed++
			}
		}
		next, upd, err := Next(s.Status, TriggerUploadFinalized, GuardInputs{
			DocumentCount:   len(s.Documents),
			FailedDocuments: failed,
			Now:             o.now(),
		})
		if err != nil {
			return false, err
		}
		o.logTransition(ctx, s, next)
		s.Status = next
		ApplyDerived(s, upd)
		return true, nil
	})
	return err
}

// StartAnalysis moves a pending session to processing and submits its
// documents to the agent. The status transition is persisted before the
// submit call, so two racing callers cannot both submit: the loser's
// write conflicts, re-reads a processing session, and returns without
// re-submitting.
func (o *Orchestrator) StartAnalysis(ctx context.Context, sessionID string) error {
	if o.Agent == nil {
		return fmt.Errorf("%w: no agent configured", ErrAgentUnavailable)
	}
	performed := false
	session, err := o.mutate(ctx, sessionID, func(s *AnalysisSession) (bool, error) {
		performed = false
		if s.Status == StatusProcessing {
			return false, nil
		}
		next, upd, err := Next(s.Status, TriggerAnalysisSubmit, GuardInputs{
			HasActiveJob: s.AgentJobRef != "",
			Now:          o.now(),
		})
		if err != nil {
			return false, err
		}
		o.logTransition(ctx, s, next)
		s.Status = next
		ApplyDerived(s, upd)
		performed = true
		return true, nil
	})
	if err != nil {
		return err
	}
	if !performed {
		// Already processing; the job was submitted by an earlier call.
		return nil
	}

	docs := make([]agent.SubmitDocument, 0, len(session.Documents))
	for _, d := range session.Documents {
		docs = append(docs, agent.SubmitDocument{
			DocumentID:      d.DocumentID,
			FileName:        d.FileName,
			DocumentType:    string(d.DocumentType),
			StorageLocation: d.StorageLocationReference,
		})
	}

	var ref agent.JobRef
	submitErr := o.callAgentWithRetry(ctx, "submit", func(ctx context.Context) error {
		var err error
		ref, err = o.Agent.Submit(ctx, docs)
		return err
	})
	if submitErr != nil {
		o.failSession(ctx, sessionID, submitErr)
		return submitErr
	}

	if _, err := o.mutate(ctx, sessionID, func(s *AnalysisSession) (bool, error) {
		if s.Status != StatusProcessing || s.AgentJobRef != "" {
			return false, nil
		}
		s.AgentJobRef = ref
		for i := range s.Documents {
			if s.Documents[i].ProcessingStatus == DocStatusNew {
				s.Documents[i].ProcessingStatus = DocStatusProcessing
			}
		}
		ApplyDerived(s, DerivedUpdates{LastModifiedTimestamp: o.now()})
		return true, nil
	}); err != nil {
		return err
	}

	if o.Queue != nil {
		msg := queue.Message{
			SessionID:     sessionID,
			CorrelationID: correlation.FromContext(ctx),
			EnqueuedAt:    o.now().Format(time.RFC3339),
		}
		if err := o.Queue.Send(ctx, msg); err != nil {
			// The reconcile poller on the status endpoint still makes
			// progress without the queue; log and move on.
			telemetry.Error("session.enqueue_failed", map[string]any{
				"correlation_id": correlation.FromContext(ctx),
				"session_id":     sessionID,
				"error":          sanitizeError(err),
			})
		}
	}
	return nil
}

// Reconcile fetches the agent outcome for a processing session and
// applies the resulting transition at most once. It is safe to call
// repeatedly from pollers and status checks.
func (o *Orchestrator) Reconcile(ctx context.Context, sessionID string) (SessionStatus, error) {
	session, _, err := o.Store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}

	switch session.Status {
	case StatusCompleted, StatusFailed:
		return session.Status, nil
	case StatusCancelled:
		return session.Status, &TransitionError{From: session.Status, Trigger: TriggerAgentSucceeded, Reason: "session is cancelled"}
	case StatusUploading, StatusPending:
		return session.Status, &TransitionError{From: session.Status, Trigger: TriggerAgentSucceeded, Reason: "no analysis in flight"}
	}

	if session.AgentJobRef == "" {
		// Submission is still settling; nothing to reconcile yet.
		return session.Status, nil
	}
	if o.Agent == nil {
		return session.Status, fmt.Errorf("%w: no agent configured", ErrAgentUnavailable)
	}

	var outcome agent.Outcome
	fetchErr := o.callAgentWithRetry(ctx, "fetch result", func(ctx context.Context) error {
		var err error
		outcome, err = o.Agent.FetchResult(ctx, session.AgentJobRef)
		return err
	})
	if fetchErr != nil {
		if errors.Is(fetchErr, ErrAgentUnavailable) {
			o.failSession(ctx, sessionID, fetchErr)
			return StatusFailed, fetchErr
		}
		return session.Status, fetchErr
	}

	switch outcome.State {
	case agent.OutcomePending:
		return session.Status, nil
	case agent.OutcomeFailed:
		reason := outcome.FailureReason
		if reason == "" {
			reason = "analysis failed"
		}
		return o.applyAgentFailure(ctx, sessionID, reason)
	case agent.OutcomeSucceeded:
		if err := agent.ValidateResult(outcome.Result); err != nil {
			return o.applyAgentFailure(ctx, sessionID, "malformed result: "+sanitizeError(err))
		}
		return o.applyAgentSuccess(ctx, sessionID, outcome.Result)
	}
	return session.Status, fmt.Errorf("unexpected agent outcome state %q", outcome.State)
}

func (o *Orchestrator) applyAgentSuccess(ctx context.Context, sessionID string, result *agent.AnalysisResult) (SessionStatus, error) {
	// Partial-document policy: individual document failures reported by
	// the agent are recorded on the documents while the session still
	// completes, unless every document failed.
	allFailed := len(result.DocumentDispositions) > 0
	for _, d := range result.DocumentDispositions {
		if d.Succeeded {
			allFailed = false
			break
		}
	}
	if allFailed {
		return o.applyAgentFailure(ctx, sessionID, "all documents failed processing")
	}

	performed := false
	session, err := o.mutate(ctx, sessionID, func(s *AnalysisSession) (bool, error) {
		performed = false
		if s.Status != StatusProcessing {
			if s.Status == StatusCancelled {
				// Late outcome for a cancelled session is discarded.
				return false, &TransitionError{From: s.Status, Trigger: TriggerAgentSucceeded, Reason: "session is cancelled"}
			}
			return false, nil
		}
		next, upd, err := Next(s.Status, TriggerAgentSucceeded, GuardInputs{ResultValid: true, Now: o.now()})
		if err != nil {
			return false, err
		}
		o.logTransition(ctx, s, next)
		applyDispositions(s, result)
		s.AnalysisResult = result
		s.SummaryResults = summaryFor(result)
		s.Status = next
		ApplyDerived(s, upd)
		performed = true
		return true, nil
	})
	if err != nil {
		var tErr *TransitionError
		if errors.As(err, &tErr) && tErr.From == StatusCancelled {
			return StatusCancelled, err
		}
		return "", err
	}
	if performed {
		metrics.IncSessionCompleted()
		metrics.ObserveAnalysisDurationMs(result.ProcessingDurationSeconds * 1000)
		if o.OnCompleted != nil {
			o.OnCompleted(ctx, session)
		}
	}
	return session.Status, nil
}

func (o *Orchestrator) applyAgentFailure(ctx context.Context, sessionID string, reason string) (SessionStatus, error) {
	performed := false
	session, err := o.mutate(ctx, sessionID, func(s *AnalysisSession) (bool, error) {
		performed = false
		if s.Status != StatusProcessing {
			if s.Status == StatusCancelled {
				return false, &TransitionError{From: s.Status, Trigger: TriggerAgentFailed, Reason: "session is cancelled"}
			}
			return false, nil
		}
		next, upd, err := Next(s.Status, TriggerAgentFailed, GuardInputs{Now: o.now()})
		if err != nil {
			return false, err
		}
		o.logTransition(ctx, s, next)
		s.Status = next
		s.ErrorMessage = sanitizeMessage(reason)
		for i := range s.Documents {
			if s.Documents[i].ProcessingStatus == DocStatusProcessing {
				s.Documents[i].ProcessingStatus = DocStatusFailed
				s.Documents[i].ErrorMessage = s.ErrorMessage
			}
		}
		ApplyDerived(s, upd)
		performed = true
		return true, nil
	})
	if err != nil {
		return "", err
	}
	if performed {
		metrics.IncSessionFailed()
	}
	return session.Status, nil
}

// Cancel moves a non-terminal session to cancelled. An in-flight agent
// job is not aborted; its late outcome will be discarded.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) error {
	performed := false
	_, err := o.mutate(ctx, sessionID, func(s *AnalysisSession) (bool, error) {
		performed = false
		next, upd, err := Next(s.Status, TriggerCancelRequested, GuardInputs{Now: o.now()})
		if err != nil {
			return false, err
		}
		o.logTransition(ctx, s, next)
		s.Status = next
		ApplyDerived(s, upd)
		performed = true
		return true, nil
	})
	if err != nil {
		return err
	}
	if performed {
		metrics.IncSessionCancelled()
	}
	return nil
}

// Delete hard-deletes the aggregate and everything owned by it. The
// caller is responsible for the permission check.
func (o *Orchestrator) Delete(ctx context.Context, sessionID, userID string) error {
	session, _, err := o.Store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return ErrNotFound
	}
	if err := o.Store.Delete(ctx, sessionID); err != nil {
		return err
	}
	if o.OnDeleted != nil {
		o.OnDeleted(ctx, sessionID)
	}
	telemetry.Info("session.deleted", map[string]any{
		"correlation_id": correlation.FromContext(ctx),
		"session_id":     sessionID,
		"user_id":        userID,
	})
	return nil
}

// Get returns the session if it belongs to userID.
func (o *Orchestrator) Get(ctx context.Context, sessionID, userID string) (AnalysisSession, error) {
	session, _, err := o.Store.Get(ctx, sessionID)
	if err != nil {
		return AnalysisSession{}, err
	}
	if session.UserID != userID {
		return AnalysisSession{}, ErrNotFound
	}
	return session, nil
}

// OpenDocument streams a stored document back to its owner. The caller
// must close the reader.
func (o *Orchestrator) OpenDocument(ctx context.Context, sessionID, userID, documentID string) (io.ReadCloser, UploadedDocument, error) {
	session, err := o.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, UploadedDocument{}, err
	}
	for _, d := range session.Documents {
		if d.DocumentID != documentID {
			continue
		}
		rc, err := o.Blobs.Open(ctx, d.StorageLocationReference)
		if err != nil {
			return nil, UploadedDocument{}, fmt.Errorf("open document %s: %w", documentID, err)
		}
		return rc, d, nil
	}
	return nil, UploadedDocument{}, ErrNotFound
}

// List returns a page of the user's sessions, newest first.
func (o *Orchestrator) List(ctx context.Context, userID string, pageSize int, continuationToken string) (Page, error) {
	if strings.TrimSpace(userID) == "" {
		return Page{}, fmt.Errorf("%w: userID is required", ErrValidation)
	}
	return o.Store.ListByUser(ctx, userID, pageSize, continuationToken)
}

// mutate runs the read-modify-write loop: load the session, let fn apply
// a transition to the copy, and write back with the token. On a token
// conflict it re-reads and re-applies against fresh state, bounded by
// StoreRetries.
func (o *Orchestrator) mutate(ctx context.Context, sessionID string, fn func(s *AnalysisSession) (bool, error)) (AnalysisSession, error) {
	retries := o.storeRetries()
	for attempt := 0; attempt <= retries; attempt++ {
		session, token, err := o.Store.Get(ctx, sessionID)
		if err != nil {
			return AnalysisSession{}, err
		}
		changed, err := fn(&session)
		if err != nil {
			return session, err
		}
		if !changed {
			return session, nil
		}
		if _, err := o.Store.Put(ctx, session, token); err != nil {
			if errors.Is(err, ErrConflict) {
				metrics.IncStoreConflictRetried()
				continue
			}
			return AnalysisSession{}, err
		}
		return session, nil
	}
	return AnalysisSession{}, fmt.Errorf("%w: session %s", ErrConcurrencyExhausted, sessionID)
}

// callAgentWithRetry retries transient agent errors with bounded
// exponential backoff. Non-transient errors surface immediately;
// exhaustion wraps the last error in ErrAgentUnavailable.
func (o *Orchestrator) callAgentWithRetry(ctx context.Context, op string, call func(ctx context.Context) error) error {
	var lastErr error
	delay := o.backoffBase()
	attempts := o.agentMaxAttempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = call(ctx)
		if lastErr == nil {
			return nil
		}
		if !agent.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		metrics.IncAgentRetried()
		telemetry.Info("agent.retry", map[string]any{
			"correlation_id": correlation.FromContext(ctx),
			"op":             op,
			"attempt":        attempt,
			"delay_ms":       delay.Milliseconds(),
			"error":          sanitizeError(lastErr),
		})
		if err := o.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
	return fmt.Errorf("%w: %s: %s", ErrAgentUnavailable, op, sanitizeError(lastErr))
}

// failSession records an unrecoverable error on the session. Uses a
// detached context so the failure is persisted even when the request
// context is gone.
func (o *Orchestrator) failSession(ctx context.Context, sessionID string, cause error) {
	bg := correlation.Background(ctx)
	if _, err := o.mutate(bg, sessionID, func(s *AnalysisSession) (bool, error) {
		if s.Status.IsTerminal() {
			return false, nil
		}
		next, upd, err := Next(s.Status, TriggerInternalFailure, GuardInputs{Now: o.now()})
		if err != nil {
			return false, err
		}
		o.logTransition(bg, s, next)
		s.Status = next
		s.ErrorMessage = sanitizeError(cause)
		ApplyDerived(s, upd)
		return true, nil
	}); err != nil {
		telemetry.Error("session.fail_record", map[string]any{
			"correlation_id": correlation.FromContext(ctx),
			"session_id":     sessionID,
			"error":          sanitizeError(err),
			"cause":          sanitizeError(cause),
		})
		return
	}
	metrics.IncSessionFailed()
}

func (o *Orchestrator) logTransition(ctx context.Context, s *AnalysisSession, next SessionStatus) {
	telemetry.Info("session.status", map[string]any{
		"correlation_id":    correlation.FromContext(ctx),
		"session_id":        s.SessionID,
		"user_id":           s.UserID,
		"status":            string(next),
		"status_transition": string(s.Status) + "->" + string(next),
	})
}

func applyDispositions(s *AnalysisSession, result *agent.AnalysisResult) {
	if len(result.DocumentDispositions) == 0 {
		for i := range s.Documents {
			s.Documents[i].ProcessingStatus = DocStatusSucceeded
			s.Documents[i].ErrorMessage = ""
		}
		return
	}
	byID := make(map[string]agent.DocumentDisposition, len(result.DocumentDispositions))
	for _, d := range result.DocumentDispositions {
		byID[d.DocumentID] = d
	}
	for i := range s.Documents {
		doc := &s.Documents[i]
		disp, ok := byID[doc.DocumentID]
		if !ok || disp.Succeeded {
			doc.ProcessingStatus = DocStatusSucceeded
			doc.ErrorMessage = ""
			continue
		}
		doc.ProcessingStatus = DocStatusFailed
		doc.ErrorMessage = sanitizeMessage(disp.ErrorMessage)
	}
}

func summaryFor(result *agent.AnalysisResult) string {
	if result.Summary != "" {
		return result.Summary
	}
	return fmt.Sprintf("Extracted %d sections, %d schedules, and %d calculations (confidence %.2f).",
		len(result.ExtractedSections), len(result.ExtractedSchedules), len(result.Calculations), result.ConfidenceScore)
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return sanitizeMessage(err.Error())
}

func sanitizeMessage(msg string) string {
	msg = strings.ReplaceAll(msg, "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}

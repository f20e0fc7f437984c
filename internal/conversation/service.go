package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"smartflow-backend/internal/permissions"
	"smartflow-backend/internal/sessions"
	"smartflow-backend/internal/shared/correlation"
	"smartflow-backend/internal/shared/metrics"
	"smartflow-backend/internal/shared/telemetry"
)

const (
	maxContentLength  = 8000
	appendRetryBudget = 5
)

// Service aggregates chat messages and feedback onto a session without
// violating its invariants. It never caches a session across calls.
type Service struct {
	Sessions sessions.SessionStore
	Store    Store
	Perms    permissions.Repo
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// AppendMessage validates citations against the session's current result
// and appends the message with a timestamp strictly greater than the
// previous message's, ties broken by the sequence number.
func (s *Service) AppendMessage(ctx context.Context, sessionID, userID string, role MessageRole, content string, citations []string) (ChatMessage, error) {
	if strings.TrimSpace(sessionID) == "" {
		return ChatMessage{}, fmt.Errorf("%w: sessionID is required", ErrValidation)
	}
	if !ValidRole(role) {
		return ChatMessage{}, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if strings.TrimSpace(content) == "" {
		return ChatMessage{}, fmt.Errorf("%w: content is required", ErrValidation)
	}
	if len(content) > maxContentLength {
		return ChatMessage{}, fmt.Errorf("%w: content exceeds %d characters", ErrValidation, maxContentLength)
	}

	session, _, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			return ChatMessage{}, ErrNotFound
		}
		return ChatMessage{}, err
	}

	for _, id := range citations {
		if !session.AnalysisResult.ContainsCitation(id) {
			return ChatMessage{}, fmt.Errorf("%w: %q", ErrInvalidCitation, id)
		}
	}

	msg := ChatMessage{
		MessageID: uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		Citations: citations,
	}

	for attempt := 0; attempt < appendRetryBudget; attempt++ {
		last, ok, err := s.Store.Last(ctx, sessionID)
		if err != nil {
			return ChatMessage{}, err
		}
		msg.Seq = 1
		msg.Timestamp = s.now()
		if ok {
			msg.Seq = last.Seq + 1
			// Never let a wall-clock rollback break strict ordering.
			if !msg.Timestamp.After(last.Timestamp) {
				msg.Timestamp = last.Timestamp.Add(time.Microsecond)
			}
		}
		err = s.Store.Append(ctx, msg)
		if err == nil {
			metrics.IncChatMessage()
			telemetry.Info("conversation.message", map[string]any{
				"correlation_id": correlation.FromContext(ctx),
				"session_id":     sessionID,
				"message_id":     msg.MessageID,
				"role":           string(role),
				"seq":            msg.Seq,
				"citations":      len(citations),
			})
			return msg, nil
		}
		if !errors.Is(err, ErrSeqConflict) {
			return ChatMessage{}, err
		}
	}
	return ChatMessage{}, fmt.Errorf("append message: %w", ErrSeqConflict)
}

// FeedbackInput is the caller-supplied portion of a feedback record.
type FeedbackInput struct {
	MessageID        string
	FeedbackType     FeedbackType
	Rating           *int
	DetailedFeedback *string
	ContextMetadata  map[string]string
}

// SubmitFeedback stores a feedback record. Detailed feedback from users
// without the permission flag is silently dropped, not rejected; the
// coarse rating is kept either way.
func (s *Service) SubmitFeedback(ctx context.Context, sessionID, userID string, input FeedbackInput) (Feedback, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(userID) == "" {
		return Feedback{}, fmt.Errorf("%w: sessionID and userID are required", ErrValidation)
	}
	if input.Rating != nil && (*input.Rating < 1 || *input.Rating > 5) {
		return Feedback{}, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}

	if _, _, err := s.Sessions.Get(ctx, sessionID); err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			return Feedback{}, ErrNotFound
		}
		return Feedback{}, err
	}

	feedbackType := input.FeedbackType
	if feedbackType == "" {
		feedbackType = FeedbackThumbs
	}

	detailed := input.DetailedFeedback
	if detailed != nil {
		perm, err := permissions.Resolve(ctx, s.Perms, userID)
		if err != nil {
			return Feedback{}, err
		}
		if !perm.CanProvideDetailedFeedback {
			detailed = nil
		}
	}

	fb := Feedback{
		FeedbackID:         uuid.NewString(),
		SessionID:          sessionID,
		UserID:             userID,
		MessageID:          input.MessageID,
		FeedbackType:       feedbackType,
		Rating:             input.Rating,
		DetailedFeedback:   detailed,
		ContextMetadata:    input.ContextMetadata,
		SubmittedTimestamp: s.now(),
	}
	if err := s.Store.CreateFeedback(ctx, fb); err != nil {
		return Feedback{}, err
	}
	metrics.IncFeedbackSubmitted()
	telemetry.Info("conversation.feedback", map[string]any{
		"correlation_id": correlation.FromContext(ctx),
		"session_id":     sessionID,
		"feedback_id":    fb.FeedbackID,
		"feedback_type":  string(feedbackType),
		"has_detail":     fb.DetailedFeedback != nil,
	})
	return fb, nil
}

// ListMessages returns the session's messages in order.
func (s *Service) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]ChatMessage, error) {
	if _, _, err := s.Sessions.Get(ctx, sessionID); err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.Store.ListBySession(ctx, sessionID, limit, offset)
}

// NotifyCompleted appends the system turn announcing a finished
// analysis. Wired as the orchestrator's OnCompleted hook; best-effort.
func (s *Service) NotifyCompleted(ctx context.Context, session sessions.AnalysisSession) {
	content := "Analysis complete."
	if session.SummaryResults != "" {
		content = "Analysis complete. " + session.SummaryResults
	}
	if _, err := s.AppendMessage(ctx, session.SessionID, "", RoleSystem, content, nil); err != nil {
		telemetry.Error("conversation.system_message", map[string]any{
			"correlation_id": correlation.FromContext(ctx),
			"session_id":     session.SessionID,
			"error":          err.Error(),
		})
	}
}

// DropSession removes conversation records for a deleted session. Wired
// as the orchestrator's OnDeleted hook.
func (s *Service) DropSession(ctx context.Context, sessionID string) {
	if err := s.Store.DeleteBySession(ctx, sessionID); err != nil {
		telemetry.Error("conversation.delete", map[string]any{
			"correlation_id": correlation.FromContext(ctx),
			"session_id":     sessionID,
			"error":          err.Error(),
		})
	}
}

package conversation

import (
	"context"
	"errors"
)

// ErrSeqConflict is returned by Append when another writer took the
// sequence number first; the caller re-reads and retries.
var ErrSeqConflict = errors.New("message sequence conflict")

// Store persists chat messages and feedback. Append is conditional on
// the message's sequence number being the next one for its session,
// which serializes concurrent appends.
type Store interface {
	Append(ctx context.Context, msg ChatMessage) error
	Last(ctx context.Context, sessionID string) (ChatMessage, bool, error)
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]ChatMessage, error)
	CreateFeedback(ctx context.Context, fb Feedback) error
	ListFeedbackBySession(ctx context.Context, sessionID string) ([]Feedback, error)
	DeleteBySession(ctx context.Context, sessionID string) error
}

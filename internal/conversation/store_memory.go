package conversation

import (
	"context"
	"sync"
)

// MemoryStore keeps conversation records in memory and is safe for
// concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]ChatMessage
	feedback map[string][]Feedback
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string][]ChatMessage),
		feedback: make(map[string][]Feedback),
	}
}

// Append stores the message if its sequence number is the next for the
// session.
func (s *MemoryStore) Append(ctx context.Context, msg ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.messages[msg.SessionID]
	var want int64 = 1
	if len(existing) > 0 {
		want = existing[len(existing)-1].Seq + 1
	}
	if msg.Seq != want {
		return ErrSeqConflict
	}
	s.messages[msg.SessionID] = append(existing, msg)
	return nil
}

// Last returns the most recent message for the session.
func (s *MemoryStore) Last(ctx context.Context, sessionID string) (ChatMessage, bool, error) {
	if err := ctx.Err(); err != nil {
		return ChatMessage{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	if len(msgs) == 0 {
		return ChatMessage{}, false, nil
	}
	return msgs[len(msgs)-1], true, nil
}

// ListBySession returns messages in append order with limit/offset.
func (s *MemoryStore) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.RLock()
	msgs := s.messages[sessionID]
	s.mu.RUnlock()

	if offset >= len(msgs) {
		return []ChatMessage{}, nil
	}
	end := len(msgs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]ChatMessage, end-offset)
	copy(out, msgs[offset:end])
	return out, nil
}

// CreateFeedback stores a feedback record.
func (s *MemoryStore) CreateFeedback(ctx context.Context, fb Feedback) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback[fb.SessionID] = append(s.feedback[fb.SessionID], fb)
	return nil
}

// ListFeedbackBySession returns feedback in submission order.
func (s *MemoryStore) ListFeedbackBySession(ctx context.Context, sessionID string) ([]Feedback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Feedback, len(s.feedback[sessionID]))
	copy(out, s.feedback[sessionID])
	return out, nil
}

// DeleteBySession removes all conversation records for the session.
func (s *MemoryStore) DeleteBySession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, sessionID)
	delete(s.feedback, sessionID)
	return nil
}

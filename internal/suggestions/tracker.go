package suggestions

import "sync"

// Tracker remembers the most recently generated suggestions per session
// and which of them were used. Suggestions are ephemeral; regenerating
// replaces the set but keeps used flags for ids that survive.
type Tracker struct {
	mu        sync.Mutex
	bySession map[string][]SuggestedQuestion
	usedByID  map[string]bool
}

// NewTracker constructs a Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		bySession: make(map[string][]SuggestedQuestion),
		usedByID:  make(map[string]bool),
	}
}

// Remember stores the generated set for a session.
func (t *Tracker) Remember(sessionID string, qs []SuggestedQuestion) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, old := range t.bySession[sessionID] {
		delete(t.usedByID, old.SuggestionID)
	}
	t.bySession[sessionID] = qs
}

// Get returns the remembered set with used flags applied.
func (t *Tracker) Get(sessionID string) ([]SuggestedQuestion, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	qs, ok := t.bySession[sessionID]
	if !ok {
		return nil, false
	}
	out := make([]SuggestedQuestion, len(qs))
	copy(out, qs)
	for i := range out {
		if t.usedByID[out[i].SuggestionID] {
			out[i].IsUsed = true
		}
	}
	return out, true
}

// MarkUsed flips a suggestion to used. The flag never reverts; marking
// again is a no-op. Returns false for unknown ids.
func (t *Tracker) MarkUsed(sessionID, suggestionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, q := range t.bySession[sessionID] {
		if q.SuggestionID == suggestionID {
			t.usedByID[suggestionID] = true
			return true
		}
	}
	return false
}

// Drop forgets a deleted session's suggestions.
func (t *Tracker) Drop(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, q := range t.bySession[sessionID] {
		delete(t.usedByID, q.SuggestionID)
	}
	delete(t.bySession, sessionID)
}

package sessions

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
)

// MemoryStore keeps session records in memory with version-counter
// tokens. Safe for concurrent use; used in dev mode and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]AnalysisSession
	versions map[string]uint64
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]AnalysisSession),
		versions: make(map[string]uint64),
	}
}

// Get returns a deep copy of the session and its current token.
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (AnalysisSession, Token, error) {
	if err := ctx.Err(); err != nil {
		return AnalysisSession{}, "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[sessionID]
	if !ok {
		return AnalysisSession{}, "", ErrNotFound
	}
	return cloneSession(record), versionToken(s.versions[sessionID]), nil
}

// Put writes the record when expected matches the stored version.
func (s *MemoryStore) Put(ctx context.Context, session AnalysisSession, expected Token) (Token, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	version, exists := s.versions[session.SessionID]
	if expected == "" {
		if exists {
			return "", ErrConflict
		}
		s.records[session.SessionID] = cloneSession(session)
		s.versions[session.SessionID] = 1
		return versionToken(1), nil
	}

	if !exists {
		return "", ErrNotFound
	}
	if versionToken(version) != expected {
		return "", ErrConflict
	}
	s.records[session.SessionID] = cloneSession(session)
	s.versions[session.SessionID] = version + 1
	return versionToken(version + 1), nil
}

// Delete removes the record.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[sessionID]; !ok {
		return ErrNotFound
	}
	delete(s.records, sessionID)
	delete(s.versions, sessionID)
	return nil
}

// ListByUser returns a page of the user's sessions, newest first. The
// continuation token is an offset, opaque to callers.
func (s *MemoryStore) ListByUser(ctx context.Context, userID string, pageSize int, continuationToken string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	offset := 0
	if continuationToken != "" {
		parsed, err := strconv.Atoi(continuationToken)
		if err != nil || parsed < 0 {
			return Page{}, ErrContinuationCorrupted
		}
		offset = parsed
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	s.mu.RLock()
	var owned []AnalysisSession
	for _, record := range s.records {
		if record.UserID == userID {
			owned = append(owned, cloneSession(record))
		}
	}
	s.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool {
		if owned[i].UploadTimestamp.Equal(owned[j].UploadTimestamp) {
			return owned[i].SessionID < owned[j].SessionID
		}
		return owned[i].UploadTimestamp.After(owned[j].UploadTimestamp)
	})

	if offset >= len(owned) {
		return Page{Sessions: []AnalysisSession{}}, nil
	}
	end := offset + pageSize
	next := ""
	if end < len(owned) {
		next = strconv.Itoa(end)
	} else {
		end = len(owned)
	}
	return Page{Sessions: owned[offset:end], ContinuationToken: next}, nil
}

func versionToken(v uint64) Token {
	return Token(strconv.FormatUint(v, 10))
}

// cloneSession deep-copies via JSON so callers never share slices or the
// attached result with the stored record.
func cloneSession(s AnalysisSession) AnalysisSession {
	payload, err := json.Marshal(s)
	if err != nil {
		return s
	}
	var out AnalysisSession
	if err := json.Unmarshal(payload, &out); err != nil {
		return s
	}
	return out
}

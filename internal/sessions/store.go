package sessions

import "context"

// Token is an opaque optimistic-concurrency token. A write is accepted
// only when the caller presents the token from its most recent read. The
// empty token means "insert new record".
type Token string

// Page is one page of a user's sessions. ContinuationToken is empty when
// no further pages exist.
type Page struct {
	Sessions          []AnalysisSession
	ContinuationToken string
}

// SessionStore is keyed read/write access to session records. It is the
// sole coordination primitive across processes: every mutation is a
// read-modify-write carrying the token from the read.
type SessionStore interface {
	// Get returns the session and its current token, or ErrNotFound.
	Get(ctx context.Context, sessionID string) (AnalysisSession, Token, error)
	// Put writes the record if expected matches the stored token
	// (ErrConflict otherwise) and returns the new token. An empty
	// expected token inserts; inserting an existing ID is ErrConflict.
	Put(ctx context.Context, session AnalysisSession, expected Token) (Token, error)
	// Delete removes the record, or ErrNotFound.
	Delete(ctx context.Context, sessionID string) error
	// ListByUser returns a page of the user's sessions, newest first.
	ListByUser(ctx context.Context, userID string, pageSize int, continuationToken string) (Page, error)
}

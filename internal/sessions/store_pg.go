package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// PGStore implements SessionStore on Postgres. The session aggregate is
// stored as a JSONB record; an integer version column carries the
// concurrency token.
type PGStore struct {
	DB *sql.DB
}

// Get returns the session and its version token.
func (s *PGStore) Get(ctx context.Context, sessionID string) (AnalysisSession, Token, error) {
	const query = `
SELECT record, version
FROM analysis_sessions
WHERE id = $1
LIMIT 1`
	var payload []byte
	var version int64
	err := s.DB.QueryRowContext(ctx, query, sessionID).Scan(&payload, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return AnalysisSession{}, "", ErrNotFound
	}
	if err != nil {
		return AnalysisSession{}, "", err
	}

	var session AnalysisSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return AnalysisSession{}, "", fmt.Errorf("decode session record id=%s: %w", sessionID, err)
	}
	return session, versionToken(uint64(version)), nil
}

// Put inserts (empty expected token) or conditionally updates the record.
func (s *PGStore) Put(ctx context.Context, session AnalysisSession, expected Token) (Token, error) {
	payload, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("encode session record id=%s: %w", session.SessionID, err)
	}

	if expected == "" {
		const insert = `
INSERT INTO analysis_sessions (id, user_id, status, record, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, 1, $5, now())
ON CONFLICT (id) DO NOTHING`
		res, err := s.DB.ExecContext(ctx, insert,
			session.SessionID, session.UserID, string(session.Status), payload, session.UploadTimestamp)
		if err != nil {
			return "", err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return "", err
		}
		if affected == 0 {
			return "", ErrConflict
		}
		return versionToken(1), nil
	}

	version, err := strconv.ParseUint(string(expected), 10, 64)
	if err != nil {
		return "", ErrConflict
	}

	const update = `
UPDATE analysis_sessions
SET status = $1, record = $2, version = version + 1, updated_at = now()
WHERE id = $3 AND version = $4`
	res, err := s.DB.ExecContext(ctx, update,
		string(session.Status), payload, session.SessionID, int64(version))
	if err != nil {
		return "", err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if affected == 0 {
		// Distinguish a stale token from a missing row.
		var exists bool
		if err := s.DB.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM analysis_sessions WHERE id = $1)`, session.SessionID).Scan(&exists); err != nil {
			return "", err
		}
		if !exists {
			return "", ErrNotFound
		}
		return "", ErrConflict
	}
	return versionToken(version + 1), nil
}

// Delete removes the record and everything keyed on it.
func (s *PGStore) Delete(ctx context.Context, sessionID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM analysis_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByUser returns a page of the user's sessions, newest first.
func (s *PGStore) ListByUser(ctx context.Context, userID string, pageSize int, continuationToken string) (Page, error) {
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

	const query = `
SELECT record
FROM analysis_sessions
WHERE user_id = $1
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3`
	rows, err := s.DB.QueryContext(ctx, query, userID, pageSize+1, offset)
	if err != nil {
		return Page{}, err
	}
	defer rows.Close()

	out := make([]AnalysisSession, 0, pageSize)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return Page{}, err
		}
		var session AnalysisSession
		if err := json.Unmarshal(payload, &session); err != nil {
			return Page{}, fmt.Errorf("decode session record: %w", err)
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return Page{}, err
	}

	next := ""
	if len(out) > pageSize {
		out = out[:pageSize]
		next = strconv.Itoa(offset + pageSize)
	}
	return Page{Sessions: out, ContinuationToken: next}, nil
}

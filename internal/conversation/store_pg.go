package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// PGStore implements Store on Postgres. A unique (session_id, seq)
// constraint backs the conditional append.
type PGStore struct {
	DB *sql.DB
}

// Append inserts the message; a sequence collision maps to
// ErrSeqConflict.
func (s *PGStore) Append(ctx context.Context, msg ChatMessage) error {
	const query = `
INSERT INTO chat_messages (id, session_id, seq, user_id, role, content, citations, metadata, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	citations, err := marshalJSONB(msg.Citations)
	if err != nil {
		return err
	}
	metadata, err := marshalJSONB(msg.Metadata)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, query,
		msg.MessageID, msg.SessionID, msg.Seq, nullString(msg.UserID),
		string(msg.Role), msg.Content, citations, metadata, msg.Timestamp)
	if err != nil && isUniqueViolation(err) {
		return ErrSeqConflict
	}
	return err
}

// Last returns the highest-sequence message for the session.
func (s *PGStore) Last(ctx context.Context, sessionID string) (ChatMessage, bool, error) {
	const query = `
SELECT id, session_id, seq, user_id, role, content, citations, metadata, ts
FROM chat_messages
WHERE session_id = $1
ORDER BY seq DESC
LIMIT 1`
	msg, err := scanMessage(s.DB.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return ChatMessage{}, false, nil
	}
	if err != nil {
		return ChatMessage{}, false, err
	}
	return msg, true, nil
}

// ListBySession returns messages in sequence order with limit/offset.
func (s *PGStore) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]ChatMessage, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 200
	}
	const query = `
SELECT id, session_id, seq, user_id, role, content, citations, metadata, ts
FROM chat_messages
WHERE session_id = $1
ORDER BY seq
LIMIT $2 OFFSET $3`
	rows, err := s.DB.QueryContext(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if out == nil {
		out = []ChatMessage{}
	}
	return out, nil
}

// CreateFeedback inserts a feedback record.
func (s *PGStore) CreateFeedback(ctx context.Context, fb Feedback) error {
	const query = `
INSERT INTO feedback (id, session_id, user_id, message_id, feedback_type, rating, detailed_feedback, context_metadata, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	metadata, err := marshalJSONB(fb.ContextMetadata)
	if err != nil {
		return err
	}
	var rating sql.NullInt64
	if fb.Rating != nil {
		rating = sql.NullInt64{Int64: int64(*fb.Rating), Valid: true}
	}
	var detailed sql.NullString
	if fb.DetailedFeedback != nil {
		detailed = sql.NullString{String: *fb.DetailedFeedback, Valid: true}
	}
	_, err = s.DB.ExecContext(ctx, query,
		fb.FeedbackID, fb.SessionID, fb.UserID, nullString(fb.MessageID),
		string(fb.FeedbackType), rating, detailed, metadata, fb.SubmittedTimestamp)
	return err
}

// ListFeedbackBySession returns feedback in submission order.
func (s *PGStore) ListFeedbackBySession(ctx context.Context, sessionID string) ([]Feedback, error) {
	const query = `
SELECT id, session_id, user_id, message_id, feedback_type, rating, detailed_feedback, context_metadata, submitted_at
FROM feedback
WHERE session_id = $1
ORDER BY submitted_at, id`
	rows, err := s.DB.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Feedback
	for rows.Next() {
		var fb Feedback
		var messageID sql.NullString
		var feedbackType string
		var rating sql.NullInt64
		var detailed sql.NullString
		var metadata sql.NullString
		var submitted time.Time
		if err := rows.Scan(&fb.FeedbackID, &fb.SessionID, &fb.UserID, &messageID,
			&feedbackType, &rating, &detailed, &metadata, &submitted); err != nil {
			return nil, err
		}
		fb.MessageID = messageID.String
		fb.FeedbackType = FeedbackType(feedbackType)
		if rating.Valid {
			v := int(rating.Int64)
			fb.Rating = &v
		}
		if detailed.Valid {
			v := detailed.String
			fb.DetailedFeedback = &v
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &fb.ContextMetadata); err != nil {
				return nil, err
			}
		}
		fb.SubmittedTimestamp = submitted
		out = append(out, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Feedback{}
	}
	return out, nil
}

// DeleteBySession removes all conversation records for the session.
func (s *PGStore) DeleteBySession(ctx context.Context, sessionID string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = $1`, sessionID); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, `DELETE FROM feedback WHERE session_id = $1`, sessionID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (ChatMessage, error) {
	var msg ChatMessage
	var userID sql.NullString
	var role string
	var citations sql.NullString
	var metadata sql.NullString
	if err := row.Scan(&msg.MessageID, &msg.SessionID, &msg.Seq, &userID,
		&role, &msg.Content, &citations, &metadata, &msg.Timestamp); err != nil {
		return ChatMessage{}, err
	}
	msg.UserID = userID.String
	msg.Role = MessageRole(role)
	if citations.Valid && citations.String != "" {
		if err := json.Unmarshal([]byte(citations.String), &msg.Citations); err != nil {
			return ChatMessage{}, err
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
			return ChatMessage{}, err
		}
	}
	return msg, nil
}

func marshalJSONB(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	// A typed nil slice or map marshals to "null"; store SQL NULL instead.
	if string(payload) == "null" {
		return nil, nil
	}
	return string(payload), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}

package conversation

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newConversationPG(t *testing.T) (*PGStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return &PGStore{DB: db}, mock, func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	}
}

func TestPGStoreAppendMessage(t *testing.T) {
	store, mock, done := newConversationPG(t)
	defer done()

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chat_messages")).
		WithArgs("msg-1", "sess-1", int64(1), "user-1", "user", "ping", `["sec-1"]`, nil, ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Append(context.Background(), ChatMessage{
		MessageID: "msg-1",
		SessionID: "sess-1",
		UserID:    "user-1",
		Role:      RoleUser,
		Content:   "ping",
		Seq:       1,
		Citations: []string{"sec-1"},
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestPGStoreAppendSequenceCollision(t *testing.T) {
	store, mock, done := newConversationPG(t)
	defer done()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chat_messages")).
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "uq_chat_messages_session_seq"`))

	err := store.Append(context.Background(), ChatMessage{
		MessageID: "msg-1", SessionID: "sess-1", Role: RoleUser, Content: "ping", Seq: 1,
	})
	if !errors.Is(err, ErrSeqConflict) {
		t.Fatalf("expected ErrSeqConflict, got %v", err)
	}
}

func TestPGStoreLast(t *testing.T) {
	store, mock, done := newConversationPG(t)
	defer done()

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cols := []string{"id", "session_id", "seq", "user_id", "role", "content", "citations", "metadata", "ts"}
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY seq DESC")).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("msg-2", "sess-1", int64(2), "user-1", "assistant", "pong", `["calc-1"]`, nil, ts))

	msg, ok, err := store.Last(context.Background(), "sess-1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if msg.Seq != 2 || msg.Role != RoleAssistant {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if len(msg.Citations) != 1 || msg.Citations[0] != "calc-1" {
		t.Fatalf("unexpected citations: %v", msg.Citations)
	}

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY seq DESC")).
		WithArgs("empty").
		WillReturnRows(sqlmock.NewRows(cols))
	if _, ok, err := store.Last(context.Background(), "empty"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestPGStoreListBySession(t *testing.T) {
	store, mock, done := newConversationPG(t)
	defer done()

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cols := []string{"id", "session_id", "seq", "user_id", "role", "content", "citations", "metadata", "ts"}
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY seq\nLIMIT")).
		WithArgs("sess-1", 50, 0).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("msg-1", "sess-1", int64(1), "user-1", "user", "ping", nil, nil, ts).
			AddRow("msg-2", "sess-1", int64(2), nil, "system", "Analysis complete.", nil, `{"kind":"status"}`, ts))

	msgs, err := store.ListBySession(context.Background(), "sess-1", 50, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[1].UserID != "" || msgs[1].Role != RoleSystem {
		t.Fatalf("unexpected system message: %+v", msgs[1])
	}
	if msgs[1].Metadata["kind"] != "status" {
		t.Fatalf("unexpected metadata: %v", msgs[1].Metadata)
	}
}

func TestPGStoreCreateFeedback(t *testing.T) {
	store, mock, done := newConversationPG(t)
	defer done()

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rating := 4
	detail := "schedule on page 3 is wrong"
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO feedback")).
		WithArgs("fb-1", "sess-1", "user-1", "msg-1", "detailed_text", int64(4), detail, `{"view":"chat"}`, ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.CreateFeedback(context.Background(), Feedback{
		FeedbackID:         "fb-1",
		SessionID:          "sess-1",
		UserID:             "user-1",
		MessageID:          "msg-1",
		FeedbackType:       FeedbackDetailedText,
		Rating:             &rating,
		DetailedFeedback:   &detail,
		ContextMetadata:    map[string]string{"view": "chat"},
		SubmittedTimestamp: ts,
	})
	if err != nil {
		t.Fatalf("create feedback: %v", err)
	}
}

func TestPGStoreListFeedbackBySession(t *testing.T) {
	store, mock, done := newConversationPG(t)
	defer done()

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cols := []string{"id", "session_id", "user_id", "message_id", "feedback_type", "rating", "detailed_feedback", "context_metadata", "submitted_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM feedback")).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("fb-1", "sess-1", "user-1", nil, "thumbs_up_down", int64(5), nil, nil, ts))

	fbs, err := store.ListFeedbackBySession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("list feedback: %v", err)
	}
	if len(fbs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(fbs))
	}
	if fbs[0].Rating == nil || *fbs[0].Rating != 5 {
		t.Fatalf("unexpected rating: %v", fbs[0].Rating)
	}
	if fbs[0].DetailedFeedback != nil {
		t.Fatal("expected nil detailed feedback")
	}
}

func TestPGStoreDeleteBySession(t *testing.T) {
	store, mock, done := newConversationPG(t)
	defer done()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM chat_messages")).
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM feedback")).
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.DeleteBySession(context.Background(), "sess-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

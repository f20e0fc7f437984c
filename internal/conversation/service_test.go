package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"smartflow-backend/internal/agent"
	"smartflow-backend/internal/permissions"
	"smartflow-backend/internal/sessions"
)

func completedSession(id string) sessions.AnalysisSession {
	return sessions.AnalysisSession{
		SessionID:       id,
		UserID:          "user-1",
		UploadTimestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Status:          sessions.StatusCompleted,
		AnalysisResult: &agent.AnalysisResult{
			ResultID: "res-1",
			ExtractedSections: []agent.ExtractedSection{
				{SectionID: "sec-1", SourceDocumentID: "doc-1", SectionTitle: "Ductwork", RelevanceScore: 0.8},
			},
			ExtractedSchedules: []agent.ExtractedSchedule{
				{ScheduleID: "sch-1", ScheduleName: "AHU Schedule", SourceDocumentID: "doc-1", ExtractionConfidence: 0.7},
			},
			Calculations: []agent.Calculation{
				{CalculationID: "calc-1", CalculationType: "airflow", ResultValue: "1200", ValidationStatus: agent.CalculationValid},
			},
			ConfidenceScore: 0.9,
		},
	}
}

func newConversationService(t *testing.T, session sessions.AnalysisSession) (*Service, *MemoryStore) {
	t.Helper()
	sessionStore := sessions.NewMemoryStore()
	if _, err := sessionStore.Put(context.Background(), session, ""); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	store := NewMemoryStore()
	svc := &Service{
		Sessions: sessionStore,
		Store:    store,
		Now:      func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) },
	}
	return svc, store
}

func TestAppendMessageAssignsSequence(t *testing.T) {
	svc, _ := newConversationService(t, completedSession("sess-1"))
	ctx := context.Background()

	first, err := svc.AppendMessage(ctx, "sess-1", "user-1", RoleUser, "What size ducts?", nil)
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	if first.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", first.Seq)
	}

	second, err := svc.AppendMessage(ctx, "sess-1", "user-1", RoleAssistant, "Per the spec, 24 inch mains.", []string{"sec-1"})
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if second.Seq != 2 {
		t.Fatalf("expected seq 2, got %d", second.Seq)
	}
	if !second.Timestamp.After(first.Timestamp) {
		t.Fatalf("timestamps must be strictly increasing: %v then %v", first.Timestamp, second.Timestamp)
	}
}

func TestAppendMessageFrozenClockStillOrdersStrictly(t *testing.T) {
	// The injected clock never advances, so ordering must come from the
	// microsecond bump.
	svc, _ := newConversationService(t, completedSession("sess-1"))
	ctx := context.Background()

	var prev time.Time
	for i := 0; i < 5; i++ {
		msg, err := svc.AppendMessage(ctx, "sess-1", "user-1", RoleUser, "ping", nil)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if i > 0 && !msg.Timestamp.After(prev) {
			t.Fatalf("append %d: timestamp %v not after %v", i, msg.Timestamp, prev)
		}
		prev = msg.Timestamp
	}
}

func TestAppendMessageRejectsUnknownCitation(t *testing.T) {
	svc, store := newConversationService(t, completedSession("sess-1"))
	ctx := context.Background()

	cases := [][]string{
		{"sec-999"},
		{"sec-1", "sch-999"},
	}
	for _, citations := range cases {
		_, err := svc.AppendMessage(ctx, "sess-1", "user-1", RoleUser, "cite this", citations)
		if !errors.Is(err, ErrInvalidCitation) {
			t.Fatalf("citations %v: expected ErrInvalidCitation, got %v", citations, err)
		}
	}
	msgs, _ := store.ListBySession(ctx, "sess-1", 0, 0)
	if len(msgs) != 0 {
		t.Fatalf("rejected messages must not persist, got %d", len(msgs))
	}
}

func TestAppendMessageAcceptsAllCitationKinds(t *testing.T) {
	svc, _ := newConversationService(t, completedSession("sess-1"))
	_, err := svc.AppendMessage(context.Background(), "sess-1", "user-1", RoleAssistant,
		"see the extracted items", []string{"sec-1", "sch-1", "calc-1"})
	if err != nil {
		t.Fatalf("expected section, schedule, and calculation ids to validate: %v", err)
	}
}

func TestAppendMessageCitationsRequireResult(t *testing.T) {
	session := completedSession("sess-1")
	session.Status = sessions.StatusProcessing
	session.AnalysisResult = nil
	svc, _ := newConversationService(t, session)

	// Plain messages are fine before completion.
	if _, err := svc.AppendMessage(context.Background(), "sess-1", "user-1", RoleUser, "hello", nil); err != nil {
		t.Fatalf("plain message: %v", err)
	}
	// Any citation against a missing result is invalid.
	_, err := svc.AppendMessage(context.Background(), "sess-1", "user-1", RoleUser, "cite", []string{"sec-1"})
	if !errors.Is(err, ErrInvalidCitation) {
		t.Fatalf("expected ErrInvalidCitation, got %v", err)
	}
}

func TestAppendMessageValidation(t *testing.T) {
	svc, _ := newConversationService(t, completedSession("sess-1"))
	ctx := context.Background()

	if _, err := svc.AppendMessage(ctx, "sess-1", "user-1", "robot", "hi", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown role: expected ErrValidation, got %v", err)
	}
	if _, err := svc.AppendMessage(ctx, "sess-1", "user-1", RoleUser, "   ", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("blank content: expected ErrValidation, got %v", err)
	}
	if _, err := svc.AppendMessage(ctx, "sess-1", "user-1", RoleUser, strings.Repeat("x", maxContentLength+1), nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("oversized content: expected ErrValidation, got %v", err)
	}
	if _, err := svc.AppendMessage(ctx, "missing", "user-1", RoleUser, "hi", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown session: expected ErrNotFound, got %v", err)
	}
}

type flakyStore struct {
	*MemoryStore
	conflicts int
	appends   int
}

func (s *flakyStore) Append(ctx context.Context, msg ChatMessage) error {
	s.appends++
	if s.appends <= s.conflicts {
		return ErrSeqConflict
	}
	return s.MemoryStore.Append(ctx, msg)
}

func TestAppendMessageRetriesSeqConflicts(t *testing.T) {
	svc, inner := newConversationService(t, completedSession("sess-1"))
	store := &flakyStore{MemoryStore: inner, conflicts: 2}
	svc.Store = store

	msg, err := svc.AppendMessage(context.Background(), "sess-1", "user-1", RoleUser, "hi", nil)
	if err != nil {
		t.Fatalf("append with conflicts: %v", err)
	}
	if msg.Seq != 1 {
		t.Fatalf("expected seq 1 after retries, got %d", msg.Seq)
	}
	if store.appends != 3 {
		t.Fatalf("expected 3 append attempts, got %d", store.appends)
	}
}

func TestAppendMessageGivesUpAfterRetryBudget(t *testing.T) {
	svc, inner := newConversationService(t, completedSession("sess-1"))
	svc.Store = &flakyStore{MemoryStore: inner, conflicts: 100}

	_, err := svc.AppendMessage(context.Background(), "sess-1", "user-1", RoleUser, "hi", nil)
	if !errors.Is(err, ErrSeqConflict) {
		t.Fatalf("expected ErrSeqConflict, got %v", err)
	}
}

func TestSubmitFeedbackDefaultsAndValidation(t *testing.T) {
	svc, store := newConversationService(t, completedSession("sess-1"))
	ctx := context.Background()

	rating := 4
	fb, err := svc.SubmitFeedback(ctx, "sess-1", "user-1", FeedbackInput{Rating: &rating})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if fb.FeedbackType != FeedbackThumbs {
		t.Fatalf("expected default type, got %s", fb.FeedbackType)
	}

	bad := 9
	if _, err := svc.SubmitFeedback(ctx, "sess-1", "user-1", FeedbackInput{Rating: &bad}); !errors.Is(err, ErrValidation) {
		t.Fatalf("out-of-range rating: expected ErrValidation, got %v", err)
	}
	if _, err := svc.SubmitFeedback(ctx, "missing", "user-1", FeedbackInput{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown session: expected ErrNotFound, got %v", err)
	}

	stored, _ := store.ListFeedbackBySession(ctx, "sess-1")
	if len(stored) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(stored))
	}
}

func TestSubmitFeedbackDropsDetailWithoutPermission(t *testing.T) {
	svc, store := newConversationService(t, completedSession("sess-1"))
	perms := permissions.NewMemoryRepo()
	svc.Perms = perms
	ctx := context.Background()

	detail := "the duct sizing table is wrong on page 12"
	fb, err := svc.SubmitFeedback(ctx, "sess-1", "user-1", FeedbackInput{
		FeedbackType:     FeedbackDetailedText,
		DetailedFeedback: &detail,
	})
	if err != nil {
		t.Fatalf("submit without permission: %v", err)
	}
	if fb.DetailedFeedback != nil {
		t.Fatal("detailed feedback must be dropped, not stored")
	}
	if fb.FeedbackType != FeedbackDetailedText {
		t.Fatalf("coarse record must survive, got type %s", fb.FeedbackType)
	}

	if err := perms.Upsert(ctx, permissions.UserPermission{
		UserID:                     "user-1",
		CanProvideDetailedFeedback: true,
		CanAccessHistory:           true,
		CanDeleteSessions:          true,
	}); err != nil {
		t.Fatalf("upsert permission: %v", err)
	}
	fb, err = svc.SubmitFeedback(ctx, "sess-1", "user-1", FeedbackInput{
		FeedbackType:     FeedbackDetailedText,
		DetailedFeedback: &detail,
	})
	if err != nil {
		t.Fatalf("submit with permission: %v", err)
	}
	if fb.DetailedFeedback == nil || *fb.DetailedFeedback != detail {
		t.Fatal("expected detailed feedback stored once permitted")
	}

	stored, _ := store.ListFeedbackBySession(ctx, "sess-1")
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored records, got %d", len(stored))
	}
}

func TestListMessagesPaging(t *testing.T) {
	svc, _ := newConversationService(t, completedSession("sess-1"))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := svc.AppendMessage(ctx, "sess-1", "user-1", RoleUser, "ping", nil); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	msgs, err := svc.ListMessages(ctx, "sess-1", 2, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Seq != 2 || msgs[1].Seq != 3 {
		t.Fatalf("expected seqs 2 and 3, got %+v", msgs)
	}

	if _, err := svc.ListMessages(ctx, "missing", 10, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNotifyCompletedAppendsSystemMessage(t *testing.T) {
	session := completedSession("sess-1")
	session.SummaryResults = "Extracted 3 sections."
	svc, store := newConversationService(t, session)

	svc.NotifyCompleted(context.Background(), session)

	msgs, _ := store.ListBySession(context.Background(), "sess-1", 0, 0)
	if len(msgs) != 1 {
		t.Fatalf("expected one system message, got %d", len(msgs))
	}
	if msgs[0].Role != RoleSystem {
		t.Fatalf("expected system role, got %s", msgs[0].Role)
	}
	if !strings.Contains(msgs[0].Content, "Extracted 3 sections.") {
		t.Fatalf("expected summary in content, got %q", msgs[0].Content)
	}
}

func TestDropSessionRemovesEverything(t *testing.T) {
	svc, store := newConversationService(t, completedSession("sess-1"))
	ctx := context.Background()

	if _, err := svc.AppendMessage(ctx, "sess-1", "user-1", RoleUser, "hi", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	rating := 5
	if _, err := svc.SubmitFeedback(ctx, "sess-1", "user-1", FeedbackInput{Rating: &rating}); err != nil {
		t.Fatalf("feedback: %v", err)
	}

	svc.DropSession(ctx, "sess-1")

	msgs, _ := store.ListBySession(ctx, "sess-1", 0, 0)
	fbs, _ := store.ListFeedbackBySession(ctx, "sess-1")
	if len(msgs) != 0 || len(fbs) != 0 {
		t.Fatalf("expected everything removed, got %d messages and %d feedback", len(msgs), len(fbs))
	}
}

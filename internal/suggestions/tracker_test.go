package suggestions

import (
	"testing"
	"time"
)

func trackedSet() []SuggestedQuestion {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return []SuggestedQuestion{
		{SuggestionID: "sug-1", SessionID: "sess-1", QuestionText: "q1", Category: CategoryGeneral, GeneratedTimestamp: now},
		{SuggestionID: "sug-2", SessionID: "sess-1", QuestionText: "q2", Category: CategoryGeneral, GeneratedTimestamp: now},
	}
}

func TestTrackerRememberAndGet(t *testing.T) {
	tr := NewTracker()
	if _, ok := tr.Get("sess-1"); ok {
		t.Fatal("expected miss before remember")
	}
	tr.Remember("sess-1", trackedSet())
	qs, ok := tr.Get("sess-1")
	if !ok || len(qs) != 2 {
		t.Fatalf("expected 2 remembered suggestions, got %v", qs)
	}
}

func TestTrackerMarkUsedNeverReverts(t *testing.T) {
	tr := NewTracker()
	tr.Remember("sess-1", trackedSet())

	if !tr.MarkUsed("sess-1", "sug-1") {
		t.Fatal("expected mark to succeed")
	}
	if !tr.MarkUsed("sess-1", "sug-1") {
		t.Fatal("marking again must stay a no-op success")
	}
	if tr.MarkUsed("sess-1", "sug-9") {
		t.Fatal("unknown suggestion must not mark")
	}
	if tr.MarkUsed("sess-2", "sug-1") {
		t.Fatal("wrong session must not mark")
	}

	qs, _ := tr.Get("sess-1")
	if !qs[0].IsUsed {
		t.Fatal("expected sug-1 flagged used")
	}
	if qs[1].IsUsed {
		t.Fatal("sug-2 must stay unused")
	}
}

func TestTrackerRegenerateReplacesSet(t *testing.T) {
	tr := NewTracker()
	tr.Remember("sess-1", trackedSet())
	tr.MarkUsed("sess-1", "sug-1")

	replacement := []SuggestedQuestion{
		{SuggestionID: "sug-3", SessionID: "sess-1", QuestionText: "q3", Category: CategoryGeneral},
	}
	tr.Remember("sess-1", replacement)

	qs, ok := tr.Get("sess-1")
	if !ok || len(qs) != 1 || qs[0].SuggestionID != "sug-3" {
		t.Fatalf("expected replacement set, got %v", qs)
	}
	if tr.MarkUsed("sess-1", "sug-1") {
		t.Fatal("replaced suggestion must be forgotten")
	}
}

func TestTrackerDrop(t *testing.T) {
	tr := NewTracker()
	tr.Remember("sess-1", trackedSet())
	tr.Drop("sess-1")
	if _, ok := tr.Get("sess-1"); ok {
		t.Fatal("expected dropped session to miss")
	}
	if tr.MarkUsed("sess-1", "sug-1") {
		t.Fatal("dropped session must not mark")
	}
}

func TestTrackerGetReturnsCopy(t *testing.T) {
	tr := NewTracker()
	tr.Remember("sess-1", trackedSet())
	qs, _ := tr.Get("sess-1")
	qs[0].IsUsed = true

	again, _ := tr.Get("sess-1")
	if again[0].IsUsed {
		t.Fatal("stored set mutated through a read copy")
	}
}

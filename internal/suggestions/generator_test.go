package suggestions

import (
	"testing"
	"time"

	"smartflow-backend/internal/agent"
)

func richResult() *agent.AnalysisResult {
	return &agent.AnalysisResult{
		ResultID: "res-1",
		ExtractedSections: []agent.ExtractedSection{
			{SectionID: "sec-1", SectionTitle: "Ductwork Specifications", ClassificationType: agent.SectionSpecifications, RelevanceScore: 0.95, SourceDocumentID: "doc-1"},
			{SectionID: "sec-2", SectionTitle: "Seismic Requirements", ClassificationType: agent.SectionRequirements, RelevanceScore: 0.7, SourceDocumentID: "doc-1"},
			{SectionID: "sec-3", SectionTitle: "General Notes", ClassificationType: agent.SectionOther, RelevanceScore: 0.2, SourceDocumentID: "doc-2"},
		},
		ExtractedSchedules: []agent.ExtractedSchedule{
			{ScheduleID: "sch-1", ScheduleName: "Air Handler Schedule", ExtractionConfidence: 0.85, SourceDocumentID: "doc-2"},
		},
		Calculations: []agent.Calculation{
			{CalculationID: "calc-1", CalculationType: "static pressure", ResultValue: "1.8", ValidationStatus: agent.CalculationWarning},
			{CalculationID: "calc-2", CalculationType: "airflow", ResultValue: "1200", ValidationStatus: agent.CalculationValid},
		},
		ValidationFindings: []string{"schedule row count mismatch"},
		ConfidenceScore:    0.9,
	}
}

func texts(qs []SuggestedQuestion) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.QuestionText
	}
	return out
}

func TestGenerateOrdersByRelevance(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	qs := Generate("sess-1", richResult(), now)
	if len(qs) == 0 {
		t.Fatal("expected suggestions")
	}
	for i := 1; i < len(qs); i++ {
		if qs[i].RelevanceScore > qs[i-1].RelevanceScore {
			t.Fatalf("suggestions out of order at %d: %v then %v", i, qs[i-1].RelevanceScore, qs[i].RelevanceScore)
		}
	}
	// Highest-relevance section leads.
	if qs[0].Category != CategorySpecifications {
		t.Fatalf("expected specifications question first, got %s", qs[0].Category)
	}
}

func TestGenerateQuestionTextsAreDeterministic(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	first := texts(Generate("sess-1", richResult(), now))
	second := texts(Generate("sess-1", richResult(), now))
	if len(first) != len(second) {
		t.Fatalf("expected equal counts, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("position %d differs: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestGenerateFlagsQuestionableCalculations(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	qs := Generate("sess-1", richResult(), now)

	var warn, valid float64 = -1, -1
	for _, q := range qs {
		if q.Category != CategoryCalculations {
			continue
		}
		switch {
		case q.QuestionText == "How was the static pressure calculation of 1.8 derived?":
			warn = q.RelevanceScore
		case q.QuestionText == "How was the airflow calculation of 1200 derived?":
			valid = q.RelevanceScore
		}
	}
	if warn < 0 || valid < 0 {
		t.Fatalf("missing calculation questions in %v", texts(qs))
	}
	if warn <= valid {
		t.Fatalf("warning calculation should rank above valid one: %v vs %v", warn, valid)
	}
}

func TestGenerateCapsSuggestionCount(t *testing.T) {
	result := richResult()
	for i := 0; i < MaxSuggestions+5; i++ {
		result.ExtractedSections = append(result.ExtractedSections, agent.ExtractedSection{
			SectionID:          "extra",
			SectionTitle:       "Extra",
			ClassificationType: agent.SectionOther,
			RelevanceScore:     0.5,
			SourceDocumentID:   "doc-1",
		})
	}
	qs := Generate("sess-1", result, time.Now())
	if len(qs) != MaxSuggestions {
		t.Fatalf("expected cap of %d, got %d", MaxSuggestions, len(qs))
	}
}

func TestGenerateNilResult(t *testing.T) {
	if qs := Generate("sess-1", nil, time.Now()); qs != nil {
		t.Fatalf("expected nil for nil result, got %v", qs)
	}
}

package suggestions

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"smartflow-backend/internal/agent"
)

// MaxSuggestions caps how many follow-up questions one result produces.
const MaxSuggestions = 8

// QuestionCategory is the topic of a suggested question.
type QuestionCategory string

const (
	CategorySpecifications QuestionCategory = "specifications"
	CategoryCalculations   QuestionCategory = "calculations"
	CategorySchedules      QuestionCategory = "schedules"
	CategoryRequirements   QuestionCategory = "requirements"
	CategoryContent        QuestionCategory = "content"
	CategoryGeneral        QuestionCategory = "general"
)

// SuggestedQuestion is an ephemeral, regenerable follow-up question
// derived from a completed analysis result.
type SuggestedQuestion struct {
	SuggestionID       string           `json:"suggestionId"`
	SessionID          string           `json:"sessionId"`
	QuestionText       string           `json:"questionText"`
	Category           QuestionCategory `json:"category"`
	RelevanceScore     float64          `json:"relevanceScore"`
	GeneratedTimestamp time.Time        `json:"generatedTimestamp"`
	IsUsed             bool             `json:"isUsed"`
}

type candidate struct {
	text      string
	category  QuestionCategory
	relevance float64
	order     int
}

// Generate derives follow-up questions from a completed result. It is a
// pure function of the result (plus the session id and clock): the same
// result always yields the same questions in the same order — highest
// relevance first, ties broken by extraction order.
func Generate(sessionID string, result *agent.AnalysisResult, now time.Time) []SuggestedQuestion {
	if result == nil {
		return nil
	}

	var candidates []candidate
	order := 0

	for i := range result.ExtractedSections {
		s := &result.ExtractedSections[i]
		category := CategoryContent
		switch s.ClassificationType {
		case agent.SectionSpecifications:
			category = CategorySpecifications
		case agent.SectionRequirements, agent.SectionSafety:
			category = CategoryRequirements
		}
		candidates = append(candidates, candidate{
			text:      fmt.Sprintf("What does the %q section require?", s.SectionTitle),
			category:  category,
			relevance: s.RelevanceScore,
			order:     order,
		})
		order++
	}

	for i := range result.ExtractedSchedules {
		s := &result.ExtractedSchedules[i]
		candidates = append(candidates, candidate{
			text:      fmt.Sprintf("Can you summarize the %q schedule?", s.ScheduleName),
			category:  CategorySchedules,
			relevance: s.ExtractionConfidence,
			order:     order,
		})
		order++
	}

	for i := range result.Calculations {
		c := &result.Calculations[i]
		relevance := 0.5
		if c.ValidationStatus == agent.CalculationWarning || c.ValidationStatus == agent.CalculationInvalid {
			relevance = 0.9
		}
		candidates = append(candidates, candidate{
			text:      fmt.Sprintf("How was the %s calculation of %s derived?", c.CalculationType, c.ResultValue),
			category:  CategoryCalculations,
			relevance: relevance,
			order:     order,
		})
		order++
	}

	if len(result.ValidationFindings) > 0 {
		candidates = append(candidates, candidate{
			text:      "Which validation findings need attention?",
			category:  CategoryGeneral,
			relevance: 0.8,
			order:     order,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].relevance > candidates[j].relevance
	})
	if len(candidates) > MaxSuggestions {
		candidates = candidates[:MaxSuggestions]
	}

	out := make([]SuggestedQuestion, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, SuggestedQuestion{
			SuggestionID:       uuid.NewString(),
			SessionID:          sessionID,
			QuestionText:       c.text,
			Category:           c.category,
			RelevanceScore:     c.relevance,
			GeneratedTimestamp: now.UTC(),
		})
	}
	return out
}

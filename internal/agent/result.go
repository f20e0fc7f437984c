package agent

import (
	"fmt"
	"time"
)

// SectionClassification categorizes an extracted section.
type SectionClassification string

const (
	SectionOverview       SectionClassification = "overview"
	SectionSpecifications SectionClassification = "specifications"
	SectionRequirements   SectionClassification = "requirements"
	SectionSafety         SectionClassification = "safety"
	SectionInstallation   SectionClassification = "installation"
	SectionMaintenance    SectionClassification = "maintenance"
	SectionOther          SectionClassification = "other"
)

// CalculationValidation is the validation status of a calculation.
type CalculationValidation string

const (
	CalculationValid   CalculationValidation = "valid"
	CalculationWarning CalculationValidation = "warning"
	CalculationInvalid CalculationValidation = "invalid"
	CalculationUnknown CalculationValidation = "unknown"
)

// ExtractedSection is a document section identified by the agent.
type ExtractedSection struct {
	SectionID          string                `json:"sectionId"`
	SectionTitle       string                `json:"sectionTitle"`
	ContentText        string                `json:"contentText"`
	PageNumbers        []int                 `json:"pageNumbers,omitempty"`
	ClassificationType SectionClassification `json:"classificationType"`
	RelevanceScore     float64               `json:"relevanceScore"`
	SourceDocumentID   string                `json:"sourceDocumentId"`
}

// ExtractedSchedule is tabular schedule data identified by the agent.
type ExtractedSchedule struct {
	ScheduleID           string              `json:"scheduleId"`
	ScheduleName         string              `json:"scheduleName"`
	ColumnHeaders        []string            `json:"columnHeaders,omitempty"`
	RowData              []map[string]string `json:"rowData,omitempty"`
	SourceDocumentID     string              `json:"sourceDocumentId"`
	ExtractionConfidence float64             `json:"extractionConfidence"`
	PageNumber           *int                `json:"pageNumber,omitempty"`
	ExtractionNotes      string              `json:"extractionNotes,omitempty"`
}

// Calculation is an engineering calculation derived from extracted parameters.
type Calculation struct {
	CalculationID       string                `json:"calculationId"`
	CalculationType     string                `json:"calculationType"`
	InputParameters     map[string]string     `json:"inputParameters,omitempty"`
	FormulaUsed         string                `json:"formulaUsed"`
	ResultValue         string                `json:"resultValue"`
	ResultUnit          string                `json:"resultUnit,omitempty"`
	ValidationStatus    CalculationValidation `json:"validationStatus"`
	Explanation         string                `json:"explanation"`
	CalculationWarnings string                `json:"calculationWarnings,omitempty"`
}

// DocumentDisposition reports the per-document outcome of an analysis job.
type DocumentDisposition struct {
	DocumentID   string `json:"documentId"`
	Succeeded    bool   `json:"succeeded"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// AnalysisResult is the output of a completed agent job. It is immutable
// once attached to a session.
type AnalysisResult struct {
	ResultID                     string                `json:"resultId"`
	ExtractedSections            []ExtractedSection    `json:"extractedSections"`
	ExtractedSchedules           []ExtractedSchedule   `json:"extractedSchedules"`
	Calculations                 []Calculation         `json:"calculations"`
	DocumentDispositions         []DocumentDisposition `json:"documentDispositions,omitempty"`
	ValidationFindings           []string              `json:"validationFindings,omitempty"`
	Warnings                     []string              `json:"warnings,omitempty"`
	ConfidenceScore              float64               `json:"confidenceScore"`
	ProcessingDurationSeconds    float64               `json:"processingDurationSeconds"`
	ProcessingCompletedTimestamp time.Time             `json:"processingCompletedTimestamp"`
	Summary                      string                `json:"summary,omitempty"`
}

// ContainsCitation reports whether id names a section, schedule, or
// calculation in the result.
func (r *AnalysisResult) ContainsCitation(id string) bool {
	if r == nil || id == "" {
		return false
	}
	for i := range r.ExtractedSections {
		if r.ExtractedSections[i].SectionID == id {
			return true
		}
	}
	for i := range r.ExtractedSchedules {
		if r.ExtractedSchedules[i].ScheduleID == id {
			return true
		}
	}
	for i := range r.Calculations {
		if r.Calculations[i].CalculationID == id {
			return true
		}
	}
	return false
}

// ValidateResult rejects malformed payloads before they are attached to a
// session. A result that fails here must not drive a completed transition.
func ValidateResult(r *AnalysisResult) error {
	if r == nil {
		return fmt.Errorf("result is nil")
	}
	if r.ResultID == "" {
		return fmt.Errorf("resultId is required")
	}
	if r.ConfidenceScore < 0 || r.ConfidenceScore > 1 {
		return fmt.Errorf("confidenceScore %v out of range [0,1]", r.ConfidenceScore)
	}
	if r.ProcessingDurationSeconds < 0 {
		return fmt.Errorf("processingDurationSeconds %v is negative", r.ProcessingDurationSeconds)
	}
	for i := range r.ExtractedSections {
		s := &r.ExtractedSections[i]
		if s.SectionID == "" {
			return fmt.Errorf("extractedSections[%d]: sectionId is required", i)
		}
		if s.SourceDocumentID == "" {
			return fmt.Errorf("extractedSections[%d]: sourceDocumentId is required", i)
		}
		if s.RelevanceScore < 0 || s.RelevanceScore > 1 {
			return fmt.Errorf("extractedSections[%d]: relevanceScore %v out of range [0,1]", i, s.RelevanceScore)
		}
	}
	for i := range r.ExtractedSchedules {
		s := &r.ExtractedSchedules[i]
		if s.ScheduleID == "" {
			return fmt.Errorf("extractedSchedules[%d]: scheduleId is required", i)
		}
		if s.SourceDocumentID == "" {
			return fmt.Errorf("extractedSchedules[%d]: sourceDocumentId is required", i)
		}
		if s.ExtractionConfidence < 0 || s.ExtractionConfidence > 1 {
			return fmt.Errorf("extractedSchedules[%d]: extractionConfidence %v out of range [0,1]", i, s.ExtractionConfidence)
		}
	}
	for i := range r.Calculations {
		c := &r.Calculations[i]
		if c.CalculationID == "" {
			return fmt.Errorf("calculations[%d]: calculationId is required", i)
		}
	}
	return nil
}

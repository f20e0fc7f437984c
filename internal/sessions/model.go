package sessions

import (
	"strings"
	"time"

	"smartflow-backend/internal/agent"
)

// SessionStatus is the lifecycle state of an analysis session.
type SessionStatus string

const (
	StatusUploading  SessionStatus = "uploading"
	StatusPending    SessionStatus = "pending"
	StatusProcessing SessionStatus = "processing"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
	StatusCancelled  SessionStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// DocumentType classifies an uploaded document.
type DocumentType string

const (
	DocTypeMechanicalSpec DocumentType = "mechanical_spec"
	DocTypePlanDrawing    DocumentType = "plan_drawing"
	DocTypeOther          DocumentType = "other"
)

// DocumentProcessingStatus tracks per-document progress within a session.
type DocumentProcessingStatus string

const (
	DocStatusNew        DocumentProcessingStatus = "new"
	DocStatusProcessing DocumentProcessingStatus = "processing"
	DocStatusSucceeded  DocumentProcessingStatus = "succeeded"
	DocStatusFailed     DocumentProcessingStatus = "failed"
)

// UploadedDocument is one uploaded PDF reference owned by a session.
type UploadedDocument struct {
	DocumentID               string                   `json:"documentId"`
	FileName                 string                   `json:"fileName"`
	FileSizeBytes            int64                    `json:"fileSizeBytes"`
	UploadTimestamp          time.Time                `json:"uploadTimestamp"`
	StorageLocationReference string                   `json:"storageLocationReference"`
	DocumentType             DocumentType             `json:"documentType"`
	ProcessingStatus         DocumentProcessingStatus `json:"processingStatus"`
	ErrorMessage             string                   `json:"errorMessage,omitempty"`
}

// AnalysisSession is the aggregate tracking one user's document analysis
// from upload through result and conversation. It is mutated only through
// the orchestrator via the store's concurrency token.
type AnalysisSession struct {
	SessionID             string                `json:"sessionId"`
	UserID                string                `json:"userId"`
	UploadTimestamp       time.Time             `json:"uploadTimestamp"`
	Documents             []UploadedDocument    `json:"documents"`
	Status                SessionStatus         `json:"status"`
	AgentJobRef           agent.JobRef          `json:"agentJobRef,omitempty"`
	AnalysisResult        *agent.AnalysisResult `json:"analysisResult,omitempty"`
	SummaryResults        string                `json:"summaryResults,omitempty"`
	ErrorMessage          string                `json:"errorMessage,omitempty"`
	LastModifiedTimestamp *time.Time            `json:"lastModifiedTimestamp,omitempty"`
}

// DocumentByID returns a pointer into Documents, or nil.
func (s *AnalysisSession) DocumentByID(id string) *UploadedDocument {
	for i := range s.Documents {
		if s.Documents[i].DocumentID == id {
			return &s.Documents[i]
		}
	}
	return nil
}

// ClassifyDocumentType infers the document type from the file name.
func ClassifyDocumentType(fileName string) DocumentType {
	name := strings.ToLower(fileName)
	switch {
	case strings.Contains(name, "spec"):
		return DocTypeMechanicalSpec
	case strings.Contains(name, "plan"), strings.Contains(name, "drawing"), strings.Contains(name, "dwg"):
		return DocTypePlanDrawing
	default:
		return DocTypeOther
	}
}

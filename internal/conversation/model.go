package conversation

import "time"

// MessageRole identifies the sender of a chat turn.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// ValidRole reports whether r is a known role.
func ValidRole(r MessageRole) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ChatMessage is one turn in a session's conversation. SessionID is a
// back-reference only; messages are owned by their session and deleted
// with it.
type ChatMessage struct {
	MessageID string            `json:"messageId"`
	SessionID string            `json:"sessionId"`
	UserID    string            `json:"userId,omitempty"`
	Role      MessageRole       `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Seq       int64             `json:"seq"`
	Citations []string          `json:"citations,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// FeedbackType categorizes a feedback record.
type FeedbackType string

const (
	FeedbackThumbs                 FeedbackType = "thumbs_up_down"
	FeedbackDetailedText           FeedbackType = "detailed_text"
	FeedbackAnalysisQuality        FeedbackType = "analysis_quality"
	FeedbackChatResponse           FeedbackType = "chat_response"
	FeedbackExtractionAccuracy     FeedbackType = "extraction_accuracy"
	FeedbackCalculationCorrectness FeedbackType = "calculation_correctness"
)

// Feedback is a user rating on a session or a specific message. Rating
// and DetailedFeedback are independent optional fields; DetailedFeedback
// is gated by the submitting user's permission record.
type Feedback struct {
	FeedbackID         string            `json:"feedbackId"`
	SessionID          string            `json:"sessionId"`
	UserID             string            `json:"userId"`
	MessageID          string            `json:"messageId,omitempty"`
	FeedbackType       FeedbackType      `json:"feedbackType"`
	Rating             *int              `json:"rating,omitempty"`
	DetailedFeedback   *string           `json:"detailedFeedback,omitempty"`
	SubmittedTimestamp time.Time         `json:"submittedTimestamp"`
	ContextMetadata    map[string]string `json:"contextMetadata,omitempty"`
}

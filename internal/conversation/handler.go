package conversation

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"smartflow-backend/internal/sessions"
	"smartflow-backend/internal/shared/server/middleware"
	"smartflow-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the conversation service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches conversation routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/sessions/:id/messages", h.sendMessage)
	rg.GET("/sessions/:id/messages", h.listMessages)
	rg.POST("/sessions/:id/feedback", h.submitFeedback)
}

type sendMessageRequest struct {
	Content   string   `json:"content"`
	Citations []string `json:"citations"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	session, ok := h.ownedSession(c, userID)
	if !ok {
		return
	}
	c.Set("sessionId", session.SessionID)

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, sessions.ErrorCodeValidation, "invalid request body", nil)
		return
	}

	msg, err := h.Svc.AppendMessage(c.Request.Context(), session.SessionID, userID, RoleUser, req.Content, req.Citations)
	if err != nil {
		h.respondError(c, err, "failed to send message")
		return
	}
	respond.JSON(c, http.StatusCreated, msg)
}

func (h *Handler) listMessages(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	session, ok := h.ownedSession(c, userID)
	if !ok {
		return
	}
	c.Set("sessionId", session.SessionID)

	limit := 50
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit < 0 {
		limit = 0
	}
	if limit > 200 {
		limit = 200
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	msgs, err := h.Svc.ListMessages(c.Request.Context(), session.SessionID, limit, offset)
	if err != nil {
		h.respondError(c, err, "failed to list messages")
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{"messages": msgs})
}

type submitFeedbackRequest struct {
	MessageID        string            `json:"messageId"`
	FeedbackType     string            `json:"feedbackType"`
	Rating           *int              `json:"rating"`
	DetailedFeedback *string           `json:"detailedFeedback"`
	ContextMetadata  map[string]string `json:"contextMetadata"`
}

func (h *Handler) submitFeedback(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	session, ok := h.ownedSession(c, userID)
	if !ok {
		return
	}
	c.Set("sessionId", session.SessionID)

	var req submitFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, sessions.ErrorCodeValidation, "invalid request body", nil)
		return
	}

	fb, err := h.Svc.SubmitFeedback(c.Request.Context(), session.SessionID, userID, FeedbackInput{
		MessageID:        strings.TrimSpace(req.MessageID),
		FeedbackType:     FeedbackType(req.FeedbackType),
		Rating:           req.Rating,
		DetailedFeedback: req.DetailedFeedback,
		ContextMetadata:  req.ContextMetadata,
	})
	if err != nil {
		h.respondError(c, err, "failed to submit feedback")
		return
	}
	respond.JSON(c, http.StatusCreated, fb)
}

// ownedSession loads the path session and enforces ownership. It has
// already written the error response when ok is false.
func (h *Handler) ownedSession(c *gin.Context, userID string) (sessions.AnalysisSession, bool) {
	sessionID := c.Param("id")
	if sessionID == "" {
		respond.Error(c, http.StatusBadRequest, sessions.ErrorCodeValidation, "session id is required", nil)
		return sessions.AnalysisSession{}, false
	}
	session, _, err := h.Svc.Sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			respond.Error(c, http.StatusNotFound, sessions.ErrorCodeNotFound, "session not found", nil)
			return sessions.AnalysisSession{}, false
		}
		respond.Error(c, http.StatusInternalServerError, sessions.ErrorCodeInternal, "failed to fetch session", nil)
		return sessions.AnalysisSession{}, false
	}
	if session.UserID != userID {
		respond.Error(c, http.StatusNotFound, sessions.ErrorCodeNotFound, "session not found", nil)
		return sessions.AnalysisSession{}, false
	}
	return session, true
}

func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrInvalidCitation):
		respond.Error(c, http.StatusBadRequest, ErrorCodeInvalidCitation, err.Error(), nil)
	case errors.Is(err, ErrValidation):
		respond.Error(c, http.StatusBadRequest, sessions.ErrorCodeValidation, err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, sessions.ErrorCodeNotFound, "session not found", nil)
	case errors.Is(err, ErrSeqConflict):
		c.Header("Retry-After", "1")
		respond.Error(c, http.StatusServiceUnavailable, sessions.ErrorCodeConcurrencyExhausted, "conversation is being modified concurrently, retry shortly", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, sessions.ErrorCodeInternal, fallback, nil)
	}
}

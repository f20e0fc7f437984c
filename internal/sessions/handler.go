package sessions

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"smartflow-backend/internal/permissions"
	"smartflow-backend/internal/shared/server/middleware"
	"smartflow-backend/internal/shared/server/respond"
	"smartflow-backend/internal/shared/telemetry"
	"smartflow-backend/internal/suggestions"
)

// maxUploadRequestBytes caps the whole multipart request; individual
// files are checked against MaxDocumentBytes during validation.
const maxUploadRequestBytes = 200 << 20 // 200MB

// Handler wires HTTP handlers to the orchestrator.
type Handler struct {
	Orch         *Orchestrator
	Perms        permissions.Repo
	Tracker      *suggestions.Tracker
	pollThrottle *pollThrottle
}

// NewHandler constructs a Handler.
func NewHandler(orch *Orchestrator, perms permissions.Repo, tracker *suggestions.Tracker) *Handler {
	return &Handler{
		Orch:         orch,
		Perms:        perms,
		Tracker:      tracker,
		pollThrottle: newPollThrottle(nil, orch.Now),
	}
}

// RegisterRoutes attaches session routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/sessions", h.createSession)
	rg.GET("/sessions", h.listSessions)
	rg.GET("/sessions/:id", h.getSession)
	rg.GET("/sessions/:id/status", h.getStatus)
	rg.POST("/sessions/:id/finalize", h.finalizeUpload)
	rg.POST("/sessions/:id/analyze", h.startAnalysis)
	rg.POST("/sessions/:id/cancel", h.cancelSession)
	rg.DELETE("/sessions/:id", h.deleteSession)
	rg.GET("/sessions/:id/documents/:documentId/download", h.downloadDocument)
	rg.GET("/sessions/:id/suggestions", h.listSuggestions)
	rg.POST("/sessions/:id/suggestions/:suggestionId/used", h.markSuggestionUsed)
}

func (h *Handler) createSession(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadRequestBytes)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(c, http.StatusRequestEntityTooLarge, ErrorCodeValidation, "upload exceeds the request size limit", nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "multipart form is required", nil)
		return
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		headers = form.File["file"]
	}
	if len(headers) == 0 {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "at least one file is required", nil)
		return
	}

	files := make([]UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "unable to read file "+fh.Filename, nil)
			return
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "unable to read file "+fh.Filename, nil)
			return
		}
		files = append(files, UploadFile{FileName: fh.Filename, Content: content})
	}

	sessionID, err := h.Orch.RegisterUpload(c.Request.Context(), userID, files)
	if err != nil {
		h.respondError(c, err, "failed to create session")
		return
	}
	c.Set("sessionId", sessionID)

	if c.Query("finalize") != "false" {
		if err := h.Orch.FinalizeUpload(c.Request.Context(), sessionID); err != nil {
			h.respondError(c, err, "failed to finalize upload")
			return
		}
	}

	session, err := h.Orch.Get(c.Request.Context(), sessionID, userID)
	if err != nil {
		h.respondError(c, err, "failed to fetch session")
		return
	}
	respond.JSON(c, http.StatusCreated, toSessionResponse(session))
}

func (h *Handler) finalizeUpload(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	session, ok := h.ownedSession(c, userID)
	if !ok {
		return
	}
	c.Set("sessionId", session.SessionID)

	if err := h.Orch.FinalizeUpload(c.Request.Context(), session.SessionID); err != nil {
		h.respondError(c, err, "failed to finalize upload")
		return
	}
	session, err := h.Orch.Get(c.Request.Context(), session.SessionID, userID)
	if err != nil {
		h.respondError(c, err, "failed to fetch session")
		return
	}
	respond.JSON(c, http.StatusOK, toSessionResponse(session))
}

func (h *Handler) startAnalysis(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	session, ok := h.ownedSession(c, userID)
	if !ok {
		return
	}
	c.Set("sessionId", session.SessionID)

	if err := h.Orch.StartAnalysis(c.Request.Context(), session.SessionID); err != nil {
		h.respondError(c, err, "failed to start analysis")
		return
	}
	respond.JSON(c, http.StatusAccepted, gin.H{
		"sessionId": session.SessionID,
		"status":    StatusProcessing,
	})
}

func (h *Handler) getSession(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	session, ok := h.ownedSession(c, userID)
	if !ok {
		return
	}
	c.Set("sessionId", session.SessionID)
	respond.JSON(c, http.StatusOK, toSessionResponse(session))
}

func (h *Handler) getStatus(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	session, ok := h.ownedSession(c, userID)
	if !ok {
		return
	}
	c.Set("sessionId", session.SessionID)

	if !h.pollThrottle.Allow(userID, session.SessionID, session.Status) {
		c.Header("Retry-After", strconv.Itoa(h.pollThrottle.RetryAfterSeconds(session.Status)))
		respond.Error(c, http.StatusTooManyRequests, "poll_rate_limited", "status polled too frequently", nil)
		return
	}

	if session.Status == StatusProcessing {
		before := session.Status
		next, err := h.Orch.Reconcile(c.Request.Context(), session.SessionID)
		if err != nil {
			var tErr *TransitionError
			if !errors.As(err, &tErr) {
				h.respondError(c, err, "failed to refresh session status")
				return
			}
			// A discarded late outcome still reports the stored status.
		}
		if next != "" && next != before {
			c.Set("statusTransition", string(before)+"->"+string(next))
		}
		refreshed, err := h.Orch.Get(c.Request.Context(), session.SessionID, userID)
		if err != nil {
			h.respondError(c, err, "failed to fetch session")
			return
		}
		session = refreshed
	}

	resp := gin.H{
		"sessionId": session.SessionID,
		"status":    session.Status,
	}
	if session.SummaryResults != "" {
		resp["summaryResults"] = session.SummaryResults
	}
	if session.ErrorMessage != "" {
		resp["errorMessage"] = session.ErrorMessage
	}
	respond.JSON(c, http.StatusOK, resp)
}

func (h *Handler) cancelSession(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	session, ok := h.ownedSession(c, userID)
	if !ok {
		return
	}
	c.Set("sessionId", session.SessionID)

	if err := h.Orch.Cancel(c.Request.Context(), session.SessionID); err != nil {
		h.respondError(c, err, "failed to cancel session")
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{
		"sessionId": session.SessionID,
		"status":    StatusCancelled,
	})
}

func (h *Handler) deleteSession(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	session, ok := h.ownedSession(c, userID)
	if !ok {
		return
	}
	c.Set("sessionId", session.SessionID)

	perm, err := permissions.Resolve(c.Request.Context(), h.Perms, userID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to resolve permissions", nil)
		return
	}
	if !perm.CanDeleteSessions {
		respond.Error(c, http.StatusForbidden, ErrorCodePermissionDenied, "session deletion is not permitted", nil)
		return
	}

	if err := h.Orch.Delete(c.Request.Context(), session.SessionID, userID); err != nil {
		h.respondError(c, err, "failed to delete session")
		return
	}
	if h.Tracker != nil {
		h.Tracker.Drop(session.SessionID)
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) downloadDocument(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	sessionID := c.Param("id")
	c.Set("sessionId", sessionID)

	perm, err := permissions.Resolve(c.Request.Context(), h.Perms, userID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to resolve permissions", nil)
		return
	}
	if !perm.CanExportResults {
		respond.Error(c, http.StatusForbidden, ErrorCodePermissionDenied, "document export is not permitted", nil)
		return
	}

	rc, doc, err := h.Orch.OpenDocument(c.Request.Context(), sessionID, userID, c.Param("documentId"))
	if err != nil {
		h.respondError(c, err, "failed to open document")
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", `attachment; filename="`+doc.FileName+`"`)
	c.Header("Content-Type", "application/pdf")
	if doc.FileSizeBytes > 0 {
		c.Header("Content-Length", strconv.FormatInt(doc.FileSizeBytes, 10))
	}
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		telemetry.Error("session.document.download_copy_failed", map[string]any{
			"session_id":  sessionID,
			"document_id": doc.DocumentID,
			"error":       err.Error(),
		})
	}
}

func (h *Handler) listSessions(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	perm, err := permissions.Resolve(c.Request.Context(), h.Perms, userID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to resolve permissions", nil)
		return
	}
	if !perm.CanAccessHistory {
		respond.Error(c, http.StatusForbidden, ErrorCodePermissionDenied, "session history is not permitted", nil)
		return
	}

	pageSize := 20
	if v := c.Query("pageSize"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			pageSize = parsed
		}
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > 50 {
		pageSize = 50
	}

	page, err := h.Orch.List(c.Request.Context(), userID, pageSize, c.Query("continuationToken"))
	if err != nil {
		h.respondError(c, err, "failed to list sessions")
		return
	}

	items := make([]gin.H, 0, len(page.Sessions))
	for _, s := range page.Sessions {
		item := gin.H{
			"sessionId":       s.SessionID,
			"status":          s.Status,
			"uploadTimestamp": s.UploadTimestamp,
			"documentCount":   len(s.Documents),
		}
		if s.SummaryResults != "" {
			item["summaryResults"] = s.SummaryResults
		}
		if s.LastModifiedTimestamp != nil {
			item["lastModifiedTimestamp"] = s.LastModifiedTimestamp
		}
		items = append(items, item)
	}

	resp := gin.H{"sessions": items}
	if page.ContinuationToken != "" {
		resp["continuationToken"] = page.ContinuationToken
	}
	respond.JSON(c, http.StatusOK, resp)
}

func (h *Handler) listSuggestions(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	session, ok := h.ownedSession(c, userID)
	if !ok {
		return
	}
	c.Set("sessionId", session.SessionID)

	if session.Status != StatusCompleted || session.AnalysisResult == nil {
		respond.Error(c, http.StatusConflict, ErrorCodeInvalidTransition, "suggestions require a completed analysis", nil)
		return
	}

	refresh := c.Query("refresh") == "true"
	var qs []suggestions.SuggestedQuestion
	if !refresh {
		qs, ok = h.Tracker.Get(session.SessionID)
	}
	if refresh || !ok {
		now := time.Now().UTC()
		if h.Orch.Now != nil {
			now = h.Orch.Now().UTC()
		}
		qs = suggestions.Generate(session.SessionID, session.AnalysisResult, now)
		h.Tracker.Remember(session.SessionID, qs)
	}
	respond.JSON(c, http.StatusOK, gin.H{"suggestions": qs})
}

func (h *Handler) markSuggestionUsed(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	session, ok := h.ownedSession(c, userID)
	if !ok {
		return
	}
	c.Set("sessionId", session.SessionID)

	suggestionID := c.Param("suggestionId")
	if !h.Tracker.MarkUsed(session.SessionID, suggestionID) {
		respond.Error(c, http.StatusNotFound, ErrorCodeNotFound, "suggestion not found", nil)
		return
	}
	c.Status(http.StatusNoContent)
}

// ownedSession loads the path session and enforces ownership. It has
// already written the error response when ok is false.
func (h *Handler) ownedSession(c *gin.Context, userID string) (AnalysisSession, bool) {
	sessionID := c.Param("id")
	if sessionID == "" {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "session id is required", nil)
		return AnalysisSession{}, false
	}
	session, err := h.Orch.Get(c.Request.Context(), sessionID, userID)
	if err != nil {
		h.respondError(c, err, "failed to fetch session")
		return AnalysisSession{}, false
	}
	return session, true
}

func toSessionResponse(s AnalysisSession) gin.H {
	docs := make([]gin.H, 0, len(s.Documents))
	for _, d := range s.Documents {
		doc := gin.H{
			"documentId":       d.DocumentID,
			"fileName":         d.FileName,
			"fileSizeBytes":    d.FileSizeBytes,
			"uploadTimestamp":  d.UploadTimestamp,
			"documentType":     d.DocumentType,
			"processingStatus": d.ProcessingStatus,
		}
		if d.ErrorMessage != "" {
			doc["errorMessage"] = d.ErrorMessage
		}
		docs = append(docs, doc)
	}

	resp := gin.H{
		"sessionId":       s.SessionID,
		"status":          s.Status,
		"uploadTimestamp": s.UploadTimestamp,
		"documents":       docs,
	}
	if s.Status == StatusCompleted && s.AnalysisResult != nil {
		resp["analysisResult"] = s.AnalysisResult
	}
	if s.SummaryResults != "" {
		resp["summaryResults"] = s.SummaryResults
	}
	if s.ErrorMessage != "" {
		resp["errorMessage"] = s.ErrorMessage
	}
	if s.LastModifiedTimestamp != nil {
		resp["lastModifiedTimestamp"] = s.LastModifiedTimestamp
	}
	return resp
}

func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	var tErr *TransitionError
	switch {
	case errors.Is(err, ErrValidation):
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, ErrorCodeNotFound, "session not found", nil)
	case errors.As(err, &tErr), errors.Is(err, ErrInvalidTransition):
		respond.Error(c, http.StatusConflict, ErrorCodeInvalidTransition, err.Error(), nil)
	case errors.Is(err, ErrConcurrencyExhausted):
		c.Header("Retry-After", "1")
		respond.Error(c, http.StatusServiceUnavailable, ErrorCodeConcurrencyExhausted, "session is being modified concurrently, retry shortly", nil)
	case errors.Is(err, ErrAgentUnavailable):
		respond.Error(c, http.StatusServiceUnavailable, ErrorCodeAgentUnavailable, "analysis agent is unavailable", nil)
	case errors.Is(err, ErrPermissionDenied):
		respond.Error(c, http.StatusForbidden, ErrorCodePermissionDenied, err.Error(), nil)
	case errors.Is(err, ErrContinuationCorrupted):
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid continuation token", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, fallback, nil)
	}
}

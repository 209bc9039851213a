package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ressKim-io/leafscan/internal/usecase"
)

// SessionCookie configures the cookie that identifies a browser session
type SessionCookie struct {
	Name   string
	TTL    time.Duration
	Secure bool
}

// UploadHandler handles the image upload component requests
type UploadHandler struct {
	uploadUC usecase.UploadUsecase
	cookie   SessionCookie
	logger   *zap.Logger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(uploadUC usecase.UploadUsecase, cookie SessionCookie, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{
		uploadUC: uploadUC,
		cookie:   cookie,
		logger:   logger,
	}
}

// Page handles GET /
func (h *UploadHandler) Page(c *gin.Context) {
	view, ok := h.session(c)
	if !ok {
		return
	}

	c.Header("Cache-Control", "no-store")
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Title": "Potato Disease Classification",
		"View":  view,
	})
}

// Upload handles POST /upload
func (h *UploadHandler) Upload(c *gin.Context) {
	view, ok := h.session(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			HandlePayloadTooLarge(c, tooLarge.Limit)
			return
		}
		HandleInvalidRequest(c, "expected multipart form with field \"file\"")
		return
	}
	defer func() { _ = form.RemoveAll() }()

	input, found, err := PickImage(form.File["file"])
	if err != nil {
		HandleInvalidRequest(c, err.Error())
		return
	}
	if !found {
		HandleInvalidRequest(c, "no image file in upload")
		return
	}

	output, err := h.uploadUC.Select(c.Request.Context(), view.SessionID, input)
	if err != nil {
		HandleUsecaseError(c, err)
		return
	}

	respondView(c, http.StatusOK, output)
}

// Clear handles POST /clear
func (h *UploadHandler) Clear(c *gin.Context) {
	view, ok := h.session(c)
	if !ok {
		return
	}

	output, err := h.uploadUC.Clear(c.Request.Context(), view.SessionID)
	if err != nil {
		HandleUsecaseError(c, err)
		return
	}

	respondView(c, http.StatusOK, output)
}

// Preview handles GET /preview/:id
func (h *UploadHandler) Preview(c *gin.Context) {
	sessionID, err := c.Cookie(h.cookie.Name)
	if err != nil || sessionID == "" {
		HandleUsecaseError(c, usecase.ErrPreviewNotFound)
		return
	}

	id, err := ExtractUUIDParam(c, "id")
	if err != nil {
		HandleInvalidUUID(c, "preview id")
		return
	}

	content, err := h.uploadUC.Preview(c.Request.Context(), sessionID, id)
	if err != nil {
		if errors.Is(err, usecase.ErrSessionNotFound) {
			err = usecase.ErrPreviewNotFound
		}
		HandleUsecaseError(c, err)
		return
	}

	c.Header("Cache-Control", "private, no-store")
	c.Data(http.StatusOK, content.ContentType, content.Data)
}

// State handles GET /api/v1/state
func (h *UploadHandler) State(c *gin.Context) {
	view, ok := h.session(c)
	if !ok {
		return
	}

	respondSuccess(c, http.StatusOK, view)
}

// Send handles POST /api/v1/send
func (h *UploadHandler) Send(c *gin.Context) {
	view, ok := h.session(c)
	if !ok {
		return
	}

	output, err := h.uploadUC.Resend(c.Request.Context(), view.SessionID)
	if err != nil {
		HandleUsecaseError(c, err)
		return
	}

	respondSuccess(c, http.StatusAccepted, output)
}

// ListClassifications handles GET /api/v1/classifications.
// scope=session restricts the list to the caller's session.
func (h *UploadHandler) ListClassifications(c *gin.Context) {
	pagination := ParsePagination(c)

	sessionID := ""
	if c.Query("scope") == "session" {
		view, ok := h.session(c)
		if !ok {
			return
		}
		sessionID = view.SessionID
	}

	output, err := h.uploadUC.ListClassifications(c.Request.Context(), sessionID, pagination.Limit, pagination.Offset)
	if err != nil {
		HandleUsecaseError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, output)
}

// GetClassification handles GET /api/v1/classifications/:id
func (h *UploadHandler) GetClassification(c *gin.Context) {
	id, err := ExtractUUIDParam(c, "id")
	if err != nil {
		HandleInvalidUUID(c, "classification id")
		return
	}

	output, err := h.uploadUC.GetClassification(c.Request.Context(), id)
	if err != nil {
		HandleUsecaseError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, output)
}

// session resolves the caller's session from its cookie, starting a new
// one when needed. On failure the error response is already written.
func (h *UploadHandler) session(c *gin.Context) (*usecase.ViewOutput, bool) {
	sessionID, _ := c.Cookie(h.cookie.Name)

	view, err := h.uploadUC.EnsureSession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("Failed to resolve session", zap.Error(err))
		HandleUsecaseError(c, err)
		return nil, false
	}

	if view.SessionID != sessionID {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(h.cookie.Name, view.SessionID, int(h.cookie.TTL.Seconds()), "/", "", h.cookie.Secure, true)
	}
	return view, true
}

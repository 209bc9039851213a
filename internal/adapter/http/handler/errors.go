package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ressKim-io/leafscan/internal/usecase"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	StatusCode int
	Code       string
	Message    string
}

// MapUsecaseError maps usecase errors to HTTP error responses.
func MapUsecaseError(err error) ErrorResponse {
	switch {
	case errors.Is(err, usecase.ErrSessionNotFound):
		return ErrorResponse{
			StatusCode: http.StatusNotFound,
			Code:       "NOT_FOUND",
			Message:    "session not found",
		}
	case errors.Is(err, usecase.ErrPreviewNotFound):
		return ErrorResponse{
			StatusCode: http.StatusNotFound,
			Code:       "NOT_FOUND",
			Message:    "preview not found",
		}
	case errors.Is(err, usecase.ErrRecordNotFound):
		return ErrorResponse{
			StatusCode: http.StatusNotFound,
			Code:       "NOT_FOUND",
			Message:    "classification not found",
		}
	case errors.Is(err, usecase.ErrNoFileSelected):
		return ErrorResponse{
			StatusCode: http.StatusConflict,
			Code:       "CONFLICT",
			Message:    "no file selected",
		}
	case errors.Is(err, usecase.ErrInvalidImage):
		return ErrorResponse{
			StatusCode: http.StatusBadRequest,
			Code:       "INVALID_REQUEST",
			Message:    "file is not an image",
		}
	case errors.Is(err, usecase.ErrHistoryDisabled):
		return ErrorResponse{
			StatusCode: http.StatusServiceUnavailable,
			Code:       "UNAVAILABLE",
			Message:    "classification history is disabled",
		}
	default:
		return ErrorResponse{
			StatusCode: http.StatusInternalServerError,
			Code:       "INTERNAL_ERROR",
			Message:    "internal server error",
		}
	}
}

// HandleUsecaseError handles a usecase error by sending an appropriate HTTP response.
func HandleUsecaseError(c *gin.Context, err error) {
	errResp := MapUsecaseError(err)
	respondError(c, errResp.StatusCode, errResp.Code, errResp.Message)
}

// HandleInvalidUUID handles an invalid UUID parameter error.
func HandleInvalidUUID(c *gin.Context, paramName string) {
	respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid "+paramName)
}

// HandleInvalidRequest handles a generic invalid request error.
func HandleInvalidRequest(c *gin.Context, message string) {
	respondError(c, http.StatusBadRequest, "INVALID_REQUEST", message)
}

// HandlePayloadTooLarge handles a request body that exceeded limit bytes.
func HandlePayloadTooLarge(c *gin.Context, limit int64) {
	respondError(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
		fmt.Sprintf("upload exceeds %d bytes", limit))
}

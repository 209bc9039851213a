package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ressKim-io/leafscan/internal/adapter/preview"
	"github.com/ressKim-io/leafscan/internal/domain/entity"
	"github.com/ressKim-io/leafscan/internal/usecase"
)

// PaginationParams holds pagination parameters
type PaginationParams struct {
	Limit  int
	Offset int
}

// Default pagination values
const (
	DefaultLimit  = 20
	MaxLimit      = 100
	DefaultOffset = 0
)

// ParsePagination extracts and validates pagination parameters from the request.
// It returns validated PaginationParams with safe default values.
func ParsePagination(c *gin.Context) *PaginationParams {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultLimit)))
	if err != nil || limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, err := strconv.Atoi(c.DefaultQuery("offset", strconv.Itoa(DefaultOffset)))
	if err != nil || offset < 0 {
		offset = DefaultOffset
	}

	return &PaginationParams{
		Limit:  limit,
		Offset: offset,
	}
}

// ExtractUUIDParam extracts and parses a UUID parameter from the URL path.
// Returns the parsed UUID or an error if the parameter is invalid.
func ExtractUUIDParam(c *gin.Context, param string) (uuid.UUID, error) {
	idStr := c.Param(param)
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", param, err)
	}
	return id, nil
}

// PickImage reads the offered files in order and returns the first one
// whose content sniffs as an image. ok is false when none is an image.
func PickImage(files []*multipart.FileHeader) (input *usecase.SelectInput, ok bool, err error) {
	for _, fh := range files {
		data, err := readFormFile(fh)
		if err != nil {
			return nil, false, err
		}

		contentType := preview.DetectContentType(data)
		if !entity.IsImageType(contentType) {
			continue
		}

		return &usecase.SelectInput{
			Name:        filepath.Base(fh.Filename),
			ContentType: contentType,
			Data:        data,
		}, true, nil
	}
	return nil, false, nil
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return data, nil
}

package entity

import (
	"strings"

	"github.com/google/uuid"
)

// SelectedFile is the image the user chose for upload
type SelectedFile struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Data        []byte `json:"data"`
}

// NewSelectedFile creates a SelectedFile from raw bytes
func NewSelectedFile(name, contentType string, data []byte) *SelectedFile {
	return &SelectedFile{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Data:        data,
	}
}

// IsImage reports whether the file carries an image MIME type
func (f *SelectedFile) IsImage() bool {
	return IsImageType(f.ContentType)
}

// IsImageType reports whether contentType matches image/*
func IsImageType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "image/")
}

// PreviewHandle is a display reference derived from a SelectedFile.
// It is valid only while it is the live handle of its session.
type PreviewHandle struct {
	ID          uuid.UUID `json:"id"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"data"`
}

// NewPreviewHandle creates a PreviewHandle with a fresh ID
func NewPreviewHandle(contentType string, data []byte) *PreviewHandle {
	return &PreviewHandle{
		ID:          uuid.New(),
		ContentType: contentType,
		Data:        data,
	}
}

// URL returns the path the page uses to display the preview
func (p *PreviewHandle) URL() string {
	return "/preview/" + p.ID.String()
}

// ClassificationResult is the label returned by the classification API
type ClassificationResult struct {
	Class      string   `json:"class"`
	Confidence *float64 `json:"confidence,omitempty"`
}

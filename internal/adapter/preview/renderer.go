package preview

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	"github.com/ressKim-io/leafscan/internal/domain/entity"
	"github.com/ressKim-io/leafscan/internal/domain/service"
)

// ErrNotImage is returned for files that are not image/*
var ErrNotImage = errors.New("file is not an image")

var encodeFormats = map[string]imaging.Format{
	"image/jpeg": imaging.JPEG,
	"image/png":  imaging.PNG,
	"image/gif":  imaging.GIF,
	"image/bmp":  imaging.BMP,
	"image/tiff": imaging.TIFF,
}

// DetectContentType sniffs the MIME type of data, without parameters
func DetectContentType(data []byte) string {
	mt := mimetype.Detect(data).String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.TrimSpace(mt)
}

// Renderer produces preview handles scaled to fit a bounding box
type Renderer struct {
	maxWidth  int
	maxHeight int
}

// NewRenderer creates a Renderer. Non-positive bounds disable scaling.
func NewRenderer(maxWidth, maxHeight int) *Renderer {
	return &Renderer{maxWidth: maxWidth, maxHeight: maxHeight}
}

var _ service.PreviewRenderer = (*Renderer)(nil)

// Render returns a preview for file. Images that cannot be decoded are
// previewed with their original bytes.
func (r *Renderer) Render(file *entity.SelectedFile) (*entity.PreviewHandle, error) {
	if !file.IsImage() {
		return nil, ErrNotImage
	}

	format, ok := encodeFormats[file.ContentType]
	if !ok || r.maxWidth <= 0 || r.maxHeight <= 0 {
		return entity.NewPreviewHandle(file.ContentType, file.Data), nil
	}

	img, err := imaging.Decode(bytes.NewReader(file.Data), imaging.AutoOrientation(true))
	if err != nil {
		return entity.NewPreviewHandle(file.ContentType, file.Data), nil
	}

	bounds := img.Bounds()
	if bounds.Dx() <= r.maxWidth && bounds.Dy() <= r.maxHeight {
		return entity.NewPreviewHandle(file.ContentType, file.Data), nil
	}

	fitted := imaging.Fit(img, r.maxWidth, r.maxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, format); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}

	return entity.NewPreviewHandle(file.ContentType, buf.Bytes()), nil
}

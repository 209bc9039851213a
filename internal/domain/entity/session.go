package entity

import (
	"time"

	"github.com/google/uuid"
)

// UploadState represents where a session is in its upload cycle
type UploadState string

const (
	StateIdle            UploadState = "idle"
	StateSelected        UploadState = "selected"
	StateUploading       UploadState = "uploading"
	StateDisplaying      UploadState = "displaying"
	StateIdleWithPreview UploadState = "idle_with_preview"
)

// Session holds the view state of one image upload component.
// At most one file/preview/result triple is live at a time.
type Session struct {
	ID         string                `json:"id"`
	State      UploadState           `json:"state"`
	File       *SelectedFile         `json:"file,omitempty"`
	Preview    *PreviewHandle        `json:"preview,omitempty"`
	Result     *ClassificationResult `json:"result,omitempty"`
	Loading    bool                  `json:"loading"`
	Generation uint64                `json:"generation"`
	Revision   uint64                `json:"revision"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// NewSession creates an idle session with a random ID
func NewSession() *Session {
	return &Session{
		ID:        uuid.New().String(),
		State:     StateIdle,
		UpdatedAt: time.Now().UTC(),
	}
}

// Select makes file the live selection, discarding the previous result.
// It returns the preview handle that was released, if any.
func (s *Session) Select(file *SelectedFile, preview *PreviewHandle) *PreviewHandle {
	released := s.Preview
	s.File = file
	s.Preview = preview
	s.Result = nil
	s.Loading = false
	s.Generation++
	s.State = StateSelected
	s.touch()
	return released
}

// BeginUpload sets the loading flag and returns the generation the upload belongs to.
// ok is false when no file is selected.
func (s *Session) BeginUpload() (generation uint64, ok bool) {
	if s.File == nil {
		return 0, false
	}
	s.Loading = true
	s.State = StateUploading
	s.touch()
	return s.Generation, true
}

// CompleteUpload stores result if generation is still current
func (s *Session) CompleteUpload(generation uint64, result *ClassificationResult) bool {
	if generation != s.Generation || s.File == nil {
		return false
	}
	s.Result = result
	s.Loading = false
	s.State = StateDisplaying
	s.touch()
	return true
}

// FailUpload clears the loading flag if generation is still current.
// The preview stays visible.
func (s *Session) FailUpload(generation uint64) bool {
	if generation != s.Generation || s.File == nil {
		return false
	}
	s.Loading = false
	if s.Result != nil {
		s.State = StateDisplaying
	} else {
		s.State = StateIdleWithPreview
	}
	s.touch()
	return true
}

// Clear resets the session to idle and returns the released preview handle.
// Uploads still in flight become stale, so the loading flag is dropped too.
func (s *Session) Clear() *PreviewHandle {
	released := s.Preview
	s.File = nil
	s.Preview = nil
	s.Result = nil
	s.Loading = false
	s.Generation++
	s.State = StateIdle
	s.touch()
	return released
}

// HasPreview returns true if a preview should be rendered
func (s *Session) HasPreview() bool {
	return s.Preview != nil
}

// touch bumps Revision on every mutation so snapshots can be ordered
func (s *Session) touch() {
	s.Revision++
	s.UpdatedAt = time.Now().UTC()
}

// Clone returns a copy of the session. File, preview and result are
// replaced rather than mutated, so they are shared with the copy.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

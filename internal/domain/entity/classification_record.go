package entity

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Column widths of classification_records
const (
	maxFileNameLen    = 255
	maxContentTypeLen = 100
	maxLabelLen       = 100
)

// RecordStatus represents the outcome of an upload attempt
type RecordStatus string

const (
	RecordStatusSucceeded RecordStatus = "succeeded"
	RecordStatusFailed    RecordStatus = "failed"
)

// ClassificationRecord is the history entry of one upload attempt
type ClassificationRecord struct {
	ID          uuid.UUID    `json:"id" gorm:"type:uuid;primary_key"`
	SessionID   string       `json:"session_id" gorm:"type:varchar(64);not null;index"`
	FileName    string       `json:"file_name" gorm:"type:varchar(255);not null"`
	ContentType string       `json:"content_type" gorm:"type:varchar(100);not null"`
	Size        int64        `json:"size" gorm:"not null"`
	Status      RecordStatus `json:"status" gorm:"type:varchar(20);not null"`
	Label       string       `json:"label" gorm:"type:varchar(100)"`
	Error       string       `json:"error,omitempty" gorm:"type:text"`
	Stale       bool         `json:"stale" gorm:"default:false"`
	LatencyMs   int64        `json:"latency_ms" gorm:"default:0"`
	CreatedAt   time.Time    `json:"created_at" gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM
func (ClassificationRecord) TableName() string {
	return "classification_records"
}

// NewClassificationRecord creates a record for file uploaded from sessionID
func NewClassificationRecord(sessionID string, file *SelectedFile) *ClassificationRecord {
	return &ClassificationRecord{
		ID:          uuid.New(),
		SessionID:   sessionID,
		FileName:    truncate(file.Name, maxFileNameLen),
		ContentType: truncate(file.ContentType, maxContentTypeLen),
		Size:        file.Size,
	}
}

// SetSucceeded marks the record as a successful classification
func (r *ClassificationRecord) SetSucceeded(label string, latencyMs int64) {
	r.Status = RecordStatusSucceeded
	r.Label = truncate(label, maxLabelLen)
	r.Error = ""
	r.LatencyMs = latencyMs
}

// SetFailed marks the record as a failed upload
func (r *ClassificationRecord) SetFailed(err error, latencyMs int64) {
	r.Status = RecordStatusFailed
	r.Label = ""
	if err != nil {
		r.Error = err.Error()
	}
	r.LatencyMs = latencyMs
}

// truncate cuts s to at most n characters without splitting a rune
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

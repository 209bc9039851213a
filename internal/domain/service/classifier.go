package service

import (
	"context"
	"time"

	"github.com/ressKim-io/leafscan/internal/domain/entity"
)

// Classifier defines the interface for image classification
type Classifier interface {
	// Classify uploads file and returns the label assigned to it
	Classify(ctx context.Context, file *entity.SelectedFile) (*entity.ClassificationResult, error)
}

// PreviewRenderer turns a selected file into a displayable preview
type PreviewRenderer interface {
	Render(file *entity.SelectedFile) (*entity.PreviewHandle, error)
}

// Notifier fans session state changes out to subscribers
type Notifier interface {
	Publish(session *entity.Session)
	Subscribe(sessionID string) (<-chan *entity.Session, func())
}

// ClassificationEvent is emitted after each upload attempt
type ClassificationEvent struct {
	RecordID  string `json:"record_id"`
	SessionID string `json:"session_id"`
	FileName  string `json:"file_name"`
	Status    string `json:"status"`
	Label     string `json:"label,omitempty"`
	Stale     bool   `json:"stale"`
	LatencyMs int64  `json:"latency_ms"`
	Timestamp string `json:"timestamp"`
}

// EventPublisher publishes classification events to downstream consumers
type EventPublisher interface {
	Publish(ctx context.Context, event *ClassificationEvent) error
	Close() error
}

// Upload outcomes reported to UploadMetrics
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeStale     = "stale"
)

// UploadMetrics records measurements of classification uploads
type UploadMetrics interface {
	UploadStarted()
	UploadFinished(outcome, label string, elapsed time.Duration)
}

package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ressKim-io/leafscan/internal/domain/entity"
)

// ErrSessionNotFound is returned when a session ID is unknown or expired
var ErrSessionNotFound = errors.New("session not found")

// SessionStore defines the interface for upload session state
type SessionStore interface {
	// Create stores a new session
	Create(ctx context.Context, session *entity.Session) error

	// Get retrieves a session by its ID
	Get(ctx context.Context, id string) (*entity.Session, error)

	// Update applies fn to the session atomically and stores the result.
	// The returned session is a snapshot taken after fn ran.
	Update(ctx context.Context, id string, fn func(*entity.Session) error) (*entity.Session, error)
}

// ClassificationRepository defines the interface for classification history
type ClassificationRepository interface {
	// Create stores a new record
	Create(ctx context.Context, record *entity.ClassificationRecord) error

	// GetByID retrieves a record by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*entity.ClassificationRecord, error)

	// List retrieves records with pagination, newest first
	List(ctx context.Context, limit, offset int) ([]*entity.ClassificationRecord, int64, error)

	// ListBySession retrieves records of one session with pagination
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*entity.ClassificationRecord, int64, error)
}

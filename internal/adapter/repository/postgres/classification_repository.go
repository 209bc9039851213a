package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ressKim-io/leafscan/internal/domain/entity"
	"github.com/ressKim-io/leafscan/internal/domain/repository"
)

type classificationRepository struct {
	db *gorm.DB
}

// NewClassificationRepository creates a new classification history repository
func NewClassificationRepository(db *gorm.DB) repository.ClassificationRepository {
	return &classificationRepository{db: db}
}

func (r *classificationRepository) Create(ctx context.Context, record *entity.ClassificationRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *classificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.ClassificationRecord, error) {
	var record entity.ClassificationRecord
	err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *classificationRepository) List(ctx context.Context, limit, offset int) ([]*entity.ClassificationRecord, int64, error) {
	return r.list(r.db.WithContext(ctx), limit, offset)
}

func (r *classificationRepository) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*entity.ClassificationRecord, int64, error) {
	return r.list(r.db.WithContext(ctx).Where("session_id = ?", sessionID), limit, offset)
}

func (r *classificationRepository) list(query *gorm.DB, limit, offset int) ([]*entity.ClassificationRecord, int64, error) {
	var records []*entity.ClassificationRecord
	var total int64

	if err := query.Session(&gorm.Session{}).Model(&entity.ClassificationRecord{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Session(&gorm.Session{}).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

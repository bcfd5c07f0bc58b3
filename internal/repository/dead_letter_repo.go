package repository

import (
	"context"

	"BadmintonFlash/internal/model"

	"gorm.io/gorm"
)

// DeadLetterRepository 死信留档
type DeadLetterRepository interface {
	Create(ctx context.Context, d *model.DeadLetter) error
	ListByTrace(ctx context.Context, traceID string) ([]*model.DeadLetter, error)
}

type deadLetterRepository struct {
	db *gorm.DB
}

func NewDeadLetterRepository(db *gorm.DB) DeadLetterRepository {
	return &deadLetterRepository{db: db}
}

func (r *deadLetterRepository) Create(ctx context.Context, d *model.DeadLetter) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *deadLetterRepository) ListByTrace(ctx context.Context, traceID string) ([]*model.DeadLetter, error) {
	var list []*model.DeadLetter
	err := r.db.WithContext(ctx).Where("trace_id = ?", traceID).Order("id ASC").Find(&list).Error
	return list, err
}

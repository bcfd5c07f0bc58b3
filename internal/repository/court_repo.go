package repository

import (
	"context"

	"BadmintonFlash/internal/model"

	"gorm.io/gorm"
)

// CourtRepository 场地持久化
type CourtRepository interface {
	List(ctx context.Context) ([]*model.Court, error)
	Create(ctx context.Context, courts []*model.Court) error
	Rename(ctx context.Context, id uint64, name string) error
	DeleteByIDs(ctx context.Context, ids []uint64) error
}

type courtRepository struct {
	db *gorm.DB
}

// NewCourtRepository 创建场地仓储
func NewCourtRepository(db *gorm.DB) CourtRepository {
	return &courtRepository{db: db}
}

func (r *courtRepository) List(ctx context.Context) ([]*model.Court, error) {
	var list []*model.Court
	err := r.db.WithContext(ctx).Order("id ASC").Find(&list).Error
	return list, err
}

func (r *courtRepository) Create(ctx context.Context, courts []*model.Court) error {
	if len(courts) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(courts).Error
}

func (r *courtRepository) Rename(ctx context.Context, id uint64, name string) error {
	return r.db.WithContext(ctx).Model(&model.Court{}).Where("id = ?", id).Update("court_name", name).Error
}

func (r *courtRepository) DeleteByIDs(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.Court{}).Error
}

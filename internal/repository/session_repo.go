package repository

import (
	"context"
	"errors"
	"time"

	"BadmintonFlash/internal/model"

	"gorm.io/gorm"
)

// SessionRepository 场次持久化
type SessionRepository interface {
	List(ctx context.Context) ([]*model.FlashSession, error)
	GetByID(ctx context.Context, id uint64) (*model.FlashSession, error)
	Create(ctx context.Context, s *model.FlashSession) error
	Update(ctx context.Context, s *model.FlashSession) error
	Delete(ctx context.Context, id uint64) error
	// ListFlashBetween flash_time 落在 [from, to] 的场次，时刻格式 HH:MM:SS
	ListFlashBetween(ctx context.Context, from, to string) ([]*model.FlashSession, error)
	// ListFlashDue flash_time <= now 的场次
	ListFlashDue(ctx context.Context, now string) ([]*model.FlashSession, error)
}

type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建场次仓储
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) List(ctx context.Context) ([]*model.FlashSession, error) {
	var list []*model.FlashSession
	err := r.db.WithContext(ctx).Order("flash_time ASC, id ASC").Find(&list).Error
	return list, err
}

func (r *sessionRepository) GetByID(ctx context.Context, id uint64) (*model.FlashSession, error) {
	var s model.FlashSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepository) Create(ctx context.Context, s *model.FlashSession) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *sessionRepository) Update(ctx context.Context, s *model.FlashSession) error {
	return r.db.WithContext(ctx).Model(&model.FlashSession{}).
		Where("id = ?", s.ID).
		Updates(map[string]interface{}{
			"flash_time":    s.FlashTime,
			"begin_time":    s.BeginTime,
			"end_time":      s.EndTime,
			"slot_interval": s.SlotInterval,
			"updated_at":    time.Now(),
		}).Error
}

func (r *sessionRepository) Delete(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.FlashSession{}).Error
}

func (r *sessionRepository) ListFlashBetween(ctx context.Context, from, to string) ([]*model.FlashSession, error) {
	var list []*model.FlashSession
	err := r.db.WithContext(ctx).
		Where("flash_time >= ? AND flash_time <= ?", from, to).
		Order("flash_time ASC").
		Find(&list).Error
	return list, err
}

func (r *sessionRepository) ListFlashDue(ctx context.Context, now string) ([]*model.FlashSession, error) {
	var list []*model.FlashSession
	err := r.db.WithContext(ctx).
		Where("flash_time <= ?", now).
		Order("flash_time ASC").
		Find(&list).Error
	return list, err
}

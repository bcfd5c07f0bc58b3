package repository

import (
	"context"
	"errors"

	"BadmintonFlash/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SlotRepository 时段持久化
type SlotRepository interface {
	GetByID(ctx context.Context, id uint64) (*model.TimeSlot, error)
	ListBySessionDate(ctx context.Context, sessionID uint64, day string) ([]*model.TimeSlot, error)
	// CreateIgnoreConflict 批量插入，自然键冲突的行跳过
	CreateIgnoreConflict(ctx context.Context, slots []*model.TimeSlot) error
	DeleteBySessionDate(ctx context.Context, sessionID uint64, day string) (int64, error)
	DeleteBySession(ctx context.Context, sessionID uint64) (int64, error)
}

type slotRepository struct {
	db *gorm.DB
}

// NewSlotRepository 创建时段仓储
func NewSlotRepository(db *gorm.DB) SlotRepository {
	return &slotRepository{db: db}
}

func (r *slotRepository) GetByID(ctx context.Context, id uint64) (*model.TimeSlot, error) {
	var s model.TimeSlot
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *slotRepository) ListBySessionDate(ctx context.Context, sessionID uint64, day string) ([]*model.TimeSlot, error) {
	var list []*model.TimeSlot
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND slot_date = ?", sessionID, day).
		Order("start_time ASC, court_id ASC").
		Find(&list).Error
	return list, err
}

func (r *slotRepository) CreateIgnoreConflict(ctx context.Context, slots []*model.TimeSlot) error {
	if len(slots) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(slots, 200).Error
}

func (r *slotRepository) DeleteBySessionDate(ctx context.Context, sessionID uint64, day string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("session_id = ? AND slot_date = ?", sessionID, day).
		Delete(&model.TimeSlot{})
	return res.RowsAffected, res.Error
}

func (r *slotRepository) DeleteBySession(ctx context.Context, sessionID uint64) (int64, error) {
	res := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&model.TimeSlot{})
	return res.RowsAffected, res.Error
}

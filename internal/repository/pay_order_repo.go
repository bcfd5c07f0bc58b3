package repository

import (
	"context"
	"errors"
	"time"

	"BadmintonFlash/internal/model"

	"gorm.io/gorm"
)

// PayOrderRepository 支付单持久化
type PayOrderRepository interface {
	Create(ctx context.Context, p *model.PayOrder) error
	GetByOutTradeNo(ctx context.Context, outTradeNo string) (*model.PayOrder, error)
	GetLatestByReservation(ctx context.Context, reservationID uint64) (*model.PayOrder, error)
	// CloseExpiredPaying 关闭该预约下已过期的 PAYING 支付单
	CloseExpiredPaying(ctx context.Context, reservationID uint64, now time.Time) (int64, error)
}

type payOrderRepository struct {
	db *gorm.DB
}

// NewPayOrderRepository 创建支付单仓储
func NewPayOrderRepository(db *gorm.DB) PayOrderRepository {
	return &payOrderRepository{db: db}
}

func (r *payOrderRepository) Create(ctx context.Context, p *model.PayOrder) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *payOrderRepository) GetByOutTradeNo(ctx context.Context, outTradeNo string) (*model.PayOrder, error) {
	var p model.PayOrder
	err := r.db.WithContext(ctx).Where("out_trade_no = ?", outTradeNo).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *payOrderRepository) GetLatestByReservation(ctx context.Context, reservationID uint64) (*model.PayOrder, error) {
	var p model.PayOrder
	err := r.db.WithContext(ctx).Where("reservation_id = ?", reservationID).Order("id DESC").First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *payOrderRepository) CloseExpiredPaying(ctx context.Context, reservationID uint64, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.PayOrder{}).
		Where("reservation_id = ? AND status = ? AND expire_time <= ?", reservationID, model.PayPaying, now).
		Updates(map[string]interface{}{
			"status":     model.PayClosed,
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

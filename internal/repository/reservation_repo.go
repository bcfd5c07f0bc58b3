package repository

import (
	"context"
	"errors"
	"time"

	"BadmintonFlash/internal/model"

	"gorm.io/gorm"
)

// ErrNotPayable 预约已不在待支付状态
var ErrNotPayable = errors.New("预约不是待支付状态")

// ReservationRepository 预约持久化
type ReservationRepository interface {
	Create(ctx context.Context, r *model.Reservation) error
	GetByID(ctx context.Context, id uint64) (*model.Reservation, error)
	GetByTraceAndUser(ctx context.Context, traceID string, userID uint64) (*model.Reservation, error)
	// GetActiveBySlot 时段当前非取消的预约
	GetActiveBySlot(ctx context.Context, slotID uint64) (*model.Reservation, error)
	ListByUser(ctx context.Context, userID uint64, page, pageSize int) ([]*model.Reservation, int64, error)
	// ActiveSlotIDs 给定时段中已被占用的集合
	ActiveSlotIDs(ctx context.Context, slotIDs []uint64) (map[uint64]bool, error)
	// CancelPending 条件更新 PENDING_PAYMENT→CANCELLED 并关闭 PAYING 支付单；userID 为 nil 时不校验归属
	CancelPending(ctx context.Context, id uint64, userID *uint64) (bool, error)
	ListTimedOutPending(ctx context.Context, deadline time.Time, limit int) ([]*model.Reservation, error)
	// ConfirmPaid 支付单 PAYING→SUCCESS 且预约 PENDING_PAYMENT→CONFIRMED
	ConfirmPaid(ctx context.Context, payOrderID, reservationID uint64, thirdTradeNo string, paidAt time.Time) error
	// Refund 预约 CONFIRMED→CANCELLED 且支付单 SUCCESS→REFUNDED
	Refund(ctx context.Context, reservationID, userID uint64) (bool, error)
}

type reservationRepository struct {
	db *gorm.DB
}

// NewReservationRepository 创建预约仓储
func NewReservationRepository(db *gorm.DB) ReservationRepository {
	return &reservationRepository{db: db}
}

func (r *reservationRepository) Create(ctx context.Context, res *model.Reservation) error {
	return r.db.WithContext(ctx).Create(res).Error
}

func (r *reservationRepository) first(ctx context.Context, query string, args ...interface{}) (*model.Reservation, error) {
	var res model.Reservation
	err := r.db.WithContext(ctx).Where(query, args...).First(&res).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (r *reservationRepository) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *reservationRepository) GetByTraceAndUser(ctx context.Context, traceID string, userID uint64) (*model.Reservation, error) {
	return r.first(ctx, "trace_id = ? AND user_id = ?", traceID, userID)
}

func (r *reservationRepository) GetActiveBySlot(ctx context.Context, slotID uint64) (*model.Reservation, error) {
	return r.first(ctx, "slot_id = ? AND status <> ?", slotID, model.ReservationCancelled)
}

func (r *reservationRepository) ListByUser(ctx context.Context, userID uint64, page, pageSize int) ([]*model.Reservation, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	q := r.db.WithContext(ctx).Model(&model.Reservation{}).Where("user_id = ?", userID).Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []*model.Reservation
	err := q.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&list).Error
	return list, total, err
}

func (r *reservationRepository) ActiveSlotIDs(ctx context.Context, slotIDs []uint64) (map[uint64]bool, error) {
	out := make(map[uint64]bool)
	if len(slotIDs) == 0 {
		return out, nil
	}
	var ids []uint64
	err := r.db.WithContext(ctx).Model(&model.Reservation{}).
		Where("slot_id IN ? AND status <> ?", slotIDs, model.ReservationCancelled).
		Pluck("slot_id", &ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (r *reservationRepository) CancelPending(ctx context.Context, id uint64, userID *uint64) (bool, error) {
	cancelled := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		q := tx.Model(&model.Reservation{}).Where("id = ? AND status = ?", id, model.ReservationPendingPayment)
		if userID != nil {
			q = q.Where("user_id = ?", *userID)
		}
		res := q.Updates(map[string]interface{}{
			"status":     model.ReservationCancelled,
			"updated_at": now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		cancelled = true
		return tx.Model(&model.PayOrder{}).
			Where("reservation_id = ? AND status = ?", id, model.PayPaying).
			Updates(map[string]interface{}{
				"status":     model.PayClosed,
				"updated_at": now,
			}).Error
	})
	return cancelled, err
}

func (r *reservationRepository) ListTimedOutPending(ctx context.Context, deadline time.Time, limit int) ([]*model.Reservation, error) {
	var list []*model.Reservation
	q := r.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", model.ReservationPendingPayment, deadline).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&list).Error
	return list, err
}

func (r *reservationRepository) ConfirmPaid(ctx context.Context, payOrderID, reservationID uint64, thirdTradeNo string, paidAt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.PayOrder{}).
			Where("id = ? AND status = ?", payOrderID, model.PayPaying).
			Updates(map[string]interface{}{
				"status":         model.PaySuccess,
				"third_trade_no": thirdTradeNo,
				"paid_at":        paidAt,
				"updated_at":     time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotPayable
		}
		res = tx.Model(&model.Reservation{}).
			Where("id = ? AND status = ?", reservationID, model.ReservationPendingPayment).
			Updates(map[string]interface{}{
				"status":     model.ReservationConfirmed,
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotPayable
		}
		return nil
	})
}

func (r *reservationRepository) Refund(ctx context.Context, reservationID, userID uint64) (bool, error) {
	refunded := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&model.Reservation{}).
			Where("id = ? AND user_id = ? AND status = ?", reservationID, userID, model.ReservationConfirmed).
			Updates(map[string]interface{}{
				"status":     model.ReservationCancelled,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		refunded = true
		return tx.Model(&model.PayOrder{}).
			Where("reservation_id = ? AND status = ?", reservationID, model.PaySuccess).
			Updates(map[string]interface{}{
				"status":     model.PayRefunded,
				"updated_at": now,
			}).Error
	})
	return refunded, err
}

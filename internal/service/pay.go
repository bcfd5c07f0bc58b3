package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"BadmintonFlash/internal/cache"
	"BadmintonFlash/internal/errcode"
	"BadmintonFlash/internal/model"
	"BadmintonFlash/internal/repository"
	"BadmintonFlash/internal/utils/timeutil"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const payCreateLease = 5 * time.Second

// PayResult 支付状态查询结果
type PayResult struct {
	ReservationID     uint64 `json:"reservationId"`
	ReservationStatus string `json:"reservationStatus"`
	PayStatus         string `json:"payStatus,omitempty"`
	OutTradeNo        string `json:"outTradeNo,omitempty"`
}

// PayService 支付单记账；真实渠道对接不在本服务内，mock 回调模拟支付成功
type PayService struct {
	reservations repository.ReservationRepository
	payOrders    repository.PayOrderRepository
	compensator  *Compensator
	settings     *SettingService
	lock         *cache.JobLock
	keys         cache.Keys
	clock        *timeutil.Clock
	logger       *logrus.Logger
}

// NewPayService 创建支付服务
func NewPayService(
	reservations repository.ReservationRepository,
	payOrders repository.PayOrderRepository,
	compensator *Compensator,
	settings *SettingService,
	lock *cache.JobLock,
	keys cache.Keys,
	clock *timeutil.Clock,
	logger *logrus.Logger,
) *PayService {
	return &PayService{
		reservations: reservations,
		payOrders:    payOrders,
		compensator:  compensator,
		settings:     settings,
		lock:         lock,
		keys:         keys,
		clock:        clock,
		logger:       logger,
	}
}

// CreatePay 为待支付预约创建支付单；已有未过期的 PAYING 单直接复用
func (p *PayService) CreatePay(ctx context.Context, userID, reservationID uint64) (*model.PayOrder, error) {
	var order *model.PayOrder
	acquired, err := p.lock.WithLock(ctx, p.keys.PayCreateLock(reservationID), payCreateLease, func(ctx context.Context) error {
		r, err := p.reservations.GetByID(ctx, reservationID)
		if err != nil {
			return fmt.Errorf("查询预约失败: %w", err)
		}
		if r == nil || r.UserID != userID {
			return errcode.Newf(errcode.Failed, "预约不存在")
		}
		if r.Status != model.ReservationPendingPayment {
			return errcode.Newf(errcode.Failed, "当前状态不可支付: %s", r.Status)
		}

		now := p.clock.Now()
		latest, err := p.payOrders.GetLatestByReservation(ctx, reservationID)
		if err != nil {
			return fmt.Errorf("查询支付单失败: %w", err)
		}
		if latest != nil && latest.Status == model.PayPaying && latest.ExpireTime.After(now) {
			order = latest
			return nil
		}
		if _, err := p.payOrders.CloseExpiredPaying(ctx, reservationID, now); err != nil {
			return fmt.Errorf("关闭过期支付单失败: %w", err)
		}

		amount, err := p.settings.PayAmount(ctx)
		if err != nil {
			return err
		}
		timeout, err := p.settings.PayTimeoutMinute(ctx)
		if err != nil {
			return err
		}
		expire := now.Add(15 * time.Minute)
		if timeout > 0 {
			expire = r.CreatedAt.Add(time.Duration(timeout) * time.Minute)
		}
		if !expire.After(now) {
			return errcode.Newf(errcode.Failed, "预约已超过支付时限")
		}
		order = &model.PayOrder{
			ReservationID: reservationID,
			OutTradeNo:    newOutTradeNo(now),
			PayChannel:    model.PayChannelWechat,
			Amount:        amount,
			Status:        model.PayPaying,
			ExpireTime:    expire,
		}
		if err := p.payOrders.Create(ctx, order); err != nil {
			return fmt.Errorf("创建支付单失败: %w", err)
		}
		p.logger.WithFields(logrus.Fields{"reservation_id": reservationID, "out_trade_no": order.OutTradeNo}).Info("支付单已创建")
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, errcode.Newf(errcode.Failed, "支付单创建中，请稍后")
	}
	return order, nil
}

// MockPaySuccess 模拟渠道回调：支付单 SUCCESS，预约 CONFIRMED
func (p *PayService) MockPaySuccess(ctx context.Context, outTradeNo string) error {
	order, err := p.payOrders.GetByOutTradeNo(ctx, outTradeNo)
	if err != nil {
		return fmt.Errorf("查询支付单失败: %w", err)
	}
	if order == nil {
		return errcode.Newf(errcode.Failed, "支付单不存在")
	}
	if order.Status == model.PaySuccess {
		return nil
	}
	third := "MOCK" + uuid.NewString()[:8]
	err = p.reservations.ConfirmPaid(ctx, order.ID, order.ReservationID, third, p.clock.Now())
	if errors.Is(err, repository.ErrNotPayable) {
		return errcode.Newf(errcode.Failed, "支付单或预约状态已变化")
	}
	if err != nil {
		return fmt.Errorf("确认支付失败: %w", err)
	}
	p.logger.WithFields(logrus.Fields{"out_trade_no": outTradeNo, "reservation_id": order.ReservationID}).Info("支付成功，预约已确认")
	return nil
}

// GetPayResult 预约与最新支付单状态
func (p *PayService) GetPayResult(ctx context.Context, userID, reservationID uint64) (*PayResult, error) {
	r, err := p.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("查询预约失败: %w", err)
	}
	if r == nil || r.UserID != userID {
		return nil, errcode.Newf(errcode.Failed, "预约不存在")
	}
	out := &PayResult{ReservationID: r.ID, ReservationStatus: r.Status}
	order, err := p.payOrders.GetLatestByReservation(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("查询支付单失败: %w", err)
	}
	if order != nil {
		out.PayStatus = order.Status
		out.OutTradeNo = order.OutTradeNo
	}
	return out, nil
}

// Refund 已确认预约退款并释放时段
func (p *PayService) Refund(ctx context.Context, userID, reservationID uint64) error {
	r, err := p.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return fmt.Errorf("查询预约失败: %w", err)
	}
	if r == nil || r.UserID != userID {
		return errcode.Newf(errcode.Failed, "预约不存在")
	}
	ok, err := p.reservations.Refund(ctx, reservationID, userID)
	if err != nil {
		return fmt.Errorf("退款失败: %w", err)
	}
	if !ok {
		return errcode.Newf(errcode.Failed, "当前状态不可退款: %s", r.Status)
	}
	if err := p.compensator.ReleaseClaim(context.WithoutCancel(ctx), r.SlotID, r.UserID); err != nil {
		p.logger.WithError(err).WithField("reservation_id", reservationID).Error("退款后释放库存失败")
	}
	p.logger.WithField("reservation_id", reservationID).Info("预约已退款")
	return nil
}

// newOutTradeNo WX + 毫秒时间戳 + 8 位随机十六进制
func newOutTradeNo(now time.Time) string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return "WX" + strconv.FormatInt(now.UnixMilli(), 10) + hex.EncodeToString(b)
}

package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"BadmintonFlash/internal/errcode"
	"BadmintonFlash/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	slot := h.open(t)[0]
	r := h.claimAndPersist(t, 1, slot.ID)

	_, err := h.pay.CreatePay(ctx, 2, r.ID)
	assert.True(t, errcode.Is(err, errcode.Failed))

	order, err := h.pay.CreatePay(ctx, 1, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PayPaying, order.Status)
	assert.Equal(t, int64(3000), order.Amount)
	assert.True(t, strings.HasPrefix(order.OutTradeNo, "WX"))
	assert.WithinDuration(t, r.CreatedAt.Add(15*time.Minute), order.ExpireTime, time.Second)

	again, err := h.pay.CreatePay(ctx, 1, r.ID)
	require.NoError(t, err)
	assert.Equal(t, order.OutTradeNo, again.OutTradeNo, "live order is reused")

	require.NoError(t, h.pay.MockPaySuccess(ctx, order.OutTradeNo))
	require.NoError(t, h.pay.MockPaySuccess(ctx, order.OutTradeNo))

	res, err := h.pay.GetPayResult(ctx, 1, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationConfirmed, res.ReservationStatus)
	assert.Equal(t, model.PaySuccess, res.PayStatus)

	// 已确认的预约不会被超时取消
	h.clock.Advance(time.Hour)
	n, err := h.reaper.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	err = h.reserve.Cancel(ctx, 1, r.ID)
	assert.True(t, errcode.Is(err, errcode.Failed))

	require.NoError(t, h.pay.Refund(ctx, 1, r.ID))
	assert.Equal(t, 1, h.stock(t, slot.ID))
	res, err = h.pay.GetPayResult(ctx, 1, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationCancelled, res.ReservationStatus)
	assert.Equal(t, model.PayRefunded, res.PayStatus)

	err = h.pay.Refund(ctx, 1, r.ID)
	assert.True(t, errcode.Is(err, errcode.Failed))
}

func TestCreatePayAfterDeadline(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	slot := h.open(t)[0]
	r := h.claimAndPersist(t, 1, slot.ID)

	h.clock.Advance(16 * time.Minute)
	_, err := h.pay.CreatePay(ctx, 1, r.ID)
	assert.True(t, errcode.Is(err, errcode.Failed))
}

func TestCancelClosesPayingOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	slot := h.open(t)[0]
	r := h.claimAndPersist(t, 1, slot.ID)

	order, err := h.pay.CreatePay(ctx, 1, r.ID)
	require.NoError(t, err)
	require.NoError(t, h.reserve.Cancel(ctx, 1, r.ID))

	err = h.pay.MockPaySuccess(ctx, order.OutTradeNo)
	assert.True(t, errcode.Is(err, errcode.Failed))
	res, err := h.pay.GetPayResult(ctx, 1, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PayClosed, res.PayStatus)
}

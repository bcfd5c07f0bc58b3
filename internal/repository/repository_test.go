package repository_test

import (
	"context"
	"testing"
	"time"

	"BadmintonFlash/internal/model"
	"BadmintonFlash/internal/repository"
	"BadmintonFlash/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActiveSlotUniqueness(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repository.NewReservationRepository(db)

	first := &model.Reservation{UserID: 1, SlotID: 10, TraceID: "t1", Status: model.ReservationPendingPayment}
	require.NoError(t, repo.Create(ctx, first))

	err := repo.Create(ctx, &model.Reservation{UserID: 2, SlotID: 10, TraceID: "t2", Status: model.ReservationPendingPayment})
	require.Error(t, err)
	assert.True(t, repository.IsUniqueViolation(err))

	active, err := repo.GetActiveBySlot(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, uint64(1), active.UserID)

	// 取消后同一时段可再次占用
	uid := uint64(1)
	ok, err := repo.CancelPending(ctx, first.ID, &uid)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, repo.Create(ctx, &model.Reservation{UserID: 2, SlotID: 10, TraceID: "t3", Status: model.ReservationPendingPayment}))
}

func TestCancelPendingClosesPayingOrders(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repository.NewReservationRepository(db)
	payRepo := repository.NewPayOrderRepository(db)

	r := &model.Reservation{UserID: 1, SlotID: 3, TraceID: "tc", Status: model.ReservationPendingPayment}
	require.NoError(t, repo.Create(ctx, r))
	require.NoError(t, payRepo.Create(ctx, &model.PayOrder{
		ReservationID: r.ID, OutTradeNo: "WX1", PayChannel: model.PayChannelWechat,
		Amount: 100, Status: model.PayPaying, ExpireTime: time.Now().Add(time.Minute),
	}))

	other := uint64(99)
	ok, err := repo.CancelPending(ctx, r.ID, &other)
	require.NoError(t, err)
	assert.False(t, ok, "only the owner may cancel")

	ok, err = repo.CancelPending(ctx, r.ID, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CancelPending(ctx, r.ID, nil)
	require.NoError(t, err)
	assert.False(t, ok, "second cancel is a no-op")

	p, err := payRepo.GetByOutTradeNo(ctx, "WX1")
	require.NoError(t, err)
	assert.Equal(t, model.PayClosed, p.Status)
}

func TestListTimedOutPending(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repository.NewReservationRepository(db)

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, &model.Reservation{UserID: 1, SlotID: 1, TraceID: "a", Status: model.ReservationPendingPayment, CreatedAt: base}))
	require.NoError(t, repo.Create(ctx, &model.Reservation{UserID: 2, SlotID: 2, TraceID: "b", Status: model.ReservationPendingPayment, CreatedAt: base.Add(20 * time.Minute)}))
	require.NoError(t, repo.Create(ctx, &model.Reservation{UserID: 3, SlotID: 3, TraceID: "c", Status: model.ReservationConfirmed, CreatedAt: base}))

	list, err := repo.ListTimedOutPending(ctx, base.Add(10*time.Minute), 100)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].TraceID)
}

func TestConfirmPaidAndRefund(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repository.NewReservationRepository(db)
	payRepo := repository.NewPayOrderRepository(db)

	r := &model.Reservation{UserID: 7, SlotID: 4, TraceID: "tp", Status: model.ReservationPendingPayment}
	require.NoError(t, repo.Create(ctx, r))
	p := &model.PayOrder{ReservationID: r.ID, OutTradeNo: "WX2", PayChannel: model.PayChannelWechat, Amount: 100, Status: model.PayPaying, ExpireTime: time.Now().Add(time.Minute)}
	require.NoError(t, payRepo.Create(ctx, p))

	require.NoError(t, repo.ConfirmPaid(ctx, p.ID, r.ID, "MOCK1", time.Now()))
	assert.ErrorIs(t, repo.ConfirmPaid(ctx, p.ID, r.ID, "MOCK1", time.Now()), repository.ErrNotPayable)

	got, err := repo.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationConfirmed, got.Status)

	ok, err := repo.Refund(ctx, r.ID, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	p2, err := payRepo.GetLatestByReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PayRefunded, p2.Status)
}

func TestSlotCreateIgnoreConflict(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repository.NewSlotRepository(db)

	mk := func() []*model.TimeSlot {
		return []*model.TimeSlot{
			{SessionID: 1, SlotDate: "2026-03-01", CourtID: 1, StartTime: "08:00:00", EndTime: "09:00:00"},
			{SessionID: 1, SlotDate: "2026-03-01", CourtID: 2, StartTime: "08:00:00", EndTime: "09:00:00"},
		}
	}
	require.NoError(t, repo.CreateIgnoreConflict(ctx, mk()))
	require.NoError(t, repo.CreateIgnoreConflict(ctx, mk()))

	list, err := repo.ListBySessionDate(ctx, 1, "2026-03-01")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	n, err := repo.DeleteBySessionDate(ctx, 1, "2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestConfigRepository(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewConfigRepository(testutil.NewDB(t))

	require.NoError(t, repo.SeedDefaults(ctx, map[string]string{model.ConfigWarmupMinute: "5"}))
	require.NoError(t, repo.Upsert(ctx, model.ConfigWarmupMinute, "10"))
	require.NoError(t, repo.SeedDefaults(ctx, map[string]string{model.ConfigWarmupMinute: "5"}))

	v, ok, err := repo.Get(ctx, model.ConfigWarmupMinute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "10", v)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSessionQueries(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewSessionRepository(testutil.NewDB(t))

	for _, f := range []string{"07:00:00", "08:00:00", "12:00:00"} {
		require.NoError(t, repo.Create(ctx, &model.FlashSession{FlashTime: f, BeginTime: "13:00:00", EndTime: "15:00:00", SlotInterval: 60}))
	}
	list, err := repo.ListFlashBetween(ctx, "07:30:00", "12:00:00")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	due, err := repo.ListFlashDue(ctx, "08:00:00")
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestEnsureDatabaseSkipsDefaultDB(t *testing.T) {
	// 目标就是 postgres 默认库时不需要连接
	assert.NoError(t, repository.EnsureDatabase("postgres://u:p@127.0.0.1:1/postgres?sslmode=disable"))
	assert.NoError(t, repository.EnsureDatabase("postgres://u:p@127.0.0.1:1/"))
	assert.Error(t, repository.EnsureDatabase("://bad"))
}

func TestUserAccountRepository(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewUserRepository(testutil.NewDB(t))

	u := &model.UserAccount{StudentID: "20260001", PasswordHash: "h", Role: model.UserRoleAdmin, IsActive: true}
	require.NoError(t, repo.Create(ctx, u))
	err := repo.Create(ctx, &model.UserAccount{StudentID: "20260001", PasswordHash: "x", Role: model.UserRoleUser, IsActive: true})
	assert.True(t, repository.IsUniqueViolation(err))

	n, err := repo.CountActiveAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, repo.Update(ctx, u.ID, map[string]interface{}{"is_active": false}))
	got, err := repo.GetByStudentID(ctx, "20260001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.IsActive)
	n, err = repo.CountActiveAdmins(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	missing, err := repo.GetByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, total, err := repo.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, list, 1)
}

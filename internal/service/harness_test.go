package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"BadmintonFlash/internal/cache"
	"BadmintonFlash/internal/interfaces"
	"BadmintonFlash/internal/model"
	"BadmintonFlash/internal/ratelimit"
	"BadmintonFlash/internal/repository"
	"BadmintonFlash/internal/testutil"
	"BadmintonFlash/internal/utils/timeutil"

	"github.com/stretchr/testify/require"
)

var cst = time.FixedZone("CST", 8*3600)

// fakePublisher 记录发送的消息，按预设返回确认结果
type fakePublisher struct {
	mu      sync.Mutex
	outcome interfaces.PublishOutcome
	err     error
	sent    []model.ReserveMessage
}

func (f *fakePublisher) PublishClaim(_ context.Context, msg model.ReserveMessage) (interfaces.PublishOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return interfaces.PublishUnknown, f.err
	}
	f.sent = append(f.sent, msg)
	return f.outcome, nil
}

func (f *fakePublisher) set(outcome interfaces.PublishOutcome, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcome, f.err = outcome, err
}

func (f *fakePublisher) last(t *testing.T) model.ReserveMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

type harness struct {
	keys         cache.Keys
	store        *cache.MemoryStore
	clock        *timeutil.Clock
	pub          *fakePublisher
	sessions     repository.SessionRepository
	slotRepo     repository.SlotRepository
	reservations repository.ReservationRepository
	payOrders    repository.PayOrderRepository
	courts       repository.CourtRepository

	settings    *SettingService
	compensator *Compensator
	warmup      *WarmupService
	reserve     *ReserveService
	persist     *PersistService
	reaper      *ReaperService
	pay         *PayService
	admin       *AdminService
	browse      *BrowseService

	session *model.FlashSession
}

// newHarness 两块场地，一个 10:00 开抢、18:00-20:00 每小时一个时段的场次；时钟停在 09:55
func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	db := testutil.NewDB(t)
	logger := testutil.Logger()

	h := &harness{
		keys:         cache.NewKeys("bf:"),
		clock:        timeutil.NewFixedClock(cst, time.Date(2026, 10, 19, 9, 55, 0, 0, cst)),
		pub:          &fakePublisher{outcome: interfaces.PublishAcked},
		sessions:     repository.NewSessionRepository(db),
		slotRepo:     repository.NewSlotRepository(db),
		reservations: repository.NewReservationRepository(db),
		payOrders:    repository.NewPayOrderRepository(db),
	}
	h.store = cache.NewMemoryStore(h.keys, cache.WithMemoryClock(h.clock.Now))
	courts := repository.NewCourtRepository(db)
	h.courts = courts
	lock := cache.NewJobLock(h.store, logger)

	h.settings = NewSettingService(repository.NewConfigRepository(db), logger)
	require.NoError(t, h.settings.Seed(ctx, map[string]string{model.ConfigCourtCount: "2"}))

	h.compensator = NewCompensator(h.store, logger)
	slots := NewSlotService(h.slotRepo, courts, logger)
	h.warmup = NewWarmupService(WarmupDeps{
		Store:    h.store,
		Keys:     h.keys,
		Lock:     lock,
		Sessions: h.sessions,
		SlotRepo: h.slotRepo,
		Slots:    slots,
		Settings: h.settings,
		Clock:    h.clock,
		Logger:   logger,
	})
	limiter := ratelimit.NewLocalStore(100, time.Second)
	h.reserve = NewReserveService(h.store, limiter, h.pub, h.compensator, h.reservations, h.clock, 0, logger)
	h.persist = NewPersistService(h.reservations, h.compensator, h.clock, logger)
	h.reaper = NewReaperService(h.reservations, h.reserve, h.settings, h.clock, 100, logger)
	h.pay = NewPayService(h.reservations, h.payOrders, h.compensator, h.settings, lock, h.keys, h.clock, logger)
	h.admin = NewAdminService(h.sessions, courts, h.settings, h.warmup, h.store, lock, h.keys, h.clock, logger)
	h.browse = NewBrowseService(h.sessions, h.slotRepo, courts, h.reservations, h.store, h.clock)

	require.NoError(t, h.admin.ReconcileCourts(ctx))
	s, err := h.admin.AddSession(ctx, &model.FlashSession{
		FlashTime: "10:00", BeginTime: "18:00", EndTime: "20:00", SlotInterval: 60,
	})
	require.NoError(t, err)
	h.session = s
	return h
}

// open 预热并开闸，返回当天的时段
func (h *harness) open(t *testing.T) []*model.TimeSlot {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.warmup.WarmupDue(ctx))
	h.clock.Set(time.Date(2026, 10, 19, 10, 0, 0, 0, cst))
	require.NoError(t, h.warmup.OpenDueGates(ctx))
	slots, err := h.slotRepo.ListBySessionDate(ctx, h.session.ID, h.clock.Today())
	require.NoError(t, err)
	require.Len(t, slots, 4)
	return slots
}

func (h *harness) stock(t *testing.T, slotID uint64) int {
	t.Helper()
	n, ok, err := h.store.Stock(context.Background(), slotID)
	require.NoError(t, err)
	require.True(t, ok)
	return n
}

// claimAndPersist 抢场并模拟消费者落库
func (h *harness) claimAndPersist(t *testing.T, userID, slotID uint64) *model.Reservation {
	t.Helper()
	ctx := context.Background()
	traceID, err := h.reserve.Reserve(ctx, userID, slotID, h.session.ID)
	require.NoError(t, err)
	require.NoError(t, h.persist.Persist(ctx, h.pub.last(t)))
	r, err := h.reservations.GetByTraceAndUser(ctx, traceID, userID)
	require.NoError(t, err)
	require.NotNil(t, r)
	return r
}

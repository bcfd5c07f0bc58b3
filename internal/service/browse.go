package service

import (
	"context"
	"fmt"

	"BadmintonFlash/internal/errcode"
	"BadmintonFlash/internal/interfaces"
	"BadmintonFlash/internal/model"
	"BadmintonFlash/internal/repository"
	"BadmintonFlash/internal/utils/timeutil"
)

// SlotView 时段及其可抢状态
type SlotView struct {
	*model.TimeSlot
	CourtName string `json:"courtName"`
	Available bool   `json:"available"`
}

// BrowseService 只读查询
type BrowseService struct {
	sessions     repository.SessionRepository
	slots        repository.SlotRepository
	courts       repository.CourtRepository
	reservations repository.ReservationRepository
	store        interfaces.CapacityStore
	clock        *timeutil.Clock
}

func NewBrowseService(
	sessions repository.SessionRepository,
	slots repository.SlotRepository,
	courts repository.CourtRepository,
	reservations repository.ReservationRepository,
	store interfaces.CapacityStore,
	clock *timeutil.Clock,
) *BrowseService {
	return &BrowseService{sessions: sessions, slots: slots, courts: courts, reservations: reservations, store: store, clock: clock}
}

func (b *BrowseService) ListSessions(ctx context.Context) ([]*model.FlashSession, error) {
	return b.sessions.List(ctx)
}

// ListSlots day 为空时取当天
func (b *BrowseService) ListSlots(ctx context.Context, sessionID uint64, day string) ([]*SlotView, error) {
	if sessionID == 0 {
		return nil, errcode.New(errcode.ParamError)
	}
	if day == "" {
		day = b.clock.Today()
	}
	slots, err := b.slots.ListBySessionDate(ctx, sessionID, day)
	if err != nil {
		return nil, fmt.Errorf("查询时段失败: %w", err)
	}
	courts, err := b.courts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询场地失败: %w", err)
	}
	names := make(map[uint64]string, len(courts))
	for _, c := range courts {
		names[c.ID] = c.CourtName
	}
	ids := make([]uint64, 0, len(slots))
	for _, s := range slots {
		ids = append(ids, s.ID)
	}
	taken, err := b.reservations.ActiveSlotIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("查询时段占用失败: %w", err)
	}

	out := make([]*SlotView, 0, len(slots))
	for _, s := range slots {
		available := !taken[s.ID]
		if available {
			// 已扣库存但尚未落库的也算不可抢
			if n, ok, err := b.store.Stock(ctx, s.ID); err == nil && ok && n <= 0 {
				available = false
			}
		}
		out = append(out, &SlotView{TimeSlot: s, CourtName: names[s.CourtID], Available: available})
	}
	return out, nil
}

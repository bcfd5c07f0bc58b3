package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"BadmintonFlash/internal/cache"
	"BadmintonFlash/internal/errcode"
	"BadmintonFlash/internal/interfaces"
	"BadmintonFlash/internal/model"
	"BadmintonFlash/internal/repository"
	"BadmintonFlash/internal/utils/timeutil"

	"github.com/sirupsen/logrus"
)

const (
	warmupLease  = 60 * time.Second
	slotGenLease = 120 * time.Second
)

// WarmupDeps 预热服务依赖
type WarmupDeps struct {
	Store        interfaces.CapacityStore
	Keys         cache.Keys
	Lock         *cache.JobLock
	Sessions     repository.SessionRepository
	SlotRepo     repository.SlotRepository
	Slots        *SlotService
	Settings     *SettingService
	Clock        *timeutil.Clock
	SlotCapacity int
	Logger       *logrus.Logger
}

// WarmupService 开抢前把时段库存、去重集合、闸门写入缓存，并在开抢时刻开闸
type WarmupService struct {
	store    interfaces.CapacityStore
	keys     cache.Keys
	lock     *cache.JobLock
	sessions repository.SessionRepository
	slotRepo repository.SlotRepository
	slots    *SlotService
	settings *SettingService
	clock    *timeutil.Clock
	capacity int
	logger   *logrus.Logger
}

// NewWarmupService 创建预热服务
func NewWarmupService(d WarmupDeps) *WarmupService {
	capacity := d.SlotCapacity
	if capacity <= 0 {
		capacity = 1
	}
	return &WarmupService{
		store:    d.Store,
		keys:     d.Keys,
		lock:     d.Lock,
		sessions: d.Sessions,
		slotRepo: d.SlotRepo,
		slots:    d.Slots,
		settings: d.Settings,
		clock:    d.Clock,
		capacity: capacity,
		logger:   d.Logger,
	}
}

// GenerateSlots 当天时段生成，多实例下只执行一次
func (w *WarmupService) GenerateSlots(ctx context.Context, session *model.FlashSession) (bool, error) {
	day, dayKey := w.clock.Today(), w.clock.DayKey()
	return w.lock.RunOnce(ctx,
		w.keys.SlotGenDone(dayKey, session.ID),
		w.keys.SlotGenLock(dayKey, session.ID),
		slotGenLease, w.clock.TTLToEndOfDay(),
		func(ctx context.Context) error {
			_, err := w.slots.GenerateForDate(ctx, session, day)
			return err
		})
}

// WarmupSession 幂等预热：已完成则直接返回，任何一步失败都不会写完成标记
func (w *WarmupService) WarmupSession(ctx context.Context, session *model.FlashSession) error {
	if _, err := w.GenerateSlots(ctx, session); err != nil {
		return fmt.Errorf("生成时段失败: %w", err)
	}
	day, dayKey := w.clock.Today(), w.clock.DayKey()
	slots, err := w.slotRepo.ListBySessionDate(ctx, session.ID, day)
	if err != nil {
		return fmt.Errorf("查询时段失败: %w", err)
	}
	log := w.logger.WithFields(logrus.Fields{"session_id": session.ID, "day": day})
	if len(slots) == 0 {
		log.Warn("场次当天没有时段，跳过预热")
		return nil
	}

	doneKey := w.keys.SessionWarmDone(dayKey, session.ID)
	done, err := w.isDone(ctx, session, slots, doneKey)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	acquired, err := w.lock.WithLock(ctx, w.keys.WarmupLock(dayKey, session.ID), warmupLease, func(ctx context.Context) error {
		done, err := w.isDone(ctx, session, slots, doneKey)
		if err != nil || done {
			return err
		}
		return w.warm(ctx, session, day, slots, doneKey)
	})
	if err != nil {
		return fmt.Errorf("预热场次 %d 失败: %w", session.ID, err)
	}
	if !acquired {
		log.Debug("预热锁被其他实例持有，跳过")
	}
	return nil
}

func (w *WarmupService) warm(ctx context.Context, session *model.FlashSession, day string, slots []*model.TimeSlot, doneKey string) error {
	ttl := w.clock.TTLToEndOfDay()
	warmed := 0
	for _, slot := range slots {
		complete, err := w.slotComplete(ctx, session.ID, slot.ID)
		if err != nil {
			return err
		}
		if complete {
			continue
		}
		if err := w.store.BindSlot(ctx, slot.ID, session.ID, ttl); err != nil {
			return err
		}
		if _, err := w.store.InitStock(ctx, slot.ID, w.capacity, ttl); err != nil {
			return err
		}
		if err := w.store.InitDedup(ctx, slot.ID, ttl); err != nil {
			return err
		}
		if err := w.store.SetFlag(ctx, w.keys.SlotWarm(slot.ID), ttl); err != nil {
			return err
		}
		warmed++
	}

	if err := w.store.InitGate(ctx, session.ID, ttl); err != nil {
		return err
	}
	flashAt, err := w.clock.At(day, session.FlashTime)
	if err != nil {
		return err
	}
	if err := w.store.SetGateEpoch(ctx, session.ID, flashAt.Unix(), ttl); err != nil {
		return err
	}

	complete, err := w.sessionComplete(ctx, session.ID, slots)
	if err != nil {
		return err
	}
	log := w.logger.WithFields(logrus.Fields{"session_id": session.ID, "day": day, "slots": len(slots), "warmed": warmed})
	if !complete {
		log.Warn("预热后校验未通过，等待下一轮")
		return nil
	}
	if err := w.store.SetFlag(ctx, doneKey, ttl); err != nil {
		return err
	}
	log.Info("场次预热完成")
	return nil
}

func (w *WarmupService) isDone(ctx context.Context, session *model.FlashSession, slots []*model.TimeSlot, doneKey string) (bool, error) {
	flag, err := w.store.HasFlag(ctx, doneKey)
	if err != nil || !flag {
		return false, err
	}
	return w.sessionComplete(ctx, session.ID, slots)
}

func (w *WarmupService) sessionComplete(ctx context.Context, sessionID uint64, slots []*model.TimeSlot) (bool, error) {
	for _, slot := range slots {
		ok, err := w.slotComplete(ctx, sessionID, slot.ID)
		if err != nil || !ok {
			return false, err
		}
	}
	hasGate, err := w.store.HasGate(ctx, sessionID)
	if err != nil || !hasGate {
		return false, err
	}
	_, hasEpoch, err := w.store.GateEpoch(ctx, sessionID)
	return hasEpoch, err
}

func (w *WarmupService) slotComplete(ctx context.Context, sessionID, slotID uint64) (bool, error) {
	warm, err := w.store.HasFlag(ctx, w.keys.SlotWarm(slotID))
	if err != nil || !warm {
		return false, err
	}
	bound, ok, err := w.store.SlotSession(ctx, slotID)
	if err != nil || !ok || bound != sessionID {
		return false, err
	}
	_, hasStock, err := w.store.Stock(ctx, slotID)
	if err != nil || !hasStock {
		return false, err
	}
	return w.store.HasDedup(ctx, slotID)
}

// IsWarmupDone 场次当天是否预热完成
func (w *WarmupService) IsWarmupDone(ctx context.Context, sessionID uint64) (bool, error) {
	return w.store.HasFlag(ctx, w.keys.SessionWarmDone(w.clock.DayKey(), sessionID))
}

// GenerateDue 到达 GENERATE_TIME_SLOT_TIME 后为所有场次生成当天时段
func (w *WarmupService) GenerateDue(ctx context.Context) error {
	genTime, err := w.settings.GenerateTime(ctx)
	if err != nil {
		return err
	}
	if w.clock.NowClock() < genTime {
		return nil
	}
	sessions, err := w.sessions.List(ctx)
	if err != nil {
		return fmt.Errorf("查询场次失败: %w", err)
	}
	var errs []error
	for _, s := range sessions {
		if _, err := w.GenerateSlots(ctx, s); err != nil {
			w.logger.WithError(err).WithField("session_id", s.ID).Error("生成时段失败")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WarmupDue 预热开抢时间落在 [now, now+WARMUP_MINUTE] 的场次
func (w *WarmupService) WarmupDue(ctx context.Context) error {
	minutes, err := w.settings.WarmupMinute(ctx)
	if err != nil {
		return err
	}
	now := w.clock.Now()
	to := now.Add(time.Duration(minutes) * time.Minute)
	toClock := to.Format(timeutil.ClockLayout)
	if to.YearDay() != now.YearDay() {
		toClock = "23:59:59"
	}
	sessions, err := w.sessions.ListFlashBetween(ctx, now.Format(timeutil.ClockLayout), toClock)
	if err != nil {
		return fmt.Errorf("查询待预热场次失败: %w", err)
	}
	var errs []error
	for _, s := range sessions {
		if err := w.WarmupSession(ctx, s); err != nil {
			w.logger.WithError(err).WithField("session_id", s.ID).Error("场次预热失败")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenDueGates 开抢时间已到且闸门未开的场次：补预热，预热完成才开闸
func (w *WarmupService) OpenDueGates(ctx context.Context) error {
	sessions, err := w.sessions.ListFlashDue(ctx, w.clock.NowClock())
	if err != nil {
		return fmt.Errorf("查询待开闸场次失败: %w", err)
	}
	var errs []error
	for _, s := range sessions {
		log := w.logger.WithField("session_id", s.ID)
		open, err := w.store.IsGateOpen(ctx, s.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if open {
			continue
		}
		if err := w.WarmupSession(ctx, s); err != nil {
			log.WithError(err).Error("开闸前预热失败")
			errs = append(errs, err)
			continue
		}
		done, err := w.IsWarmupDone(ctx, s.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !done {
			log.Warn("预热未完成，暂不开闸")
			continue
		}
		if err := w.store.OpenGate(ctx, s.ID, w.clock.TTLToEndOfDay()); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Info("场次闸门已开启")
	}
	return errors.Join(errs...)
}

// OpenSession 管理端手动开闸：强制预热后开启
func (w *WarmupService) OpenSession(ctx context.Context, sessionID uint64) error {
	session, err := w.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("查询场次失败: %w", err)
	}
	if session == nil {
		return errcode.Newf(errcode.ParamError, "场次 %d 不存在", sessionID)
	}
	if err := w.WarmupSession(ctx, session); err != nil {
		return err
	}
	done, err := w.IsWarmupDone(ctx, sessionID)
	if err != nil {
		return err
	}
	if !done {
		return errcode.Newf(errcode.Failed, "场次 %d 预热未完成，无法开闸", sessionID)
	}
	if err := w.store.OpenGate(ctx, sessionID, w.clock.TTLToEndOfDay()); err != nil {
		return err
	}
	w.logger.WithField("session_id", sessionID).Info("管理端手动开闸")
	return nil
}

// WarmupByID 管理端手动预热
func (w *WarmupService) WarmupByID(ctx context.Context, sessionID uint64) error {
	session, err := w.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("查询场次失败: %w", err)
	}
	if session == nil {
		return errcode.Newf(errcode.ParamError, "场次 %d 不存在", sessionID)
	}
	return w.WarmupSession(ctx, session)
}

// RegenerateSession 配置变更后重建当天时段：删旧时段及其缓存，清空完成标记和闸门，重新生成
func (w *WarmupService) RegenerateSession(ctx context.Context, session *model.FlashSession) error {
	day, dayKey := w.clock.Today(), w.clock.DayKey()
	acquired, err := w.lock.WithLock(ctx, w.keys.SlotGenLock(dayKey, session.ID), slotGenLease, func(ctx context.Context) error {
		if err := w.purgeDay(ctx, session.ID, day, dayKey); err != nil {
			return err
		}
		if _, err := w.slots.GenerateForDate(ctx, session, day); err != nil {
			return err
		}
		return w.store.SetFlag(ctx, w.keys.SlotGenDone(dayKey, session.ID), w.clock.TTLToEndOfDay())
	})
	if err != nil {
		return fmt.Errorf("重建场次 %d 时段失败: %w", session.ID, err)
	}
	if !acquired {
		return errcode.Newf(errcode.Failed, "场次 %d 时段正在生成，请稍后重试", session.ID)
	}
	w.logger.WithFields(logrus.Fields{"session_id": session.ID, "day": day}).Info("场次时段已重建")
	return nil
}

// PurgeSession 删除场次当天的时段与缓存（删除场次时调用）
func (w *WarmupService) PurgeSession(ctx context.Context, sessionID uint64) error {
	day, dayKey := w.clock.Today(), w.clock.DayKey()
	acquired, err := w.lock.WithLock(ctx, w.keys.SlotGenLock(dayKey, sessionID), slotGenLease, func(ctx context.Context) error {
		return w.purgeDay(ctx, sessionID, day, dayKey)
	})
	if err != nil {
		return err
	}
	if !acquired {
		return errcode.Newf(errcode.Failed, "场次 %d 时段正在生成，请稍后重试", sessionID)
	}
	return nil
}

func (w *WarmupService) purgeDay(ctx context.Context, sessionID uint64, day, dayKey string) error {
	old, err := w.slotRepo.ListBySessionDate(ctx, sessionID, day)
	if err != nil {
		return fmt.Errorf("查询旧时段失败: %w", err)
	}
	keys := []string{
		w.keys.SlotGenDone(dayKey, sessionID),
		w.keys.SessionWarmDone(dayKey, sessionID),
		w.keys.Gate(sessionID),
		w.keys.GateTime(sessionID),
	}
	for _, s := range old {
		keys = append(keys, w.keys.SlotKeys(s.ID)...)
	}
	if _, err := w.slotRepo.DeleteBySessionDate(ctx, sessionID, day); err != nil {
		return fmt.Errorf("删除旧时段失败: %w", err)
	}
	return w.store.Delete(ctx, keys...)
}

package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"BadmintonFlash/internal/cache"
	"BadmintonFlash/internal/errcode"
	"BadmintonFlash/internal/interfaces"
	"BadmintonFlash/internal/model"
	"BadmintonFlash/internal/repository"
	"BadmintonFlash/internal/utils/timeutil"

	"github.com/sirupsen/logrus"
)

const courtBootstrapLease = 180 * time.Second

// AdminService 场次、场地、运行期配置的管理入口
type AdminService struct {
	sessions repository.SessionRepository
	courts   repository.CourtRepository
	settings *SettingService
	warmup   *WarmupService
	store    interfaces.CapacityStore
	lock     *cache.JobLock
	keys     cache.Keys
	clock    *timeutil.Clock
	logger   *logrus.Logger
}

// NewAdminService 创建管理服务
func NewAdminService(
	sessions repository.SessionRepository,
	courts repository.CourtRepository,
	settings *SettingService,
	warmup *WarmupService,
	store interfaces.CapacityStore,
	lock *cache.JobLock,
	keys cache.Keys,
	clock *timeutil.Clock,
	logger *logrus.Logger,
) *AdminService {
	return &AdminService{
		sessions: sessions,
		courts:   courts,
		settings: settings,
		warmup:   warmup,
		store:    store,
		lock:     lock,
		keys:     keys,
		clock:    clock,
		logger:   logger,
	}
}

func (a *AdminService) ListSessions(ctx context.Context) ([]*model.FlashSession, error) {
	return a.sessions.List(ctx)
}

func (a *AdminService) validate(ctx context.Context, s *model.FlashSession) error {
	warmupMinute, err := a.settings.WarmupMinute(ctx)
	if err != nil {
		return err
	}
	genTime, err := a.settings.GenerateTime(ctx)
	if err != nil {
		return err
	}
	return ValidateSession(s, warmupMinute, genTime)
}

// AddSession 新增场次
func (a *AdminService) AddSession(ctx context.Context, s *model.FlashSession) (*model.FlashSession, error) {
	s.ID = 0
	if err := a.validate(ctx, s); err != nil {
		return nil, err
	}
	if err := a.sessions.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("新增场次失败: %w", err)
	}
	a.logger.WithField("session_id", s.ID).Info("场次已新增")
	return s, nil
}

// UpdateSession 修改场次；当天未开闸则立即重建时段
func (a *AdminService) UpdateSession(ctx context.Context, s *model.FlashSession) error {
	existing, err := a.sessions.GetByID(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("查询场次失败: %w", err)
	}
	if existing == nil {
		return errcode.Newf(errcode.ParamError, "场次 %d 不存在", s.ID)
	}
	if err := a.validate(ctx, s); err != nil {
		return err
	}
	if err := a.sessions.Update(ctx, s); err != nil {
		return fmt.Errorf("修改场次失败: %w", err)
	}
	return a.regenerateIfClosed(ctx, s)
}

// DeleteSession 删除场次；当天已开闸的不允许删除
func (a *AdminService) DeleteSession(ctx context.Context, id uint64) error {
	open, err := a.store.IsGateOpen(ctx, id)
	if err != nil {
		return err
	}
	if open {
		return errcode.Newf(errcode.Failed, "场次 %d 今日已开抢，不能删除", id)
	}
	if err := a.warmup.PurgeSession(ctx, id); err != nil {
		return err
	}
	if err := a.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("删除场次失败: %w", err)
	}
	a.logger.WithField("session_id", id).Info("场次已删除")
	return nil
}

// GetSettings 当前运行期配置
func (a *AdminService) GetSettings(ctx context.Context) (map[string]string, error) {
	return a.settings.All(ctx)
}

// UpdateSettings 校验后保存；场地数量只能在当天首个场次预热前修改，变化时同步场地并重建未开闸场次
func (a *AdminService) UpdateSettings(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return errcode.Newf(errcode.ParamError, "配置项不能为空")
	}
	if err := ValidateSettings(values); err != nil {
		return errcode.Newf(errcode.ParamError, "%s", err.Error())
	}
	current, err := a.settings.All(ctx)
	if err != nil {
		return err
	}
	merged := make(map[string]string, len(current))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}

	// 新的预热时长与生成时间要对所有场次仍然成立
	warmupMinute, _ := strconv.Atoi(merged[model.ConfigWarmupMinute])
	sessions, err := a.sessions.List(ctx)
	if err != nil {
		return fmt.Errorf("查询场次失败: %w", err)
	}
	for _, s := range sessions {
		cp := *s
		if err := ValidateSession(&cp, warmupMinute, merged[model.ConfigGenerateTimeSlotTime]); err != nil {
			return errcode.Newf(errcode.ParamError, "场次 %d 与新配置冲突: %s", s.ID, err.Error())
		}
	}

	countChanged := settingChanged(values, current, model.ConfigCourtCount)
	if countChanged {
		open, err := a.courtWindowOpen(ctx, sessions)
		if err != nil {
			return err
		}
		if !open {
			return errcode.New(errcode.CourtWindowShut)
		}
	}

	if err := a.settings.Update(ctx, values); err != nil {
		return err
	}
	a.logger.WithField("keys", len(values)).Info("运行期配置已更新")

	if !countChanged && !settingChanged(values, current, model.ConfigCourtNameFormat) {
		return nil
	}
	return a.ReconcileCourts(ctx)
}

func settingChanged(values, current map[string]string, key string) bool {
	v, ok := values[key]
	return ok && strings.TrimSpace(v) != strings.TrimSpace(current[key])
}

// courtWindowOpen 当前时刻早于所有场次中最早的预热时刻；没有场次时总是可改
func (a *AdminService) courtWindowOpen(ctx context.Context, sessions []*model.FlashSession) (bool, error) {
	if len(sessions) == 0 {
		return true, nil
	}
	warmupMinute, err := a.settings.WarmupMinute(ctx)
	if err != nil {
		return false, err
	}
	now, err := timeutil.ParseClock(a.clock.NowClock())
	if err != nil {
		return false, err
	}
	lead := time.Duration(warmupMinute) * time.Minute
	var first time.Duration
	for i, s := range sessions {
		flash, err := timeutil.ParseClock(s.FlashTime)
		if err != nil {
			return false, fmt.Errorf("场次 %d 开抢时间非法: %w", s.ID, err)
		}
		if w := flash - lead; i == 0 || w < first {
			first = w
		}
	}
	return now < first, nil
}

func (a *AdminService) regenerateIfClosed(ctx context.Context, s *model.FlashSession) error {
	open, err := a.store.IsGateOpen(ctx, s.ID)
	if err != nil {
		return err
	}
	if open {
		a.logger.WithField("session_id", s.ID).Warn("场次今日已开抢，变更次日生效")
		return nil
	}
	return a.warmup.RegenerateSession(ctx, s)
}

// ReconcileCourts 按 COURT_COUNT / COURT_NAME_FORMAT 对齐场地表，多实例只有一个执行
// 数量不一致且已过修改窗口时只改名，数量留到下次窗口内同步
func (a *AdminService) ReconcileCourts(ctx context.Context) error {
	var sessions []*model.FlashSession
	acquired, err := a.lock.WithLock(ctx, a.keys.CourtBootstrapLock(), courtBootstrapLease, func(ctx context.Context) error {
		count, err := a.settings.CourtCount(ctx)
		if err != nil {
			return err
		}
		format, err := a.settings.CourtNameFormat(ctx)
		if err != nil {
			return err
		}
		courts, err := a.courts.List(ctx)
		if err != nil {
			return fmt.Errorf("查询场地失败: %w", err)
		}
		if len(courts) != count {
			all, err := a.sessions.List(ctx)
			if err != nil {
				return fmt.Errorf("查询场次失败: %w", err)
			}
			open, err := a.courtWindowOpen(ctx, all)
			if err != nil {
				return err
			}
			if open {
				sessions = all
			} else {
				a.logger.WithFields(logrus.Fields{"courts": len(courts), "count": count}).
					Warn("场地数量与配置不一致，但已过可修改时间，本次只同步名称")
				count = len(courts)
			}
		}

		var extra []uint64
		for i, c := range courts {
			if i >= count {
				extra = append(extra, c.ID)
				continue
			}
			name := fmt.Sprintf(format, i+1)
			if c.CourtName != name {
				if err := a.courts.Rename(ctx, c.ID, name); err != nil {
					return fmt.Errorf("重命名场地失败: %w", err)
				}
			}
		}
		if err := a.courts.DeleteByIDs(ctx, extra); err != nil {
			return fmt.Errorf("删除多余场地失败: %w", err)
		}
		var missing []*model.Court
		for i := len(courts); i < count; i++ {
			missing = append(missing, &model.Court{CourtName: fmt.Sprintf(format, i+1)})
		}
		if err := a.courts.Create(ctx, missing); err != nil {
			return fmt.Errorf("新增场地失败: %w", err)
		}
		a.logger.WithFields(logrus.Fields{"count": count, "added": len(missing), "removed": len(extra)}).Info("场地已同步")
		return nil
	})
	if err != nil {
		return err
	}
	if !acquired {
		a.logger.Info("场地同步由其他实例执行，跳过")
		return nil
	}
	for _, s := range sessions {
		if err := a.regenerateIfClosed(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// GenerateSlots 管理端手动生成当天时段（已生成则跳过）
func (a *AdminService) GenerateSlots(ctx context.Context, sessionID uint64) (bool, error) {
	s, err := a.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("查询场次失败: %w", err)
	}
	if s == nil {
		return false, errcode.Newf(errcode.ParamError, "场次 %d 不存在", sessionID)
	}
	return a.warmup.GenerateSlots(ctx, s)
}

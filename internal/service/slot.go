package service

import (
	"context"
	"fmt"
	"time"

	"BadmintonFlash/internal/errcode"
	"BadmintonFlash/internal/model"
	"BadmintonFlash/internal/repository"
	"BadmintonFlash/internal/utils/timeutil"

	"github.com/sirupsen/logrus"
)

// SlotService 按场次和场地生成每日时段
type SlotService struct {
	slotRepo  repository.SlotRepository
	courtRepo repository.CourtRepository
	logger    *logrus.Logger
}

// NewSlotService 创建时段服务
func NewSlotService(slotRepo repository.SlotRepository, courtRepo repository.CourtRepository, logger *logrus.Logger) *SlotService {
	return &SlotService{slotRepo: slotRepo, courtRepo: courtRepo, logger: logger}
}

// GenerateForDate 为 day 生成场次的全部时段，已存在的跳过
func (s *SlotService) GenerateForDate(ctx context.Context, session *model.FlashSession, day string) (int, error) {
	courts, err := s.courtRepo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("查询场地失败: %w", err)
	}
	slots, err := BuildSlots(session, day, courts)
	if err != nil {
		return 0, err
	}
	if err := s.slotRepo.CreateIgnoreConflict(ctx, slots); err != nil {
		return 0, fmt.Errorf("写入时段失败: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"day":        day,
		"courts":     len(courts),
		"slots":      len(slots),
	}).Info("时段生成完成")
	return len(slots), nil
}

// BuildSlots 每块场地每个间隔一个时段
func BuildSlots(session *model.FlashSession, day string, courts []*model.Court) ([]*model.TimeSlot, error) {
	begin, err := timeutil.ParseClock(session.BeginTime)
	if err != nil {
		return nil, err
	}
	end, err := timeutil.ParseClock(session.EndTime)
	if err != nil {
		return nil, err
	}
	if session.SlotInterval <= 0 || begin >= end {
		return nil, errcode.Newf(errcode.ParamError, "场次 %d 时间配置非法", session.ID)
	}
	step := time.Duration(session.SlotInterval) * time.Minute
	var slots []*model.TimeSlot
	for _, c := range courts {
		for at := begin; at+step <= end; at += step {
			slots = append(slots, &model.TimeSlot{
				SessionID: session.ID,
				SlotDate:  day,
				CourtID:   c.ID,
				StartTime: timeutil.FormatOffset(at),
				EndTime:   timeutil.FormatOffset(at + step),
			})
		}
	}
	return slots, nil
}

// ValidateSession 场次时间约束；warmupMinute/generateTime 来自运行期配置
func ValidateSession(session *model.FlashSession, warmupMinute int, generateTime string) error {
	var err error
	if session.FlashTime, err = timeutil.NormalizeClock(session.FlashTime); err != nil {
		return errcode.Newf(errcode.ParamError, "开抢时间格式错误")
	}
	if session.BeginTime, err = timeutil.NormalizeClock(session.BeginTime); err != nil {
		return errcode.Newf(errcode.ParamError, "开始时间格式错误")
	}
	if session.EndTime, err = timeutil.NormalizeClock(session.EndTime); err != nil {
		return errcode.Newf(errcode.ParamError, "结束时间格式错误")
	}
	flash, _ := timeutil.ParseClock(session.FlashTime)
	begin, _ := timeutil.ParseClock(session.BeginTime)
	end, _ := timeutil.ParseClock(session.EndTime)

	if session.SlotInterval <= 0 {
		return errcode.Newf(errcode.ParamError, "时段间隔必须大于 0")
	}
	if begin >= end {
		return errcode.Newf(errcode.ParamError, "开始时间必须早于结束时间")
	}
	if (end-begin)%(time.Duration(session.SlotInterval)*time.Minute) != 0 {
		return errcode.New(errcode.TimeUndivided)
	}
	if flash > begin {
		return errcode.Newf(errcode.ParamError, "开抢时间不能晚于开始时间")
	}
	warmup := time.Duration(warmupMinute) * time.Minute
	if flash < warmup {
		return errcode.Newf(errcode.ParamError, "开抢时间距零点不足预热时长 %d 分钟", warmupMinute)
	}
	if generateTime != "" {
		gen, err := timeutil.ParseClock(generateTime)
		if err != nil {
			return errcode.Newf(errcode.ParamError, "时段生成时间格式错误")
		}
		if gen > flash-warmup {
			return errcode.Newf(errcode.ParamError, "时段生成时间 %s 晚于预热开始时间", generateTime)
		}
	}
	return nil
}

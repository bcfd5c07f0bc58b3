package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"BadmintonFlash/internal/repository"
	"BadmintonFlash/internal/utils/timeutil"

	"github.com/sirupsen/logrus"
)

// ReaperService 取消超过 PAY_TIMEOUT_MINUTE 仍未支付的预约
type ReaperService struct {
	repo     repository.ReservationRepository
	reserve  *ReserveService
	settings *SettingService
	clock    *timeutil.Clock
	batch    int
	logger   *logrus.Logger
}

// NewReaperService batch 为单轮最多处理的条数
func NewReaperService(repo repository.ReservationRepository, reserve *ReserveService, settings *SettingService, clock *timeutil.Clock, batch int, logger *logrus.Logger) *ReaperService {
	return &ReaperService{repo: repo, reserve: reserve, settings: settings, clock: clock, batch: batch, logger: logger}
}

// Run 执行一轮，返回本轮取消的条数
func (r *ReaperService) Run(ctx context.Context) (int, error) {
	minutes, err := r.settings.PayTimeoutMinute(ctx)
	if err != nil {
		return 0, err
	}
	if minutes <= 0 {
		return 0, nil
	}
	deadline := r.clock.Now().Add(-time.Duration(minutes) * time.Minute)
	list, err := r.repo.ListTimedOutPending(ctx, deadline, r.batch)
	if err != nil {
		return 0, fmt.Errorf("查询超时预约失败: %w", err)
	}

	cancelled := 0
	var errs []error
	for _, res := range list {
		ok, err := r.reserve.CancelTimeoutPending(ctx, res.ID)
		if err != nil {
			r.logger.WithError(err).WithField("reservation_id", res.ID).Error("超时取消失败")
			errs = append(errs, err)
			continue
		}
		if ok {
			cancelled++
		}
	}
	if cancelled > 0 {
		r.logger.WithFields(logrus.Fields{"cancelled": cancelled, "scanned": len(list)}).Info("超时未支付预约已取消")
	}
	return cancelled, errors.Join(errs...)
}

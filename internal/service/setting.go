package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"BadmintonFlash/internal/model"
	"BadmintonFlash/internal/repository"
	"BadmintonFlash/internal/utils/timeutil"

	"github.com/sirupsen/logrus"
)

// 配置项缺失时的兜底值
var settingFallbacks = map[string]string{
	model.ConfigWarmupMinute:         "5",
	model.ConfigPayTimeoutMinute:     "15",
	model.ConfigGenerateTimeSlotTime: "00:05",
	model.ConfigCourtCount:           "8",
	model.ConfigCourtNameFormat:      "球场%d",
	model.ConfigPayAmount:            "3000",
}

// SettingService configs 表的类型化读取
type SettingService struct {
	repo   repository.ConfigRepository
	logger *logrus.Logger
}

// NewSettingService 创建业务配置服务
func NewSettingService(repo repository.ConfigRepository, logger *logrus.Logger) *SettingService {
	return &SettingService{repo: repo, logger: logger}
}

// Seed 写入缺失的配置项
func (s *SettingService) Seed(ctx context.Context, defaults map[string]string) error {
	merged := make(map[string]string, len(settingFallbacks))
	for k, v := range settingFallbacks {
		merged[k] = v
	}
	for k, v := range defaults {
		merged[k] = v
	}
	if err := ValidateSettings(merged); err != nil {
		return err
	}
	return s.repo.SeedDefaults(ctx, merged)
}

// All 当前全部配置（含兜底值）
func (s *SettingService) All(ctx context.Context) (map[string]string, error) {
	stored, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	out := make(map[string]string, len(settingFallbacks))
	for k, v := range settingFallbacks {
		out[k] = v
	}
	for k, v := range stored {
		out[k] = v
	}
	return out, nil
}

func (s *SettingService) value(ctx context.Context, key string) (string, error) {
	v, ok, err := s.repo.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("读取配置 %s 失败: %w", key, err)
	}
	if !ok {
		return settingFallbacks[key], nil
	}
	return v, nil
}

func (s *SettingService) intValue(ctx context.Context, key string) (int, error) {
	v, err := s.value(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		s.logger.WithFields(logrus.Fields{"key": key, "value": v}).Warn("配置值不是整数，使用兜底值")
		n, _ = strconv.Atoi(settingFallbacks[key])
	}
	return n, nil
}

func (s *SettingService) WarmupMinute(ctx context.Context) (int, error) {
	return s.intValue(ctx, model.ConfigWarmupMinute)
}

// PayTimeoutMinute <=0 表示关闭超时取消
func (s *SettingService) PayTimeoutMinute(ctx context.Context) (int, error) {
	return s.intValue(ctx, model.ConfigPayTimeoutMinute)
}

// GenerateTime 每日生成时段的时刻，HH:MM:SS
func (s *SettingService) GenerateTime(ctx context.Context) (string, error) {
	v, err := s.value(ctx, model.ConfigGenerateTimeSlotTime)
	if err != nil {
		return "", err
	}
	return timeutil.NormalizeClock(v)
}

func (s *SettingService) CourtCount(ctx context.Context) (int, error) {
	return s.intValue(ctx, model.ConfigCourtCount)
}

func (s *SettingService) CourtNameFormat(ctx context.Context) (string, error) {
	return s.value(ctx, model.ConfigCourtNameFormat)
}

// PayAmount 单个时段价格（分）
func (s *SettingService) PayAmount(ctx context.Context) (int64, error) {
	n, err := s.intValue(ctx, model.ConfigPayAmount)
	return int64(n), err
}

// Update 写入配置，调用方负责先校验
func (s *SettingService) Update(ctx context.Context, values map[string]string) error {
	for k, v := range values {
		if err := s.repo.Upsert(ctx, k, v); err != nil {
			return fmt.Errorf("保存配置 %s 失败: %w", k, err)
		}
	}
	return nil
}

// ValidateSettings 配置项格式校验
func ValidateSettings(values map[string]string) error {
	for k, v := range values {
		v = strings.TrimSpace(v)
		switch k {
		case model.ConfigWarmupMinute, model.ConfigCourtCount, model.ConfigPayAmount:
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("%s 必须为正整数: %q", k, v)
			}
		case model.ConfigPayTimeoutMinute:
			if _, err := strconv.Atoi(v); err != nil {
				return fmt.Errorf("%s 必须为整数: %q", k, v)
			}
		case model.ConfigGenerateTimeSlotTime:
			if _, err := timeutil.ParseClock(v); err != nil {
				return fmt.Errorf("%s 格式错误: %w", k, err)
			}
		case model.ConfigCourtNameFormat:
			if strings.Count(v, "%d") != 1 {
				return fmt.Errorf("%s 必须且只能包含一个 %%d: %q", k, v)
			}
		default:
			return fmt.Errorf("未知配置项: %s", k)
		}
	}
	return nil
}

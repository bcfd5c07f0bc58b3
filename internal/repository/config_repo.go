package repository

import (
	"context"
	"errors"
	"time"

	"BadmintonFlash/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConfigRepository 业务配置持久化
type ConfigRepository interface {
	GetAll(ctx context.Context) (map[string]string, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Upsert(ctx context.Context, key, value string) error
	// SeedDefaults 仅写入不存在的配置项
	SeedDefaults(ctx context.Context, defaults map[string]string) error
}

type configRepository struct {
	db *gorm.DB
}

// NewConfigRepository 创建配置仓储
func NewConfigRepository(db *gorm.DB) ConfigRepository {
	return &configRepository{db: db}
}

func (r *configRepository) GetAll(ctx context.Context) (map[string]string, error) {
	var items []*model.ConfigItem
	if err := r.db.WithContext(ctx).Find(&items).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(items))
	for _, it := range items {
		out[it.ConfigKey] = it.ConfigValue
	}
	return out, nil
}

func (r *configRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var it model.ConfigItem
	err := r.db.WithContext(ctx).Where("config_key = ?", key).First(&it).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return it.ConfigValue, true, nil
}

func (r *configRepository) Upsert(ctx context.Context, key, value string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "config_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"config_value": value, "updated_at": time.Now()}),
	}).Create(&model.ConfigItem{ConfigKey: key, ConfigValue: value}).Error
}

func (r *configRepository) SeedDefaults(ctx context.Context, defaults map[string]string) error {
	for k, v := range defaults {
		err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "config_key"}},
			DoNothing: true,
		}).Create(&model.ConfigItem{ConfigKey: k, ConfigValue: v}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

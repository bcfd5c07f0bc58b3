package model

import "time"

// 运行期业务配置项（configs 表）
const (
	ConfigWarmupMinute         = "WARMUP_MINUTE"
	ConfigPayTimeoutMinute     = "PAY_TIMEOUT_MINUTE"
	ConfigGenerateTimeSlotTime = "GENERATE_TIME_SLOT_TIME"
	ConfigCourtCount           = "COURT_COUNT"
	ConfigCourtNameFormat      = "COURT_NAME_FORMAT"
	ConfigPayAmount            = "PAY_AMOUNT"
)

// ConfigItem 管理端可修改的配置
type ConfigItem struct {
	ID          uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	ConfigKey   string    `gorm:"column:config_key;type:varchar(64);uniqueIndex;not null" json:"key"`
	ConfigValue string    `gorm:"column:config_value;type:varchar(255);not null" json:"value"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (ConfigItem) TableName() string { return "configs" }

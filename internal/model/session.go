package model

import "time"

// FlashSession 抢场场次：每天 FlashTime 开抢，覆盖 [BeginTime, EndTime) 的时段
// 时刻均以 HH:MM:SS 存储
type FlashSession struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	FlashTime    string    `gorm:"column:flash_time;type:varchar(8);not null;index" json:"flashTime"`
	BeginTime    string    `gorm:"column:begin_time;type:varchar(8);not null" json:"beginTime"`
	EndTime      string    `gorm:"column:end_time;type:varchar(8);not null" json:"endTime"`
	SlotInterval int       `gorm:"column:slot_interval;not null" json:"slotInterval"` // 分钟
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"-"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"-"`
}

func (FlashSession) TableName() string { return "flash_sessions" }

// TimeSlot 某天某块场地的一个时段，库存恒为 1
type TimeSlot struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SessionID uint64    `gorm:"column:session_id;not null;uniqueIndex:uk_time_slots_natural,priority:1" json:"sessionId"`
	SlotDate  string    `gorm:"column:slot_date;type:varchar(10);not null;uniqueIndex:uk_time_slots_natural,priority:2" json:"slotDate"`
	CourtID   uint64    `gorm:"column:court_id;not null;uniqueIndex:uk_time_slots_natural,priority:3" json:"courtId"`
	StartTime string    `gorm:"column:start_time;type:varchar(8);not null;uniqueIndex:uk_time_slots_natural,priority:4" json:"startTime"`
	EndTime   string    `gorm:"column:end_time;type:varchar(8);not null" json:"endTime"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"-"`
}

func (TimeSlot) TableName() string { return "time_slots" }

// Court 场地
type Court struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	CourtName string    `gorm:"column:court_name;type:varchar(64);not null" json:"courtName"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"-"`
}

func (Court) TableName() string { return "courts" }

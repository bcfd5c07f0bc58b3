package repository

import (
	"errors"
	"fmt"
	"strings"

	"BadmintonFlash/internal/model"

	"github.com/jackc/pgconn"
	"gorm.io/gorm"
)

// activeSlotIndex 同一时段只允许一条非取消预约
const activeSlotIndex = `CREATE UNIQUE INDEX IF NOT EXISTS uk_reservations_active_slot ON reservations (slot_id) WHERE status <> 'CANCELLED'`

// Migrate 建表并补充 AutoMigrate 无法表达的部分唯一索引
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.FlashSession{},
		&model.Court{},
		&model.TimeSlot{},
		&model.Reservation{},
		&model.PayOrder{},
		&model.ConfigItem{},
		&model.DeadLetter{},
		&model.UserAccount{},
	); err != nil {
		return fmt.Errorf("数据库表结构迁移失败: %w", err)
	}
	if err := db.Exec(activeSlotIndex).Error; err != nil {
		return fmt.Errorf("创建预约唯一索引失败: %w", err)
	}
	return nil
}

// IsUniqueViolation 是否违反唯一约束（PostgreSQL 23505 / SQLite）
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

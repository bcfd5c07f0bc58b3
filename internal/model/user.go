package model

import "time"

// 账号角色，与 JWT 中的 role 一致
const (
	UserRoleUser  = "user"
	UserRoleAdmin = "admin"
)

// UserAccount 学号登录账号；删除只置 is_active=false，学号不可复用
type UserAccount struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	StudentID    string    `gorm:"column:student_id;type:varchar(32);uniqueIndex;not null" json:"studentId"`
	PasswordHash string    `gorm:"column:password_hash;type:varchar(100);not null" json:"-"`
	Role         string    `gorm:"column:role;type:varchar(16);not null;default:'user'" json:"role"`
	IsActive     bool      `gorm:"column:is_active;not null;default:true" json:"isActive"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (UserAccount) TableName() string { return "user_accounts" }

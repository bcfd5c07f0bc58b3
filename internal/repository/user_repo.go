package repository

import (
	"context"
	"errors"
	"time"

	"BadmintonFlash/internal/model"

	"gorm.io/gorm"
)

// UserRepository 账号持久化
type UserRepository interface {
	Create(ctx context.Context, u *model.UserAccount) error
	GetByID(ctx context.Context, id uint64) (*model.UserAccount, error)
	GetByStudentID(ctx context.Context, studentID string) (*model.UserAccount, error)
	List(ctx context.Context, page, pageSize int) ([]*model.UserAccount, int64, error)
	// Update 按列更新，自动刷新 updated_at
	Update(ctx context.Context, id uint64, fields map[string]interface{}) error
	CountActiveAdmins(ctx context.Context) (int64, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建账号仓储
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, u *model.UserAccount) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *userRepository) first(ctx context.Context, query string, arg interface{}) (*model.UserAccount, error) {
	var u model.UserAccount
	err := r.db.WithContext(ctx).Where(query, arg).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) GetByID(ctx context.Context, id uint64) (*model.UserAccount, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *userRepository) GetByStudentID(ctx context.Context, studentID string) (*model.UserAccount, error) {
	return r.first(ctx, "student_id = ?", studentID)
}

func (r *userRepository) List(ctx context.Context, page, pageSize int) ([]*model.UserAccount, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	q := r.db.WithContext(ctx).Model(&model.UserAccount{}).Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []*model.UserAccount
	err := q.Order("id ASC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&list).Error
	return list, total, err
}

func (r *userRepository) Update(ctx context.Context, id uint64, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	fields["updated_at"] = time.Now()
	return r.db.WithContext(ctx).Model(&model.UserAccount{}).Where("id = ?", id).Updates(fields).Error
}

func (r *userRepository) CountActiveAdmins(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.UserAccount{}).
		Where("role = ? AND is_active = ?", model.UserRoleAdmin, true).
		Count(&n).Error
	return n, err
}

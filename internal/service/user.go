package service

import (
	"context"
	"fmt"
	"strings"

	"BadmintonFlash/internal/auth"
	"BadmintonFlash/internal/errcode"
	"BadmintonFlash/internal/model"
	"BadmintonFlash/internal/repository"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxStudentIDLen   = 32
	minPasswordLen    = 6
	maxPasswordLength = 72 // bcrypt 只取前 72 字节
)

var errBadCredentials = errcode.Newf(errcode.Unauthorized, "学号或密码错误")

// TokenPair 登录、注册、刷新返回的令牌
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// UpdateMeRequest 用户修改自己的密码
type UpdateMeRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// AdminUserRequest 管理端新增/修改账号；修改时空字段表示不变
type AdminUserRequest struct {
	StudentID string `json:"studentId"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	IsActive  *bool  `json:"isActive"`
}

// UserService 账号注册登录与管理
type UserService struct {
	repo   repository.UserRepository
	signer *auth.Signer
	cost   int
	logger *logrus.Logger
}

// NewUserService cost 不在 bcrypt 允许范围时用默认值
func NewUserService(repo repository.UserRepository, signer *auth.Signer, cost int, logger *logrus.Logger) *UserService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &UserService{repo: repo, signer: signer, cost: cost, logger: logger}
}

func validateStudentID(studentID string) (string, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" || len(studentID) > maxStudentIDLen {
		return "", errcode.Newf(errcode.ParamError, "学号不能为空且不超过 %d 个字符", maxStudentIDLen)
	}
	return studentID, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen || len(password) > maxPasswordLength {
		return errcode.Newf(errcode.ParamError, "密码长度须在 %d 到 %d 之间", minPasswordLen, maxPasswordLength)
	}
	return nil
}

func normalizeRole(role string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "", model.UserRoleUser:
		return model.UserRoleUser, nil
	case model.UserRoleAdmin:
		return model.UserRoleAdmin, nil
	default:
		return "", errcode.Newf(errcode.ParamError, "角色只能为 user/admin: %s", role)
	}
}

func (s *UserService) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("密码加密失败: %w", err)
	}
	return string(b), nil
}

func (s *UserService) issue(u *model.UserAccount) (*TokenPair, error) {
	access, err := s.signer.CreateAccessToken(u.ID, u.Role)
	if err != nil {
		return nil, fmt.Errorf("签发 access token 失败: %w", err)
	}
	refresh, err := s.signer.CreateRefreshToken(u.ID)
	if err != nil {
		return nil, fmt.Errorf("签发 refresh token 失败: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// create 学号唯一由数据库唯一索引保证
func (s *UserService) create(ctx context.Context, studentID, password, role string) (*model.UserAccount, error) {
	studentID, err := validateStudentID(studentID)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	hashed, err := s.hash(password)
	if err != nil {
		return nil, err
	}
	u := &model.UserAccount{StudentID: studentID, PasswordHash: hashed, Role: role, IsActive: true}
	if err := s.repo.Create(ctx, u); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, errcode.New(errcode.UserDuplicated)
		}
		return nil, fmt.Errorf("新增账号失败: %w", err)
	}
	return u, nil
}

// Register 注册普通用户并直接登录
func (s *UserService) Register(ctx context.Context, studentID, password string) (*TokenPair, error) {
	u, err := s.create(ctx, studentID, password, model.UserRoleUser)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("user_id", u.ID).Info("用户注册成功")
	return s.issue(u)
}

// Login 学号密码登录，已注销账号视同不存在
func (s *UserService) Login(ctx context.Context, studentID, password string) (*TokenPair, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" || password == "" {
		return nil, errcode.New(errcode.ParamError)
	}
	u, err := s.repo.GetByStudentID(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("查询账号失败: %w", err)
	}
	if u == nil || !u.IsActive {
		return nil, errBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, errBadCredentials
	}
	return s.issue(u)
}

// Refresh 用 refresh token 换新的令牌对，角色以库中为准
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, errcode.New(errcode.ParamError)
	}
	userID, err := s.signer.ParseRefresh(refreshToken)
	if err != nil {
		return nil, errcode.New(errcode.Unauthorized)
	}
	u, err := s.active(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.issue(u)
}

// active 账号不存在或已注销时返回 Unauthorized
func (s *UserService) active(ctx context.Context, userID uint64) (*model.UserAccount, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("查询账号失败: %w", err)
	}
	if u == nil || !u.IsActive {
		return nil, errcode.New(errcode.Unauthorized)
	}
	return u, nil
}

func (s *UserService) GetMe(ctx context.Context, userID uint64) (*model.UserAccount, error) {
	return s.active(ctx, userID)
}

// UpdateMe 修改密码须校验旧密码
func (s *UserService) UpdateMe(ctx context.Context, userID uint64, req UpdateMeRequest) error {
	if req.OldPassword == "" || req.NewPassword == "" {
		return errcode.Newf(errcode.ParamError, "原密码与新密码必填")
	}
	if err := validatePassword(req.NewPassword); err != nil {
		return err
	}
	u, err := s.active(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.OldPassword)); err != nil {
		return errcode.Newf(errcode.Unauthorized, "原密码错误")
	}
	hashed, err := s.hash(req.NewPassword)
	if err != nil {
		return err
	}
	if err := s.repo.Update(ctx, userID, map[string]interface{}{"password_hash": hashed}); err != nil {
		return fmt.Errorf("修改密码失败: %w", err)
	}
	s.logger.WithField("user_id", userID).Info("用户已修改密码")
	return nil
}

// DeleteMe 注销自己的账号
func (s *UserService) DeleteMe(ctx context.Context, userID uint64) error {
	u, err := s.active(ctx, userID)
	if err != nil {
		return err
	}
	return s.deactivate(ctx, u)
}

// deactivate 不允许注销最后一个管理员
func (s *UserService) deactivate(ctx context.Context, u *model.UserAccount) error {
	if u.Role == model.UserRoleAdmin && u.IsActive {
		if err := s.keepOneAdmin(ctx); err != nil {
			return err
		}
	}
	if err := s.repo.Update(ctx, u.ID, map[string]interface{}{"is_active": false}); err != nil {
		return fmt.Errorf("注销账号失败: %w", err)
	}
	s.logger.WithField("user_id", u.ID).Info("账号已注销")
	return nil
}

func (s *UserService) keepOneAdmin(ctx context.Context) error {
	n, err := s.repo.CountActiveAdmins(ctx)
	if err != nil {
		return fmt.Errorf("统计管理员失败: %w", err)
	}
	if n <= 1 {
		return errcode.Newf(errcode.Failed, "至少保留一个管理员")
	}
	return nil
}

func (s *UserService) ListUsers(ctx context.Context, page, pageSize int) ([]*model.UserAccount, int64, error) {
	return s.repo.List(ctx, page, pageSize)
}

func (s *UserService) GetUser(ctx context.Context, id uint64) (*model.UserAccount, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("查询账号失败: %w", err)
	}
	if u == nil {
		return nil, errcode.Newf(errcode.NotFound, "用户 %d 不存在", id)
	}
	return u, nil
}

// AdminCreate 管理员新增账号，可指定角色
func (s *UserService) AdminCreate(ctx context.Context, operatorID uint64, req AdminUserRequest) (*model.UserAccount, error) {
	role, err := normalizeRole(req.Role)
	if err != nil {
		return nil, err
	}
	u, err := s.create(ctx, req.StudentID, req.Password, role)
	if err != nil {
		return nil, err
	}
	if req.IsActive != nil && !*req.IsActive {
		if err := s.repo.Update(ctx, u.ID, map[string]interface{}{"is_active": false}); err != nil {
			return nil, fmt.Errorf("设置账号状态失败: %w", err)
		}
		u.IsActive = false
	}
	s.logger.WithFields(logrus.Fields{"operator_id": operatorID, "user_id": u.ID, "role": role}).Info("管理员新增账号")
	return u, nil
}

// AdminUpdate 修改密码、角色、启用状态；不能降级或停用自己
func (s *UserService) AdminUpdate(ctx context.Context, operatorID, id uint64, req AdminUserRequest) error {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if req.StudentID != "" && strings.TrimSpace(req.StudentID) != u.StudentID {
		return errcode.Newf(errcode.ParamError, "学号不可修改")
	}
	fields := make(map[string]interface{})
	if req.Password != "" {
		if err := validatePassword(req.Password); err != nil {
			return err
		}
		hashed, err := s.hash(req.Password)
		if err != nil {
			return err
		}
		fields["password_hash"] = hashed
	}
	demoted := false
	if req.Role != "" {
		role, err := normalizeRole(req.Role)
		if err != nil {
			return err
		}
		if role != u.Role {
			fields["role"] = role
			demoted = u.Role == model.UserRoleAdmin
		}
	}
	disabled := false
	if req.IsActive != nil && *req.IsActive != u.IsActive {
		fields["is_active"] = *req.IsActive
		disabled = !*req.IsActive
	}
	if len(fields) == 0 {
		return nil
	}
	if id == operatorID && (demoted || disabled) {
		return errcode.Newf(errcode.Forbidden, "不能降级或停用自己")
	}
	if u.Role == model.UserRoleAdmin && u.IsActive && (demoted || disabled) {
		if err := s.keepOneAdmin(ctx); err != nil {
			return err
		}
	}
	if err := s.repo.Update(ctx, id, fields); err != nil {
		return fmt.Errorf("修改账号失败: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"operator_id": operatorID, "user_id": id}).Info("管理员修改账号")
	return nil
}

// AdminDelete 管理员注销账号，不能注销自己
func (s *UserService) AdminDelete(ctx context.Context, operatorID, id uint64) error {
	if id == operatorID {
		return errcode.Newf(errcode.Forbidden, "不能注销自己")
	}
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if !u.IsActive {
		return nil
	}
	return s.deactivate(ctx, u)
}

// EnsureAdmin 启动时确保配置的管理员存在且可用；studentID 为空时跳过
func (s *UserService) EnsureAdmin(ctx context.Context, studentID, password string) error {
	if strings.TrimSpace(studentID) == "" {
		return nil
	}
	u, err := s.repo.GetByStudentID(ctx, strings.TrimSpace(studentID))
	if err != nil {
		return fmt.Errorf("查询管理员失败: %w", err)
	}
	if u == nil {
		u, err = s.create(ctx, studentID, password, model.UserRoleAdmin)
		if errcode.Is(err, errcode.UserDuplicated) {
			// 其他实例刚创建
			return nil
		}
		if err != nil {
			return err
		}
		s.logger.WithField("user_id", u.ID).Info("已创建初始管理员")
		return nil
	}
	if u.Role == model.UserRoleAdmin && u.IsActive {
		return nil
	}
	if err := s.repo.Update(ctx, u.ID, map[string]interface{}{"role": model.UserRoleAdmin, "is_active": true}); err != nil {
		return fmt.Errorf("恢复管理员失败: %w", err)
	}
	s.logger.WithField("user_id", u.ID).Warn("初始管理员已恢复为可用的管理员")
	return nil
}

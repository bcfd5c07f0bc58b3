package api

import (
	"strconv"

	"BadmintonFlash/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// UserHandler 注册登录、个人账号、管理端账号接口
type UserHandler struct {
	users  *service.UserService
	logger *logrus.Logger
}

func NewUserHandler(users *service.UserService, logger *logrus.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

type credentialRequest struct {
	StudentID string `json:"studentId" binding:"required"`
	Password  string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// Register POST /auth/register
func (h *UserHandler) Register(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		paramError(c, "studentId 与 password 必填")
		return
	}
	tokens, err := h.users.Register(c.Request.Context(), req.StudentID, req.Password)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, tokens)
}

// Login POST /auth/login
func (h *UserHandler) Login(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		paramError(c, "studentId 与 password 必填")
		return
	}
	tokens, err := h.users.Login(c.Request.Context(), req.StudentID, req.Password)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, tokens)
}

// Refresh POST /auth/refresh
func (h *UserHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		paramError(c, "refreshToken 必填")
		return
	}
	tokens, err := h.users.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, tokens)
}

// Me GET /user/me
func (h *UserHandler) Me(c *gin.Context) {
	u, found := currentUser(c)
	if !found {
		return
	}
	acc, err := h.users.GetMe(c.Request.Context(), u.ID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, acc)
}

// UpdateMe PATCH /user/me
func (h *UserHandler) UpdateMe(c *gin.Context) {
	u, found := currentUser(c)
	if !found {
		return
	}
	var req service.UpdateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		paramError(c, "请求体格式错误")
		return
	}
	if err := h.users.UpdateMe(c.Request.Context(), u.ID, req); err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, nil)
}

// DeleteMe DELETE /user/me
func (h *UserHandler) DeleteMe(c *gin.Context) {
	u, found := currentUser(c)
	if !found {
		return
	}
	if err := h.users.DeleteMe(c.Request.Context(), u.ID); err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, nil)
}

// ListUsers GET /admin/users?page=1&page_size=20
func (h *UserHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	list, total, err := h.users.ListUsers(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, gin.H{"list": list, "total": total})
}

// GetUser GET /admin/users/:userId
func (h *UserHandler) GetUser(c *gin.Context) {
	id, valid := uintParam(c, "userId")
	if !valid {
		return
	}
	acc, err := h.users.GetUser(c.Request.Context(), id)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, acc)
}

// CreateUser POST /admin/users
func (h *UserHandler) CreateUser(c *gin.Context) {
	u, found := currentUser(c)
	if !found {
		return
	}
	var req service.AdminUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		paramError(c, "请求体格式错误")
		return
	}
	acc, err := h.users.AdminCreate(c.Request.Context(), u.ID, req)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, acc)
}

// UpdateUser PATCH /admin/users/:userId
func (h *UserHandler) UpdateUser(c *gin.Context) {
	u, found := currentUser(c)
	if !found {
		return
	}
	id, valid := uintParam(c, "userId")
	if !valid {
		return
	}
	var req service.AdminUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		paramError(c, "请求体格式错误")
		return
	}
	if err := h.users.AdminUpdate(c.Request.Context(), u.ID, id, req); err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, nil)
}

// DeleteUser DELETE /admin/users/:userId
func (h *UserHandler) DeleteUser(c *gin.Context) {
	u, found := currentUser(c)
	if !found {
		return
	}
	id, valid := uintParam(c, "userId")
	if !valid {
		return
	}
	if err := h.users.AdminDelete(c.Request.Context(), u.ID, id); err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, nil)
}

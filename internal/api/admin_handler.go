package api

import (
	"BadmintonFlash/internal/model"
	"BadmintonFlash/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminHandler 管理端接口
type AdminHandler struct {
	admin  *service.AdminService
	warmup *service.WarmupService
	logger *logrus.Logger
}

func NewAdminHandler(admin *service.AdminService, warmup *service.WarmupService, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, warmup: warmup, logger: logger}
}

type sessionRequest struct {
	FlashTime    string `json:"flashTime" binding:"required"`
	BeginTime    string `json:"beginTime" binding:"required"`
	EndTime      string `json:"endTime" binding:"required"`
	SlotInterval int    `json:"slotInterval" binding:"required"`
}

func (r sessionRequest) model(id uint64) *model.FlashSession {
	return &model.FlashSession{ID: id, FlashTime: r.FlashTime, BeginTime: r.BeginTime, EndTime: r.EndTime, SlotInterval: r.SlotInterval}
}

// ListSessions GET /admin/sessions
func (h *AdminHandler) ListSessions(c *gin.Context) {
	list, err := h.admin.ListSessions(c.Request.Context())
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, list)
}

// AddSession POST /admin/sessions
func (h *AdminHandler) AddSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		paramError(c, "场次参数不完整")
		return
	}
	s, err := h.admin.AddSession(c.Request.Context(), req.model(0))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, s)
}

// UpdateSession PUT /admin/sessions/:sessionId
func (h *AdminHandler) UpdateSession(c *gin.Context) {
	id, valid := uintParam(c, "sessionId")
	if !valid {
		return
	}
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		paramError(c, "场次参数不完整")
		return
	}
	if err := h.admin.UpdateSession(c.Request.Context(), req.model(id)); err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, nil)
}

// DeleteSession DELETE /admin/sessions/:sessionId
func (h *AdminHandler) DeleteSession(c *gin.Context) {
	id, valid := uintParam(c, "sessionId")
	if !valid {
		return
	}
	if err := h.admin.DeleteSession(c.Request.Context(), id); err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, nil)
}

// Generate 手动生成当天时段 POST /admin/sessions/:sessionId/generate
func (h *AdminHandler) Generate(c *gin.Context) {
	id, valid := uintParam(c, "sessionId")
	if !valid {
		return
	}
	ran, err := h.admin.GenerateSlots(c.Request.Context(), id)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, gin.H{"generated": ran})
}

// Warmup 手动预热 POST /admin/sessions/:sessionId/warmup
func (h *AdminHandler) Warmup(c *gin.Context) {
	id, valid := uintParam(c, "sessionId")
	if !valid {
		return
	}
	if err := h.warmup.WarmupByID(c.Request.Context(), id); err != nil {
		fail(c, h.logger, err)
		return
	}
	done, err := h.warmup.IsWarmupDone(c.Request.Context(), id)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, gin.H{"warmupDone": done})
}

// Open 手动开闸 POST /admin/sessions/:sessionId/open
func (h *AdminHandler) Open(c *gin.Context) {
	id, valid := uintParam(c, "sessionId")
	if !valid {
		return
	}
	if err := h.warmup.OpenSession(c.Request.Context(), id); err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, nil)
}

// GetConfig GET /admin/configs
func (h *AdminHandler) GetConfig(c *gin.Context) {
	values, err := h.admin.GetSettings(c.Request.Context())
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, values)
}

// UpdateConfig PUT /admin/configs，body 为 {"KEY":"value"}
func (h *AdminHandler) UpdateConfig(c *gin.Context) {
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil {
		paramError(c, "配置格式错误")
		return
	}
	if err := h.admin.UpdateSettings(c.Request.Context(), values); err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, nil)
}

// ReconcileCourts POST /admin/courts/reconcile
func (h *AdminHandler) ReconcileCourts(c *gin.Context) {
	if err := h.admin.ReconcileCourts(c.Request.Context()); err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, nil)
}

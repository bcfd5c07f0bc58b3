package api

import (
	"strconv"

	"BadmintonFlash/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ReserveHandler 抢场接口
type ReserveHandler struct {
	reserve *service.ReserveService
	logger  *logrus.Logger
}

func NewReserveHandler(reserve *service.ReserveService, logger *logrus.Logger) *ReserveHandler {
	return &ReserveHandler{reserve: reserve, logger: logger}
}

type reserveRequest struct {
	SlotID    uint64 `json:"slotId" binding:"required"`
	SessionID uint64 `json:"sessionId" binding:"required"`
}

// Reserve 抢场 POST /reserve，返回 traceId
func (h *ReserveHandler) Reserve(c *gin.Context) {
	u, found := currentUser(c)
	if !found {
		return
	}
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		paramError(c, "slotId 与 sessionId 必填")
		return
	}
	traceID, err := h.reserve.Reserve(c.Request.Context(), u.ID, req.SlotID, req.SessionID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, gin.H{"traceId": traceID})
}

// Result 查询抢场结果 GET /reserve/result/:traceId
func (h *ReserveHandler) Result(c *gin.Context) {
	u, found := currentUser(c)
	if !found {
		return
	}
	res, err := h.reserve.GetReserveResult(c.Request.Context(), u.ID, c.Param("traceId"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, res)
}

// Cancel 取消待支付预约 DELETE /reserve/:reservationId
func (h *ReserveHandler) Cancel(c *gin.Context) {
	u, found := currentUser(c)
	if !found {
		return
	}
	id, valid := uintParam(c, "reservationId")
	if !valid {
		return
	}
	if err := h.reserve.Cancel(c.Request.Context(), u.ID, id); err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, nil)
}

// Mine 我的预约 GET /reserve/mine?page=1&page_size=20
func (h *ReserveHandler) Mine(c *gin.Context) {
	u, found := currentUser(c)
	if !found {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	list, total, err := h.reserve.ListMine(c.Request.Context(), u.ID, page, pageSize)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, gin.H{"list": list, "total": total})
}

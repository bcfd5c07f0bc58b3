package api

import (
	"BadmintonFlash/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// PayHandler 支付单接口
type PayHandler struct {
	pay    *service.PayService
	logger *logrus.Logger
}

func NewPayHandler(pay *service.PayService, logger *logrus.Logger) *PayHandler {
	return &PayHandler{pay: pay, logger: logger}
}

// Create 创建或复用支付单 POST /pay/create/:reservationId
func (h *PayHandler) Create(c *gin.Context) {
	u, found := currentUser(c)
	if !found {
		return
	}
	id, valid := uintParam(c, "reservationId")
	if !valid {
		return
	}
	order, err := h.pay.CreatePay(c.Request.Context(), u.ID, id)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, order)
}

type mockNotifyRequest struct {
	OutTradeNo string `json:"outTradeNo" binding:"required"`
}

// MockNotify 模拟渠道支付成功回调 POST /pay/notify/mock
func (h *PayHandler) MockNotify(c *gin.Context) {
	var req mockNotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		paramError(c, "outTradeNo 必填")
		return
	}
	if err := h.pay.MockPaySuccess(c.Request.Context(), req.OutTradeNo); err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, nil)
}

// Result 支付状态 GET /pay/result/:reservationId
func (h *PayHandler) Result(c *gin.Context) {
	u, found := currentUser(c)
	if !found {
		return
	}
	id, valid := uintParam(c, "reservationId")
	if !valid {
		return
	}
	res, err := h.pay.GetPayResult(c.Request.Context(), u.ID, id)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, res)
}

// Refund 退款 POST /pay/refund/:reservationId
func (h *PayHandler) Refund(c *gin.Context) {
	u, found := currentUser(c)
	if !found {
		return
	}
	id, valid := uintParam(c, "reservationId")
	if !valid {
		return
	}
	if err := h.pay.Refund(c.Request.Context(), u.ID, id); err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, nil)
}

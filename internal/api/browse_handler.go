package api

import (
	"BadmintonFlash/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// BrowseHandler 场次与时段查询，无需登录
type BrowseHandler struct {
	browse *service.BrowseService
	logger *logrus.Logger
}

func NewBrowseHandler(browse *service.BrowseService, logger *logrus.Logger) *BrowseHandler {
	return &BrowseHandler{browse: browse, logger: logger}
}

// Sessions 场次列表 GET /sessions
func (h *BrowseHandler) Sessions(c *gin.Context) {
	list, err := h.browse.ListSessions(c.Request.Context())
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, list)
}

// Slots 场次某天的时段 GET /sessions/:sessionId/slots?date=2006-01-02
func (h *BrowseHandler) Slots(c *gin.Context) {
	id, valid := uintParam(c, "sessionId")
	if !valid {
		return
	}
	list, err := h.browse.ListSlots(c.Request.Context(), id, c.Query("date"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, list)
}

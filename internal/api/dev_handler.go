package api

import (
	"strconv"

	"BadmintonFlash/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DevHandler 压测用签发 token，仅 debug 模式注册
type DevHandler struct {
	signer *auth.Signer
	logger *logrus.Logger
}

func NewDevHandler(signer *auth.Signer, logger *logrus.Logger) *DevHandler {
	return &DevHandler{signer: signer, logger: logger}
}

// GenerateToken GET /test/generate-token?userId=1&role=user
func (h *DevHandler) GenerateToken(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Query("userId"), 10, 64)
	if err != nil || userID == 0 {
		paramError(c, "userId 非法")
		return
	}
	role := c.DefaultQuery("role", auth.RoleUser)
	if role != auth.RoleUser && role != auth.RoleAdmin {
		paramError(c, "role 非法")
		return
	}
	tok, err := h.signer.CreateAccessToken(userID, role)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, gin.H{"token": tok})
}

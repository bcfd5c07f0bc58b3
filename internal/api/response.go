package api

import (
	"net/http"
	"strconv"

	"BadmintonFlash/internal/errcode"
	"BadmintonFlash/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ok 统一响应 {"code","message","data"}
func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": errcode.OK, "message": errcode.OK.Message(), "data": data})
}

// fail 业务错误按结果码返回；其余错误记日志后返回 Internal
func fail(c *gin.Context, logger *logrus.Logger, err error) {
	e := errcode.From(err)
	if e.Code == errcode.Internal {
		logger.WithError(err).WithField("path", c.FullPath()).Error("请求处理失败")
	}
	c.JSON(e.Code.HTTPStatus(), gin.H{"code": e.Code, "message": e.Msg, "data": nil})
}

func paramError(c *gin.Context, msg string) {
	e := errcode.Newf(errcode.ParamError, "%s", msg)
	c.JSON(e.Code.HTTPStatus(), gin.H{"code": e.Code, "message": e.Msg, "data": nil})
}

func uintParam(c *gin.Context, name string) (uint64, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		paramError(c, name+" 非法")
		return 0, false
	}
	return v, true
}

// currentUser 鉴权中间件放进 ctx 的用户
func currentUser(c *gin.Context) (middleware.User, bool) {
	u, found := middleware.UserFrom(c.Request.Context())
	if !found {
		code := errcode.Unauthorized
		c.JSON(code.HTTPStatus(), gin.H{"code": code, "message": code.Message(), "data": nil})
	}
	return u, found
}

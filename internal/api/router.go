package api

import (
	"net/http"

	"BadmintonFlash/internal/auth"
	"BadmintonFlash/internal/middleware"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
)

// Handlers 路由依赖；Dev 为 nil 时不注册测试路由
type Handlers struct {
	Reserve *ReserveHandler
	Pay     *PayHandler
	Browse  *BrowseHandler
	Admin   *AdminHandler
	User    *UserHandler
	Dev     *DevHandler
	Metrics http.Handler
}

var (
	anyUser   = []string{auth.RoleUser, auth.RoleAdmin}
	adminOnly = []string{auth.RoleAdmin}
)

// routeRoles 需要登录的路由及允许的角色，其余路由公开
var routeRoles = middleware.RouteRoles{
	"POST /reserve":                   anyUser,
	"GET /reserve/result/:traceId":    anyUser,
	"GET /reserve/mine":               anyUser,
	"DELETE /reserve/:reservationId":  anyUser,
	"POST /pay/create/:reservationId": anyUser,
	"GET /pay/result/:reservationId":  anyUser,
	"POST /pay/refund/:reservationId": anyUser,
	"GET /user/me":                    anyUser,
	"PATCH /user/me":                  anyUser,
	"DELETE /user/me":                 anyUser,

	"GET /admin/sessions":                      adminOnly,
	"POST /admin/sessions":                     adminOnly,
	"PUT /admin/sessions/:sessionId":           adminOnly,
	"DELETE /admin/sessions/:sessionId":        adminOnly,
	"POST /admin/sessions/:sessionId/generate": adminOnly,
	"POST /admin/sessions/:sessionId/warmup":   adminOnly,
	"POST /admin/sessions/:sessionId/open":     adminOnly,
	"GET /admin/configs":                       adminOnly,
	"PUT /admin/configs":                       adminOnly,
	"POST /admin/courts/reconcile":             adminOnly,
	"POST /pay/notify/mock":                    adminOnly,
	"GET /admin/users":                         adminOnly,
	"POST /admin/users":                        adminOnly,
	"GET /admin/users/:userId":                 adminOnly,
	"PATCH /admin/users/:userId":               adminOnly,
	"DELETE /admin/users/:userId":              adminOnly,
}

// NewRouter 注册全部路由
func NewRouter(parser middleware.TokenParser, enablePprof bool, h Handlers) *gin.Engine {
	r := gin.Default()
	if enablePprof {
		// 注册ppof 方便调试和监测性能问题
		pprof.Register(r)
	}
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics))
	}
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	r.Use(middleware.Authorize(parser, routeRoles))

	r.POST("/auth/register", h.User.Register)
	r.POST("/auth/login", h.User.Login)
	r.POST("/auth/refresh", h.User.Refresh)
	r.GET("/user/me", h.User.Me)
	r.PATCH("/user/me", h.User.UpdateMe)
	r.DELETE("/user/me", h.User.DeleteMe)

	r.GET("/sessions", h.Browse.Sessions)
	r.GET("/sessions/:sessionId/slots", h.Browse.Slots)

	r.POST("/reserve", h.Reserve.Reserve)
	r.GET("/reserve/result/:traceId", h.Reserve.Result)
	r.GET("/reserve/mine", h.Reserve.Mine)
	r.DELETE("/reserve/:reservationId", h.Reserve.Cancel)

	r.POST("/pay/create/:reservationId", h.Pay.Create)
	r.GET("/pay/result/:reservationId", h.Pay.Result)
	r.POST("/pay/refund/:reservationId", h.Pay.Refund)
	r.POST("/pay/notify/mock", h.Pay.MockNotify)

	admin := r.Group("/admin")
	admin.GET("/sessions", h.Admin.ListSessions)
	admin.POST("/sessions", h.Admin.AddSession)
	admin.PUT("/sessions/:sessionId", h.Admin.UpdateSession)
	admin.DELETE("/sessions/:sessionId", h.Admin.DeleteSession)
	admin.POST("/sessions/:sessionId/generate", h.Admin.Generate)
	admin.POST("/sessions/:sessionId/warmup", h.Admin.Warmup)
	admin.POST("/sessions/:sessionId/open", h.Admin.Open)
	admin.GET("/configs", h.Admin.GetConfig)
	admin.PUT("/configs", h.Admin.UpdateConfig)
	admin.POST("/courts/reconcile", h.Admin.ReconcileCourts)
	admin.GET("/users", h.User.ListUsers)
	admin.POST("/users", h.User.CreateUser)
	admin.GET("/users/:userId", h.User.GetUser)
	admin.PATCH("/users/:userId", h.User.UpdateUser)
	admin.DELETE("/users/:userId", h.User.DeleteUser)

	if h.Dev != nil {
		r.GET("/test/generate-token", h.Dev.GenerateToken)
	}
	return r
}

// Package middleware gin 中间件：鉴权、按路由授权
package middleware

import (
	"context"
	"strings"

	"BadmintonFlash/internal/auth"
	"BadmintonFlash/internal/errcode"

	"github.com/gin-gonic/gin"
)

// User 当前请求的登录用户
type User struct {
	ID   uint64
	Role string
}

type userKey struct{}

// WithUser 把登录用户放进 context，handler 与 service 显式从 ctx 取
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom 取出登录用户
func UserFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey{}).(User)
	return u, ok
}

// RouteRoles "METHOD 路由模板" → 允许的角色；不在表中的路由不需要登录
type RouteRoles map[string][]string

// TokenParser *auth.Signer 实现
type TokenParser interface {
	ParseValidate(tokenStr string) (*auth.Claims, error)
}

// Authorize 按 RouteRoles 校验 Bearer token 与角色
func Authorize(parser TokenParser, routes RouteRoles) gin.HandlerFunc {
	return func(c *gin.Context) {
		roles, protected := routes[c.Request.Method+" "+c.FullPath()]
		if !protected {
			c.Next()
			return
		}
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			abort(c, errcode.Unauthorized)
			return
		}
		claims, err := parser.ParseValidate(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			abort(c, errcode.Unauthorized)
			return
		}
		if len(roles) > 0 && !allowed(roles, claims.Role) {
			abort(c, errcode.Forbidden)
			return
		}
		id, _ := claims.UserID()
		c.Request = c.Request.WithContext(WithUser(c.Request.Context(), User{ID: id, Role: claims.Role}))
		c.Next()
	}
}

func allowed(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func abort(c *gin.Context, code errcode.Code) {
	c.AbortWithStatusJSON(code.HTTPStatus(), gin.H{"code": code, "message": code.Message(), "data": nil})
}

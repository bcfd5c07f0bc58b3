// Package auth JWT 签发与校验
package auth

import (
	"errors"
	"strconv"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// 角色
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// token 类型，旧 token 不带 typ 时按 access 处理
const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Sub  string `json:"sub"`
	Role string `json:"role,omitempty"`
	Type string `json:"typ,omitempty"`
	jwt.RegisteredClaims
}

// UserID sub 即用户 id
func (c *Claims) UserID() (uint64, error) {
	return strconv.ParseUint(c.Sub, 10, 64)
}

// Signer HS256 签发与校验
type Signer struct {
	secret     []byte
	ttl        time.Duration
	refreshTTL time.Duration
}

type SignerOption func(*Signer)

// WithRefreshTTL refresh token 有效期，默认 7 天
func WithRefreshTTL(d time.Duration) SignerOption {
	return func(s *Signer) {
		if d > 0 {
			s.refreshTTL = d
		}
	}
}

func NewSigner(secret string, ttl time.Duration, opts ...SignerOption) *Signer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &Signer{secret: []byte(secret), ttl: ttl, refreshTTL: 7 * 24 * time.Hour}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Signer) CreateAccessToken(userID uint64, role string) (string, error) {
	return s.sign(userID, role, TokenAccess, s.ttl)
}

// CreateRefreshToken 只用于换取新的 token 对，不携带角色
func (s *Signer) CreateRefreshToken(userID uint64) (string, error) {
	return s.sign(userID, "", TokenRefresh, s.refreshTTL)
}

func (s *Signer) sign(userID uint64, role, typ string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Sub:  strconv.FormatUint(userID, 10),
		Role: role,
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ParseValidate 校验 access token；refresh token 不能用于访问接口
func (s *Signer) ParseValidate(tokenStr string) (*Claims, error) {
	c, err := s.parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if c.Type != "" && c.Type != TokenAccess {
		return nil, ErrInvalidToken
	}
	return c, nil
}

// ParseRefresh 校验 refresh token，返回用户 id
func (s *Signer) ParseRefresh(tokenStr string) (uint64, error) {
	c, err := s.parse(tokenStr)
	if err != nil {
		return 0, err
	}
	if c.Type != TokenRefresh {
		return 0, ErrInvalidToken
	}
	return c.UserID()
}

func (s *Signer) parse(tokenStr string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := c.UserID(); err != nil {
		return nil, ErrInvalidToken
	}
	return c, nil
}

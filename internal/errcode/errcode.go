package errcode

import (
	"errors"
	"fmt"
	"net/http"
)

// Code 业务结果码
type Code int

const (
	OK               Code = 200
	Unauthorized     Code = 401
	Forbidden        Code = 403
	Failed           Code = 1001
	UserDuplicated   Code = 2042
	NotOpenYet       Code = 4002
	DuplicateRequest Code = 4003
	OutOfStock       Code = 4004
	TooManyRequests  Code = 4101
	TimeUndivided    Code = 4444
	CourtWindowShut  Code = 4557
	ParamError       Code = 5010
	InvalidSlot      Code = 5011
	NotFound         Code = 5404
	Internal         Code = 5000
)

var messages = map[Code]string{
	OK:               "成功",
	Unauthorized:     "未登录或登录已过期",
	Forbidden:        "没有访问权限",
	Failed:           "操作失败",
	UserDuplicated:   "用户已存在",
	NotOpenYet:       "未到开放时间",
	DuplicateRequest: "请勿重复预约",
	OutOfStock:       "该时段已被预约",
	TooManyRequests:  "请求过于频繁，请稍后再试",
	TimeUndivided:    "时间段无法被间隔整除",
	CourtWindowShut:  "已过场地数量可修改时间，请在当天首个场次预热前修改",
	ParamError:       "参数错误",
	InvalidSlot:      "时段不属于该场次",
	NotFound:         "记录不存在",
	Internal:         "服务器内部错误",
}

// Message 结果码默认文案
func (c Code) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return "未知错误"
}

// HTTPStatus 结果码对应的 HTTP 状态
func (c Code) HTTPStatus() int {
	switch c {
	case OK:
		return http.StatusOK
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case TooManyRequests:
		return http.StatusTooManyRequests
	case ParamError, InvalidSlot, TimeUndivided:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case DuplicateRequest, OutOfStock, NotOpenYet, UserDuplicated, CourtWindowShut:
		return http.StatusConflict
	case Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

// Error 携带结果码的业务错误，Cause 为底层错误，不返回给调用方
type Error struct {
	Code  Code
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%d: %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%d: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New 以默认文案创建业务错误
func New(code Code) *Error {
	return &Error{Code: code, Msg: code.Message()}
}

// Newf 自定义文案
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap 底层错误归为指定结果码，文案用默认文案
func Wrap(code Code, cause error) *Error {
	return &Error{Code: code, Msg: code.Message(), Cause: cause}
}

// Is 判断 err 链上是否为指定结果码
func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// From 取出业务错误；非业务错误归为 Internal
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return New(Internal)
}

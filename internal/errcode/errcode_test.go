package errcode

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsUnwrapsChain(t *testing.T) {
	err := fmt.Errorf("预约失败: %w", New(OutOfStock))
	assert.True(t, Is(err, OutOfStock))
	assert.False(t, Is(err, DuplicateRequest))
	assert.Equal(t, OutOfStock, From(err).Code)
}

func TestFromPlainErrorIsInternal(t *testing.T) {
	e := From(errors.New("boom"))
	assert.Equal(t, Internal, e.Code)
	assert.Equal(t, http.StatusInternalServerError, e.Code.HTTPStatus())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, TooManyRequests.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, InvalidSlot.HTTPStatus())
	assert.Equal(t, http.StatusConflict, NotOpenYet.HTTPStatus())
	assert.Equal(t, http.StatusUnprocessableEntity, Failed.HTTPStatus())
	assert.Equal(t, "参数错误", Newf(ParamError, "参数错误").Msg)
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("redis: connection refused")
	err := fmt.Errorf("抢场: %w", Wrap(Failed, cause))

	assert.True(t, Is(err, Failed))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "操作失败", From(err).Msg)
	assert.Equal(t, http.StatusConflict, CourtWindowShut.HTTPStatus())
}

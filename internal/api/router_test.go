package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"BadmintonFlash/internal/auth"
	"BadmintonFlash/internal/cache"
	"BadmintonFlash/internal/errcode"
	"BadmintonFlash/internal/interfaces"
	"BadmintonFlash/internal/model"
	"BadmintonFlash/internal/ratelimit"
	"BadmintonFlash/internal/repository"
	"BadmintonFlash/internal/service"
	"BadmintonFlash/internal/testutil"
	"BadmintonFlash/internal/utils/timeutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type capturePublisher struct {
	mu   sync.Mutex
	sent []model.ReserveMessage
}

func (p *capturePublisher) PublishClaim(_ context.Context, msg model.ReserveMessage) (interfaces.PublishOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return interfaces.PublishAcked, nil
}

type env struct {
	router  *gin.Engine
	persist *service.PersistService
	pub     *capturePublisher
	user    string
	admin   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	db := testutil.NewDB(t)
	logger := testutil.Logger()
	cst := time.FixedZone("CST", 8*3600)
	clock := timeutil.NewFixedClock(cst, time.Date(2026, 10, 19, 9, 0, 0, 0, cst))
	keys := cache.NewKeys("bf:")
	store := cache.NewMemoryStore(keys, cache.WithMemoryClock(clock.Now))
	lock := cache.NewJobLock(store, logger)

	sessions := repository.NewSessionRepository(db)
	slotRepo := repository.NewSlotRepository(db)
	courts := repository.NewCourtRepository(db)
	reservations := repository.NewReservationRepository(db)

	settings := service.NewSettingService(repository.NewConfigRepository(db), logger)
	require.NoError(t, settings.Seed(ctx, map[string]string{model.ConfigCourtCount: "1"}))
	compensator := service.NewCompensator(store, logger)
	warmup := service.NewWarmupService(service.WarmupDeps{
		Store: store, Keys: keys, Lock: lock, Sessions: sessions, SlotRepo: slotRepo,
		Slots: service.NewSlotService(slotRepo, courts, logger), Settings: settings, Clock: clock, Logger: logger,
	})
	pub := &capturePublisher{}
	reserve := service.NewReserveService(store, ratelimit.NewLocalStore(100, time.Second), pub, compensator, reservations, clock, 0, logger)
	pay := service.NewPayService(reservations, repository.NewPayOrderRepository(db), compensator, settings, lock, keys, clock, logger)
	admin := service.NewAdminService(sessions, courts, settings, warmup, store, lock, keys, clock, logger)
	browse := service.NewBrowseService(sessions, slotRepo, courts, reservations, store, clock)
	require.NoError(t, admin.ReconcileCourts(ctx))

	signer := auth.NewSigner("secret", time.Hour)
	users := service.NewUserService(repository.NewUserRepository(db), signer, bcrypt.MinCost, logger)
	userTok, err := signer.CreateAccessToken(7, auth.RoleUser)
	require.NoError(t, err)
	adminTok, err := signer.CreateAccessToken(1, auth.RoleAdmin)
	require.NoError(t, err)

	r := NewRouter(signer, false, Handlers{
		Reserve: NewReserveHandler(reserve, logger),
		Pay:     NewPayHandler(pay, logger),
		Browse:  NewBrowseHandler(browse, logger),
		Admin:   NewAdminHandler(admin, warmup, logger),
		User:    NewUserHandler(users, logger),
		Dev:     NewDevHandler(signer, logger),
	})
	return &env{
		router:  r,
		persist: service.NewPersistService(reservations, compensator, clock, logger),
		pub:     pub,
		user:    userTok,
		admin:   adminTok,
	}
}

type envelope struct {
	Code    errcode.Code    `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *env) call(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var out envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func TestReserveFlowOverHTTP(t *testing.T) {
	e := newEnv(t)

	status, res := e.call(t, http.MethodPost, "/admin/sessions", e.admin, gin.H{
		"flashTime": "10:00", "beginTime": "18:00", "endTime": "20:00", "slotInterval": 60,
	})
	require.Equal(t, http.StatusOK, status, res.Message)
	var session model.FlashSession
	require.NoError(t, json.Unmarshal(res.Data, &session))
	sid := itoa(session.ID)

	status, res = e.call(t, http.MethodPost, "/admin/sessions/"+sid+"/warmup", e.admin, nil)
	require.Equal(t, http.StatusOK, status, res.Message)
	assert.JSONEq(t, `{"warmupDone":true}`, string(res.Data))

	status, res = e.call(t, http.MethodGet, "/sessions/"+sid+"/slots", "", nil)
	require.Equal(t, http.StatusOK, status)
	var slots []struct {
		ID        uint64 `json:"id"`
		Available bool   `json:"available"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &slots))
	require.Len(t, slots, 2)
	slotID := slots[0].ID

	claim := gin.H{"slotId": slotID, "sessionId": session.ID}
	status, res = e.call(t, http.MethodPost, "/reserve", e.user, claim)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, errcode.NotOpenYet, res.Code)

	status, _ = e.call(t, http.MethodPost, "/admin/sessions/"+sid+"/open", e.admin, nil)
	require.Equal(t, http.StatusOK, status)

	status, res = e.call(t, http.MethodPost, "/reserve", e.user, claim)
	require.Equal(t, http.StatusOK, status, res.Message)
	var accepted struct {
		TraceID string `json:"traceId"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &accepted))
	require.NotEmpty(t, accepted.TraceID)

	status, res = e.call(t, http.MethodPost, "/reserve", e.user, claim)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, errcode.DuplicateRequest, res.Code)

	_, res = e.call(t, http.MethodGet, "/reserve/result/"+accepted.TraceID, e.user, nil)
	var result service.ReserveResult
	require.NoError(t, json.Unmarshal(res.Data, &result))
	assert.Equal(t, service.ResultPending, result.Status)

	require.NoError(t, e.persist.Persist(context.Background(), e.pub.sent[0]))
	_, res = e.call(t, http.MethodGet, "/reserve/result/"+accepted.TraceID, e.user, nil)
	require.NoError(t, json.Unmarshal(res.Data, &result))
	require.Equal(t, service.ResultSuccess, result.Status)
	require.NotNil(t, result.ReservationID)

	status, res = e.call(t, http.MethodDelete, "/reserve/"+itoa(*result.ReservationID), e.user, nil)
	assert.Equal(t, http.StatusOK, status, res.Message)

	status, res = e.call(t, http.MethodGet, "/reserve/mine", e.user, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(res.Data), `"total":1`)
}

func TestRouteAuthorization(t *testing.T) {
	e := newEnv(t)

	status, res := e.call(t, http.MethodPost, "/reserve", "", gin.H{"slotId": 1, "sessionId": 1})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, errcode.Unauthorized, res.Code)

	status, res = e.call(t, http.MethodGet, "/admin/configs", e.user, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, errcode.Forbidden, res.Code)

	status, res = e.call(t, http.MethodGet, "/admin/configs", e.admin, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(res.Data), model.ConfigWarmupMinute)

	status, res = e.call(t, http.MethodPost, "/reserve", e.user, gin.H{"slotId": 1})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, errcode.ParamError, res.Code)

	status, _ = e.call(t, http.MethodGet, "/sessions", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestGenerateToken(t *testing.T) {
	e := newEnv(t)
	status, res := e.call(t, http.MethodGet, "/test/generate-token?userId=9&role=admin", "", nil)
	require.Equal(t, http.StatusOK, status)
	var tok struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &tok))

	status, _ = e.call(t, http.MethodGet, "/admin/sessions", tok.Token, nil)
	assert.Equal(t, http.StatusOK, status)

	status, res = e.call(t, http.MethodGet, "/test/generate-token?userId=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, errcode.ParamError, res.Code)
}

func TestAccountFlowOverHTTP(t *testing.T) {
	e := newEnv(t)
	cred := gin.H{"studentId": "20261234", "password": "secret-1"}

	status, res := e.call(t, http.MethodPost, "/auth/register", "", cred)
	require.Equal(t, http.StatusOK, status, res.Message)
	var tokens service.TokenPair
	require.NoError(t, json.Unmarshal(res.Data, &tokens))
	require.NotEmpty(t, tokens.AccessToken)

	status, res = e.call(t, http.MethodPost, "/auth/register", "", cred)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, errcode.UserDuplicated, res.Code)

	status, res = e.call(t, http.MethodGet, "/user/me", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, status, res.Message)
	assert.Contains(t, string(res.Data), `"studentId":"20261234"`)
	assert.NotContains(t, string(res.Data), "password")

	// refresh token 不能直接访问接口
	status, _ = e.call(t, http.MethodGet, "/user/me", tokens.RefreshToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, res = e.call(t, http.MethodPost, "/auth/refresh", "", gin.H{"refreshToken": tokens.RefreshToken})
	require.Equal(t, http.StatusOK, status, res.Message)

	status, res = e.call(t, http.MethodPost, "/auth/login", "", gin.H{"studentId": "20261234", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, errcode.Unauthorized, res.Code)

	status, _ = e.call(t, http.MethodGet, "/admin/users", tokens.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, res = e.call(t, http.MethodGet, "/admin/users", e.admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(res.Data), `"total":1`)

	status, res = e.call(t, http.MethodDelete, "/user/me", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, status, res.Message)
	status, _ = e.call(t, http.MethodPost, "/auth/login", "", cred)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func itoa(v uint64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

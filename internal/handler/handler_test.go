package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/room-reservation/internal/booking"
	"github.com/iliyamo/room-reservation/internal/ledger"
	"github.com/iliyamo/room-reservation/internal/middleware"
	"github.com/iliyamo/room-reservation/internal/model"
	"github.com/iliyamo/room-reservation/internal/repository"
	"github.com/iliyamo/room-reservation/internal/utils"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type env struct {
	e      *echo.Echo
	ledger *ledger.Memory
	svc    *booking.Service
	purges []string
}

func (v *env) Purge(_ context.Context, prefix string) error {
	v.purges = append(v.purges, prefix)
	return nil
}

// asStaff stands in for JWTAuth in handler tests.
func asStaff(id string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(middleware.KeyUserID, id)
			c.Set(middleware.KeyRole, model.RoleStaff)
			return next(c)
		}
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()
	v := &env{ledger: ledger.NewMemory()}
	v.svc = booking.NewService(v.ledger, booking.Options{Now: func() time.Time { return fixedNow }})
	t.Cleanup(v.svc.Wait)

	e := echo.New()
	e.Validator = NewValidator()
	bh := NewBookingHandler(v.svc)
	ch := NewCatalogHandler(v.ledger, v, "cache:", nil)
	ah := NewAdminHandler(v.svc, nil)

	e.GET("/v1/room-categories", ch.List)
	e.GET("/v1/room-categories/:id/availability", bh.Availability)
	e.POST("/v1/bookings", bh.Book)
	e.POST("/v1/bookings/lookup", bh.Lookup)
	e.POST("/v1/bookings/cancel", bh.Cancel)

	admin := e.Group("/v1/admin", asStaff("9"))
	admin.GET("/reservations/:reference", ah.Get)
	admin.POST("/reservations/:reference/confirm", ah.Confirm)
	admin.POST("/reservations/:reference/check-in", ah.CheckIn)
	admin.POST("/reservations/:reference/check-out", ah.CheckOut)
	admin.POST("/reservations/:reference/no-show", ah.NoShow)
	admin.POST("/reservations/:reference/cancel", ah.Cancel)
	admin.DELETE("/reservations/:reference", ah.Purge)
	admin.POST("/sweep", ah.RunSweep)
	admin.POST("/room-categories", ch.Create)
	admin.PUT("/room-categories/:id", ch.Update)

	v.e = e
	return v
}

func (v *env) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	v.e.ServeHTTP(rec, req)
	return rec
}

func (v *env) category(t *testing.T, units int) int64 {
	t.Helper()
	c := &model.RoomCategory{Name: "Twin " + time.Now().Format("150405.000000000"), TotalUnits: units, Active: true}
	require.NoError(t, v.ledger.CreateCategory(context.Background(), c))
	return c.ID
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func bookBody(cat int64, extra string) string {
	b := `{"room_category_id":` + jsonInt(cat) + `,"check_in":"2026-03-10","check_out":"2026-03-12","guest_contact":"Ana@Example.com"`
	if extra != "" {
		b += "," + extra
	}
	return b + "}"
}

func jsonInt(n int64) string {
	bs, _ := json.Marshal(n)
	return string(bs)
}

func TestBookLookupAndGuestCancel(t *testing.T) {
	v := newEnv(t)
	cat := v.category(t, 1)

	rec := v.do(http.MethodPost, "/v1/bookings", bookBody(cat, ""))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	ref := created["reference"].(string)
	assert.Equal(t, "pending", created["status"])
	assert.Equal(t, "2026-03-10", created["check_in"])
	assert.EqualValues(t, 2, created["nights"])

	rec = v.do(http.MethodPost, "/v1/bookings", bookBody(cat, ""))
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "capacity_exceeded", body["error"])
	assert.NotEmpty(t, body["conflicts"])

	rec = v.do(http.MethodPost, "/v1/bookings/lookup", `{"reference":"`+ref+`","guest_contact":"someone@else.com"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = v.do(http.MethodPost, "/v1/bookings/lookup", `{"reference":"`+ref+`","guest_contact":" ana@example.com "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ref, decode(t, rec)["reference"])

	rec = v.do(http.MethodPost, "/v1/bookings/cancel", `{"reference":"`+ref+`","guest_contact":"ana@example.com","reason":"plans changed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode(t, rec)["status"])

	rec = v.do(http.MethodPost, "/v1/bookings", bookBody(cat, ""))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestBookValidationErrors(t *testing.T) {
	v := newEnv(t)
	cat := v.category(t, 1)

	tests := []struct {
		name string
		body string
		code int
		err  string
	}{
		{"malformed json", `{`, http.StatusBadRequest, "invalid_request"},
		{"missing contact", `{"room_category_id":1,"check_in":"2026-03-10","check_out":"2026-03-12"}`, http.StatusBadRequest, "invalid_request"},
		{"bad mode", bookBody(cat, `"mode":"later"`), http.StatusBadRequest, "invalid_request"},
		{"hold ttl over max", bookBody(cat, `"mode":"hold","hold_ttl_seconds":86401`), http.StatusBadRequest, "invalid_range"},
		{"hold ttl wraps duration", bookBody(cat, `"mode":"hold","hold_ttl_seconds":20211507185753197`), http.StatusBadRequest, "invalid_range"},
		{"bad date", `{"room_category_id":1,"check_in":"10/03/2026","check_out":"2026-03-12","guest_contact":"a@b.c"}`, http.StatusBadRequest, "invalid_range"},
		{"reversed range", `{"room_category_id":1,"check_in":"2026-03-12","check_out":"2026-03-10","guest_contact":"a@b.c"}`, http.StatusBadRequest, "invalid_range"},
		{"past stay", `{"room_category_id":1,"check_in":"2026-02-10","check_out":"2026-02-12","guest_contact":"a@b.c"}`, http.StatusBadRequest, "invalid_range"},
		{"unknown category", `{"room_category_id":999,"check_in":"2026-03-10","check_out":"2026-03-12","guest_contact":"a@b.c"}`, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := v.do(http.MethodPost, "/v1/bookings", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Equal(t, tt.err, decode(t, rec)["error"])
		})
	}
}

func TestAvailabilityEndpoint(t *testing.T) {
	v := newEnv(t)
	cat := v.category(t, 2)
	require.Equal(t, http.StatusCreated, v.do(http.MethodPost, "/v1/bookings", bookBody(cat, `"mode":"hold"`)).Code)

	rec := v.do(http.MethodGet, "/v1/room-categories/"+jsonInt(cat)+"/availability?check_in=2026-03-11&check_out=2026-03-13", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get(echo.HeaderCacheControl))
	body := decode(t, rec)
	assert.EqualValues(t, 2, body["total_units"])
	assert.EqualValues(t, 1, body["free_units"])
	assert.Equal(t, true, body["available"])

	rec = v.do(http.MethodGet, "/v1/room-categories/abc/availability?check_in=2026-03-11&check_out=2026-03-13", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = v.do(http.MethodGet, "/v1/room-categories/"+jsonInt(cat)+"/availability?check_in=2026-03-11", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_range", decode(t, rec)["error"])
}

func TestAdminLifecycle(t *testing.T) {
	v := newEnv(t)
	cat := v.category(t, 1)

	rec := v.do(http.MethodPost, "/v1/bookings", bookBody(cat, `"mode":"hold","hold_ttl_seconds":600`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	hold := decode(t, rec)
	ref := hold["reference"].(string)
	assert.Equal(t, "tentative", hold["status"])
	assert.NotEmpty(t, hold["tentative_expires_at"])

	rec = v.do(http.MethodPost, "/v1/admin/reservations/"+ref+"/check-in", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_transition", decode(t, rec)["error"])

	for _, step := range []struct{ action, status string }{
		{"confirm", "confirmed"},
		{"check-in", "checked-in"},
		{"check-out", "checked-out"},
	} {
		rec = v.do(http.MethodPost, "/v1/admin/reservations/"+ref+"/"+step.action, "")
		require.Equal(t, http.StatusOK, rec.Code, step.action+": "+rec.Body.String())
		body := decode(t, rec)
		assert.Equal(t, step.status, body["status"])
		assert.Equal(t, "staff:9", body["status_changed_by"])
	}

	rec = v.do(http.MethodGet, "/v1/admin/reservations/"+ref, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "checked-out", decode(t, rec)["status"])

	rec = v.do(http.MethodDelete, "/v1/admin/reservations/"+ref, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = v.do(http.MethodGet, "/v1/admin/reservations/"+ref, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminCancelWithReasonAndPurgeGuard(t *testing.T) {
	v := newEnv(t)
	cat := v.category(t, 1)
	rec := v.do(http.MethodPost, "/v1/bookings", bookBody(cat, ""))
	require.Equal(t, http.StatusCreated, rec.Code)
	ref := decode(t, rec)["reference"].(string)

	rec = v.do(http.MethodDelete, "/v1/admin/reservations/"+ref, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = v.do(http.MethodPost, "/v1/admin/reservations/"+ref+"/no-show", `{"reason":"never arrived"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "no-show", body["status"])
	assert.Equal(t, "never arrived", body["status_reason"])

	rec = v.do(http.MethodPost, "/v1/admin/reservations/"+ref+"/cancel", `{"reason":"x"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRunSweep(t *testing.T) {
	v := newEnv(t)
	cat := v.category(t, 1)
	require.Equal(t, http.StatusCreated, v.do(http.MethodPost, "/v1/bookings", bookBody(cat, `"mode":"hold","hold_ttl_seconds":0`)).Code)

	rec := v.do(http.MethodPost, "/v1/admin/sweep", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decode(t, rec)["released"])

	failing := NewAdminHandler(v.svc, func(context.Context) (int, error) { return 2, errors.New("row 3 failed") })
	e := echo.New()
	e.POST("/sweep", failing.RunSweep)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sweep", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["released"])
}

func TestCatalogCreateUpdateAndList(t *testing.T) {
	v := newEnv(t)

	rec := v.do(http.MethodPost, "/v1/admin/room-categories", `{"name":"Suite","total_units":2}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := int64(decode(t, rec)["id"].(float64))
	assert.Equal(t, []string{"cache:"}, v.purges)

	rec = v.do(http.MethodPost, "/v1/admin/room-categories", `{"name":"suite","total_units":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_name", decode(t, rec)["error"])

	rec = v.do(http.MethodPost, "/v1/admin/room-categories", `{"name":"Empty","total_units":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = v.do(http.MethodPost, "/v1/bookings", bookBody(id, ""))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = v.do(http.MethodPut, "/v1/admin/room-categories/"+jsonInt(id), `{"name":"Suite","total_units":3}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "capacity_locked", decode(t, rec)["error"])

	rec = v.do(http.MethodPut, "/v1/admin/room-categories/"+jsonInt(id), `{"name":"Grand Suite","total_units":2,"active":false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, v.purges, 2)

	rec = v.do(http.MethodPut, "/v1/admin/room-categories/404", `{"name":"Ghost","total_units":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = v.do(http.MethodGet, "/v1/room-categories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["items"])
}

func TestWriteErrorHidesStoreFailures(t *testing.T) {
	e := echo.New()
	e.GET("/", func(c echo.Context) error { return writeError(c, errors.New("dial tcp 10.0.0.5:3306: refused")) })
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestStatusByCodeCoversEveryCode(t *testing.T) {
	for _, code := range []booking.Code{
		booking.CodeInvalidRange, booking.CodeInvalidRequest, booking.CodeCapacityExceeded,
		booking.CodeInvalidTransition, booking.CodeNotFound,
		booking.CodeReferenceAllocationExhausted, booking.CodeStoreUnavailable,
	} {
		_, ok := statusByCode[code]
		assert.True(t, ok, code)
	}
}

func TestHealthReady(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	h := &HealthHandler{Log: zap.New(core), Checks: map[string]Pinger{
		"db":    func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("dial tcp 10.0.0.7:6379: connection refused") },
	}}
	e := echo.New()
	e.GET("/healthz", h.Health)
	e.GET("/readyz", h.Ready)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["db"])
	assert.Equal(t, "unavailable", body["redis"])
	assert.NotContains(t, rec.Body.String(), "10.0.0.7")

	entries := logs.FilterMessage("readiness check failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "redis", entries[0].ContextMap()["check"])
}

type memUsers struct {
	mu    sync.Mutex
	byID  map[int64]model.User
	next  int64
	fails error
}

func (m *memUsers) Create(_ context.Context, email, password, role string, cost int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fails != nil {
		return 0, m.fails
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.byID {
		if u.Email == email {
			return 0, repository.ErrEmailExists
		}
	}
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	m.next++
	if m.byID == nil {
		m.byID = map[int64]model.User{}
	}
	m.byID[m.next] = model.User{ID: m.next, Email: email, PasswordHash: hash, Role: role, IsActive: true}
	return m.next, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == strings.ToLower(strings.TrimSpace(email)) {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (m *memUsers) GetByID(_ context.Context, id int64) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func TestAuthLoginMeAndCreateStaff(t *testing.T) {
	users := &memUsers{}
	_, err := users.Create(context.Background(), "root@hotel.test", "password1", model.RoleAdmin, bcrypt.MinCost)
	require.NoError(t, err)

	h := NewAuthHandler(users, "secret", time.Minute, bcrypt.MinCost)
	e := echo.New()
	e.Validator = NewValidator()
	e.POST("/v1/auth/login", h.Login)
	e.GET("/v1/me", h.Me, middleware.JWTAuth("secret"))
	e.POST("/v1/admin/staff", h.CreateStaff, middleware.JWTAuth("secret"), middleware.RequireRole(model.RoleAdmin))

	post := func(path, body, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		if token != "" {
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	rec := post("/v1/auth/login", `{"email":"root@hotel.test","password":"wrong-pass"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = post("/v1/auth/login", `{"email":"nobody@hotel.test","password":"password1"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post("/v1/auth/login", `{"email":"ROOT@hotel.test","password":"password1"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var login authResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	assert.Equal(t, model.RoleAdmin, login.User.Role)
	require.NotEmpty(t, login.Access.Token)

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+login.Access.Token)
	me := httptest.NewRecorder()
	e.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Equal(t, "root@hotel.test", decode(t, me)["email"])

	rec = post("/v1/admin/staff", `{"email":"desk@hotel.test","password":"password2"}`, login.Access.Token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, model.RoleStaff, decode(t, rec)["role"])

	rec = post("/v1/admin/staff", `{"email":"desk@hotel.test","password":"password2"}`, login.Access.Token)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = post("/v1/admin/staff", `{"email":"desk2@hotel.test","password":"short"}`, login.Access.Token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	staffTok, err := utils.NewAccessToken("secret", 2, model.RoleStaff, time.Minute)
	require.NoError(t, err)
	rec = post("/v1/admin/staff", `{"email":"desk3@hotel.test","password":"password3"}`, staffTok.Token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHoldTTLBounds(t *testing.T) {
	ttl, err := holdTTL(600, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, ttl)

	ttl, err = holdTTL(86400, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, ttl)

	_, err = holdTTL(86401, 24*time.Hour)
	assert.ErrorIs(t, err, booking.ErrInvalidRange)

	// no configured maximum still refuses values that overflow
	_, err = holdTTL(20211507185753197, 0)
	assert.ErrorIs(t, err, booking.ErrInvalidRange)
	ttl, err = holdTTL(3600, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)
}

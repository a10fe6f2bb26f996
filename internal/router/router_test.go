package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/babyfoot-reservation/internal/booking"
	"github.com/iliyamo/babyfoot-reservation/internal/handler"
	"github.com/iliyamo/babyfoot-reservation/internal/metrics"
	"github.com/iliyamo/babyfoot-reservation/internal/repository"
	"github.com/iliyamo/babyfoot-reservation/internal/utils"
)

func newServer(t *testing.T, withMetrics bool) (*echo.Echo, *int) {
	t.Helper()
	store := repository.NewMemoryStore(time.Second)
	engine := booking.NewEngine(store, booking.Config{})
	hits := 0
	d := Deps{
		JWTSecret:    "router-secret",
		Reservations: handler.NewReservationHandler(engine),
		Tables:       handler.NewTableHandler(engine.Projector()),
		Admin:        handler.NewAdminHandler(store, engine, nil),
		RateLimit: func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				hits++
				return next(c)
			}
		},
	}
	if withMetrics {
		d.Metrics = metrics.NewRecorder().Handler()
	}
	e := echo.New()
	Register(e, d)
	return e, &hits
}

func TestRoutesRegistered(t *testing.T) {
	e, _ := newServer(t, true)
	got := map[string]bool{}
	for _, r := range e.Routes() {
		got[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /healthz",
		"GET /metrics",
		"GET /v1/tables",
		"GET /v1/tables/:id/status",
		"POST /v1/reservations",
		"GET /v1/reservations/:id",
		"PATCH /v1/reservations/:id",
		"POST /v1/reservations/:id/start",
		"POST /v1/reservations/:id/finish",
		"POST /v1/reservations/:id/cancel",
		"GET /v1/my-reservations",
		"POST /v1/admin/tables",
		"PUT /v1/admin/tables/:id/maintenance",
		"DELETE /v1/admin/reservations/:id",
	} {
		assert.True(t, got[want], want)
	}
}

func TestMetricsOptional(t *testing.T) {
	e, _ := newServer(t, false)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroupMiddleware(t *testing.T) {
	e, hits := newServer(t, false)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tables", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, *hits)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/my-reservations", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1, *hits, "rate limit runs after authentication")

	tok, err := utils.NewAccessToken("router-secret", 5, utils.RolePlayer, 5)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/my-reservations", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok.Token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, *hits)

	req = httptest.NewRequest(http.MethodPost, "/v1/admin/tables", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok.Token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

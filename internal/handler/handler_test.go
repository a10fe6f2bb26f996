package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/babyfoot-reservation/internal/booking"
	"github.com/iliyamo/babyfoot-reservation/internal/middleware"
	"github.com/iliyamo/babyfoot-reservation/internal/model"
	"github.com/iliyamo/babyfoot-reservation/internal/repository"
	"github.com/iliyamo/babyfoot-reservation/internal/utils"
)

const secret = "handler-secret"

var ten = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type events struct {
	mu  sync.Mutex
	got []booking.Event
}

func (e *events) Notify(_ context.Context, ev booking.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, ev)
}

func (e *events) last() booking.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.got[len(e.got)-1]
}

type api struct {
	e      *echo.Echo
	store  *repository.MemoryStore
	events *events
	table  model.Table
}

func newAPI(t *testing.T) *api {
	t.Helper()
	logger, _ := test.NewNullLogger()
	a := &api{e: echo.New(), store: repository.NewMemoryStore(time.Second), events: &events{}}
	a.table = model.Table{Name: "Center"}
	require.NoError(t, a.store.CreateTable(context.Background(), &a.table))

	engine := booking.NewEngine(a.store, booking.Config{
		RetryInitial: time.Millisecond,
		Notifier:     a.events,
		Logger:       logger,
	})
	res := NewReservationHandler(engine)
	tables := NewTableHandler(engine.Projector())
	admin := NewAdminHandler(a.store, engine, a.events)

	a.e.Use(middleware.RequestLogger(logger, nil))
	a.e.GET("/healthz", Health{}.Check)
	a.e.GET("/v1/tables", tables.List)
	a.e.GET("/v1/tables/:id/status", tables.Status)

	g := a.e.Group("/v1", middleware.JWTAuth(secret))
	g.POST("/reservations", res.Create)
	g.GET("/reservations/:id", res.Get)
	g.PATCH("/reservations/:id", res.Reschedule)
	g.POST("/reservations/:id/start", res.Start)
	g.POST("/reservations/:id/finish", res.Finish)
	g.POST("/reservations/:id/cancel", res.Cancel)
	g.GET("/my-reservations", res.Mine)

	ag := a.e.Group("/v1/admin", middleware.JWTAuth(secret), middleware.RequireRole(utils.RoleAdmin))
	ag.POST("/tables", admin.CreateTable)
	ag.PUT("/tables/:id/maintenance", admin.SetMaintenance)
	ag.DELETE("/reservations/:id", admin.DeleteReservation)
	return a
}

func token(t *testing.T, userID uint64, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, userID, role, 5)
	require.NoError(t, err)
	return tok.Token
}

// do sends body as JSON on behalf of userID (0 means anonymous).
func (a *api) do(t *testing.T, method, path string, userID uint64, body any) *httptest.ResponseRecorder {
	return a.doAs(t, method, path, userID, utils.RolePlayer, body)
}

func (a *api) doAs(t *testing.T, method, path string, userID uint64, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if userID != 0 {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, userID, role))
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

type admissionJSON struct {
	Reservation   model.Reservation  `json:"reservation"`
	QueuePosition int                `json:"queue_position"`
	Promoted      *model.Reservation `json:"promoted"`
	Freed         bool               `json:"freed"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) admissionJSON {
	t.Helper()
	var out admissionJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out.Code
}

func (a *api) book(t *testing.T, start time.Time, p model.Participants, actor uint64) *httptest.ResponseRecorder {
	return a.do(t, http.MethodPost, "/v1/reservations", actor, echo.Map{
		"table_id":     a.table.ID,
		"start_time":   start,
		"participants": p,
	})
}

func TestCreateReservation(t *testing.T) {
	a := newAPI(t)

	rec := a.book(t, ten, model.Participants{RedDefense: 1, BlueDefense: 2}, 1)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode(t, rec)
	assert.Equal(t, model.StatusConfirmed, first.Reservation.Status)
	assert.Equal(t, 0, first.QueuePosition)

	rec = a.book(t, ten, model.Participants{RedDefense: 3, BlueDefense: 4}, 3)
	require.Equal(t, http.StatusCreated, rec.Code)
	second := decode(t, rec)
	assert.Equal(t, model.StatusPending, second.Reservation.Status)
	assert.Equal(t, 1, second.QueuePosition)

	rec = a.do(t, http.MethodGet, fmt.Sprintf("/v1/reservations/%d", second.Reservation.ID), 9, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode(t, rec).QueuePosition)
}

func TestCreateReservationErrors(t *testing.T) {
	a := newAPI(t)
	require.Equal(t, http.StatusCreated, a.book(t, ten, model.Participants{RedDefense: 1, BlueDefense: 2}, 1).Code)

	cases := []struct {
		name   string
		rec    *httptest.ResponseRecorder
		status int
		code   string
	}{
		{"duplicate player", a.book(t, ten, model.Participants{RedDefense: 2, BlueDefense: 5}, 5), http.StatusConflict, "duplicate_booking"},
		{"misaligned start", a.book(t, ten.Add(7*time.Minute), model.Participants{RedDefense: 6}, 6), http.StatusBadRequest, "invalid_request"},
		{"no participants", a.book(t, ten.Add(time.Hour), model.Participants{}, 6), http.StatusBadRequest, "invalid_request"},
		{"unknown table", a.do(t, http.MethodPost, "/v1/reservations", 6, echo.Map{
			"table_id": 99, "start_time": ten, "participants": model.Participants{RedDefense: 6},
		}), http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, tc.rec.Code, tc.rec.Body.String())
			assert.Equal(t, tc.code, errorCode(t, tc.rec))
		})
	}

	rec := a.book(t, ten, model.Participants{RedDefense: 7}, 0)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/reservations/abc", 1, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(t, http.MethodGet, "/v1/reservations/404", 1, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t)
	confirmed := decode(t, a.book(t, ten, model.Participants{RedDefense: 1, BlueDefense: 2}, 1)).Reservation
	queued := decode(t, a.book(t, ten, model.Participants{RedDefense: 3, BlueDefense: 4}, 3)).Reservation
	path := func(id uint64, action string) string { return fmt.Sprintf("/v1/reservations/%d/%s", id, action) }

	rec := a.do(t, http.MethodPost, path(confirmed.ID, "start"), 9, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_participant", errorCode(t, rec))

	rec = a.do(t, http.MethodPost, path(confirmed.ID, "finish"), 1, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", errorCode(t, rec))

	rec = a.do(t, http.MethodPost, path(confirmed.ID, "start"), 2, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusInProgress, decode(t, rec).Reservation.Status)

	rec = a.do(t, http.MethodGet, fmt.Sprintf("/v1/tables/%d/status", a.table.ID), 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"table_id":%d,"status":"OCCUPIED"}`, a.table.ID), rec.Body.String())

	rec = a.do(t, http.MethodPost, path(confirmed.ID, "finish"), 1, echo.Map{"final_score_red": 11, "final_score_blue": 3})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = a.do(t, http.MethodPost, path(confirmed.ID, "finish"), 1, echo.Map{"final_score_red": 10, "final_score_blue": 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, model.StatusFinished, out.Reservation.Status)
	require.NotNil(t, out.Promoted)
	assert.Equal(t, queued.ID, out.Promoted.ID)
	assert.Equal(t, model.StatusConfirmed, out.Promoted.Status)

	rec = a.do(t, http.MethodPost, path(confirmed.ID, "cancel"), 1, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_finished", errorCode(t, rec))

	rec = a.do(t, http.MethodPost, path(queued.ID, "cancel"), 4, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out = decode(t, rec)
	assert.Equal(t, model.StatusCancelled, out.Reservation.Status)
	assert.True(t, out.Freed)
}

func TestFinishWithoutBody(t *testing.T) {
	a := newAPI(t)
	r := decode(t, a.book(t, ten, model.Participants{RedDefense: 1}, 1)).Reservation
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, fmt.Sprintf("/v1/reservations/%d/start", r.ID), 1, nil).Code)

	rec := a.do(t, http.MethodPost, fmt.Sprintf("/v1/reservations/%d/finish", r.ID), 1, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Nil(t, out.Reservation.FinalScoreRed)
	assert.True(t, out.Freed)
}

func TestFinishRejectsScoresOfWrongType(t *testing.T) {
	a := newAPI(t)
	r := decode(t, a.book(t, ten, model.Participants{RedDefense: 1, BlueDefense: 2}, 1)).Reservation
	finish := fmt.Sprintf("/v1/reservations/%d/finish", r.ID)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, fmt.Sprintf("/v1/reservations/%d/start", r.ID), 1, nil).Code)

	for _, body := range []echo.Map{
		{"final_score_red": "x", "final_score_blue": 3},
		{"final_score_red": 3.5, "final_score_blue": 3},
		{"final_score_red": 10, "final_score_blue": true},
	} {
		rec := a.do(t, http.MethodPost, finish, 1, body)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
		assert.Equal(t, "invalid_score", errorCode(t, rec))
	}

	rec := a.do(t, http.MethodPost, finish, 1, echo.Map{"final_score_red": 10, "final_score_blue": nil})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	require.NotNil(t, out.Reservation.FinalScoreRed)
	assert.Equal(t, 10, *out.Reservation.FinalScoreRed)
}

func TestRescheduleAndMine(t *testing.T) {
	a := newAPI(t)
	decode(t, a.book(t, ten, model.Participants{RedDefense: 1}, 1))
	queued := decode(t, a.book(t, ten, model.Participants{RedDefense: 2}, 2)).Reservation

	rec := a.do(t, http.MethodPatch, fmt.Sprintf("/v1/reservations/%d", queued.ID), 2, echo.Map{
		"table_id": a.table.ID, "start_time": ten.Add(15 * time.Minute),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode(t, rec)
	assert.Equal(t, model.StatusConfirmed, moved.Reservation.Status)
	assert.True(t, moved.Reservation.StartTime.Equal(ten.Add(15*time.Minute)))

	rec = a.do(t, http.MethodPatch, fmt.Sprintf("/v1/reservations/%d", queued.ID), 2, echo.Map{
		"table_id": a.table.ID, "start_time": ten.Add(30 * time.Minute),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", errorCode(t, rec))

	decode(t, a.book(t, ten.Add(time.Hour), model.Participants{RedDefense: 2}, 2))
	rec = a.do(t, http.MethodGet, "/v1/my-reservations", 2, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mine struct {
		Items []model.Reservation `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mine))
	require.Len(t, mine.Items, 2)
	assert.True(t, mine.Items[0].CreatedAt.After(mine.Items[1].CreatedAt))

	rec = a.do(t, http.MethodGet, "/v1/my-reservations", 77, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[]}`, rec.Body.String())
}

func TestAdminEndpoints(t *testing.T) {
	a := newAPI(t)

	rec := a.doAs(t, http.MethodPost, "/v1/admin/tables", 1, utils.RolePlayer, echo.Map{"name": "Side"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.doAs(t, http.MethodPost, "/v1/admin/tables", 100, utils.RoleAdmin, echo.Map{"name": " Side ", "location": "2nd floor"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var side model.Table
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &side))
	assert.Equal(t, "Side", side.Name)
	assert.Equal(t, booking.EventTableUpdated, a.events.last().Type)

	rec = a.doAs(t, http.MethodPost, "/v1/admin/tables", 100, utils.RoleAdmin, echo.Map{"name": "side"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = a.doAs(t, http.MethodPost, "/v1/admin/tables", 100, utils.RoleAdmin, echo.Map{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.doAs(t, http.MethodPut, fmt.Sprintf("/v1/admin/tables/%d/maintenance", side.ID), 100, utils.RoleAdmin, echo.Map{"maintenance": true})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.doAs(t, http.MethodPut, fmt.Sprintf("/v1/admin/tables/%d/maintenance", side.ID), 100, utils.RoleAdmin, echo.Map{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.doAs(t, http.MethodPut, "/v1/admin/tables/999/maintenance", 100, utils.RoleAdmin, echo.Map{"maintenance": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/tables", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []booking.TableView `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 2)
	assert.Equal(t, model.TableAvailable, list.Items[0].Status)
	assert.Equal(t, model.TableMaintenance, list.Items[1].Status)

	active := decode(t, a.book(t, ten, model.Participants{RedDefense: 1}, 1)).Reservation
	queued := decode(t, a.book(t, ten, model.Participants{RedDefense: 2}, 2)).Reservation
	rec = a.doAs(t, http.MethodDelete, fmt.Sprintf("/v1/admin/reservations/%d", active.ID), 100, utils.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	require.NotNil(t, out.Promoted)
	assert.Equal(t, queued.ID, out.Promoted.ID)

	rec = a.doAs(t, http.MethodDelete, fmt.Sprintf("/v1/admin/reservations/%d", active.ID), 100, utils.RoleAdmin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteErrorBusySetsRetryAfter(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)

	require.NoError(t, writeError(c, fmt.Errorf("admit: %w", booking.ErrBusy)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get(echo.HeaderRetryAfter))

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	require.NoError(t, writeError(c, errors.New("disk on fire")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error","code":"internal"}`, rec.Body.String())
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	e := echo.New()
	e.GET("/up", Health{DB: pinger{}}.Check)
	e.GET("/down", Health{DB: pinger{err: errors.New("gone")}}.Check)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/up", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/down", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

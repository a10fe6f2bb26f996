package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/babyfoot-reservation/internal/handler"
	"github.com/iliyamo/babyfoot-reservation/internal/middleware"
	"github.com/iliyamo/babyfoot-reservation/internal/utils"
)

// RegisterPlayer registers the reservation endpoints under /v1.  They need a
// valid JWT; admins may use them too.  Extra middleware runs after
// authentication so that rate limits can key on the user.
func RegisterPlayer(e *echo.Echo, h *handler.ReservationHandler, jwtSecret string, mw ...echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RolePlayer, utils.RoleAdmin),
	)
	g.Use(mw...)

	g.POST("/reservations", h.Create)
	g.GET("/reservations/:id", h.Get)
	g.PATCH("/reservations/:id", h.Reschedule)
	g.POST("/reservations/:id/start", h.Start)
	g.POST("/reservations/:id/finish", h.Finish)
	g.POST("/reservations/:id/cancel", h.Cancel)
	g.GET("/my-reservations", h.Mine)
}

package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/babyfoot-reservation/internal/handler"
	"github.com/iliyamo/babyfoot-reservation/internal/middleware"
	"github.com/iliyamo/babyfoot-reservation/internal/utils"
)

// RegisterAdmin registers ADMIN-scoped endpoints under /v1/admin.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string, mw ...echo.MiddlewareFunc) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RoleAdmin),
	)
	g.Use(mw...)

	// ---- Tables ----
	g.POST("/tables", a.CreateTable)
	g.PUT("/tables/:id/maintenance", a.SetMaintenance)

	// ---- Reservations ----
	g.DELETE("/reservations/:id", a.DeleteReservation)
}

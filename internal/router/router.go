package router // package router defines how HTTP routes are registered for the API

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/babyfoot-reservation/internal/handler"
)

// Deps carries everything the routes are built from.  RateLimit and Cache
// may be nil, in which case the routes run without them.
type Deps struct {
	JWTSecret    string
	Reservations *handler.ReservationHandler
	Tables       *handler.TableHandler
	Admin        *handler.AdminHandler
	Health       handler.Health
	Metrics      http.Handler
	RateLimit    echo.MiddlewareFunc
	Cache        echo.MiddlewareFunc
}

// Register wires every route group on e.
func Register(e *echo.Echo, d Deps) {
	RegisterRoutes(e, d.Health, d.Metrics)
	RegisterPublic(e, d.Tables, chain(d.RateLimit, d.Cache)...)
	RegisterPlayer(e, d.Reservations, d.JWTSecret, chain(d.RateLimit)...)
	RegisterAdmin(e, d.Admin, d.JWTSecret, chain(d.RateLimit)...)
}

// RegisterRoutes registers the operational endpoints.  /metrics is only
// exposed when a handler is given.
func RegisterRoutes(e *echo.Echo, health handler.Health, metrics http.Handler) {
	e.GET("/healthz", health.Check)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
}

// RegisterPublic registers the unauthenticated table endpoints.  Their
// answers are derived and tolerate staleness, which is what makes them
// cacheable.
func RegisterPublic(e *echo.Echo, t *handler.TableHandler, mw ...echo.MiddlewareFunc) {
	g := e.Group("/v1/tables", mw...)
	g.GET("", t.List)
	g.GET("/:id/status", t.Status)
}

// chain drops nil middleware.
func chain(mw ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
	out := make([]echo.MiddlewareFunc, 0, len(mw))
	for _, m := range mw {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

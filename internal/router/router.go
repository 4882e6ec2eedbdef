package router // package router defines how HTTP routes are registered for the view API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/floor-sync/internal/auth"
	"github.com/iliyamo/floor-sync/internal/handler"
	"github.com/iliyamo/floor-sync/internal/middleware"
)

// RegisterRoutes registers the unauthenticated probes.  /readyz follows the
// binder state.
func RegisterRoutes(e *echo.Echo, source handler.ViewSource) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Readyz(source))
}

// RegisterView registers the layout endpoints under /v1.  When jwtSecret is
// empty the group is left open, which is meant for a renderer on the same
// host.  extra middleware, such as the rate limiter, runs after the token
// check so it can see the subject.
func RegisterView(e *echo.Echo, h *handler.LayoutHandler, jwtSecret string, extra ...echo.MiddlewareFunc) {
	g := e.Group("/v1")
	if jwtSecret != "" {
		g.Use(middleware.JWTAuth(jwtSecret))
	}
	g.Use(extra...)
	g.GET("/layout", h.GetLayout)
	g.PUT("/layout/space", h.SetSpace)
	g.POST("/layout/retry", h.Retry)
	g.GET("/spaces/:id/snapshot", h.GetSnapshot)
	g.GET("/spaces/:id/journal", h.GetJournal)
}

// RegisterAuth registers the OAuth callback used by `floorctl login`.
func RegisterAuth(e *echo.Echo, cb *auth.Callback) {
	e.GET(auth.CallbackPath, cb.Handle)
}

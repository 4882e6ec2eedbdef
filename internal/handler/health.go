package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/floor-sync/internal/binder"
)

// Health reports that the process is up.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Readyz reports 200 only while the bound layout is Ready, so a load
// balancer keeps renderers away from a stale or empty projection.
func Readyz(source ViewSource) echo.HandlerFunc {
	return func(c echo.Context) error {
		v := source.View()
		body := echo.Map{"state": v.State, "space_id": v.SpaceID}
		if v.State != binder.Ready {
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		return c.JSON(http.StatusOK, body)
	}
}

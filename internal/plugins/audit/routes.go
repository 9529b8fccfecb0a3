package audit

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes mounts the activity feed on an account kind's route group.
// requireAuth must be that kind's auth.RequireAuth middleware.
func RegisterRoutes(g *echo.Group, h *Handler, requireAuth echo.MiddlewareFunc) {
	g.GET("/activity", h.Activity, requireAuth)
}

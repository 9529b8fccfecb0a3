package audit

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/caregate/caregate/internal/middleware"
	"github.com/caregate/caregate/internal/plugins/auth"
)

// Handler handles HTTP requests for the activity feed. Handlers are thin:
// bind request, call service, render response. No business logic lives here.
type Handler struct {
	service AuditService
}

// NewHandler creates a new audit handler.
func NewHandler(service AuditService) *Handler {
	return &Handler{service: service}
}

// Activity returns the caller's own event trail (GET /activity?page=N).
func (h *Handler) Activity(c echo.Context) error {
	id := auth.GetIdentity(c)
	if id.AccountID == "" {
		return echo.NewHTTPError(http.StatusInternalServerError, "missing identity")
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))

	result, err := h.service.GetAccountActivity(c.Request().Context(), id.Kind, id.AccountID, page)
	if err != nil {
		return err
	}

	return middleware.OK(c, http.StatusOK, "", result)
}

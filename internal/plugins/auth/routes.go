package auth

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/caregate/caregate/internal/middleware"
)

// RegisterRoutes sets up the auth API for one account kind on g, which is
// /api/v1/clinicians or /api/v1/subjects. requireAuth must be the RequireAuth
// middleware of the same kind.
//
// Credential endpoints are rate-limited per IP on top of the per-account OTP
// attempt limiter: 10 per minute for login and OTP verification, 5 per
// minute for anything that sends email.
func RegisterRoutes(g *echo.Group, h *Handler, requireAuth echo.MiddlewareFunc) {
	g.POST("/login", h.Login, middleware.RateLimit(10, time.Minute))
	g.POST("/verify-otp", h.VerifyOTP, middleware.RateLimit(10, time.Minute))
	g.POST("/refresh-token", h.Refresh, middleware.RateLimit(30, time.Minute))
	g.POST("/forgot-password", h.ForgotPassword, middleware.RateLimit(5, time.Minute))
	g.POST("/reset-password", h.ResetPassword, middleware.RateLimit(10, time.Minute))

	if h.service.Profile().Invitations {
		g.POST("/resend-set-password-email", h.ResendSetPassword, middleware.RateLimit(5, time.Minute))
	}

	g.POST("/logout", h.Logout, requireAuth)
	g.PUT("/update-password", h.UpdatePassword, requireAuth)
	g.GET("/me", h.Me, requireAuth)
}

// RegisterInviteRoutes mounts the invitation endpoint on the subjects group,
// guarded by the clinician middleware.
func RegisterInviteRoutes(subjects *echo.Group, h *InviteHandler, requireClinician echo.MiddlewareFunc) {
	subjects.POST("/:id/invite", h.Invite, requireClinician, middleware.RateLimit(20, time.Minute))
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/caregate/caregate/internal/database"
	"github.com/caregate/caregate/internal/middleware"
	"github.com/caregate/caregate/internal/otp"
	"github.com/caregate/caregate/internal/plugins/audit"
	"github.com/caregate/caregate/internal/plugins/auth"
	"github.com/caregate/caregate/internal/plugins/smtp"
	"github.com/caregate/caregate/internal/token"
)

// healthTimeout bounds the /healthz dependency pings.
const healthTimeout = 2 * time.Second

// RegisterRoutes builds the plugins and mounts their routes. This is the
// single place where all routes are aggregated:
//
//	GET  /healthz
//	     /api/v1/clinicians/...  clinician auth API and activity feed
//	     /api/v1/subjects/...    subject auth API and activity feed
//	POST /api/v1/subjects/:id/invite
func (a *App) RegisterRoutes() error {
	e := a.Echo
	cfg := a.Config

	e.GET("/healthz", a.healthz)

	codec, err := token.NewCodec(token.Config{
		Secret:    []byte(cfg.Auth.SecretKey),
		Algorithm: cfg.Auth.Algorithm,
	})
	if err != nil {
		return fmt.Errorf("creating token codec: %w", err)
	}

	mail, err := a.mailService()
	if err != nil {
		return err
	}

	events := audit.NewAuditService(audit.NewAuditRepository(a.DB), a.Dispatch, cfg.Auth.StoreTimeout, a.Logger)

	// One OTP manager and one limiter serve both kinds; limiter keys are
	// namespaced by kind.
	otps := otp.New(cfg.Auth.OTPTTL)
	var limiter auth.AttemptLimiter
	if a.Redis != nil && cfg.Auth.OTPMaxAttempts > 0 {
		limiter = auth.NewRedisAttemptLimiter(a.Redis, cfg.Auth.OTPMaxAttempts, cfg.Auth.OTPTTL)
	}

	newService := func(profile auth.Profile) auth.AuthService {
		return auth.NewAuthService(auth.Deps{
			Profile: profile,
			Repo:    auth.NewAccountRepository(a.DB, profile.Kind, cfg.Auth.StoreTimeout),
			Codec:   codec,
			OTP:     otps,
			Notifier: auth.NewMailNotifier(mail, profile, auth.NotifierConfig{
				OTPTTL:           cfg.Auth.OTPTTL,
				PasswordResetTTL: cfg.Auth.PasswordResetTTL,
				SetPasswordTTL:   cfg.Auth.SetPasswordTTL,
				Timeout:          cfg.Auth.MailTimeout,
			}),
			Limiter:    limiter,
			Events:     events,
			Dispatcher: a.Dispatch,
			Lifetimes: auth.Lifetimes{
				AccessToken:   cfg.Auth.AccessTokenTTL,
				RefreshWindow: cfg.Auth.RefreshWindow,
				PasswordReset: cfg.Auth.PasswordResetTTL,
				SetPassword:   cfg.Auth.SetPasswordTTL,
			},
			Logger: a.Logger,
		})
	}

	clinicians := newService(auth.ClinicianProfile(cfg.Frontend))
	subjects := newService(auth.SubjectProfile(cfg.Frontend))

	requireClinician := auth.RequireAuth(clinicians)
	requireSubject := auth.RequireAuth(subjects)

	activity := audit.NewHandler(events)
	api := e.Group("/api/v1")

	clinicianGroup := api.Group("/clinicians")
	auth.RegisterRoutes(clinicianGroup, auth.NewHandler(clinicians), requireClinician)
	audit.RegisterRoutes(clinicianGroup, activity, requireClinician)

	subjectGroup := api.Group("/subjects")
	auth.RegisterRoutes(subjectGroup, auth.NewHandler(subjects), requireSubject)
	audit.RegisterRoutes(subjectGroup, activity, requireSubject)
	auth.RegisterInviteRoutes(subjectGroup, auth.NewInviteHandler(subjects), requireClinician)

	return nil
}

// mailService returns a.Mail, or builds one from the SMTP config. Without
// a relay, mail is written to the log; production refuses to start that way.
func (a *App) mailService() (smtp.MailService, error) {
	if a.Mail != nil {
		return a.Mail, nil
	}
	if !a.Config.SMTP.Configured() {
		if a.Config.IsProduction() {
			return nil, errors.New("SMTP_HOST is required in production")
		}
		a.Logger.Warn("SMTP not configured, emails will be logged instead of sent")
		a.Mail = smtp.NewLogMailService(a.Logger)
		return a.Mail, nil
	}

	svc, err := smtp.NewSMTPService(smtp.SettingsFromConfig(a.Config.SMTP))
	if err != nil {
		return nil, fmt.Errorf("configuring smtp: %w", err)
	}
	a.Mail = svc
	return svc, nil
}

// healthz reports whether MariaDB and Redis answer a ping.
func (a *App) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	if err := database.Check(ctx, a.DB, a.Redis); err != nil {
		a.Logger.Warn("health check failed",
			slog.Any("error", err),
			slog.String("request_id", middleware.GetRequestID(c)),
		)
		return middleware.Fail(c, http.StatusServiceUnavailable, "service_unavailable", "A dependency is unavailable.")
	}
	return middleware.OK(c, http.StatusOK, "ok", nil)
}

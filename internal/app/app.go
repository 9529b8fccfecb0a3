// Package app is the application bootstrap and dependency injection root.
// It holds the shared infrastructure (DB pool, Redis client, Echo instance)
// and wires the auth, audit and mail plugins together.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/caregate/caregate/internal/apperror"
	"github.com/caregate/caregate/internal/config"
	"github.com/caregate/caregate/internal/dispatch"
	"github.com/caregate/caregate/internal/middleware"
	"github.com/caregate/caregate/internal/plugins/smtp"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go and used to register all routes.
type App struct {
	// Config holds the loaded application configuration.
	Config *config.Config

	// DB is the MariaDB connection pool shared by all plugins.
	DB *sql.DB

	// Redis backs the OTP attempt limiter. Nil disables the limiter.
	Redis *redis.Client

	// Mail delivers OTP codes and recovery links. When nil, RegisterRoutes
	// builds one from Config.SMTP.
	Mail smtp.MailService

	// Logger is the structured logger handed to every plugin.
	Logger *slog.Logger

	// Dispatch runs recovery emails and auth event writes off the request
	// path. Shutdown drains it.
	Dispatch *dispatch.Dispatcher

	// Echo is the HTTP server instance.
	Echo *echo.Echo
}

// New creates a new App instance with the given dependencies and configures
// the Echo server with global middleware and error handling.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()

	// Disable Echo's default banner and startup message -- we log our own.
	e.HideBanner = true
	e.HidePort = true

	// c.RealIP() feeds the per-IP rate limiter and the auth event trail, so
	// forwarded headers are only honoured from configured proxies.
	middleware.TrustedProxies(e, cfg.TrustedProxies)

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Logger: logger,
		Dispatch: dispatch.New(dispatch.Config{
			Workers: cfg.Dispatch.Workers,
			Buffer:  cfg.Dispatch.Buffer,
		}, logger),
		Echo: e,
	}

	app.setupMiddleware()
	e.HTTPErrorHandler = app.errorHandler

	return app
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: outermost (recovery) runs first.
func (a *App) setupMiddleware() {
	// Panic recovery -- must be outermost to catch panics from all other middleware.
	a.Echo.Use(middleware.Recovery(a.Logger))

	// Request id before logging so every log line carries it.
	a.Echo.Use(middleware.RequestID())
	a.Echo.Use(middleware.RequestLogger(a.Logger))

	a.Echo.Use(middleware.SecurityHeaders())

	// The clinician and subject frontends run on their own origins and send
	// bearer tokens, never cookies.
	a.Echo.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: a.Config.CORSOrigins,
	}))
}

// errorHandler is the custom Echo error handler. Every error, whether an
// AppError from a handler or an echo.HTTPError from the router, leaves as
// the JSON envelope. Causes are logged, never returned to the client.
func (a *App) errorHandler(err error, c echo.Context) {
	// Don't double-write if response is already committed.
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	typ := "internal_error"
	message := defaultErrorMessage(code)

	var appErr *apperror.AppError
	var echoErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		code = appErr.Code
		typ = appErr.Type
		message = apperror.SafeMessage(appErr)

		if appErr.Internal != nil {
			a.Logger.Error("internal error",
				slog.String("type", appErr.Type),
				slog.String("message", appErr.Message),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Request().URL.Path),
				slog.String("request_id", middleware.GetRequestID(c)),
			)
		}

	case errors.As(err, &echoErr):
		// Router errors (404, 405) and body-limit rejections.
		code = echoErr.Code
		typ = typeForStatus(code)
		if msg, ok := echoErr.Message.(string); ok && code < http.StatusInternalServerError {
			message = msg
		} else {
			message = defaultErrorMessage(code)
		}

	default:
		a.Logger.Error("unhandled error",
			slog.Any("error", err),
			slog.String("path", c.Request().URL.Path),
			slog.String("request_id", middleware.GetRequestID(c)),
		)
	}

	if code == http.StatusUnauthorized {
		c.Response().Header().Set("WWW-Authenticate", `Bearer realm="caregate"`)
	}

	if err := middleware.Fail(c, code, typ, message); err != nil {
		a.Logger.Warn("failed to write error response", slog.Any("error", err))
	}
}

// typeForStatus names the machine-readable type for errors that did not
// come from apperror.
func typeForStatus(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusTooManyRequests:
		return "too_many_requests"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	default:
		return "internal_error"
	}
}

// defaultErrorMessage returns a user-friendly message for common HTTP status codes
// when no specific message was provided by the error.
func defaultErrorMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "The request was invalid or cannot be processed."
	case http.StatusUnauthorized:
		return "Authentication required."
	case http.StatusForbidden:
		return "You don't have permission to access this resource."
	case http.StatusNotFound:
		return "The resource you requested does not exist."
	case http.StatusMethodNotAllowed:
		return "This action is not allowed."
	case http.StatusTooManyRequests:
		return "You're making too many requests. Please slow down."
	case http.StatusBadGateway:
		return "An upstream service failed. Please try again later."
	case http.StatusServiceUnavailable:
		return "The service is temporarily unavailable. Please try again later."
	default:
		return "Something went wrong on our end. Please try again."
	}
}

// Start begins listening for HTTP requests on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	a.Logger.Info("starting caregate server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
	)
	return a.Echo.Start(addr)
}

// Shutdown stops the HTTP server, then drains queued background work. The
// server goes first so no request can queue work after the drain starts.
func (a *App) Shutdown(ctx context.Context) error {
	serverErr := a.Echo.Shutdown(ctx)

	drainCtx := ctx
	if d := a.Config.Dispatch.DrainTimeout; d > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), d)
		defer cancel()
	}
	if err := a.Dispatch.Close(drainCtx); err != nil {
		a.Logger.Error("background work not drained", slog.Any("error", err))
		return errors.Join(serverErr, err)
	}
	return serverErr
}

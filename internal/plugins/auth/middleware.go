package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/caregate/caregate/internal/apperror"
	"github.com/caregate/caregate/internal/middleware"
)

// contextKeyIdentity stores the authenticated Identity in the Echo context.
// Other plugins read it through GetIdentity.
const contextKeyIdentity = "auth_identity"

// RequireAuth returns middleware that validates the bearer access token with
// service and stores the resulting Identity for downstream handlers. A token
// for another account kind is rejected like any other bad token.
func RequireAuth(service AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return unauthenticated(c)
			}

			identity, err := service.Authenticate(requestContext(c), raw)
			if err != nil {
				if errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrAccountNotFound) {
					return unauthenticated(c)
				}
				// Store failure: the token may be fine, so do not ask for a new one.
				return apperror.NewUnavailable(err)
			}

			c.Set(contextKeyIdentity, identity)
			return next(c)
		}
	}
}

// unauthenticated writes the 401 response with a bearer challenge.
func unauthenticated(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="caregate"`)
	return middleware.Fail(c, http.StatusUnauthorized, "unauthorized", "Authentication required.")
}

// bearerToken extracts the token from an Authorization header value. The
// scheme is case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, tok, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// GetIdentity retrieves the authenticated principal from the Echo context.
// Returns a zero Identity if RequireAuth did not run.
func GetIdentity(c echo.Context) *Identity {
	id, ok := c.Get(contextKeyIdentity).(*Identity)
	if !ok {
		return &Identity{}
	}
	return id
}

// requestContext is the request context carrying the client IP for the
// event trail.
func requestContext(c echo.Context) context.Context {
	return WithClientIP(c.Request().Context(), c.RealIP())
}

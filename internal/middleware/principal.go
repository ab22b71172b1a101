package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/juanvelozo/gaston-server/internal/logging"
	"github.com/juanvelozo/gaston-server/internal/transport"
	"github.com/juanvelozo/gaston-server/pkg/tokens"
)

// Principal is the verified identity behind an access token.
type Principal struct {
	UserID uint
	Email  string
}

type principalKey struct{}

func IntoContext(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Verifier is satisfied by *tokens.Signer.
type Verifier interface {
	Verify(token string, class tokens.Class) (*tokens.Claims, error)
}

// RequireAuth rejects requests without a valid access token with 401 and
// attaches the Principal to the request context otherwise.
func RequireAuth(v Verifier, strategy transport.Strategy) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			l := logging.FromContext(c.Request().Context())

			raw := strategy.AccessToken(c)
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
			}

			claims, err := v.Verify(raw, tokens.Access)
			if err != nil {
				if errors.Is(err, tokens.ErrTokenExpired) {
					l.Info("auth_rejected", "status", 401, "reason", "access token expired")
					return echo.NewHTTPError(http.StatusUnauthorized, "access token expired")
				}
				l.Warn("auth_rejected", "status", 401, "reason", "invalid access token", "error", err)
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token")
			}
			id, err := claims.UserID()
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token")
			}

			p := Principal{UserID: id, Email: claims.Email}
			ctx := IntoContext(c.Request().Context(), p)
			ctx = logging.IntoContext(ctx, l.With("user_id", id))
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// WithPrincipal adapts a handler that needs the caller's identity. Routes
// using it must sit behind RequireAuth.
func WithPrincipal(h func(c echo.Context, p Principal) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, ok := FromContext(c.Request().Context())
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		return h(c, p)
	}
}

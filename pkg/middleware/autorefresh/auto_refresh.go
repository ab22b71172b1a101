// Package autorefresh lets services that share the access secret accept the
// auth cookies and rotate an expired access token through the auth service.
package autorefresh

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/juanvelozo/gaston-server/internal/middleware"
	"github.com/juanvelozo/gaston-server/internal/service"
	"github.com/juanvelozo/gaston-server/internal/transport"
	"github.com/juanvelozo/gaston-server/pkg/authclient"
	"github.com/juanvelozo/gaston-server/pkg/tokens"
)

// Cookie names the auth service issues in cookie transport.
const (
	AccessCookie  = transport.AccessCookie
	RefreshCookie = transport.RefreshCookie
)

// Verifier is satisfied by *tokens.Signer built with the shared secrets.
type Verifier interface {
	Verify(token string, class tokens.Class) (*tokens.Claims, error)
}

// Principal is the identity RequireAuth stores in the request context.
type Principal = middleware.Principal

// FromContext returns the Principal set by RequireAuth.
func FromContext(ctx context.Context) (Principal, bool) {
	return middleware.FromContext(ctx)
}

// Refresher is satisfied by *authclient.Client.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*authclient.Session, error)
}

type AutoRefreshMiddleware struct {
	Verifier   Verifier
	AuthClient Refresher
	Cookies    transport.Cookie
}

func New(verifier Verifier, client Refresher, secureCookies bool) *AutoRefreshMiddleware {
	return &AutoRefreshMiddleware{
		Verifier:   verifier,
		AuthClient: client,
		Cookies:    transport.Cookie{Secure: secureCookies},
	}
}

// RequireAuth accepts a valid access cookie, or rotates the pair when the
// access token has expired and a refresh cookie is present.
func (m *AutoRefreshMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		access := m.Cookies.AccessToken(c)
		if access == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
		}

		claims, err := m.Verifier.Verify(access, tokens.Access)
		if err == nil {
			return m.serve(c, next, claims)
		}
		if !errors.Is(err, tokens.ErrTokenExpired) {
			m.Cookies.Clear(c)
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token")
		}

		refresh := m.Cookies.RefreshToken(c)
		if refresh == "" {
			m.Cookies.Clear(c)
			return echo.NewHTTPError(http.StatusUnauthorized, "refresh token missing")
		}

		sess, err := m.AuthClient.Refresh(c.Request().Context(), refresh)
		if err != nil {
			m.Cookies.Clear(c)
			return echo.NewHTTPError(http.StatusUnauthorized, "refresh failed")
		}

		claims, err = m.Verifier.Verify(sess.AccessToken, tokens.Access)
		if err != nil {
			m.Cookies.Clear(c)
			return echo.NewHTTPError(http.StatusUnauthorized, "new access token invalid")
		}

		m.Cookies.WritePair(c, &service.TokenPair{
			AccessToken:      sess.AccessToken,
			RefreshToken:     sess.RefreshToken,
			AccessExpiresAt:  sess.AccessExpiresAt,
			RefreshExpiresAt: sess.RefreshExpiresAt,
		})
		return m.serve(c, next, claims)
	}
}

func (m *AutoRefreshMiddleware) serve(c echo.Context, next echo.HandlerFunc, claims *tokens.Claims) error {
	id, err := claims.UserID()
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token")
	}
	ctx := middleware.IntoContext(c.Request().Context(), middleware.Principal{UserID: id, Email: claims.Email})
	c.SetRequest(c.Request().WithContext(ctx))
	return next(c)
}

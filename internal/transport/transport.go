package transport

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/juanvelozo/gaston-server/internal/config"
	"github.com/juanvelozo/gaston-server/internal/service"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
	RefreshField  = "refresh_token"
)

// Strategy moves tokens between HTTP requests/responses and the session
// manager. One strategy is chosen at startup.
type Strategy interface {
	Name() string
	AccessToken(c echo.Context) string
	RefreshToken(c echo.Context) string
	// WritePair hands the pair to the client and returns what, if anything,
	// belongs in the response body.
	WritePair(c echo.Context, pair *service.TokenPair) any
	Clear(c echo.Context)
}

func New(cfg *config.Config) Strategy {
	if cfg.Transport == config.TransportHeader {
		return Header{}
	}
	return Cookie{Secure: cfg.CookieSecure}
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
}

// refreshFromBody reads the dedicated refresh_token field. It never looks at
// the Authorization header.
func refreshFromBody(c echo.Context) string {
	var body refreshBody
	if err := (&echo.DefaultBinder{}).BindBody(c, &body); err != nil {
		return ""
	}
	return strings.TrimSpace(body.RefreshToken)
}

// Cookie keeps both tokens in HttpOnly cookies scoped to the whole app.
type Cookie struct {
	Secure bool
}

func (Cookie) Name() string { return config.TransportCookie }

func (Cookie) AccessToken(c echo.Context) string {
	ck, err := c.Cookie(AccessCookie)
	if err != nil {
		return ""
	}
	return ck.Value
}

func (Cookie) RefreshToken(c echo.Context) string {
	if ck, err := c.Cookie(RefreshCookie); err == nil && ck.Value != "" {
		return ck.Value
	}
	return refreshFromBody(c)
}

func (s Cookie) WritePair(c echo.Context, pair *service.TokenPair) any {
	c.SetCookie(s.cookie(AccessCookie, pair.AccessToken, pair.AccessExpiresAt))
	c.SetCookie(s.cookie(RefreshCookie, pair.RefreshToken, pair.RefreshExpiresAt))
	return nil
}

func (s Cookie) Clear(c echo.Context) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		ck := s.cookie(name, "", time.Unix(0, 0))
		ck.MaxAge = -1
		c.SetCookie(ck)
	}
}

func (s Cookie) cookie(name, value string, exp time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Header reads the access token from a Bearer Authorization header and
// returns the pair in the response body.
type Header struct{}

func (Header) Name() string { return config.TransportHeader }

func (Header) AccessToken(c echo.Context) string {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

func (Header) RefreshToken(c echo.Context) string {
	return refreshFromBody(c)
}

func (Header) WritePair(_ echo.Context, pair *service.TokenPair) any {
	return pair
}

func (Header) Clear(echo.Context) {}

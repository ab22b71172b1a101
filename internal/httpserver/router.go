package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/juanvelozo/gaston-server/internal/config"
	"github.com/juanvelozo/gaston-server/internal/logging"
	"github.com/juanvelozo/gaston-server/internal/metrics"
	"github.com/juanvelozo/gaston-server/internal/middleware"
	"github.com/juanvelozo/gaston-server/internal/middleware/csrf"
	loggingmw "github.com/juanvelozo/gaston-server/internal/middleware/logging"
)

// Pinger reports whether the credential store answers. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	Config      *config.Config
	AuthHandler *AuthHTTP
	Verifier    middleware.Verifier
	Metrics     *metrics.Metrics
	DB          Pinger
	Logger      *slog.Logger
}

// New builds the echo instance with middleware and routes.
func New(d *Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	logger := d.Logger
	if logger == nil {
		logger = logging.New(d.Config.LogLevel)
	}
	e.Use(loggingmw.RequestLogger(logger))
	e.Use(echomw.BodyLimit("64K"))
	e.Use(echomw.Secure())
	if len(d.Config.CORSOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins:     d.Config.CORSOrigins,
			AllowCredentials: true,
			AllowHeaders: []string{
				echo.HeaderContentType,
				echo.HeaderAuthorization,
				"X-CSRF-Token",
			},
		}))
	}

	Register(e, d)
	return e
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", readiness(d.DB))
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))
	}

	h := d.AuthHandler

	e.POST("/auth/signup", h.Signup)
	e.POST("/auth/signin", h.Signin)
	e.POST("/auth/refresh", h.Refresh)

	private := []echo.MiddlewareFunc{middleware.RequireAuth(d.Verifier, h.Transport)}
	if h.Transport.Name() == config.TransportCookie {
		private = append(private, csrf.Middleware(csrf.Config{Secure: d.Config.CookieSecure}))
	}

	e.POST("/auth/logout", middleware.WithPrincipal(h.Logout), private...)
	e.GET("/auth/me", middleware.WithPrincipal(h.Me), private...)
	e.PATCH("/user/change-password", middleware.WithPrincipal(h.ChangePassword), private...)
}

func readiness(db Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if db == nil {
			return c.NoContent(http.StatusOK)
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			logging.FromContext(ctx).Warn("readiness_failed", "error", err)
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	}
}

package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/juanvelozo/gaston-server/internal/logging"
	"github.com/juanvelozo/gaston-server/internal/service"
)

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Error      string `json:"error"`
	Path       string `json:"path"`
	Timestamp  string `json:"timestamp"`
}

// statusFor maps session errors to a status and a client-safe message.
// Authentication failures share one message so callers cannot tell which
// check failed.
func statusFor(err error) (int, string) {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code, httpErrorMessage(he)
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, "email already registered"
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrRefreshInvalid),
		errors.Is(err, service.ErrAccessDenied):
		return http.StatusForbidden, "access denied"
	case errors.Is(err, service.ErrTokenInvalid), errors.Is(err, service.ErrTokenExpired):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests, "too many attempts"
	case errors.Is(err, service.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "service unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func httpErrorMessage(he *echo.HTTPError) string {
	if s, ok := he.Message.(string); ok {
		return s
	}
	return http.StatusText(he.Code)
}

// ErrorHandler writes the error envelope. Wire it as e.HTTPErrorHandler.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		logging.FromContext(c.Request().Context()).Error("request_failed", "status", code, "error", err)
	}

	var rl *service.RateLimitError
	if errors.As(err, &rl) {
		secs := int(rl.RetryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
	}

	body := errorBody{
		StatusCode: code,
		Message:    msg,
		Error:      http.StatusText(code),
		Path:       c.Request().URL.Path,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(code)
	} else {
		werr = c.JSON(code, body)
	}
	if werr != nil {
		logging.FromContext(c.Request().Context()).Error("write_error_response", "error", werr)
	}
}

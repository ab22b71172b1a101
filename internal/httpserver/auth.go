package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/juanvelozo/gaston-server/internal/logging"
	"github.com/juanvelozo/gaston-server/internal/middleware"
	"github.com/juanvelozo/gaston-server/internal/models"
	"github.com/juanvelozo/gaston-server/internal/service"
	"github.com/juanvelozo/gaston-server/internal/transport"
)

type AuthHTTP struct {
	Svc       *service.AuthService
	Transport transport.Strategy
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type profile struct {
	ID       uint   `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

func profileOf(u *models.User) profile {
	return profile{ID: u.ID, Email: u.Email, FullName: u.FullName}
}

// withTokens adds the pair to data when the transport returns it in the body.
func (h *AuthHTTP) withTokens(c echo.Context, data echo.Map, pair *service.TokenPair) echo.Map {
	if body := h.Transport.WritePair(c, pair); body != nil {
		data["tokens"] = body
	}
	return data
}

func (h *AuthHTTP) Signup(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_signup")

	var req signupRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("signup_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	res, err := h.Svc.Signup(ctx, req.Email, req.Password, req.FullName)
	if err != nil {
		return err
	}

	return success(c, http.StatusCreated, h.withTokens(c, echo.Map{"user": profileOf(res.User)}, res.Tokens))
}

func (h *AuthHTTP) Signin(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_signin")

	var req signinRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("signin_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	res, err := h.Svc.Signin(ctx, req.Email, req.Password)
	if err != nil {
		return err
	}

	return success(c, http.StatusOK, h.withTokens(c, echo.Map{"userId": res.UserID}, res.Tokens))
}

func (h *AuthHTTP) Refresh(c echo.Context) error {
	pair, err := h.Svc.Refresh(c.Request().Context(), h.Transport.RefreshToken(c))
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, h.withTokens(c, echo.Map{"refreshed": true}, pair))
}

func (h *AuthHTTP) Logout(c echo.Context, p middleware.Principal) error {
	if err := h.Svc.Logout(c.Request().Context(), p.UserID); err != nil {
		return err
	}
	h.Transport.Clear(c)
	return success(c, http.StatusOK, echo.Map{"message": "logged out"})
}

func (h *AuthHTTP) Me(c echo.Context, p middleware.Principal) error {
	u, err := h.Svc.Me(c.Request().Context(), p.UserID)
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, profileOf(u))
}

func (h *AuthHTTP) ChangePassword(c echo.Context, p middleware.Principal) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "user_change_password")

	var req changePasswordRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("change_password_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	pair, err := h.Svc.ChangePassword(ctx, p.UserID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		return err
	}

	data := echo.Map{"message": "password changed"}
	if pair != nil {
		data = h.withTokens(c, data, pair)
	}
	return success(c, http.StatusOK, data)
}

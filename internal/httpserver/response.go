package httpserver

import "github.com/labstack/echo/v4"

// envelope carries the HTTP status code alongside the payload.
type envelope struct {
	Status int `json:"status"`
	Data   any `json:"data"`
}

func success(c echo.Context, code int, data any) error {
	return c.JSON(code, envelope{Status: code, Data: data})
}

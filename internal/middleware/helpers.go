package middleware

import (
	"github.com/labstack/echo/v4"
)

// Envelope is the body of every JSON response the API writes. Data is
// omitted on errors and on success responses that carry nothing.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// OK writes a success envelope with the given status code.
func OK(c echo.Context, statusCode int, message string, data any) error {
	return c.JSON(statusCode, Envelope{Success: true, Message: message, Data: data})
}

// Fail writes an error envelope. typ is the machine-readable error type and
// may be empty.
func Fail(c echo.Context, statusCode int, typ, message string) error {
	return c.JSON(statusCode, Envelope{Success: false, Message: message, Type: typ})
}

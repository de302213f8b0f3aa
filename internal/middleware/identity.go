package middleware

import (
	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth and RequestLogger.
const (
	KeyUserID    = "user_id"
	KeyRole      = "role"
	KeyRequestID = "request_id"
)

// UserID returns the authenticated staff id, or "anon" for guests.
func UserID(c echo.Context) string {
	if s, ok := c.Get(KeyUserID).(string); ok && s != "" {
		return s
	}
	return "anon"
}

// Role returns the authenticated role, or "" for guests.
func Role(c echo.Context) string {
	s, _ := c.Get(KeyRole).(string)
	return s
}

// RequestID returns the id assigned by RequestLogger.
func RequestID(c echo.Context) string {
	s, _ := c.Get(KeyRequestID).(string)
	return s
}

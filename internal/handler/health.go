package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Pinger reports whether a dependency is reachable.
type Pinger func(ctx context.Context) error

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	Checks map[string]Pinger
	Log    *zap.Logger
}

// Health is the liveness probe: it only proves the process answers.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Ready pings every dependency and answers 503 if any fails.  Probes are
// unauthenticated, so the failure detail goes to the log and the body
// only says which dependency is down.
func (h *HealthHandler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	status := http.StatusOK
	report := make(map[string]string, len(h.Checks))
	for name, ping := range h.Checks {
		if err := ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			report[name] = "unavailable"
			h.logger().Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		report[name] = "ok"
	}
	return c.JSON(status, report)
}

func (h *HealthHandler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

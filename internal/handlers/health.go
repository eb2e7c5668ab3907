package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/leadlinehq/leadline/internal/healthcheck"
)

// HealthHandler aggregates runtime checks into one health endpoint.
type HealthHandler struct {
	checkers []healthcheck.Checker
	logger   *slog.Logger
}

func NewHealthHandler(log *slog.Logger, checkers ...healthcheck.Checker) *HealthHandler {
	return &HealthHandler{
		checkers: checkers,
		logger:   log.With(slog.String("handler", "health")),
	}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/healthz", h.Health)
}

// Health runs every registered checker. Any error-status check turns the
// response into a 503 so load balancers stop routing here.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx := c.Request().Context()

	status := healthcheck.StatusOK
	checks := make([]healthcheck.CheckResult, 0, len(h.checkers))
	for _, checker := range h.checkers {
		for _, item := range checker.ListChecks(ctx) {
			if item.Status == healthcheck.StatusError {
				status = healthcheck.StatusError
			}
			checks = append(checks, item)
		}
	}

	code := http.StatusOK
	if status == healthcheck.StatusError {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]any{
		"status": status,
		"checks": checks,
	})
}

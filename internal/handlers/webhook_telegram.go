package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/leadlinehq/leadline/internal/channel"
	"github.com/leadlinehq/leadline/internal/tenant"
)

// IntegrationSource resolves channel integrations for inbound webhooks.
type IntegrationSource interface {
	IntegrationByVerifyToken(ctx context.Context, verifyToken string, channelTypes ...string) (tenant.Integration, error)
	IntegrationByExternalID(ctx context.Context, channelType, externalID string) (tenant.Integration, error)
}

// InboundProcessor runs one normalized message through the pipeline.
type InboundProcessor interface {
	Process(ctx context.Context, integ tenant.Integration, msg channel.InboundMessage) error
	Registry() *channel.Registry
}

// TelegramWebhookHandler receives Telegram bot updates. The verify token in
// the path routes the update to its tenant integration; an unknown token is
// a 404 so Telegram stops retrying against a dead hook.
type TelegramWebhookHandler struct {
	tenants  IntegrationSource
	pipeline InboundProcessor
	logger   *slog.Logger
}

func NewTelegramWebhookHandler(log *slog.Logger, tenants IntegrationSource, p InboundProcessor) *TelegramWebhookHandler {
	return &TelegramWebhookHandler{
		tenants:  tenants,
		pipeline: p,
		logger:   log.With(slog.String("handler", "telegram_webhook")),
	}
}

func (h *TelegramWebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/telegram/:verify_token", h.HandleUpdate)
}

func (h *TelegramWebhookHandler) HandleUpdate(c echo.Context) error {
	token := strings.TrimSpace(c.Param("verify_token"))
	if token == "" {
		return echo.NewHTTPError(http.StatusNotFound, "unknown webhook")
	}

	ctx := c.Request().Context()
	integ, err := h.tenants.IntegrationByVerifyToken(ctx, token, channel.TypeTelegram.String())
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown webhook")
		}
		h.logger.Error("integration lookup failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "lookup failed")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	adapter, ok := h.pipeline.Registry().Get(channel.TypeTelegram)
	if !ok {
		h.logger.Error("telegram adapter not registered")
		return echo.NewHTTPError(http.StatusInternalServerError, "channel unavailable")
	}
	normalizer, ok := adapter.(channel.Normalizer)
	if !ok {
		h.logger.Error("telegram adapter cannot normalize")
		return echo.NewHTTPError(http.StatusInternalServerError, "channel unavailable")
	}

	msgs, err := normalizer.Normalize(body)
	if err != nil {
		// Unrecognized updates are acked so Telegram does not retry them.
		h.logger.Debug("unrecognized telegram payload", slog.Any("error", err))
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	for _, msg := range msgs {
		msg := msg
		go func() {
			if err := h.pipeline.Process(ctx, integ, msg); err != nil {
				h.logger.Error("inbound processing failed",
					slog.Int64("tenant_id", integ.TenantID),
					slog.Any("error", err),
				)
			}
		}()
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

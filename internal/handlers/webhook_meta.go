package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/leadlinehq/leadline/internal/channel"
	"github.com/leadlinehq/leadline/internal/channel/adapters/meta"
	"github.com/leadlinehq/leadline/internal/tenant"
)

// MetaWebhookHandler serves the shared Meta webhook endpoint for WhatsApp,
// Messenger, and Instagram. GET is the subscription handshake; POST carries
// batched message events routed to tenants by the account id inside each
// event.
type MetaWebhookHandler struct {
	tenants  IntegrationSource
	pipeline InboundProcessor
	logger   *slog.Logger
}

func NewMetaWebhookHandler(log *slog.Logger, tenants IntegrationSource, p InboundProcessor) *MetaWebhookHandler {
	return &MetaWebhookHandler{
		tenants:  tenants,
		pipeline: p,
		logger:   log.With(slog.String("handler", "meta_webhook")),
	}
}

func (h *MetaWebhookHandler) Register(e *echo.Echo) {
	e.GET("/webhooks/meta", h.Verify)
	e.POST("/webhooks/meta", h.HandleEvents)
}

// Verify answers the Meta subscription handshake. The challenge is echoed
// back only when the verify token belongs to an active Meta-family
// integration; anything else is a 403 with no side effects.
func (h *MetaWebhookHandler) Verify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := strings.TrimSpace(c.QueryParam("hub.verify_token"))
	challenge := c.QueryParam("hub.challenge")

	if mode != "subscribe" || token == "" {
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}

	_, err := h.tenants.IntegrationByVerifyToken(c.Request().Context(), token, channel.MetaTypes()...)
	if err != nil {
		if !errors.Is(err, tenant.ErrNotFound) {
			h.logger.Error("verify token lookup failed", slog.Any("error", err))
		}
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}

	return c.String(http.StatusOK, challenge)
}

// HandleEvents ingests one webhook delivery. Meta retries on non-2xx, so
// the delivery is always acked once read; per-message failures are logged
// and never surface as an error status.
func (h *MetaWebhookHandler) HandleEvents(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	msgs, err := meta.Normalize(body)
	if err != nil {
		h.logger.Debug("unrecognized meta payload", slog.Any("error", err))
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	ctx := c.Request().Context()
	for _, msg := range msgs {
		integ, err := h.tenants.IntegrationByExternalID(ctx, msg.Channel.String(), msg.AccountID)
		if err != nil {
			if errors.Is(err, tenant.ErrNotFound) {
				h.logger.Warn("no integration for account",
					slog.String("channel", msg.Channel.String()),
					slog.String("account_id", msg.AccountID),
				)
			} else {
				h.logger.Error("integration lookup failed", slog.Any("error", err))
			}
			continue
		}

		msg := msg
		go func() {
			if err := h.pipeline.Process(ctx, integ, msg); err != nil {
				h.logger.Error("inbound processing failed",
					slog.Int64("tenant_id", integ.TenantID),
					slog.String("channel", msg.Channel.String()),
					slog.Any("error", err),
				)
			}
		}()
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

package meta

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leadlinehq/leadline/internal/channel"
)

const (
	waMaxButtons     = 3
	waMaxListRows    = 10
	waButtonTitleMax = 20
	waListTitleMax   = 24
	waReplyIDMax     = 200
)

// WhatsAppAdapter sends replies through the WhatsApp Cloud API.
type WhatsAppAdapter struct {
	client *Client
	logger *slog.Logger
}

// NewWhatsAppAdapter creates the WhatsApp sender on the shared Graph client.
func NewWhatsAppAdapter(log *slog.Logger, client *Client) *WhatsAppAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &WhatsAppAdapter{
		client: client,
		logger: log.With(slog.String("adapter", "whatsapp")),
	}
}

// Type returns the WhatsApp channel type.
func (a *WhatsAppAdapter) Type() channel.ChannelType {
	return channel.TypeWhatsApp
}

// Send tries an interactive message (reply buttons for up to three quick
// replies, a list above that) and falls back to plain text with a numbered
// menu when interactive delivery fails.
func (a *WhatsAppAdapter) Send(ctx context.Context, creds channel.SendCredentials, reply channel.Reply) error {
	if creds.AccessToken == "" || creds.AccountID == "" || reply.Target == "" {
		return fmt.Errorf("whatsapp: access token, phone number id, and target are required")
	}

	if len(reply.QuickReplies) > 0 {
		if err := a.sendInteractive(ctx, creds, reply); err == nil {
			return nil
		} else {
			a.logger.Warn("interactive send failed, falling back to text",
				slog.String("target", reply.Target), slog.Any("error", err))
		}
	}

	titles := make([]string, 0, len(reply.QuickReplies))
	for _, q := range reply.QuickReplies {
		titles = append(titles, q.Title)
	}
	return a.sendText(ctx, creds, reply.Target, channel.FormatQuickReplyMenu(reply.Text, titles))
}

func (a *WhatsAppAdapter) sendText(ctx context.Context, creds channel.SendCredentials, to, text string) error {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	return a.client.post(ctx, "/"+creds.AccountID+"/messages", creds.AccessToken, body)
}

func (a *WhatsAppAdapter) sendInteractive(ctx context.Context, creds channel.SendCredentials, reply channel.Reply) error {
	items := make([]channel.QuickReplyButton, 0, len(reply.QuickReplies))
	for _, q := range reply.QuickReplies {
		if strings.TrimSpace(q.ID) != "" && strings.TrimSpace(q.Title) != "" {
			items = append(items, q)
		}
	}
	if len(items) == 0 {
		return a.sendText(ctx, creds, reply.Target, reply.Text)
	}

	var interactive map[string]any
	if len(items) <= waMaxButtons {
		buttons := make([]map[string]any, 0, len(items))
		for _, it := range items {
			buttons = append(buttons, map[string]any{
				"type": "reply",
				"reply": map[string]string{
					"id":    truncate(it.ID, waReplyIDMax),
					"title": truncate(it.Title, waButtonTitleMax),
				},
			})
		}
		interactive = map[string]any{
			"type":   "button",
			"body":   map[string]string{"text": reply.Text},
			"action": map[string]any{"buttons": buttons},
		}
	} else {
		if len(items) > waMaxListRows {
			items = items[:waMaxListRows]
		}
		rows := make([]map[string]string, 0, len(items))
		for _, it := range items {
			rows = append(rows, map[string]string{
				"id":    truncate(it.ID, waReplyIDMax),
				"title": truncate(it.Title, waListTitleMax),
			})
		}
		interactive = map[string]any{
			"type": "list",
			"body": map[string]string{"text": reply.Text},
			"action": map[string]any{
				"button": "Choose",
				"sections": []map[string]any{
					{"title": "Quick options", "rows": rows},
				},
			},
		}
	}

	body := map[string]any{
		"messaging_product": "whatsapp",
		"to":                reply.Target,
		"type":              "interactive",
		"interactive":       interactive,
	}
	return a.client.post(ctx, "/"+creds.AccountID+"/messages", creds.AccessToken, body)
}

package meta

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leadlinehq/leadline/internal/channel"
)

const (
	pageMaxQuickReplies = 10
	pageTitleMax        = 20
	pagePayloadMax      = 512
)

// MessengerAdapter sends replies through the Messenger Send API with native
// quick replies.
type MessengerAdapter struct {
	client *Client
	logger *slog.Logger
}

// NewMessengerAdapter creates the Messenger sender on the shared Graph client.
func NewMessengerAdapter(log *slog.Logger, client *Client) *MessengerAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &MessengerAdapter{
		client: client,
		logger: log.With(slog.String("adapter", "messenger")),
	}
}

// Type returns the Messenger channel type.
func (a *MessengerAdapter) Type() channel.ChannelType {
	return channel.TypeMessenger
}

// Send posts the reply to /me/messages; quick replies ride along as
// tappable buttons whose payload comes back as the next inbound text.
func (a *MessengerAdapter) Send(ctx context.Context, creds channel.SendCredentials, reply channel.Reply) error {
	if creds.AccessToken == "" || reply.Target == "" {
		return fmt.Errorf("messenger: page access token and target are required")
	}

	message := map[string]any{"text": reply.Text}
	if quick := pageQuickReplies(reply.QuickReplies); len(quick) > 0 {
		message["quick_replies"] = quick
	}

	body := map[string]any{
		"messaging_type": "RESPONSE",
		"recipient":      map[string]string{"id": reply.Target},
		"message":        message,
	}
	return a.client.post(ctx, "/me/messages", creds.AccessToken, body)
}

func pageQuickReplies(buttons []channel.QuickReplyButton) []map[string]string {
	out := make([]map[string]string, 0, len(buttons))
	for _, b := range buttons {
		if strings.TrimSpace(b.ID) == "" || strings.TrimSpace(b.Title) == "" {
			continue
		}
		out = append(out, map[string]string{
			"content_type": "text",
			"title":        truncate(b.Title, pageTitleMax),
			"payload":      truncate(b.ID, pagePayloadMax),
		})
		if len(out) == pageMaxQuickReplies {
			break
		}
	}
	return out
}

// InstagramAdapter sends replies through the same Send API surface, but
// Instagram messaging has no quick-reply buttons, so options are rendered as
// a numbered text menu instead.
type InstagramAdapter struct {
	client *Client
	logger *slog.Logger
}

// NewInstagramAdapter creates the Instagram sender on the shared Graph client.
func NewInstagramAdapter(log *slog.Logger, client *Client) *InstagramAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &InstagramAdapter{
		client: client,
		logger: log.With(slog.String("adapter", "instagram")),
	}
}

// Type returns the Instagram channel type.
func (a *InstagramAdapter) Type() channel.ChannelType {
	return channel.TypeInstagram
}

// Send posts the reply text with the quick-reply menu folded into it.
func (a *InstagramAdapter) Send(ctx context.Context, creds channel.SendCredentials, reply channel.Reply) error {
	if creds.AccessToken == "" || reply.Target == "" {
		return fmt.Errorf("instagram: access token and target are required")
	}

	titles := make([]string, 0, len(reply.QuickReplies))
	for _, q := range reply.QuickReplies {
		titles = append(titles, q.Title)
	}

	body := map[string]any{
		"messaging_type": "RESPONSE",
		"recipient":      map[string]string{"id": reply.Target},
		"message":        map[string]any{"text": channel.FormatQuickReplyMenu(reply.Text, titles)},
	}
	return a.client.post(ctx, "/me/messages", creds.AccessToken, body)
}

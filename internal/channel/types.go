// Package channel provides the canonical inbound-message representation and
// the adapter abstraction for external messaging platforms. Each platform
// family contributes one adapter registered at startup; the rest of the
// pipeline never sees channel-specific payload shapes.
package channel

import (
	"fmt"
	"strings"
	"time"
)

// ChannelType identifies a messaging platform.
type ChannelType string

const (
	TypeTelegram  ChannelType = "telegram"
	TypeWhatsApp  ChannelType = "whatsapp"
	TypeMessenger ChannelType = "messenger"
	TypeInstagram ChannelType = "instagram"
)

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// MetaTypes are the channel types sharing the Meta webhook verification
// handshake.
func MetaTypes() []string {
	return []string{string(TypeWhatsApp), string(TypeMessenger), string(TypeInstagram)}
}

// InboundMessage is one user event normalized out of a channel payload.
// A single webhook delivery may expand into several of these.
type InboundMessage struct {
	Channel ChannelType
	// AccountID identifies the tenant-side account the message arrived on
	// (WhatsApp phone number id, Messenger page id, Instagram account id).
	// Empty for channels resolved by verify token instead.
	AccountID string
	// ExternalUserID identifies the end user on the channel.
	ExternalUserID string
	// ReplyTarget is the destination the outbound reply must be sent to.
	// Usually equal to ExternalUserID; Telegram uses the chat id.
	ReplyTarget string
	Text        string
	ReceivedAt  time.Time
}

// QuickReplyButton is a button-style response option attached to an outbound
// reply. Tapping it makes the client send PayloadID (or the title, depending
// on the platform) back as a normal message.
type QuickReplyButton struct {
	ID    string
	Title string
}

// Reply is the resolved outbound message for one inbound event.
type Reply struct {
	Target       string
	Text         string
	QuickReplies []QuickReplyButton
}

// SendCredentials are the tenant-scoped secrets an adapter needs to deliver
// a reply.
type SendCredentials struct {
	AccessToken string
	AccountID   string
}

// FormatQuickReplyMenu appends a numbered menu of quick-reply titles to the
// reply text. Cross-platform fallback for channels without native buttons.
func FormatQuickReplyMenu(text string, titles []string) string {
	cleaned := make([]string, 0, len(titles))
	for _, t := range titles {
		if s := strings.TrimSpace(t); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) == 0 {
		return text
	}
	if len(cleaned) > 8 {
		cleaned = cleaned[:8]
	}
	lines := []string{text, "", "Quick options:"}
	for i, t := range cleaned {
		lines = append(lines, fmt.Sprintf("%d) %s", i+1, t))
	}
	return strings.Join(lines, "\n")
}

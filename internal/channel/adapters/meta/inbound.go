// Package meta implements the Meta webhook channel family: WhatsApp Cloud
// API, Messenger, and Instagram. The three platforms share one webhook
// endpoint, one verification handshake, and the Graph API send surface.
package meta

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/leadlinehq/leadline/internal/channel"
)

// webhookEnvelope is the shared shape of a Meta webhook POST. One delivery
// may batch events for several accounts and users; every user event expands
// into its own inbound message with no cross-user ordering assumption.
type webhookEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []waMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Message struct {
				Text       string `json:"text"`
				QuickReply struct {
					Payload string `json:"payload"`
				} `json:"quick_reply"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

type waMessage struct {
	From string `json:"from"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
	Button struct {
		Text string `json:"text"`
	} `json:"button"`
	Interactive struct {
		Type        string `json:"type"`
		ButtonReply struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
}

// Normalize expands one Meta webhook delivery into canonical inbound
// messages. Unknown object kinds yield ErrUnrecognizedPayload; events with
// no extractable text are skipped.
func Normalize(payload []byte) ([]channel.InboundMessage, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", channel.ErrUnrecognizedPayload, err)
	}

	now := time.Now()
	switch envelope.Object {
	case "whatsapp_business_account":
		var out []channel.InboundMessage
		for _, entry := range envelope.Entry {
			for _, change := range entry.Changes {
				phoneNumberID := strings.TrimSpace(change.Value.Metadata.PhoneNumberID)
				for _, msg := range change.Value.Messages {
					body := whatsappBody(msg)
					from := strings.TrimSpace(msg.From)
					if phoneNumberID == "" || body == "" || from == "" {
						continue
					}
					out = append(out, channel.InboundMessage{
						Channel:        channel.TypeWhatsApp,
						AccountID:      phoneNumberID,
						ExternalUserID: from,
						ReplyTarget:    from,
						Text:           body,
						ReceivedAt:     now,
					})
				}
			}
		}
		return out, nil

	case "page", "instagram":
		channelType := channel.TypeMessenger
		if envelope.Object == "instagram" {
			channelType = channel.TypeInstagram
		}
		var out []channel.InboundMessage
		for _, entry := range envelope.Entry {
			accountID := strings.TrimSpace(entry.ID)
			if accountID == "" {
				continue
			}
			for _, event := range entry.Messaging {
				sender := strings.TrimSpace(event.Sender.ID)
				// A tapped quick reply carries both the title as text and
				// the payload; the payload is the canonical value.
				text := strings.TrimSpace(event.Message.QuickReply.Payload)
				if text == "" {
					text = strings.TrimSpace(event.Message.Text)
				}
				if sender == "" || text == "" {
					continue
				}
				out = append(out, channel.InboundMessage{
					Channel:        channelType,
					AccountID:      accountID,
					ExternalUserID: sender,
					ReplyTarget:    sender,
					Text:           text,
					ReceivedAt:     now,
				})
			}
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: object %q", channel.ErrUnrecognizedPayload, envelope.Object)
}

func whatsappBody(msg waMessage) string {
	switch strings.ToLower(strings.TrimSpace(msg.Type)) {
	case "text":
		return strings.TrimSpace(msg.Text.Body)
	case "button":
		return strings.TrimSpace(msg.Button.Text)
	case "interactive":
		switch strings.ToLower(strings.TrimSpace(msg.Interactive.Type)) {
		case "button_reply":
			if id := strings.TrimSpace(msg.Interactive.ButtonReply.ID); id != "" {
				return id
			}
			return strings.TrimSpace(msg.Interactive.ButtonReply.Title)
		case "list_reply":
			if id := strings.TrimSpace(msg.Interactive.ListReply.ID); id != "" {
				return id
			}
			return strings.TrimSpace(msg.Interactive.ListReply.Title)
		}
	}
	return ""
}

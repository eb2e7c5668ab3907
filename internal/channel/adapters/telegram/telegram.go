// Package telegram implements the Telegram channel adapter: inbound Update
// normalization and outbound delivery through the Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/leadlinehq/leadline/internal/channel"
)

// Type is the Telegram channel type tag.
const Type = channel.TypeTelegram

const maxMessageLength = 4096
const maxKeyboardButtons = 8

// Adapter implements channel.Adapter, channel.Normalizer, and channel.Sender
// for Telegram.
type Adapter struct {
	logger *slog.Logger
	mu     sync.RWMutex
	bots   map[string]*tgbotapi.BotAPI // keyed by bot token
}

// NewAdapter creates a Telegram adapter with the given logger.
func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", "telegram")),
		bots:   make(map[string]*tgbotapi.BotAPI),
	}
}

// Type returns the Telegram channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

var getOrCreateBotForTest func(a *Adapter, token string) (*tgbotapi.BotAPI, error)

func (a *Adapter) getOrCreateBot(token string) (*tgbotapi.BotAPI, error) {
	if getOrCreateBotForTest != nil {
		return getOrCreateBotForTest(a, token)
	}
	a.mu.RLock()
	bot, ok := a.bots[token]
	a.mu.RUnlock()
	if ok {
		return bot, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if bot, ok := a.bots[token]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		a.logger.Error("create bot failed", slog.Any("error", err))
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	a.bots[token] = bot
	return bot, nil
}

// Normalize maps one Telegram webhook Update into at most one inbound
// message. Updates without a text body (stickers, joins, edits) map to none.
func (a *Adapter) Normalize(payload []byte) ([]channel.InboundMessage, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		return nil, fmt.Errorf("%w: %v", channel.ErrUnrecognizedPayload, err)
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return nil, nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil, nil
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	userID := chatID
	if msg.From != nil {
		userID = strconv.FormatInt(msg.From.ID, 10)
	}

	return []channel.InboundMessage{{
		Channel:        Type,
		ExternalUserID: userID,
		ReplyTarget:    chatID,
		Text:           text,
		ReceivedAt:     time.Now(),
	}}, nil
}

// Send delivers the reply via sendMessage. Quick replies become a
// ReplyKeyboardMarkup so tapping a button sends its title back as a normal
// message; long texts are split at the platform's 4096-char cap.
func (a *Adapter) Send(ctx context.Context, creds channel.SendCredentials, reply channel.Reply) error {
	if strings.TrimSpace(creds.AccessToken) == "" {
		return fmt.Errorf("telegram: bot token is required")
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(reply.Target), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", reply.Target, err)
	}

	bot, err := a.getOrCreateBot(creds.AccessToken)
	if err != nil {
		return err
	}

	chunks := channel.ChunkText(reply.Text, maxMessageLength)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, chunk)
		// Attach the keyboard to the final chunk only.
		if i == len(chunks)-1 {
			if keyboard, ok := buildKeyboard(reply.QuickReplies); ok {
				msg.ReplyMarkup = keyboard
			}
		}
		if _, err := bot.Send(msg); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

func buildKeyboard(buttons []channel.QuickReplyButton) (tgbotapi.ReplyKeyboardMarkup, bool) {
	rows := make([][]tgbotapi.KeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		title := strings.TrimSpace(b.Title)
		if title == "" {
			continue
		}
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(title)))
		if len(rows) == maxKeyboardButtons {
			break
		}
	}
	if len(rows) == 0 {
		return tgbotapi.ReplyKeyboardMarkup{}, false
	}
	keyboard := tgbotapi.NewReplyKeyboard(rows...)
	keyboard.ResizeKeyboard = true
	keyboard.OneTimeKeyboard = false
	return keyboard, true
}

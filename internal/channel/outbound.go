package channel

import (
	"context"
	"log/slog"
	"strings"
)

// Deliver sends a reply through the sender, retrying once immediately on
// failure. A failed delivery is wrapped in DeliveryError; the caller's
// conversation record is authoritative either way.
func Deliver(ctx context.Context, log *slog.Logger, sender Sender, channelType ChannelType, creds SendCredentials, reply Reply) error {
	err := sender.Send(ctx, creds, reply)
	if err == nil {
		return nil
	}
	if log != nil {
		log.Warn("outbound send failed, retrying once",
			slog.String("channel", channelType.String()),
			slog.String("target", reply.Target),
			slog.Any("error", err),
		)
	}
	if retryErr := sender.Send(ctx, creds, reply); retryErr == nil {
		return nil
	} else {
		err = retryErr
	}
	return &DeliveryError{Channel: channelType, Err: err}
}

// ChunkText splits text at newline boundaries, respecting the rune limit.
// Platforms with hard message-length caps send one message per chunk.
func ChunkText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 || runeLen(trimmed) <= limit {
		return []string{trimmed}
	}
	lines := strings.Split(trimmed, "\n")
	chunks := make([]string, 0)
	buf := make([]string, 0, len(lines))
	bufLen := 0
	for _, line := range lines {
		lineLen := runeLen(line)
		sepLen := 0
		if len(buf) > 0 {
			sepLen = 1
		}
		if bufLen+sepLen+lineLen <= limit {
			buf = append(buf, line)
			bufLen += sepLen + lineLen
			continue
		}
		if len(buf) > 0 {
			chunks = append(chunks, strings.Join(buf, "\n"))
			buf = buf[:0]
			bufLen = 0
		}
		if lineLen <= limit {
			buf = append(buf, line)
			bufLen = lineLen
			continue
		}
		chunks = append(chunks, splitLongLine(line, limit)...)
	}
	if len(buf) > 0 {
		chunks = append(chunks, strings.Join(buf, "\n"))
	}
	return chunks
}

func splitLongLine(line string, limit int) []string {
	runes := []rune(line)
	chunks := make([]string, 0, len(runes)/limit+1)
	for start := 0; start < len(runes); start += limit {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

func runeLen(s string) int {
	return len([]rune(s))
}

// Package lead extracts contact details from customer messages and records
// them on the conversation lead. Extraction runs off the request path and
// is best-effort: failures are logged and dropped.
package lead

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/leadlinehq/leadline/internal/llm"
)

var (
	emailPattern = regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`)
	phonePattern = regexp.MustCompile(`\b(?:\+?\d{1,3}[\s.-]?)?(?:\(?\d{2,4}\)?[\s.-]?)?\d{3,4}[\s.-]?\d{4}\b`)

	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bmy\s+name\s+is\s+([a-z][a-z\s\-']{1,60})\b`),
		regexp.MustCompile(`(?i)\bi\s+am\s+([a-z][a-z\s\-']{1,60})\b`),
		regexp.MustCompile(`(?i)\bi'm\s+([a-z][a-z\s\-']{1,60})\b`),
		regexp.MustCompile(`(?i)\bthis\s+is\s+([a-z][a-z\s\-']{1,60})\b`),
	}
)

const llmExtractTimeout = 10 * time.Second

// Info is the contact detail set pulled out of one message.
type Info struct {
	CustomerName string
	PhoneNumber  string
	Email        string
}

// Generator is the optional model-backed extraction dependency.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
}

// ContactUpdater persists extracted contact details onto a lead.
type ContactUpdater interface {
	UpdateContact(ctx context.Context, leadID int64, name, phone, summary string) error
}

// Extractor captures contact details from inbound messages.
type Extractor struct {
	store     ContactUpdater
	generator Generator
	useLLM    bool
	logger    *slog.Logger
}

// NewExtractor creates an extractor. generator may be nil when model-backed
// extraction is disabled.
func NewExtractor(log *slog.Logger, store ContactUpdater, generator Generator, useLLM bool) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{
		store:     store,
		generator: generator,
		useLLM:    useLLM && generator != nil,
		logger:    log.With(slog.String("service", "lead_extractor")),
	}
}

// Capture is the contact detail set actually recorded on a lead.
type Capture struct {
	CustomerName string
	PhoneNumber  string
	Email        string
	Summary      string
}

// Process scans one customer message and records whatever contact details it
// carries. senderID stands in for the phone number when the text has none,
// since chat identifiers on the supported channels are reachable addresses.
// It returns nil when the message carried nothing worth recording.
func (x *Extractor) Process(ctx context.Context, leadID int64, message, senderID string) (*Capture, error) {
	info := ExtractInfo(message)
	if info == nil && x.useLLM {
		info = x.extractWithModel(ctx, message)
	}

	var name, phone string
	if info != nil {
		name = strings.TrimSpace(info.CustomerName)
		phone = strings.TrimSpace(info.PhoneNumber)
	}
	if phone == "" {
		phone = senderID
	}
	if phone == "" {
		return nil, nil
	}

	email := ""
	if m := emailPattern.FindString(message); m != "" {
		email = m
	}

	capture := &Capture{
		CustomerName: name,
		PhoneNumber:  phone,
		Email:        email,
		Summary:      buildSummary(name, phone, email),
	}
	if err := x.store.UpdateContact(ctx, leadID, name, phone, capture.Summary); err != nil {
		return nil, fmt.Errorf("record lead contact: %w", err)
	}
	x.logger.Info("lead contact captured",
		slog.Int64("lead_id", leadID),
		slog.Bool("has_name", name != ""),
		slog.Bool("has_email", email != ""),
	)
	return capture, nil
}

// ExtractInfo is the fast regex pass. It returns nil when the message has no
// phone number; a name alone is not enough to call it a lead.
func ExtractInfo(message string) *Info {
	phone := strings.TrimSpace(phonePattern.FindString(message))
	if phone == "" {
		return nil
	}

	name := ""
	for _, pattern := range namePatterns {
		m := pattern.FindStringSubmatch(message)
		if m == nil {
			continue
		}
		candidate := strings.Join(strings.Fields(m[1]), " ")
		if candidate != "" {
			name = titleCase(candidate)
			break
		}
	}
	return &Info{CustomerName: name, PhoneNumber: phone}
}

func (x *Extractor) extractWithModel(ctx context.Context, message string) *Info {
	ctx, cancel := context.WithTimeout(ctx, llmExtractTimeout)
	defer cancel()

	temp := float32(0)
	out, err := x.generator.Generate(ctx, llm.Request{
		SystemPrompt: "You are an information extractor. " +
			"Extract contact details from a chat message. " +
			"Return ONLY valid JSON with keys: customer_name, phone_number. " +
			"If unknown, use empty string.",
		UserMessage: "Message: " + message,
		Temperature: &temp,
		ForceJSON:   true,
	})
	if err != nil {
		x.logger.Debug("model extraction failed", slog.Any("error", err))
		return nil
	}

	var parsed struct {
		CustomerName string `json:"customer_name"`
		PhoneNumber  string `json:"phone_number"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		x.logger.Debug("model extraction returned non-JSON", slog.Any("error", err))
		return nil
	}
	if strings.TrimSpace(parsed.PhoneNumber) == "" {
		return nil
	}
	return &Info{
		CustomerName: strings.TrimSpace(parsed.CustomerName),
		PhoneNumber:  strings.TrimSpace(parsed.PhoneNumber),
	}
}

func buildSummary(name, phone, email string) string {
	parts := make([]string, 0, 3)
	if name != "" {
		parts = append(parts, "name="+name)
	}
	parts = append(parts, "phone="+phone)
	if email != "" {
		parts = append(parts, "email="+email)
	}
	return "Captured lead: " + strings.Join(parts, ", ")
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

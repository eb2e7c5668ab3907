// Package llm wraps the external text-generation provider behind one
// interface with bounded deadlines and a transient/permanent retry policy.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Roles for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message handed to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one generation call: the tenant system prompt, the
// bounded conversation context, and the new user message.
type Request struct {
	SystemPrompt string
	History      []Message
	UserMessage  string
	// Temperature overrides the configured default when non-nil.
	Temperature *float32
	// ForceJSON requests a JSON-object response, used by the lead extractor.
	ForceJSON bool
}

// Messages flattens the request into the provider wire order.
func (r Request) Messages() []Message {
	msgs := make([]Message, 0, len(r.History)+2)
	if r.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: r.SystemPrompt})
	}
	msgs = append(msgs, r.History...)
	msgs = append(msgs, Message{Role: RoleUser, Content: r.UserMessage})
	return msgs
}

// Provider is a pluggable text-generation backend. Selection is process
// configuration, not business logic.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// ProviderError classifies a failed provider call. Transient failures
// (timeout, rate limit, 5xx) are retried; permanent ones (auth, malformed
// request) fail immediately.
type ProviderError struct {
	Transient  bool
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider error (%s, status %d): %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider error (%s): %v", kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

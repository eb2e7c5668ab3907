// Package resolver decides how to answer one inbound message: continue a
// guided flow, fire a scripted rule, acknowledge a quick reply, start a
// flow, or fall through to the generative provider. Stages are ordered and
// short-circuit at the first match.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/leadlinehq/leadline/internal/conversation"
	"github.com/leadlinehq/leadline/internal/flow"
	"github.com/leadlinehq/leadline/internal/llm"
	"github.com/leadlinehq/leadline/internal/tenant"
)

// Source tags which stage produced a reply. Used for logging only; the
// outbound path treats all sources uniformly.
type Source string

const (
	SourceFlow       Source = "flow"
	SourceRule       Source = "rule"
	SourceQuickReply Source = "quick_reply"
	SourceAI         Source = "ai"
	SourceFallback   Source = "fallback"
)

const defaultSystemPrompt = "You are a helpful assistant."

// regexTriggerPrefix marks a rule trigger as a regular expression instead of
// a substring keyword.
const regexTriggerPrefix = "re:"

// Result is a resolved reply.
type Result struct {
	Text   string
	Source Source
	// FlowState, when non-nil, must be persisted on the lead while the
	// conversation lock is still held. A zero state clears the flow.
	FlowState *flow.State
	// Acknowledge marks a quick-reply match with no response text: the
	// event is consumed without sending anything.
	Acknowledge bool
}

// Generator is the generative reply dependency.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
}

// Engine evaluates the resolution stages.
type Engine struct {
	generator     Generator
	fallbackReply string
	logger        *slog.Logger
}

// NewEngine creates a resolution engine.
func NewEngine(log *slog.Logger, generator Generator, fallbackReply string) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		generator:     generator,
		fallbackReply: fallbackReply,
		logger:        log.With(slog.String("service", "resolver")),
	}
}

// Resolve produces the reply for one inbound text. It never leaves the user
// without an answer: when the AI stage fails, the static fallback reply is
// returned and the error is reported alongside it for observability.
func (e *Engine) Resolve(ctx context.Context, snap tenant.Snapshot, lead conversation.Lead, history []conversation.Entry, text string) (Result, error) {
	// Stage 0: a lead mid-flow answers the flow, nothing else.
	if lead.FlowState.Active() {
		if result, handled := e.continueFlow(snap, lead, text); handled {
			return result, nil
		}
		// Broken or vanished flow: clear the state and fall through to the
		// normal stages.
		result, err := e.resolveStages(ctx, snap, lead, history, text)
		if result.FlowState == nil {
			result.FlowState = &flow.State{}
		}
		return result, err
	}
	return e.resolveStages(ctx, snap, lead, history, text)
}

func (e *Engine) resolveStages(ctx context.Context, snap tenant.Snapshot, lead conversation.Lead, history []conversation.Entry, text string) (Result, error) {
	// Stage 1: scripted rules.
	if rule, ok := matchRule(snap.Rules, text); ok {
		return Result{Text: rule.ResponseText, Source: SourceRule}, nil
	}

	// Stage 2: quick replies, trim-then-exact against the payload.
	if quick, ok := matchQuickReply(snap.QuickReplies, text); ok {
		if quick.FlowID != 0 {
			if result, ok := e.startFlowByID(snap, quick.FlowID); ok {
				return result, nil
			}
		}
		if quick.ResponseText != "" {
			return Result{Text: quick.ResponseText, Source: SourceQuickReply}, nil
		}
		return Result{Source: SourceQuickReply, Acknowledge: true}, nil
	}

	// Stage 3: flow trigger keywords start a guided conversation.
	if f, ok := matchFlowTrigger(snap.Flows, text); ok {
		if result, ok := e.startFlow(f); ok {
			return result, nil
		}
	}

	// Stage 4: generative reply.
	reply, err := e.generator.Generate(ctx, llm.Request{
		SystemPrompt: systemPrompt(snap.Tenant),
		History:      historyMessages(history),
		UserMessage:  text,
	})
	if err != nil {
		e.logger.Error("generation failed, sending fallback reply",
			slog.Int64("tenant_id", snap.Tenant.ID),
			slog.Int64("lead_id", lead.ID),
			slog.Any("error", err),
		)
		return Result{Text: e.fallbackReply, Source: SourceFallback}, fmt.Errorf("ai stage: %w", err)
	}
	return Result{Text: reply, Source: SourceAI}, nil
}

func (e *Engine) continueFlow(snap tenant.Snapshot, lead conversation.Lead, text string) (Result, bool) {
	f, ok := findFlow(snap.Flows, lead.FlowState.FlowID)
	if !ok {
		return Result{}, false
	}
	graph, err := flow.ParseGraph(f.Data)
	if err != nil {
		e.logger.Warn("flow graph is malformed, clearing state",
			slog.Int64("flow_id", f.ID), slog.Any("error", err))
		return Result{}, false
	}
	result, ok := flow.Continue(graph, lead.FlowState, text)
	if !ok || result.Text == "" {
		return Result{}, false
	}
	state := result.State
	if result.Done {
		state = flow.State{}
	}
	return Result{Text: result.Text, Source: SourceFlow, FlowState: &state}, true
}

func (e *Engine) startFlowByID(snap tenant.Snapshot, flowID int64) (Result, bool) {
	f, ok := findFlow(snap.Flows, flowID)
	if !ok {
		return Result{}, false
	}
	return e.startFlow(f)
}

func (e *Engine) startFlow(f tenant.Flow) (Result, bool) {
	graph, err := flow.ParseGraph(f.Data)
	if err != nil {
		e.logger.Warn("flow graph is malformed, skipping trigger",
			slog.Int64("flow_id", f.ID), slog.Any("error", err))
		return Result{}, false
	}
	result, ok := flow.Start(graph, f.ID)
	if !ok || result.Text == "" {
		return Result{}, false
	}
	state := result.State
	if result.Done {
		state = flow.State{}
	}
	return Result{Text: result.Text, Source: SourceFlow, FlowState: &state}, true
}

// matchRule scans active rules for a case-insensitive match. Substring
// keywords compete on length: when one matching keyword is a substring of
// another, the longer (more specific) rule wins; length ties go to the
// earliest-created rule. Triggers prefixed with "re:" are regular
// expressions and compete with their pattern length.
func matchRule(rules []tenant.Rule, text string) (tenant.Rule, bool) {
	normalized := strings.ToLower(text)

	var best tenant.Rule
	bestLen := -1
	for _, rule := range rules {
		trigger := strings.TrimSpace(rule.TriggerKeyword)
		if trigger == "" {
			continue
		}

		matched := false
		// Regex triggers compete with their pattern length, not the raw
		// trigger length, so the "re:" prefix carries no ranking weight.
		weight := len(trigger)
		if strings.HasPrefix(strings.ToLower(trigger), regexTriggerPrefix) {
			pattern := strings.TrimSpace(trigger[len(regexTriggerPrefix):])
			if pattern == "" {
				continue
			}
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				continue
			}
			matched = re.MatchString(text)
			weight = len(pattern)
		} else {
			matched = strings.Contains(normalized, strings.ToLower(trigger))
		}
		if !matched {
			continue
		}

		if weight > bestLen || (weight == bestLen && rule.ID < best.ID) {
			best = rule
			bestLen = weight
		}
	}
	return best, bestLen >= 0
}

// matchQuickReply compares the trimmed inbound text for exact equality with
// each active payload. The title also matches because Telegram reply
// keyboards echo the button title, not the payload. Substring matches never
// fire.
func matchQuickReply(items []tenant.QuickReply, text string) (tenant.QuickReply, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return tenant.QuickReply{}, false
	}
	for _, q := range items {
		if strings.TrimSpace(q.PayloadText) == trimmed || strings.TrimSpace(q.Title) == trimmed {
			return q, true
		}
	}
	return tenant.QuickReply{}, false
}

func matchFlowTrigger(flows []tenant.Flow, text string) (tenant.Flow, bool) {
	normalized := strings.ToLower(text)

	var best tenant.Flow
	bestLen := -1
	for _, f := range flows {
		trigger := strings.ToLower(strings.TrimSpace(f.TriggerKeyword))
		if trigger == "" || !strings.Contains(normalized, trigger) {
			continue
		}
		if len(trigger) > bestLen || (len(trigger) == bestLen && f.ID < best.ID) {
			best = f
			bestLen = len(trigger)
		}
	}
	return best, bestLen >= 0
}

func findFlow(flows []tenant.Flow, id int64) (tenant.Flow, bool) {
	for _, f := range flows {
		if f.ID == id {
			return f, true
		}
	}
	return tenant.Flow{}, false
}

func systemPrompt(t tenant.Tenant) string {
	if strings.TrimSpace(t.SystemPrompt) == "" {
		return defaultSystemPrompt
	}
	return t.SystemPrompt
}

func historyMessages(entries []conversation.Entry) []llm.Message {
	msgs := make([]llm.Message, 0, len(entries))
	for _, e := range entries {
		role := llm.RoleUser
		if e.Sender == conversation.SenderBot {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: e.Message})
	}
	return msgs
}

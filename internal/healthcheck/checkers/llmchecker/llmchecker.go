// Package llmchecker reports the readiness of the generative text provider.
// The check is configuration-only; it never spends a provider call.
package llmchecker

import (
	"context"
	"log/slog"
	"strings"

	"github.com/leadlinehq/leadline/internal/config"
	"github.com/leadlinehq/leadline/internal/healthcheck"
)

const checkTypeProvider = "llm.provider"

// Checker evaluates generative provider readiness.
type Checker struct {
	logger *slog.Logger
	cfg    config.LLMConfig
}

// NewChecker creates an LLM health checker.
func NewChecker(log *slog.Logger, cfg config.LLMConfig) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger: log.With(slog.String("checker", "healthcheck_llm")),
		cfg:    cfg,
	}
}

// ListChecks reports whether the provider is configured well enough to take
// traffic. A missing key is a warning, not an error: the pipeline still
// answers from rules, quick replies, and the fallback reply.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}

	item := healthcheck.CheckResult{
		ID:      checkTypeProvider,
		Type:    checkTypeProvider,
		Status:  healthcheck.StatusOK,
		Summary: "Generative provider is configured.",
		Metadata: map[string]any{
			"provider": c.cfg.Provider,
			"model":    c.cfg.Model,
		},
	}
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		item.Status = healthcheck.StatusWarn
		item.Summary = "Generative provider has no API key; AI replies will fall back."
	}
	return []healthcheck.CheckResult{item}
}

package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/leadlinehq/leadline/internal/config"
)

// Service applies the bounded deadline and retry policy on top of a Provider.
// Transient failures retry a small fixed number of times with exponential
// backoff; permanent failures surface immediately so the pipeline can fall
// back to the static reply.
type Service struct {
	provider   Provider
	timeout    time.Duration
	maxRetries uint64
	logger     *slog.Logger
}

// NewService wraps the provider with the configured deadline and retry budget.
func NewService(log *slog.Logger, provider Provider, cfg config.LLMConfig) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		provider:   provider,
		timeout:    cfg.Timeout(),
		maxRetries: uint64(cfg.MaxRetries),
		logger:     log.With(slog.String("service", "llm")),
	}
}

// Provider returns the backing provider, mainly for health checks.
func (s *Service) Provider() Provider {
	return s.provider
}

// Generate runs one generation with retries. Each attempt gets the full
// configured deadline; a permanent provider error aborts the retry loop.
func (s *Service) Generate(ctx context.Context, req Request) (string, error) {
	var attempt int

	operation := func() (string, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		text, err := s.provider.Generate(attemptCtx, req)
		if err == nil {
			if attempt > 1 {
				s.logger.Info("generation succeeded after retry",
					slog.String("provider", s.provider.Name()),
					slog.Int("attempt", attempt),
				)
			}
			return text, nil
		}
		if !IsTransient(err) {
			return "", backoff.Permanent(err)
		}
		s.logger.Warn("transient provider failure",
			slog.String("provider", s.provider.Name()),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		return "", err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries),
		ctx,
	)
	return backoff.RetryWithData(operation, policy)
}

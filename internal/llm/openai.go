package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/leadlinehq/leadline/internal/config"
)

// OpenAICompatProvider calls any OpenAI-compatible chat-completions endpoint.
type OpenAICompatProvider struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float32
	httpClient  *http.Client
}

// NewOpenAICompatProvider creates the provider from process configuration.
func NewOpenAICompatProvider(cfg config.LLMConfig) *OpenAICompatProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = config.DefaultLLMBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = config.DefaultLLMModel
	}
	return &OpenAICompatProvider{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       model,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: cfg.Timeout()},
	}
}

// Name identifies the provider in logs and health checks.
func (p *OpenAICompatProvider) Name() string {
	return "openai-compat"
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float32         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate performs one chat-completions call. Errors are classified for the
// retry layer: network failures, timeouts, 429 and 5xx are transient;
// everything else is permanent.
func (p *OpenAICompatProvider) Generate(ctx context.Context, req Request) (string, error) {
	if p.apiKey == "" {
		return "", &ProviderError{Err: errors.New("api key is not configured")}
	}

	temperature := p.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	body := chatCompletionRequest{
		Model:       p.model,
		Messages:    req.Messages(),
		Temperature: temperature,
	}
	if req.ForceJSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", &ProviderError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", &ProviderError{Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		// Treat network-level failures, including deadline expiry, as
		// transient: the next attempt may land on a healthy backend.
		return "", &ProviderError{Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		perr := &ProviderError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))),
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			perr.Transient = true
		}
		return "", perr
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", &ProviderError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(decoded.Choices) == 0 {
		return "", &ProviderError{Err: errors.New("response has no choices")}
	}
	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}

var _ Provider = (*OpenAICompatProvider)(nil)

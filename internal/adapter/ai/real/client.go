// Package real implements domain.AIClient against OpenAI-compatible HTTP
// APIs: one provider for chat or completion inference and one for
// embeddings. All inference calls run through a circuit breaker and retry
// only on rate-limit-class failures.
package real

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"log/slog"

	"github.com/fairyhunter13/ai-essay-grader/internal/adapter/observability"
	"github.com/fairyhunter13/ai-essay-grader/internal/config"
	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
	obs "github.com/fairyhunter13/ai-essay-grader/internal/observability"
)

// Client implements domain.AIClient over HTTP.
type Client struct {
	cfg     config.Config
	chatHC  *http.Client
	embedHC *http.Client
	breaker *obs.CircuitBreaker
}

// New constructs a real AI client. breaker guards inference calls; a nil
// breaker disables guarding, which only tests should do.
func New(cfg config.Config, breaker *obs.CircuitBreaker) *Client {
	return &Client{
		cfg:     cfg,
		chatHC:  &http.Client{Timeout: cfg.ChatTimeout},
		embedHC: &http.Client{Timeout: cfg.EmbedTimeout},
		breaker: breaker,
	}
}

// ChatJSON sends one scoring request and returns the raw response text.
// The request envelope depends on the configured model: structured chat
// for modern models, a bare prompt for legacy completion models. Sampling
// is deterministic (temperature 0).
func (c *Client) ChatJSON(ctx domain.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	if c.cfg.AIAPIKey == "" {
		return "", fmt.Errorf("%w: AI_API_KEY missing", domain.ErrInvalidArgument)
	}

	var out string
	call := func() error {
		var err error
		if c.cfg.ModelUsesChatEnvelope() {
			out, err = c.chatCompletion(ctx, systemPrompt, userPrompt, maxTokens)
		} else {
			out, err = c.legacyCompletion(ctx, systemPrompt, userPrompt, maxTokens)
		}
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		if errors.Is(err, obs.ErrCircuitOpen) {
			return "", fmt.Errorf("%w: %s", domain.ErrInferenceUnavailable, err)
		}
		return "", err
	}
	return out, nil
}

func (c *Client) chatCompletion(ctx domain.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	body := map[string]any{
		"model":       c.cfg.ActiveModel,
		"temperature": 0,
		"max_tokens":  maxTokens,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.postWithRetry(ctx, c.chatHC, c.cfg.AIBaseURL+"/chat/completions", c.cfg.AIAPIKey, "chat", body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", domain.ErrParseFailed)
	}
	return out.Choices[0].Message.Content, nil
}

// legacyCompletion targets models that only take a flat prompt. The system
// prompt is folded into the prompt text.
func (c *Client) legacyCompletion(ctx domain.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	body := map[string]any{
		"model":       c.cfg.ActiveModel,
		"temperature": 0,
		"max_tokens":  maxTokens,
		"prompt":      systemPrompt + "\n\n" + userPrompt,
	}
	var out struct {
		Choices []struct {
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := c.postWithRetry(ctx, c.chatHC, c.cfg.AIBaseURL+"/completions", c.cfg.AIAPIKey, "completion", body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", domain.ErrParseFailed)
	}
	return out.Choices[0].Text, nil
}

// Embed returns one vector per input text. Inputs longer than the
// provider's limit are truncated; embeddings degrade gracefully under
// truncation. Retries transient failures a small fixed number of times.
func (c *Client) Embed(ctx domain.Context, texts []string) ([][]float32, error) {
	if c.cfg.EmbeddingsAPIKey == "" || c.cfg.EmbeddingsModel == "" {
		slog.Error("embeddings key or model missing",
			slog.Bool("has_api_key", c.cfg.EmbeddingsAPIKey != ""),
			slog.String("model", c.cfg.EmbeddingsModel))
		return nil, fmt.Errorf("%w: EMBEDDINGS_API_KEY or EMBEDDINGS_MODEL missing", domain.ErrInvalidArgument)
	}

	input := make([]string, len(texts))
	for i, t := range texts {
		if len(t) > c.cfg.EmbedMaxChars {
			t = t[:c.cfg.EmbedMaxChars]
		}
		input[i] = t
	}

	body := map[string]any{
		"model": c.cfg.EmbeddingsModel,
		"input": input,
	}
	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}

	b, _ := json.Marshal(body)
	op := func() error {
		return c.doPost(ctx, c.embedHC, c.cfg.EmbeddingsBaseURL+"/embeddings", c.cfg.EmbeddingsAPIKey, "embed", b, &out)
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(c.cfg.EmbedBackoffInitial),
			backoff.WithMultiplier(2),
		), uint64(c.cfg.EmbedMaxRetries)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("op=ai.Embed: %w", err)
	}

	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", domain.ErrInternal, len(out.Data), len(texts))
	}
	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// postWithRetry retries only rate-limit responses, with exponential backoff
// (initial doubling, capped). Other failures are classified and returned
// immediately.
func (c *Client) postWithRetry(ctx domain.Context, hc *http.Client, url, apiKey, op string, body any, out any) error {
	b, _ := json.Marshal(body)
	attempt := func() error {
		err := c.doPost(ctx, hc, url, apiKey, op, b, out)
		if err != nil && !errors.Is(err, domain.ErrUpstreamRateLimit) {
			return backoff.Permanent(err)
		}
		return err
	}

	initial, maxInterval, maxRetries := c.cfg.AIBackoff()
	bo := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(initial),
			backoff.WithMaxInterval(maxInterval),
			backoff.WithMultiplier(2),
		), uint64(maxRetries)), ctx)

	if err := backoff.Retry(attempt, bo); err != nil {
		slog.Error("inference call failed after retries", slog.String("op", op), slog.Any("error", err))
		if errors.Is(err, domain.ErrUpstreamRateLimit) {
			return fmt.Errorf("%w: retries exhausted", domain.ErrInferenceUnavailable)
		}
		return err
	}
	return nil
}

// doPost performs one HTTP call and classifies failures into the small
// error taxonomy the orchestrator branches on.
func (c *Client) doPost(ctx domain.Context, hc *http.Client, url, apiKey, op string, body []byte, out any) error {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("op=ai.%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	provider := "inference"
	if op == "embed" {
		provider = "embeddings"
	}
	resp, err := hc.Do(req)
	observability.AIRequestsTotal.WithLabelValues(provider, op).Inc()
	observability.AIRequestDuration.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Timeout") {
			return fmt.Errorf("%w: %s", domain.ErrUpstreamTimeout, op)
		}
		return fmt.Errorf("op=ai.%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("op=ai.%s: read body: %w", op, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		slog.Warn("ai provider rate limited", slog.String("op", op), slog.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: status 429", domain.ErrUpstreamRateLimit)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		slog.Warn("ai provider 4xx", slog.String("op", op), slog.Int("status", resp.StatusCode), slog.String("body", snippet(bodyBytes)))
		return fmt.Errorf("%w: %s status %d", domain.ErrInvalidArgument, op, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		slog.Error("ai provider non-2xx", slog.String("op", op), slog.Int("status", resp.StatusCode), slog.String("body", snippet(bodyBytes)))
		return fmt.Errorf("op=ai.%s: status %d", op, resp.StatusCode)
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %s", domain.ErrParseFailed, op, err)
	}
	return nil
}

func snippet(b []byte) string {
	if len(b) > 512 {
		b = b[:512]
	}
	return string(b)
}

// Package tokencount counts prompt tokens so composition can keep requests
// under the model's context budget. It wraps tiktoken-go and approximates
// non-OpenAI tokenizers with cl100k_base.
package tokencount

import (
	"strings"
	"sync"

	"log/slog"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Counter caches encodings per model. Safe for concurrent use.
type Counter struct {
	mu    sync.RWMutex
	cache map[string]*tiktoken.Tiktoken
}

func NewCounter() *Counter {
	return &Counter{cache: make(map[string]*tiktoken.Tiktoken)}
}

// DefaultCounter is a process-wide counter instance.
var DefaultCounter = NewCounter()

// CountTokens returns the token count of text under the model's encoding.
func (c *Counter) CountTokens(text, model string) (int, error) {
	enc, err := c.encodingFor(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// EstimateTokens counts tokens but never fails: encoding errors fall back
// to the rough four-characters-per-token heuristic.
func (c *Counter) EstimateTokens(text, model string) int {
	n, err := c.CountTokens(text, model)
	if err != nil {
		slog.Warn("token count failed, using estimate", slog.String("model", model), slog.Any("error", err))
		return len(text) / 4
	}
	return n
}

func (c *Counter) encodingFor(model string) (*tiktoken.Tiktoken, error) {
	key := normalizeModelName(model)

	c.mu.RLock()
	enc, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return enc, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.cache[key]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(key)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	c.cache[key] = enc
	return enc, nil
}

// normalizeModelName maps provider-prefixed model IDs onto tiktoken names.
// cl100k_base is close enough for non-OpenAI families.
func normalizeModelName(model string) string {
	model = strings.ToLower(model)
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	model = strings.TrimSuffix(model, ":free")
	switch {
	case strings.Contains(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	default:
		return "gpt-4"
	}
}

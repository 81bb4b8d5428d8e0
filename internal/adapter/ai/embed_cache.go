package ai

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
)

// embedCacheClient wraps an AIClient and caches embedding vectors by text
// hash, with TTL expiry plus a size cap (FIFO eviction). Only Embed is
// cached; ChatJSON passes through. The cache is in-process and lost on
// restart, which is fine: it is purely a cost optimization.
type embedCacheClient struct {
	base     domain.AIClient
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu  sync.RWMutex
	m   map[string]embedEntry
	ord []string
}

type embedEntry struct {
	vec       []float32
	createdAt time.Time
}

// NewEmbedCache wraps base with an embedding cache of capacity entries
// expiring after ttl. Non-positive capacity returns base unmodified.
func NewEmbedCache(base domain.AIClient, capacity int, ttl time.Duration) domain.AIClient {
	if capacity <= 0 || base == nil {
		return base
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &embedCacheClient{
		base:     base,
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		m:        make(map[string]embedEntry),
		ord:      make([]string, 0, capacity),
	}
}

func (c *embedCacheClient) Embed(ctx domain.Context, texts []string) ([][]float32, error) {
	res := make([][]float32, len(texts))
	missIdx := make([]int, 0)
	missTexts := make([]string, 0)
	for i, t := range texts {
		if v, ok := c.lookup(keyFor(t)); ok {
			res[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missIdx) > 0 {
		vecs, err := c.base.Embed(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(missTexts) {
			return nil, domain.ErrInternal
		}
		for j, idx := range missIdx {
			res[idx] = vecs[j]
			c.put(keyFor(missTexts[j]), vecs[j])
		}
	}
	return res, nil
}

func (c *embedCacheClient) ChatJSON(ctx domain.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	return c.base.ChatJSON(ctx, systemPrompt, userPrompt, maxTokens)
}

func (c *embedCacheClient) lookup(k string) ([]float32, bool) {
	c.mu.RLock()
	e, ok := c.m[k]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.createdAt) > c.ttl {
		c.mu.Lock()
		delete(c.m, k)
		for i, o := range c.ord {
			if o == k {
				c.ord = append(c.ord[:i], c.ord[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.vec, true
}

func (c *embedCacheClient) put(k string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.m[k]; exists {
		c.m[k] = embedEntry{vec: vec, createdAt: c.now()}
		return
	}
	if len(c.ord) >= c.capacity {
		old := c.ord[0]
		c.ord = c.ord[1:]
		delete(c.m, old)
	}
	c.m[k] = embedEntry{vec: vec, createdAt: c.now()}
	c.ord = append(c.ord, k)
}

func keyFor(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

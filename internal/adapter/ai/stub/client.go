// Package stub provides a fast, deterministic AI client for local runs and
// tests. No network, no keys.
package stub

import (
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
)

type Client struct{}

func New() *Client { return &Client{} }

// Embed derives a small vector from each text's hash so equal texts embed
// equally and different texts (usually) differ.
func (c *Client) Embed(_ domain.Context, texts []string) ([][]float32, error) {
	res := make([][]float32, len(texts))
	for i, t := range texts {
		sum := sha256.Sum256([]byte(t))
		vec := make([]float32, 8)
		for j := range vec {
			vec[j] = float32(sum[j])/255.0 - 0.5
		}
		res[i] = vec
	}
	return res, nil
}

// ChatJSON returns a fixed mid-band analysis matching the scoring schema.
func (c *Client) ChatJSON(_ domain.Context, _ string, _ string, _ int) (string, error) {
	// A little latency so local runs resemble real work.
	time.Sleep(50 * time.Millisecond)
	payload := map[string]any{
		"topicRelevance": map[string]any{
			"isOnTopic":      true,
			"relevanceScore": 92,
			"explanation":    "The essay addresses the topic directly.",
		},
		"rubricScores": map[string]int{
			"content":              2,
			"form":                 2,
			"grammar":              1,
			"vocabulary":           2,
			"spelling":             1,
			"developmentCoherence": 1,
			"linguisticRange":      1,
		},
		"feedback": map[string]any{
			"summary":      "A competent essay with room to grow in grammar and cohesion.",
			"strengths":    []string{"Clear position", "Relevant examples"},
			"improvements": []string{"Vary sentence openings", "Tighten paragraph transitions"},
			"perCriterion": map[string]string{"grammar": "Several agreement slips."},
		},
		"suggestions":       []string{"Review subject-verb agreement", "Use more cohesive devices"},
		"highlightedErrors": []any{},
	}
	b, _ := json.Marshal(payload)
	return string(b), nil
}

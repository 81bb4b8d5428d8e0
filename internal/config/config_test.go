package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-essay-grader/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, []string{"localhost:19092"}, cfg.KafkaBrokers)
	assert.Equal(t, "essay.score", cfg.ScoreTopic)
	assert.Equal(t, "essay.score.dlq", cfg.ScoreDLQTopic)
	assert.Equal(t, 5, cfg.RetrievalTopK)
	assert.InDelta(t, 0.70, cfg.RetrievalMinSimilarity, 1e-9)
	assert.Equal(t, 5*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 3, cfg.JobMaxDeliveries)
	assert.Equal(t, 85, cfg.PromotionScoreThreshold)
	assert.True(t, cfg.IsDev())
	assert.False(t, cfg.IsProd())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("PORT", "9999")
	t.Setenv("KAFKA_BROKERS", "broker-a:9092,broker-b:9092")
	t.Setenv("RETRIEVAL_MIN_SIMILARITY", "0.85")
	t.Setenv("JOB_TIMEOUT", "90s")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProd())
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, []string{"broker-a:9092", "broker-b:9092"}, cfg.KafkaBrokers)
	assert.InDelta(t, 0.85, cfg.RetrievalMinSimilarity, 1e-9)
	assert.Equal(t, 90*time.Second, cfg.JobTimeout)
}

func TestLoadInvalidValue(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=config.Load")
}

func TestEnvPredicates(t *testing.T) {
	cases := []struct {
		env               string
		dev, prod, testOn bool
	}{
		{"dev", true, false, false},
		{"DEV", true, false, false},
		{"prod", false, true, false},
		{"test", false, false, true},
		{"staging", false, false, false},
	}
	for _, tc := range cases {
		cfg := config.Config{AppEnv: tc.env}
		assert.Equal(t, tc.dev, cfg.IsDev(), tc.env)
		assert.Equal(t, tc.prod, cfg.IsProd(), tc.env)
		assert.Equal(t, tc.testOn, cfg.IsTest(), tc.env)
	}
}

func TestModelUsesChatEnvelope(t *testing.T) {
	cases := []struct {
		model string
		want  bool
	}{
		{"anthropic/claude-3.5-sonnet", true},
		{"openai/gpt-4o", true},
		{"openai/gpt-3.5-turbo-completion", false},
		{"legacy/davinci", false},
	}
	for _, tc := range cases {
		cfg := config.Config{ActiveModel: tc.model}
		assert.Equal(t, tc.want, cfg.ModelUsesChatEnvelope(), tc.model)
	}
}

func TestAIBackoffTestModeShortens(t *testing.T) {
	cfg := config.Config{
		AppEnv:           "test",
		AIBackoffInitial: 2 * time.Second,
		AIBackoffMax:     30 * time.Second,
		AIMaxRetries:     5,
	}
	initial, maxWait, retries := cfg.AIBackoff()
	assert.Equal(t, 10*time.Millisecond, initial)
	assert.Equal(t, 100*time.Millisecond, maxWait)
	assert.Equal(t, 5, retries)

	cfg.AppEnv = "prod"
	initial, maxWait, retries = cfg.AIBackoff()
	assert.Equal(t, 2*time.Second, initial)
	assert.Equal(t, 30*time.Second, maxWait)
	assert.Equal(t, 5, retries)
}

// Package redpanda provides the Redpanda/Kafka queue integration: the
// producer behind the submission API, the worker-pool consumer, and the
// scoring pipeline handler it drives.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/ai-essay-grader/internal/adapter/observability"
	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
)

// Producer wraps a Kafka producer and implements domain.Queue.
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer constructs a Producer and ensures the score topic exists.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if topic == "" {
		return nil, fmt.Errorf("missing score topic")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}

	if err := createTopicIfNotExists(context.Background(), client, topic, 8, 1); err != nil {
		// The topic usually exists already; creation races are harmless.
		slog.Warn("topic creation failed", slog.String("topic", topic), slog.Any("error", err))
	}

	return &Producer{client: client, topic: topic}, nil
}

// EnqueueScore publishes one scoring task, keyed by job id for ordering.
func (p *Producer) EnqueueScore(ctx domain.Context, payload domain.ScoreTaskPayload) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue_score: marshal: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(payload.JobID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "job_id", Value: []byte(payload.JobID)},
		},
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return "", fmt.Errorf("op=queue.enqueue_score: produce: %w", err)
	}

	observability.EnqueueJob("score")
	slog.Info("score task enqueued", slog.String("topic", p.topic), slog.String("job_id", payload.JobID))
	return payload.JobID, nil
}

// Close closes the underlying client.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}

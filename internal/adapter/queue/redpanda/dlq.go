package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
)

// DLQProducer publishes scoring tasks that exhausted their deliveries to
// the dead-letter topic for manual inspection.
type DLQProducer struct {
	client *kgo.Client
	topic  string
}

// NewDLQProducer constructs a DLQProducer and ensures the DLQ topic exists.
func NewDLQProducer(brokers []string, topic string) (*DLQProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if topic == "" {
		return nil, fmt.Errorf("missing DLQ topic")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda dlq client: %w", err)
	}

	if err := createTopicIfNotExists(context.Background(), client, topic, 1, 1); err != nil {
		slog.Warn("dlq topic creation failed", slog.String("topic", topic), slog.Any("error", err))
	}

	return &DLQProducer{client: client, topic: topic}, nil
}

// Publish writes the dead-lettered task with its failure reason and
// delivery count preserved in headers.
func (p *DLQProducer) Publish(ctx context.Context, payload domain.ScoreTaskPayload, reason string, deliveries int) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("op=queue.dlq_publish: marshal: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(payload.JobID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "job_id", Value: []byte(payload.JobID)},
			{Key: "failure_reason", Value: []byte(reason)},
			{Key: headerDeliveryCount, Value: []byte(strconv.Itoa(deliveries))},
		},
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("op=queue.dlq_publish: produce: %w", err)
	}

	slog.Warn("score task dead-lettered",
		slog.String("job_id", payload.JobID),
		slog.String("reason", reason),
		slog.Int("deliveries", deliveries))
	return nil
}

// Close closes the underlying client.
func (p *DLQProducer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}

package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
)

const headerDeliveryCount = "delivery_count"

// Consumer reads scoring tasks from the score topic and fans them out to
// a bounded worker pool. Delivery is at-least-once: offsets are marked
// only after a record is fully handled, and a record whose handling must
// be retried is re-enqueued with an incremented delivery count until the
// limit, after which it moves to the DLQ.
type Consumer struct {
	client  *kgo.Client
	handler *ScoringHandler
	dlq     *DLQProducer

	groupID       string
	topic         string
	concurrency   int
	maxDeliveries int

	records  chan *kgo.Record
	shutdown chan struct{}
}

// NewConsumer constructs a group consumer for the score topic.
func NewConsumer(brokers []string, groupID, topic string, handler *ScoringHandler, dlq *DLQProducer, concurrency, maxDeliveries int) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("missing consumer group id")
	}
	if handler == nil {
		return nil, fmt.Errorf("missing scoring handler")
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	if maxDeliveries <= 0 {
		maxDeliveries = 3
	}

	kotelTracer := kotel.NewTracer(
		kotel.TracerProvider(otel.GetTracerProvider()),
	)
	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotelTracer),
	)

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.WithHooks(kotelService.Hooks()...),

		kgo.DialTimeout(10 * time.Second),
		kgo.SessionTimeout(30 * time.Second),
		kgo.HeartbeatInterval(3 * time.Second),
		kgo.RebalanceTimeout(10 * time.Second),

		kgo.FetchMaxBytes(10 * 1024 * 1024),
		kgo.FetchMaxWait(5 * time.Second),

		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(1 * time.Second),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("redpanda consumer client: %w", err)
	}

	if err := createTopicIfNotExists(context.Background(), client, topic, 8, 1); err != nil {
		slog.Warn("topic creation failed", slog.String("topic", topic), slog.Any("error", err))
	}

	slog.Info("redpanda consumer created",
		slog.Any("brokers", brokers),
		slog.String("group_id", groupID),
		slog.String("topic", topic),
		slog.Int("concurrency", concurrency))

	return &Consumer{
		client:        client,
		handler:       handler,
		dlq:           dlq,
		groupID:       groupID,
		topic:         topic,
		concurrency:   concurrency,
		maxDeliveries: maxDeliveries,
		records:       make(chan *kgo.Record, concurrency*2),
		shutdown:      make(chan struct{}),
	}, nil
}

// Start runs the fetch loop and worker pool until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	slog.Info("starting redpanda consumer",
		slog.String("group_id", c.groupID),
		slog.String("topic", c.topic),
		slog.Int("workers", c.concurrency))

	for i := 0; i < c.concurrency; i++ {
		go c.worker(ctx, i)
	}
	go c.fetchLoop(ctx)

	<-ctx.Done()
	close(c.shutdown)
	slog.Info("redpanda consumer shutting down")
	return ctx.Err()
}

// Close closes the underlying client.
func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

func (c *Consumer) fetchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		default:
		}

		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			slog.Error("fetch error",
				slog.String("topic", topic),
				slog.Int("partition", int(partition)),
				slog.Any("error", err))
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			select {
			case c.records <- rec:
			case <-ctx.Done():
			}
		})
	}
}

func (c *Consumer) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case rec := <-c.records:
			c.processRecord(ctx, rec)
		}
	}
}

// processRecord handles one record and always marks it: terminal outcomes
// are done, retryable failures are re-enqueued (or dead-lettered) before
// the mark so nothing is lost.
func (c *Consumer) processRecord(ctx context.Context, rec *kgo.Record) {
	defer c.client.MarkCommitRecords(rec)

	var payload domain.ScoreTaskPayload
	if err := json.Unmarshal(rec.Value, &payload); err != nil {
		slog.Error("undecodable score task, dead-lettering",
			slog.String("topic", rec.Topic),
			slog.Any("error", err))
		c.deadLetter(ctx, domain.ScoreTaskPayload{JobID: string(rec.Key)}, "undecodable payload: "+err.Error(), deliveryCount(rec))
		return
	}

	err := c.handler.Handle(ctx, payload)
	if err == nil {
		return
	}

	deliveries := deliveryCount(rec)
	if deliveries >= c.maxDeliveries {
		slog.Error("delivery limit reached, dead-lettering",
			slog.String("job_id", payload.JobID),
			slog.Int("deliveries", deliveries),
			slog.Any("error", err))
		c.deadLetter(ctx, payload, err.Error(), deliveries)
		return
	}

	c.redeliver(ctx, payload, deliveries+1)
}

// redeliver re-enqueues the task on the score topic with an incremented
// delivery count.
func (c *Consumer) redeliver(ctx context.Context, payload domain.ScoreTaskPayload, deliveries int) {
	b, err := json.Marshal(payload)
	if err != nil {
		slog.Error("redelivery marshal failed", slog.String("job_id", payload.JobID), slog.Any("error", err))
		return
	}
	record := &kgo.Record{
		Topic: c.topic,
		Key:   []byte(payload.JobID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "job_id", Value: []byte(payload.JobID)},
			{Key: headerDeliveryCount, Value: []byte(strconv.Itoa(deliveries))},
		},
	}
	if perr := c.client.ProduceSync(ctx, record).FirstErr(); perr != nil {
		slog.Error("redelivery produce failed, dead-lettering",
			slog.String("job_id", payload.JobID), slog.Any("error", perr))
		c.deadLetter(ctx, payload, perr.Error(), deliveries)
		return
	}
	slog.Warn("score task re-enqueued",
		slog.String("job_id", payload.JobID),
		slog.Int("delivery", deliveries))
}

func (c *Consumer) deadLetter(ctx context.Context, payload domain.ScoreTaskPayload, reason string, deliveries int) {
	if c.dlq == nil {
		slog.Error("no DLQ configured, dropping task", slog.String("job_id", payload.JobID), slog.String("reason", reason))
		return
	}
	if err := c.dlq.Publish(ctx, payload, reason, deliveries); err != nil {
		slog.Error("dlq publish failed", slog.String("job_id", payload.JobID), slog.Any("error", err))
	}
}

// deliveryCount reads the delivery counter header; a record without one
// is on its first delivery.
func deliveryCount(rec *kgo.Record) int {
	for _, h := range rec.Headers {
		if h.Key == headerDeliveryCount {
			if n, err := strconv.Atoi(string(h.Value)); err == nil && n > 0 {
				return n
			}
		}
	}
	return 1
}

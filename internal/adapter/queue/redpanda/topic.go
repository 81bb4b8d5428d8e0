package redpanda

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// kafkaErrTopicAlreadyExists is Kafka protocol error code 36.
const kafkaErrTopicAlreadyExists = 36

// createTopicIfNotExists creates a topic through the Kafka admin API,
// treating "already exists" as success.
func createTopicIfNotExists(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	if topic == "" {
		return fmt.Errorf("topic name cannot be empty")
	}
	if partitions <= 0 || replicationFactor <= 0 {
		return fmt.Errorf("invalid partitions or replication factor")
	}

	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30_000

	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = partitions
	topicReq.ReplicationFactor = replicationFactor
	req.Topics = append(req.Topics, topicReq)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("create topics request: %w", err)
	}
	createResp, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("unexpected response type: %T", resp)
	}

	for _, tr := range createResp.Topics {
		if tr.ErrorCode == 0 {
			slog.Info("topic created", slog.String("topic", tr.Topic), slog.Int("partitions", int(partitions)))
			continue
		}
		if tr.ErrorCode == kafkaErrTopicAlreadyExists {
			slog.Debug("topic already exists", slog.String("topic", tr.Topic))
			continue
		}
		msg := ""
		if tr.ErrorMessage != nil {
			msg = *tr.ErrorMessage
		}
		return fmt.Errorf("create topic %s: %s (code %d)", tr.Topic, msg, tr.ErrorCode)
	}
	return nil
}

// Package broker reads consumption checkpoints from the Kafka side of the
// pipeline. The latency harness uses them to split end-to-end lag into
// broker-consumption and target-apply portions; the inspect command reports
// them directly.
package broker

import (
	"context"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/rotisserie/eris"
)

// TopicLag is the consumption state of one topic: how far the connector has
// produced and how far the sink's consumer group has committed.
type TopicLag struct {
	Topic      string `json:"topic"`
	Partitions int    `json:"partitions"`
	Produced   int64  `json:"produced"`
	Committed  int64  `json:"committed"`
	Lag        int64  `json:"lag"`
}

// Checkpoint queries offsets for the CDC topics of one broker cluster.
type Checkpoint struct {
	client  *kafka.Client
	groupID string
}

// New creates a checkpoint reader. groupID is the sink connector's consumer
// group; leave it empty when only produced offsets are needed.
func New(brokers []string, groupID string, timeout time.Duration) *Checkpoint {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Checkpoint{
		client: &kafka.Client{
			Addr:    kafka.TCP(brokers...),
			Timeout: timeout,
		},
		groupID: groupID,
	}
}

// Lag returns the produced/committed offsets and their difference for topic,
// summed across partitions.
func (c *Checkpoint) Lag(ctx context.Context, topic string) (TopicLag, error) {
	parts, err := c.partitions(ctx, topic)
	if err != nil {
		return TopicLag{}, err
	}

	produced, err := c.lastProduced(ctx, topic, parts)
	if err != nil {
		return TopicLag{}, err
	}

	lag := TopicLag{
		Topic:      topic,
		Partitions: len(parts),
		Produced:   produced,
	}

	if c.groupID != "" {
		committed, err := c.committed(ctx, topic, parts)
		if err != nil {
			return TopicLag{}, err
		}
		lag.Committed = committed
		lag.Lag = clampLag(produced, committed)
	}
	return lag, nil
}

func (c *Checkpoint) partitions(ctx context.Context, topic string) ([]int, error) {
	resp, err := c.client.Metadata(ctx, &kafka.MetadataRequest{
		Topics: []string{topic},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "broker: metadata for %s", topic)
	}
	for _, t := range resp.Topics {
		if t.Name != topic {
			continue
		}
		if t.Error != nil {
			return nil, eris.Wrapf(t.Error, "broker: topic %s", topic)
		}
		parts := make([]int, len(t.Partitions))
		for i, p := range t.Partitions {
			parts[i] = p.ID
		}
		return parts, nil
	}
	return nil, eris.Errorf("broker: topic %s not found", topic)
}

func (c *Checkpoint) lastProduced(ctx context.Context, topic string, parts []int) (int64, error) {
	reqs := make([]kafka.OffsetRequest, len(parts))
	for i, p := range parts {
		reqs[i] = kafka.LastOffsetOf(p)
	}
	resp, err := c.client.ListOffsets(ctx, &kafka.ListOffsetsRequest{
		Topics: map[string][]kafka.OffsetRequest{topic: reqs},
	})
	if err != nil {
		return 0, eris.Wrapf(err, "broker: list offsets for %s", topic)
	}

	var total int64
	for _, po := range resp.Topics[topic] {
		if po.Error != nil {
			return 0, eris.Wrapf(po.Error, "broker: partition %d of %s", po.Partition, topic)
		}
		total += po.LastOffset
	}
	return total, nil
}

func (c *Checkpoint) committed(ctx context.Context, topic string, parts []int) (int64, error) {
	resp, err := c.client.OffsetFetch(ctx, &kafka.OffsetFetchRequest{
		GroupID: c.groupID,
		Topics:  map[string][]int{topic: parts},
	})
	if err != nil {
		return 0, eris.Wrapf(err, "broker: offset fetch for group %s", c.groupID)
	}

	var total int64
	for _, p := range resp.Topics[topic] {
		if p.Error != nil {
			return 0, eris.Wrapf(p.Error, "broker: committed offset for partition %d of %s", p.Partition, topic)
		}
		if p.CommittedOffset > 0 {
			total += p.CommittedOffset
		}
	}
	return total, nil
}

// clampLag keeps reported lag non-negative; committed offsets can briefly
// lead the produced snapshot because the two reads are not atomic.
func clampLag(produced, committed int64) int64 {
	if committed > produced {
		return 0
	}
	return produced - committed
}

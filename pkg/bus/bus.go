// Package bus wraps confluent-kafka-go for the two roles the pipeline
// needs: an ingestion consumer (C4) with manual offset commit, and an
// idempotent producer used by the MessageBus storage destination (C5).
// Grounded on the teacher's Kafka producer/consumer setup in
// services/siem-integration-gateway/main.go.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

// ConsumerConfig configures the ingestion consumer.
type ConsumerConfig struct {
	Brokers           string
	GroupID           string
	Topic             string
	SessionTimeoutMs  int
	AutoOffsetReset   string
}

// Consumer wraps *kafka.Consumer with manual commit, matching C4's
// "commit the message's offset only after durable accept" contract.
type Consumer struct {
	c     *kafka.Consumer
	topic string
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.SessionTimeoutMs == 0 {
		cfg.SessionTimeoutMs = 10000
	}
	if cfg.AutoOffsetReset == "" {
		cfg.AutoOffsetReset = "earliest"
	}
	kc, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       cfg.Brokers,
		"group.id":                cfg.GroupID,
		"session.timeout.ms":      cfg.SessionTimeoutMs,
		"auto.offset.reset":       cfg.AutoOffsetReset,
		"enable.auto.commit":      false,
		"enable.auto.offset.store": false,
	})
	if err != nil {
		return nil, fmt.Errorf("bus: create consumer: %w", err)
	}
	if err := kc.Subscribe(cfg.Topic, nil); err != nil {
		return nil, fmt.Errorf("bus: subscribe to %q: %w", cfg.Topic, err)
	}
	return &Consumer{c: kc, topic: cfg.Topic}, nil
}

// Message is the subset of kafka.Message the ingestion worker consumes.
type Message struct {
	Value     []byte
	Partition int32
	Offset    int64
}

// Poll reads the next message with the given timeout; a nil message with a
// nil error means the timeout elapsed without a message (bus error: the
// caller logs and continues per spec §4.1's failure semantics).
func (c *Consumer) Poll(timeout time.Duration) (*Message, error) {
	ev := c.c.Poll(int(timeout.Milliseconds()))
	if ev == nil {
		return nil, nil
	}
	switch e := ev.(type) {
	case *kafka.Message:
		return &Message{
			Value:     e.Value,
			Partition: e.TopicPartition.Partition,
			Offset:    int64(e.TopicPartition.Offset),
		}, nil
	case kafka.Error:
		return nil, fmt.Errorf("bus: consumer error: %w", e)
	default:
		return nil, nil
	}
}

// CommitOffset commits a message's offset+1, per Kafka convention.
func (c *Consumer) CommitOffset(m *Message) error {
	tp := kafka.TopicPartition{
		Topic:     &c.topic,
		Partition: m.Partition,
		Offset:    kafka.Offset(m.Offset + 1),
	}
	_, err := c.c.CommitOffsets([]kafka.TopicPartition{tp})
	if err != nil {
		return fmt.Errorf("bus: commit offset: %w", err)
	}
	return nil
}

func (c *Consumer) Close() error { return c.c.Close() }

// Producer wraps *kafka.Producer configured for idempotence (spec §4.4:
// "idempotent producer (producer idempotence on, acks=all, infinite
// retries, compressed batches)").
type Producer struct {
	p     *kafka.Producer
	topic string
}

func NewProducer(brokers, topic string) (*Producer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"enable.idempotence": true,
		"acks":               "all",
		"retries":            2147483647,
		"compression.type":   "lz4",
	})
	if err != nil {
		return nil, fmt.Errorf("bus: create producer: %w", err)
	}
	return &Producer{p: p, topic: topic}, nil
}

func (p *Producer) Produce(ctx context.Context, key, value []byte) error {
	deliveryChan := make(chan kafka.Event, 1)
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            key,
		Value:          value,
	}
	if err := p.p.Produce(msg, deliveryChan); err != nil {
		return fmt.Errorf("bus: produce: %w", err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev := <-deliveryChan:
		m := ev.(*kafka.Message)
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("bus: delivery failed: %w", m.TopicPartition.Error)
		}
		return nil
	}
}

func (p *Producer) Close() { p.p.Close() }

// FetchMetadataHealth implements C8's Kafka health probe: fetch_metadata
// with a timeout.
func (p *Producer) FetchMetadataHealth(timeout time.Duration) error {
	_, err := p.p.GetMetadata(nil, false, int(timeout.Milliseconds()))
	if err != nil {
		return fmt.Errorf("bus: metadata fetch failed: %w", err)
	}
	return nil
}

package storage

import (
	"context"
	"fmt"

	"github.com/iff-guardian/siem-platform/internal/event"
	"github.com/iff-guardian/siem-platform/pkg/bus"
)

// MessageBusDestination republishes enriched events onto a downstream
// Kafka topic via an idempotent producer (spec §4.4).
type MessageBusDestination struct {
	producer *bus.Producer
}

func NewMessageBusDestination(producer *bus.Producer) *MessageBusDestination {
	return &MessageBusDestination{producer: producer}
}

func (m *MessageBusDestination) Name() string { return "MessageBus" }

func (m *MessageBusDestination) Store(ctx context.Context, e *event.Event) (int, error) {
	row, err := e.MarshalRow()
	if err != nil {
		return 0, fmt.Errorf("messagebus: marshal: %w", err)
	}
	if err := m.producer.Produce(ctx, []byte(e.EventID), row); err != nil {
		return 0, fmt.Errorf("messagebus: produce: %w", err)
	}
	return len(row), nil
}

func (m *MessageBusDestination) Close() error {
	m.producer.Close()
	return nil
}

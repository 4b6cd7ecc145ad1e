package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/iff-guardian/siem-platform/internal/event"
	"github.com/iff-guardian/siem-platform/pkg/kv"
)

// KVStreamDestination writes a JSON blob under {tenant}:{source}:{id} with
// an optional TTL, and appends to a ring-trimmed per-source stream
// (spec §4.4).
type KVStreamDestination struct {
	client       *kv.Client
	ttl          time.Duration
	streamMaxLen int64
}

func NewKVStreamDestination(client *kv.Client, ttl time.Duration, streamMaxLen int64) *KVStreamDestination {
	if streamMaxLen <= 0 {
		streamMaxLen = 1000
	}
	return &KVStreamDestination{client: client, ttl: ttl, streamMaxLen: streamMaxLen}
}

func (k *KVStreamDestination) Name() string { return "KVStream" }

func (k *KVStreamDestination) Store(ctx context.Context, e *event.Event) (int, error) {
	row, err := e.MarshalRow()
	if err != nil {
		return 0, fmt.Errorf("kvstream: marshal: %w", err)
	}
	key := fmt.Sprintf("%s:%s:%s", e.TenantID, e.SourceType, e.EventID)
	if err := k.client.SetWithExpiry(ctx, key, row, k.ttl); err != nil {
		return 0, fmt.Errorf("kvstream: set: %w", err)
	}
	streamKey := fmt.Sprintf("stream:%s:%s", e.TenantID, e.SourceType)
	if err := k.client.AppendStream(ctx, streamKey, row, k.streamMaxLen); err != nil {
		return 0, fmt.Errorf("kvstream: append stream: %w", err)
	}
	return len(row), nil
}

func (k *KVStreamDestination) Close() error { return nil }

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/iff-guardian/siem-platform/internal/event"
	"github.com/iff-guardian/siem-platform/pkg/blobstore"
)

// BlobDestination puts one object per event under the prefix/time-bucket
// layout of spec §4.4.
type BlobDestination struct {
	client *blobstore.Client
	prefix string
}

func NewBlobDestination(client *blobstore.Client, prefix string) *BlobDestination {
	return &BlobDestination{client: client, prefix: prefix}
}

func (b *BlobDestination) Name() string { return "BlobStore" }

func (b *BlobDestination) Store(ctx context.Context, e *event.Event) (int, error) {
	row, err := e.MarshalRow()
	if err != nil {
		return 0, fmt.Errorf("blobstore: marshal: %w", err)
	}
	ts := time.Unix(int64(e.EventTimestamp), 0).UTC()
	key := blobstore.Key(b.prefix, e.EventID, ts)
	if err := b.client.PutObject(ctx, key, row); err != nil {
		return 0, fmt.Errorf("blobstore: put: %w", err)
	}
	return len(row), nil
}

func (b *BlobDestination) Close() error { return nil }

package storage

import (
	"context"
	"fmt"

	"github.com/iff-guardian/siem-platform/internal/event"
	"github.com/iff-guardian/siem-platform/pkg/chclient"
)

// ColumnarDestination is the primary analytic store backend (spec §4.4).
type ColumnarDestination struct {
	client *chclient.Client
	table  string
}

func NewColumnarDestination(client *chclient.Client, table string) (*ColumnarDestination, error) {
	if err := chclient.ValidateTableName(table); err != nil {
		return nil, fmt.Errorf("columnar destination: %w", err)
	}
	return &ColumnarDestination{client: client, table: table}, nil
}

func (c *ColumnarDestination) Name() string { return "ColumnarStore" }

func (c *ColumnarDestination) Store(ctx context.Context, e *event.Event) (int, error) {
	row, err := e.MarshalRow()
	if err != nil {
		return 0, fmt.Errorf("columnar: marshal row: %w", err)
	}
	if err := c.client.InsertRows(ctx, c.table, [][]byte{row}); err != nil {
		return 0, fmt.Errorf("columnar: insert: %w", err)
	}
	return len(row), nil
}

func (c *ColumnarDestination) StoreBatch(ctx context.Context, events []*event.Event) (int, error) {
	rows := make([][]byte, 0, len(events))
	total := 0
	for _, e := range events {
		row, err := e.MarshalRow()
		if err != nil {
			return 0, fmt.Errorf("columnar: marshal row for event %s: %w", e.EventID, err)
		}
		rows = append(rows, row)
		total += len(row)
	}
	if err := c.client.InsertRows(ctx, c.table, rows); err != nil {
		return 0, fmt.Errorf("columnar: batch insert: %w", err)
	}
	return total, nil
}

func (c *ColumnarDestination) Close() error { return nil }

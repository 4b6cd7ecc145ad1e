package rulepack

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iff-guardian/siem-platform/pkg/kv"
)

// idempotencyTTL bounds how long a cached apply/rollback result can be
// replayed for a repeated Idempotency-Key.
const idempotencyTTL = 24 * time.Hour

// idempotencyCache stores the result of one apply/rollback keyed by
// tenant+key, so a retried request with the same Idempotency-Key header
// replays the original outcome instead of re-applying (spec §4.8 step 3).
type idempotencyCache struct {
	client *kv.Client
}

func newIdempotencyCache(client *kv.Client) *idempotencyCache {
	return &idempotencyCache{client: client}
}

func idempotencyKeyFor(scope, tenantID, key string) string {
	return fmt.Sprintf("siem:idempotency:%s:%s:%s", scope, tenantID, key)
}

func (c *idempotencyCache) get(ctx context.Context, scope, tenantID, key string, out any) (bool, error) {
	raw, err := c.client.Get(ctx, idempotencyKeyFor(scope, tenantID, key))
	if err == kv.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("rulepack: idempotency get: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("rulepack: idempotency decode: %w", err)
	}
	return true, nil
}

func (c *idempotencyCache) put(ctx context.Context, scope, tenantID, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("rulepack: idempotency encode: %w", err)
	}
	if err := c.client.SetWithExpiry(ctx, idempotencyKeyFor(scope, tenantID, key), raw, idempotencyTTL); err != nil {
		return fmt.Errorf("rulepack: idempotency put: %w", err)
	}
	return nil
}

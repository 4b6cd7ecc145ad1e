package blobstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKey_Layout(t *testing.T) {
	ts := time.Date(2026, time.July, 29, 14, 0, 0, 0, time.UTC)
	k := Key("events", "evt-123", ts)
	assert.Equal(t, "events/2026/07/29/14/evt-123.json", k)
}

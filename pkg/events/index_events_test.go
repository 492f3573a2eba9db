package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewIndexRebuiltEvent(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	e := NewIndexRebuiltEvent(7, []string{"a.txt"}, 12, at)

	assert.Equal(t, TypeIndexRebuilt, e.EventType())
	assert.Equal(t, at, e.Timestamp())
	assert.Equal(t, int64(7), e.Payload()["version"])
	assert.Equal(t, 12, e.Payload()["chunks"])
	assert.Equal(t, "2025-01-02T03:04:05Z", e.Payload()["occurred_at"])
}

package events

import "time"

const (
	TypeIndexRebuilt = "INDEX_REBUILT"
	TypeIndexReset   = "INDEX_RESET"
)

func NewIndexRebuiltEvent(version int64, sources []string, chunks int, at time.Time) Event {
	return BaseEvent{
		Type: TypeIndexRebuilt,
		Data: map[string]interface{}{
			"version":     version,
			"sources":     sources,
			"chunks":      chunks,
			"occurred_at": at.UTC().Format(time.RFC3339),
		},
		OccurredAt: at,
	}
}

func NewIndexResetEvent(at time.Time) Event {
	return BaseEvent{
		Type: TypeIndexReset,
		Data: map[string]interface{}{
			"occurred_at": at.UTC().Format(time.RFC3339),
		},
		OccurredAt: at,
	}
}

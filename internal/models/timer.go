package models

import (
	"encoding/json"
	"time"
)

// Timer is a persisted, deferred, single-fire scheduled event. All timers
// live in the store; at most one is ever loaded into memory at a time.
type Timer struct {
	ID      string
	Event   string
	Extra   json.RawMessage
	Expires time.Time
	Created time.Time
	Owner   int64
}

func (t Timer) Map() map[string]any {
	extra := t.Extra
	if extra == nil {
		extra = json.RawMessage("{}")
	}

	return map[string]any{
		"id":      t.ID,
		"event":   t.Event,
		"extra":   string(extra),
		"expires": t.Expires,
		"created": t.Created,
		"owner":   t.Owner,
	}
}

func (t Timer) Table() Table {
	return TableTimers
}

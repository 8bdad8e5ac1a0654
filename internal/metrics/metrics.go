// Package metrics holds the process-wide usage tallies. Counters reset on
// restart; nothing here is persisted.
package metrics

import "sync/atomic"

type Metrics struct {
	CommandUsage       atomic.Int64
	CustomCommandUsage atomic.Int64
}

func New() *Metrics {
	return &Metrics{}
}

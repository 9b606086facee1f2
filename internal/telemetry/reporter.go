// Package telemetry collects Node statistics into a bounded history each
// time Collect is called, independent of how those stats are exported
// (metrics, logs, a future API).
package telemetry

import (
	"log/slog"
	"sync"
	"time"
)

// Snapshot holds a point-in-time view of node telemetry.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	NodeID            string `json:"node_id"`
	LocalPublishers   int    `json:"local_publishers"`
	LocalSubscribers  int    `json:"local_subscribers"`
	RemoteSubscribers int    `json:"remote_subscribers"`
	UptimeSec         float64 `json:"uptime_sec"`
}

// StatsSource provides Node statistics. internal/node.Node satisfies this.
type StatsSource interface {
	Stats() map[string]any
}

// Reporter collects Snapshots on demand and retains a bounded history.
type Reporter struct {
	mu      sync.RWMutex
	source  StatsSource
	latest  *Snapshot
	history []Snapshot
	maxHist int
	started time.Time
	logger  *slog.Logger
}

// NewReporter creates a Reporter over source, retaining up to maxHist
// historical snapshots (0 defaults to 60, matching the teacher's reporter).
func NewReporter(source StatsSource, maxHist int) *Reporter {
	if maxHist <= 0 {
		maxHist = 60
	}
	return &Reporter{
		source:  source,
		history: make([]Snapshot, 0, maxHist),
		maxHist: maxHist,
		started: time.Now(),
		logger:  slog.Default().With("component", "telemetry"),
	}
}

// Collect gathers a fresh Snapshot, records it in history, and returns it.
func (r *Reporter) Collect() Snapshot {
	s := Snapshot{
		Timestamp: time.Now(),
		UptimeSec: time.Since(r.started).Seconds(),
	}

	if r.source != nil {
		stats := r.source.Stats()
		if v, ok := stats["node_id"].(string); ok {
			s.NodeID = v
		}
		if v, ok := stats["local_publishers"].(int); ok {
			s.LocalPublishers = v
		}
		if v, ok := stats["local_subscribers"].(int); ok {
			s.LocalSubscribers = v
		}
		if v, ok := stats["remote_subscribers"].(int); ok {
			s.RemoteSubscribers = v
		}
	}

	r.mu.Lock()
	r.latest = &s
	if len(r.history) >= r.maxHist {
		r.history = r.history[1:]
	}
	r.history = append(r.history, s)
	r.mu.Unlock()

	return s
}

// Latest returns the most recently collected Snapshot, or nil if Collect
// has never been called.
func (r *Reporter) Latest() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.latest == nil {
		return nil
	}
	s := *r.latest
	return &s
}

// History returns a copy of the retained Snapshot history, oldest first.
func (r *Reporter) History() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Snapshot, len(r.history))
	copy(result, r.history)
	return result
}

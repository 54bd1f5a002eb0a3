// CLAUDE:SUMMARY Concurrency-safe recorder of per-type action counts, a bounded action log and the latest fetch status, exposed as deep-copied snapshots.
// Package analytics records what the pipeline applied and how the last
// configuration fetch went. The Recorder is owned by the orchestrator;
// consumers only ever see Snapshot copies.
package analytics

import (
	"maps"
	"sync"
	"time"

	"github.com/hazyhaar/visionbridge/idgen"
	"github.com/hazyhaar/visionbridge/rule"
)

// LogCapacity bounds the action log. Older entries are evicted first.
const LogCapacity = 100

// LogEntry is one applied action.
type LogEntry struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id,omitempty"`
	Generation uint64    `json:"generation,omitempty"`
	Type       rule.Kind `json:"type"`
	Selector   string    `json:"selector,omitempty"`
	Time       time.Time `json:"time"`
}

// FetchStatus describes the most recent load.
type FetchStatus struct {
	Success        bool      `json:"success"`
	Attempt        int       `json:"attempt"`
	SourceCount    int       `json:"source_count"`
	SelectedConfig string    `json:"selected_config,omitempty"`
	PageType       string    `json:"page_type,omitempty"`
	Error          string    `json:"error,omitempty"`
	FromCache      bool      `json:"from_cache"`
	Time           time.Time `json:"time"`
}

// Snapshot is a read-only copy of the recorder state.
type Snapshot struct {
	Counts      map[rule.Kind]int       `json:"counts"`
	LastApplied map[rule.Kind]time.Time `json:"last_applied"`
	Logs        []LogEntry              `json:"logs"`
	LastFetch   *FetchStatus            `json:"last_fetch,omitempty"`
}

// Recorder accumulates analytics. Safe for concurrent use.
type Recorder struct {
	mu          sync.Mutex
	counts      map[rule.Kind]int
	lastApplied map[rule.Kind]time.Time
	logs        []LogEntry
	lastFetch   *FetchStatus

	newID idgen.Generator
	now   func() time.Time
}

// New creates an empty Recorder.
func New() *Recorder {
	return &Recorder{
		counts:      make(map[rule.Kind]int),
		lastApplied: make(map[rule.Kind]time.Time),
		newID:       idgen.Prefixed("log_", idgen.Default),
		now:         time.Now,
	}
}

// RecordAction counts one applied action and appends it to the log.
func (r *Recorder) RecordAction(runID string, generation uint64, a rule.Action) LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	e := LogEntry{
		ID:         r.newID(),
		RunID:      runID,
		Generation: generation,
		Type:       a.Type,
		Selector:   a.Describe(),
		Time:       now,
	}
	r.counts[a.Type]++
	r.lastApplied[a.Type] = now
	r.logs = append(r.logs, e)
	if over := len(r.logs) - LogCapacity; over > 0 {
		r.logs = append(r.logs[:0:0], r.logs[over:]...)
	}
	return e
}

// RecordFetch replaces the fetch status. A zero Time is stamped with now.
func (r *Recorder) RecordFetch(st FetchStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st.Time.IsZero() {
		st.Time = r.now()
	}
	r.lastFetch = &st
}

// Snapshot returns a deep copy of the current state.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		Counts:      maps.Clone(r.counts),
		LastApplied: maps.Clone(r.lastApplied),
		Logs:        append([]LogEntry(nil), r.logs...),
	}
	if r.lastFetch != nil {
		f := *r.lastFetch
		s.LastFetch = &f
	}
	return s
}

// Reset clears all state.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.counts)
	clear(r.lastApplied)
	r.logs = nil
	r.lastFetch = nil
}

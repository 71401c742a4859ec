// Package eventlog records dual-clock experiment events and persists them
// as CSV. Every event carries a monotonic timestamp (nanoseconds since the
// log was created) for ordering and interval arithmetic, plus an advisory
// wall-clock timestamp for human correlation.
package eventlog

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/replay.bench/internal/fsutil"
	"github.com/banshee-data/replay.bench/internal/timeutil"
)

// Event is one immutable timestamped record. ReplayID, Phase and Extra are
// optional and render as empty CSV fields when unset.
type Event struct {
	Name        string
	MonotonicNS int64
	WallNS      int64
	ReplayID    string
	Phase       string
	Extra       string
}

// Option sets an optional field on an event being recorded.
type Option func(*Event)

// WithReplay tags the event with a replay id.
func WithReplay(id string) Option {
	return func(e *Event) { e.ReplayID = id }
}

// WithPhase tags the event with a lifecycle phase.
func WithPhase(phase string) Option {
	return func(e *Event) { e.Phase = phase }
}

// WithExtra attaches free-form extra information.
func WithExtra(extra string) Option {
	return func(e *Event) { e.Extra = extra }
}

// Log is an append-only in-memory event log. Events are appended in
// observation order; MonotonicNS is non-decreasing across the log because
// all stamps come from a single monotonic origin captured at creation.
type Log struct {
	mu     sync.Mutex
	clock  timeutil.Clock
	origin time.Time
	runID  string
	events []Event
	store  *Store
}

// New creates an empty log stamped against clock. The monotonic origin is
// the moment of creation, so the first event records a small positive
// MonotonicNS.
func New(clock timeutil.Clock) *Log {
	return &Log{
		clock:  clock,
		origin: clock.Now(),
		runID:  uuid.New().String(),
	}
}

// RunID returns the identifier minted for this log's run.
func (l *Log) RunID() string {
	return l.runID
}

// AttachStore mirrors every subsequently recorded event into s. Mirror
// failures are logged and do not affect the in-memory log.
func (l *Log) AttachStore(s *Store) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.store = s

	if err := s.BeginRun(l.runID, l.clock.Now().UnixNano()); err != nil {
		log.Printf("eventlog: failed to register run %s in store: %v", l.runID, err)
	}
}

// Record appends one event stamped at call time. It never fails: clock
// reads are a startup precondition, not a per-call error source. Safe
// for concurrent use; the mirror receives events in append order.
func (l *Log) Record(name string, opts ...Option) {
	e := Event{
		Name:        name,
		MonotonicNS: l.clock.Since(l.origin).Nanoseconds(),
		WallNS:      l.clock.Now().UnixNano(),
	}
	for _, opt := range opts {
		opt(&e)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)

	// Mirrored under the lock so the store's insertion order matches the
	// in-memory append order.
	if l.store != nil {
		if err := l.store.AppendEvent(l.runID, e); err != nil {
			log.Printf("eventlog: failed to mirror event %q: %v", name, err)
		}
	}
}

// Events returns a snapshot of the recorded events in append order.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	result := make([]Event, len(l.events))
	copy(result, l.events)
	return result
}

// Len returns the number of recorded events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// csvHeader is the fixed column layout of the persisted log.
var csvHeader = []string{"event", "t_ns", "t_wall", "replay_id", "phase", "extra"}

// Persist writes the full log to path as CSV: the header row followed by
// one row per event in append order. The CSV is the experiment's primary
// output; a write failure here is fatal to the run. Note the log is only
// written once, at the end of the run — a crash before Persist loses the
// CSV (the sqlite mirror, when attached, retains per-event copies).
func (l *Log) Persist(fsys fsutil.FileSystem, path string) error {
	l.mu.Lock()
	events := make([]Event, len(l.events))
	copy(events, l.events)
	l.mu.Unlock()

	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create event log %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return fmt.Errorf("failed to write event log header: %w", err)
	}
	for _, e := range events {
		row := []string{
			e.Name,
			strconv.FormatInt(e.MonotonicNS, 10),
			strconv.FormatInt(e.WallNS, 10),
			e.ReplayID,
			e.Phase,
			e.Extra,
		}
		if err := w.Write(row); err != nil {
			f.Close()
			return fmt.Errorf("failed to write event %q: %w", e.Name, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush event log: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close event log %s: %w", path, err)
	}
	return nil
}

// ReadCSV loads a persisted event log. Analysis tools use this to merge
// the log with capture-side data.
func ReadCSV(fsys fsutil.FileSystem, path string) ([]Event, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read event log %s: %w", path, err)
	}

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse event log %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("event log %s is empty (missing header)", path)
	}
	if got, want := len(rows[0]), len(csvHeader); got != want {
		return nil, fmt.Errorf("event log %s has %d columns, want %d", path, got, want)
	}

	events := make([]Event, 0, len(rows)-1)
	for i, row := range rows[1:] {
		mono, err := strconv.ParseInt(row[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad t_ns %q: %w", i+1, row[1], err)
		}
		wall, err := strconv.ParseInt(row[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad t_wall %q: %w", i+1, row[2], err)
		}
		events = append(events, Event{
			Name:        row[0],
			MonotonicNS: mono,
			WallNS:      wall,
			ReplayID:    row[3],
			Phase:       row[4],
			Extra:       row[5],
		})
	}
	return events, nil
}

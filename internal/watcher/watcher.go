// Package watcher tracks one replay's lifecycle through the busy-flag
// file the external capture-replay tool maintains. The flag appearing
// marks the actual replay start, its removal marks the end; the watcher
// converts those two edges into beacons and log events so the replay
// window can be located inside the packet capture.
package watcher

import (
	"fmt"
	"log"
	"time"

	"github.com/banshee-data/replay.bench/internal/beacon"
	"github.com/banshee-data/replay.bench/internal/eventlog"
	"github.com/banshee-data/replay.bench/internal/fsutil"
	"github.com/banshee-data/replay.bench/internal/timeutil"
)

// State is the watcher's position in a watch cycle.
type State int

const (
	// WaitingForStart polls for the flag to appear.
	WaitingForStart State = iota
	// Active means the rising edge was observed and marked.
	Active
	// WaitingForEnd polls for the flag to disappear.
	WaitingForEnd
	// Done means the falling edge was observed and marked.
	Done
	// TimedOut means the flag never appeared within the start timeout.
	TimedOut
)

func (s State) String() string {
	switch s {
	case WaitingForStart:
		return "waiting_for_start"
	case Active:
		return "active"
	case WaitingForEnd:
		return "waiting_for_end"
	case Done:
		return "done"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Default polling parameters, matching the external tool's observed
// flag-transition jitter.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultStartTimeout = 60 * time.Second
)

// TimeoutError reports that the busy-flag never appeared for a replay.
type TimeoutError struct {
	ReplayID string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("busy-flag did not appear within %v for replay %s", e.Timeout, e.ReplayID)
}

// BeaconSender is the subset of the beacon emitter the watcher needs.
type BeaconSender interface {
	Emit(phase, replayID string) error
}

// Watcher observes the busy-flag through an injected clock and
// filesystem, so tests can script edge transitions without real files or
// sleeps. A Watcher is reusable: each Watch call is one full cycle.
type Watcher struct {
	clock    timeutil.Clock
	fs       fsutil.FileSystem
	beacons  BeaconSender
	events   *eventlog.Log
	flagPath string

	// PollInterval is the delay between existence checks.
	PollInterval time.Duration

	// StartTimeout bounds how long the flag may take to appear. There is
	// deliberately no timeout on the flag clearing: replay duration is
	// whatever the external tool takes.
	StartTimeout time.Duration

	state State
}

// New creates a watcher over the busy-flag at flagPath with default
// polling parameters.
func New(clock timeutil.Clock, fs fsutil.FileSystem, beacons BeaconSender, events *eventlog.Log, flagPath string) *Watcher {
	return &Watcher{
		clock:        clock,
		fs:           fs,
		beacons:      beacons,
		events:       events,
		flagPath:     flagPath,
		PollInterval: DefaultPollInterval,
		StartTimeout: DefaultStartTimeout,
	}
}

// State returns the state reached by the most recent Watch call.
func (w *Watcher) State() State {
	return w.state
}

// Watch runs one lifecycle cycle for replayID: wait for the flag to
// appear (bounded by StartTimeout), mark the rising edge, wait for it to
// disappear, mark the falling edge. Exactly one start pair and one end
// pair of beacon+event are produced on success; none on timeout.
//
// A flag already present on entry counts as the rising edge: the external
// tool sometimes creates the flag before the replay command returns, and
// requiring an observed absence first would miss those replays.
func (w *Watcher) Watch(replayID string) error {
	w.state = WaitingForStart
	waitStart := w.clock.Now()

	for !w.fs.Exists(w.flagPath) {
		if w.clock.Since(waitStart) > w.StartTimeout {
			w.state = TimedOut
			return &TimeoutError{ReplayID: replayID, Timeout: w.StartTimeout}
		}
		w.clock.Sleep(w.PollInterval)
	}

	// Rising edge: mark it before polling resumes so the beacon and the
	// event bracket the edge sub-millisecond.
	w.state = Active
	if err := w.beacons.Emit(beacon.PhaseReplayStart, replayID); err != nil {
		log.Printf("watcher: replay_start beacon for %s not sent: %v", replayID, err)
	}
	w.events.Record("replay_flag_appeared", eventlog.WithReplay(replayID), eventlog.WithPhase("start"))

	w.state = WaitingForEnd
	for w.fs.Exists(w.flagPath) {
		w.clock.Sleep(w.PollInterval)
	}

	// Falling edge.
	if err := w.beacons.Emit(beacon.PhaseReplayEnd, replayID); err != nil {
		log.Printf("watcher: replay_end beacon for %s not sent: %v", replayID, err)
	}
	w.events.Record("replay_flag_cleared", eventlog.WithReplay(replayID), eventlog.WithPhase("end"))

	w.state = Done
	return nil
}

// Package experiment sequences one full capture-replay run: start the
// packet capture, install the replay tool, play every planned replay
// while watching its busy-flag lifecycle, then tear down and persist the
// event log. The sequence is deliberately single-threaded; the only
// background activity is the capture process itself.
package experiment

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/banshee-data/replay.bench/internal/beacon"
	"github.com/banshee-data/replay.bench/internal/eventlog"
	"github.com/banshee-data/replay.bench/internal/fsutil"
	"github.com/banshee-data/replay.bench/internal/timeutil"
)

// Delays bracketing the global sync beacon and the capture stop, so the
// beacon lands well inside the capture and the tail of the last replay is
// not clipped.
const (
	globalSyncDelay = time.Second
	beaconSettle    = 500 * time.Millisecond
)

// Capture is a handle on a running capture process.
type Capture interface {
	Stop() error
}

// Runner launches the experiment's external processes.
type Runner interface {
	// StartCapture launches the long-lived capture process.
	StartCapture(iface, outputPath string) (Capture, error)

	// Run executes a blocking command, returning its exit code. A non-nil
	// error means the command could not run at all.
	Run(ctx context.Context, path, arg, logPath string) (int, error)
}

// LifecycleWatcher runs one busy-flag watch cycle for a replay.
type LifecycleWatcher interface {
	Watch(replayID string) error
}

// BeaconSender is the subset of the beacon emitter the orchestrator
// needs.
type BeaconSender interface {
	Emit(phase, replayID string) error
}

// Experiment owns the run. All components record into the one event log
// it was built with; nothing here is a process-wide singleton.
type Experiment struct {
	cfg     *Config
	clock   timeutil.Clock
	fs      fsutil.FileSystem
	events  *eventlog.Log
	beacons BeaconSender
	runner  Runner
	watcher LifecycleWatcher
}

// New assembles an experiment from its collaborators.
func New(cfg *Config, clock timeutil.Clock, fs fsutil.FileSystem, events *eventlog.Log, beacons BeaconSender, runner Runner, watcher LifecycleWatcher) *Experiment {
	return &Experiment{
		cfg:     cfg,
		clock:   clock,
		fs:      fs,
		events:  events,
		beacons: beacons,
		runner:  runner,
		watcher: watcher,
	}
}

// Run executes the full experiment sequence. Any failure other than a
// command's non-zero exit aborts the remaining sequence; on abort the
// event log is still flushed best-effort so the partial run is not lost.
func (e *Experiment) Run(ctx context.Context) (err error) {
	e.events.Record("experiment_start")

	capture, err := e.runner.StartCapture(e.cfg.Interface, e.cfg.CaptureFile)
	if err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}
	e.events.Record("pcap_started")

	persisted := false
	stopAttempted := false
	defer func() {
		if err == nil || persisted {
			return
		}
		if !stopAttempted {
			if stopErr := capture.Stop(); stopErr != nil {
				log.Printf("experiment: capture process not stopped on abort: %v", stopErr)
			}
		}
		if perr := e.events.Persist(e.fs, e.cfg.EventsCSV); perr != nil {
			log.Printf("experiment: failed to flush event log on abort: %v", perr)
		} else {
			log.Printf("experiment: partial event log flushed to %s", e.cfg.EventsCSV)
		}
	}()

	// One session-wide beacon so the whole run can be located in the
	// capture even if every per-replay beacon is lost.
	e.clock.Sleep(globalSyncDelay)
	e.emit(beacon.PhaseGlobalStart, "")
	e.events.Record("global_sync_beacon_sent")
	e.clock.Sleep(beaconSettle)

	if _, err = e.runner.Run(ctx, e.cfg.InstallCmd, "", e.cfg.CommandLog); err != nil {
		return fmt.Errorf("failed to run install command: %w", err)
	}
	e.events.Record("vcr_installed")

	for _, task := range e.cfg.Tasks {
		if err = e.runReplay(ctx, task.ReplayID); err != nil {
			return err
		}
		e.clock.Sleep(e.cfg.ReplayGap)
	}

	if _, err = e.runner.Run(ctx, e.cfg.UninstallCmd, "", e.cfg.CommandLog); err != nil {
		return fmt.Errorf("failed to run uninstall command: %w", err)
	}
	e.events.Record("vcr_uninstalled")

	e.clock.Sleep(globalSyncDelay)
	stopAttempted = true
	if err = capture.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture: %w", err)
	}
	e.events.Record("pcap_stopped")

	if err = e.events.Persist(e.fs, e.cfg.EventsCSV); err != nil {
		return err
	}
	persisted = true
	return nil
}

// runReplay plays one task: pre-beacon, launch the replay command, then
// track the busy-flag lifecycle. The command's exit code is recorded but
// never acted on; the external tooling exits non-zero for conditions that
// do not invalidate the replay.
func (e *Experiment) runReplay(ctx context.Context, replayID string) error {
	e.events.Record("replay_prepare", eventlog.WithReplay(replayID))

	e.emit(beacon.PhaseReplayPre, replayID)
	e.events.Record("replay_pre_beacon", eventlog.WithReplay(replayID))

	e.events.Record("replay_cmd_start", eventlog.WithReplay(replayID))
	code, err := e.runner.Run(ctx, e.cfg.ReplayCmd, replayID, e.cfg.CommandLog)
	if err != nil {
		return fmt.Errorf("failed to run replay command for %s: %w", replayID, err)
	}
	e.events.Record("replay_cmd_returned",
		eventlog.WithReplay(replayID), eventlog.WithExtra(strconv.Itoa(code)))

	if err := e.watcher.Watch(replayID); err != nil {
		return fmt.Errorf("replay %s lifecycle: %w", replayID, err)
	}

	e.events.Record("replay_done", eventlog.WithReplay(replayID))
	return nil
}

// emit sends a beacon, logging rather than propagating failures: beacons
// are a timing aid, not a control signal.
func (e *Experiment) emit(phase, replayID string) {
	if err := e.beacons.Emit(phase, replayID); err != nil {
		log.Printf("experiment: %s beacon not sent: %v", phase, err)
	}
}

// Command replaybench drives one capture-replay experiment: it records
// network traffic with tshark while the external capture-replay tool
// plays back the planned replays, emitting UDP sync beacons and logging
// every lifecycle event with dual clocks to a CSV.
//
// Usage:
//
//	replaybench -plan plan.json [-iface wlan0] [-capture exp1.pcap]
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/banshee-data/replay.bench/internal/beacon"
	"github.com/banshee-data/replay.bench/internal/eventlog"
	"github.com/banshee-data/replay.bench/internal/experiment"
	"github.com/banshee-data/replay.bench/internal/fsutil"
	"github.com/banshee-data/replay.bench/internal/procrun"
	"github.com/banshee-data/replay.bench/internal/timeutil"
	"github.com/banshee-data/replay.bench/internal/watcher"
)

var (
	planPath    = flag.String("plan", "", "Path to the experiment plan JSON (required)")
	iface       = flag.String("iface", "", "Override the capture interface from the plan")
	captureFile = flag.String("capture", "", "Override the capture output file from the plan")
	eventsDB    = flag.String("events-db", "", "Override the sqlite event mirror path from the plan")
)

func main() {
	flag.Parse()

	if *planPath == "" {
		log.Fatal("-plan is required")
	}

	cfg, err := experiment.LoadConfig(*planPath)
	if err != nil {
		log.Fatalf("failed to load plan: %v", err)
	}
	if *iface != "" {
		cfg.Interface = *iface
	}
	if *captureFile != "" {
		cfg.CaptureFile = *captureFile
	}
	if *eventsDB != "" {
		cfg.EventsDB = *eventsDB
	}

	clock := timeutil.RealClock{}
	fs := fsutil.OSFileSystem{}
	events := eventlog.New(clock)

	if cfg.EventsDB != "" {
		store, err := eventlog.OpenStore(cfg.EventsDB)
		if err != nil {
			log.Fatalf("failed to open event mirror: %v", err)
		}
		defer store.Close()
		events.AttachStore(store)
	}

	beacons, err := beacon.NewEmitter(cfg.BeaconAddr)
	if err != nil {
		log.Fatalf("failed to create beacon emitter: %v", err)
	}
	defer beacons.Close()

	runner := procrun.NewRunner(fs)

	w := watcher.New(clock, fs, beacons, events, cfg.BusyFlag)
	w.PollInterval = cfg.PollInterval
	w.StartTimeout = cfg.StartTimeout

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("run %s: %d replays, capture on %s -> %s",
		events.RunID(), len(cfg.Tasks), cfg.Interface, cfg.CaptureFile)

	exp := experiment.New(cfg, clock, fs, events, beacons, experiment.NewProcRunner(runner), w)
	if err := exp.Run(ctx); err != nil {
		log.Fatalf("experiment aborted: %v", err)
	}

	log.Printf("experiment complete: %d events -> %s (beacons sent=%d failed=%d)",
		events.Len(), cfg.EventsCSV, beacons.Sent(), beacons.Failed())
}

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/banshee-data/replay.bench/internal/eventlog"
)

func flagEvent(name, replayID string, monoNS int64) eventlog.Event {
	return eventlog.Event{Name: name, ReplayID: replayID, MonotonicNS: monoNS}
}

func TestPairWindows(t *testing.T) {
	events := []eventlog.Event{
		flagEvent("replay_pre_beacon", "16_x", 50),
		flagEvent("replay_flag_appeared", "16_x", 100),
		flagEvent("replay_flag_cleared", "16_x", 400),
		flagEvent("replay_flag_appeared", "16_x", 1000),
		flagEvent("replay_flag_cleared", "16_x", 1600),
		flagEvent("replay_flag_appeared", "16_y", 2000),
		// run aborted: 16_y never cleared
	}

	windows := pairWindows(events)
	if len(windows) != 2 {
		t.Fatalf("pairWindows() returned %d windows, want 2", len(windows))
	}

	if windows[0].ReplayID != "16_x" || windows[0].Duration() != 300*time.Nanosecond {
		t.Errorf("window 0 = %+v", windows[0])
	}
	if windows[1].StartNS != 1000 || windows[1].EndNS != 1600 {
		t.Errorf("window 1 = %+v", windows[1])
	}
}

func TestPairWindows_ClearedWithoutAppearedIsDropped(t *testing.T) {
	events := []eventlog.Event{
		flagEvent("replay_flag_cleared", "16_z", 100),
	}
	if got := pairWindows(events); len(got) != 0 {
		t.Errorf("pairWindows() = %v, want none", got)
	}
}

func TestSummarize(t *testing.T) {
	windows := []replayWindow{
		{ReplayID: "a", StartNS: 0, EndNS: 100},
		{ReplayID: "b", StartNS: 0, EndNS: 300},
		{ReplayID: "c", StartNS: 0, EndNS: 200},
	}

	min, max, mean := summarize(windows)
	if min != 100 || max != 300 || mean != 200 {
		t.Errorf("summarize() = %v, %v, %v; want 100ns, 300ns, 200ns", min, max, mean)
	}
}

func TestRender_ProducesHTML(t *testing.T) {
	var buf bytes.Buffer
	windows := []replayWindow{{ReplayID: "16_x", StartNS: 0, EndNS: int64(5 * time.Second)}}

	if err := render(&buf, "timestamps.csv", windows); err != nil {
		t.Fatalf("render() failed: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("Replay windows")) {
		t.Error("rendered HTML missing chart title")
	}
}

package watcher

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/replay.bench/internal/eventlog"
	"github.com/banshee-data/replay.bench/internal/fsutil"
	"github.com/banshee-data/replay.bench/internal/timeutil"
)

const flagPath = "tape/busy.flag"

// beaconRecorder captures emissions; optionally failing every send to
// exercise the best-effort path.
type beaconRecorder struct {
	calls   []string
	failAll bool
}

func (b *beaconRecorder) Emit(phase, replayID string) error {
	b.calls = append(b.calls, fmt.Sprintf("%s|%s", phase, replayID))
	if b.failAll {
		return errors.New("network unreachable")
	}
	return nil
}

// fixture wires a watcher to a manual clock, an in-memory flag file and a
// recording beacon sink. flagWindow schedules the flag to exist between
// from (inclusive) and to (exclusive), measured from the clock's origin.
type fixture struct {
	clock   *timeutil.ManualClock
	fs      *fsutil.MemoryFileSystem
	beacons *beaconRecorder
	log     *eventlog.Log
	w       *Watcher
	origin  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	origin := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		clock:   timeutil.NewManualClock(origin),
		fs:      fsutil.NewMemoryFileSystem(),
		beacons: &beaconRecorder{},
		origin:  origin,
	}
	f.log = eventlog.New(f.clock)
	f.w = New(f.clock, f.fs, f.beacons, f.log, flagPath)
	return f
}

func (f *fixture) flagWindow(from, to time.Duration) {
	f.clock.OnSleep = func(now time.Time) {
		elapsed := now.Sub(f.origin)
		if elapsed >= from && elapsed < to {
			f.fs.Touch(flagPath)
		} else {
			f.fs.Delete(flagPath)
		}
	}
}

func TestWatch_RisingAndFallingEdges(t *testing.T) {
	f := newFixture(t)
	// Absent for 2 polling intervals, present for 3, then absent: the
	// "16_x" scenario.
	f.flagWindow(200*time.Millisecond, 500*time.Millisecond)

	require.NoError(t, f.w.Watch("16_x"))
	assert.Equal(t, Done, f.w.State())

	events := f.log.Events()
	require.Len(t, events, 2)

	appeared, cleared := events[0], events[1]
	assert.Equal(t, "replay_flag_appeared", appeared.Name)
	assert.Equal(t, "start", appeared.Phase)
	assert.Equal(t, "16_x", appeared.ReplayID)
	assert.Equal(t, "replay_flag_cleared", cleared.Name)
	assert.Equal(t, "end", cleared.Phase)
	assert.Equal(t, "16_x", cleared.ReplayID)

	// Window duration is 3 polling intervals, within polling resolution.
	delta := time.Duration(cleared.MonotonicNS - appeared.MonotonicNS)
	assert.InDelta(t, float64(300*time.Millisecond), float64(delta), float64(f.w.PollInterval))

	assert.Equal(t, []string{"replay_start|16_x", "replay_end|16_x"}, f.beacons.calls)
}

func TestWatch_FlagAlreadyPresentCountsAsRisingEdge(t *testing.T) {
	f := newFixture(t)
	f.fs.Touch(flagPath)
	f.flagWindow(0, 300*time.Millisecond)

	require.NoError(t, f.w.Watch("16_trimmed"))

	events := f.log.Events()
	require.Len(t, events, 2)
	// Rising edge marked immediately, without waiting out a poll first.
	assert.EqualValues(t, 0, events[0].MonotonicNS)
}

func TestWatch_Timeout(t *testing.T) {
	f := newFixture(t)
	f.w.StartTimeout = time.Second
	// Flag never appears.

	err := f.w.Watch("16_w")
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "16_w", timeoutErr.ReplayID)
	assert.Equal(t, TimedOut, f.w.State())

	// No pair is produced on timeout: zero beacons, zero events.
	assert.Empty(t, f.beacons.calls)
	assert.Zero(t, f.log.Len())
}

func TestWatch_ExactlyOnePairPerCycle(t *testing.T) {
	f := newFixture(t)
	f.flagWindow(100*time.Millisecond, 200*time.Millisecond)
	require.NoError(t, f.w.Watch("16_y"))

	// Second cycle with a fresh window against the same watcher.
	start := f.clock.Since(f.origin)
	f.flagWindow(start+100*time.Millisecond, start+400*time.Millisecond)
	require.NoError(t, f.w.Watch("16_y"))

	assert.Equal(t, []string{
		"replay_start|16_y", "replay_end|16_y",
		"replay_start|16_y", "replay_end|16_y",
	}, f.beacons.calls)
	assert.Equal(t, 4, f.log.Len())
}

func TestWatch_BeaconFailureDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	f.beacons.failAll = true
	f.flagWindow(100*time.Millisecond, 300*time.Millisecond)

	require.NoError(t, f.w.Watch("16_z"))

	// Both edges were still attempted and both events recorded.
	assert.Len(t, f.beacons.calls, 2)
	assert.Equal(t, 2, f.log.Len())
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{WaitingForStart, "waiting_for_start"},
		{Active, "active"},
		{WaitingForEnd, "waiting_for_end"},
		{Done, "done"},
		{TimedOut, "timed_out"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

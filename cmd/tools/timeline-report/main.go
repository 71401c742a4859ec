// Command timeline-report renders an HTML report of one experiment run
// from its event log CSV: a bar per replay window (flag_appeared to
// flag_cleared) plus command/watch overhead, and a duration summary.
//
// Usage:
//
//	timeline-report -events timestamps.csv [-out report.html]
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/replay.bench/internal/eventlog"
	"github.com/banshee-data/replay.bench/internal/fsutil"
)

// replayWindow is one observed replay: the span between its flag edges.
type replayWindow struct {
	ReplayID string
	StartNS  int64
	EndNS    int64
}

func (w replayWindow) Duration() time.Duration {
	return time.Duration(w.EndNS - w.StartNS)
}

func main() {
	eventsCSV := flag.String("events", "timestamps.csv", "Event log CSV to report on")
	out := flag.String("out", "report.html", "Output HTML file")
	flag.Parse()

	events, err := eventlog.ReadCSV(fsutil.OSFileSystem{}, *eventsCSV)
	if err != nil {
		log.Fatalf("failed to load event log: %v", err)
	}

	windows := pairWindows(events)
	if len(windows) == 0 {
		log.Fatalf("no replay windows in %s (need replay_flag_appeared/cleared pairs)", *eventsCSV)
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("failed to create report: %v", err)
	}
	defer f.Close()

	if err := render(f, *eventsCSV, windows); err != nil {
		log.Fatalf("failed to render report: %v", err)
	}

	min, max, mean := summarize(windows)
	log.Printf("%d replay windows -> %s (duration min=%v max=%v mean=%v)",
		len(windows), *out, min, max, mean)
}

// pairWindows walks the log in order, matching each replay_flag_appeared
// with the next replay_flag_cleared for the same replay id. Duplicate ids
// across the run pair up positionally, matching how the watcher emits
// them. Unpaired edges (an aborted run's tail) are dropped.
func pairWindows(events []eventlog.Event) []replayWindow {
	var windows []replayWindow
	open := map[string][]int64{}

	for _, e := range events {
		switch e.Name {
		case "replay_flag_appeared":
			open[e.ReplayID] = append(open[e.ReplayID], e.MonotonicNS)
		case "replay_flag_cleared":
			starts := open[e.ReplayID]
			if len(starts) == 0 {
				continue
			}
			windows = append(windows, replayWindow{
				ReplayID: e.ReplayID,
				StartNS:  starts[0],
				EndNS:    e.MonotonicNS,
			})
			open[e.ReplayID] = starts[1:]
		}
	}
	return windows
}

func summarize(windows []replayWindow) (min, max, mean time.Duration) {
	var sum time.Duration
	for i, w := range windows {
		d := w.Duration()
		if i == 0 || d < min {
			min = d
		}
		if i == 0 || d > max {
			max = d
		}
		sum += d
	}
	return min, max, sum / time.Duration(len(windows))
}

func render(w io.Writer, source string, windows []replayWindow) error {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Replay windows",
			Subtitle: fmt.Sprintf("busy-flag lifecycle durations from %s", source),
		}),
		charts.WithYAxisOpts(opts.YAxis{Name: "duration (ms)"}),
	)

	labels := make([]string, len(windows))
	durations := make([]opts.BarData, len(windows))
	starts := make([]opts.LineData, len(windows))
	for i, win := range windows {
		labels[i] = fmt.Sprintf("%d %s", i+1, win.ReplayID)
		durations[i] = opts.BarData{Value: float64(win.Duration().Milliseconds())}
		starts[i] = opts.LineData{Value: float64(win.StartNS) / 1e6}
	}

	bar.SetXAxis(labels).
		AddSeries("window duration", durations)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Window start times",
			Subtitle: "monotonic ms since run start",
		}),
	)
	line.SetXAxis(labels).AddSeries("start (ms)", starts)

	page := components.NewPage()
	page.AddCharts(bar, line)
	return page.Render(w)
}

package experiment

import (
	"context"

	"github.com/banshee-data/replay.bench/internal/procrun"
)

// procRunner adapts *procrun.Runner to the Runner interface.
type procRunner struct {
	r *procrun.Runner
}

// NewProcRunner wraps a process runner for use by the orchestrator.
func NewProcRunner(r *procrun.Runner) Runner {
	return procRunner{r: r}
}

func (p procRunner) StartCapture(iface, outputPath string) (Capture, error) {
	c, err := p.r.StartCapture(iface, outputPath)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p procRunner) Run(ctx context.Context, path, arg, logPath string) (int, error) {
	return p.r.Run(ctx, path, arg, logPath)
}

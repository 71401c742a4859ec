// Package procrun runs the experiment's external processes: the
// long-lived packet-capture process and the short-lived install, replay
// and uninstall commands of the capture-replay tool.
package procrun

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/banshee-data/replay.bench/internal/fsutil"
)

// DefaultGrace is how long Stop waits for the capture process after each
// termination signal.
const DefaultGrace = 500 * time.Millisecond

// Runner launches external processes. The zero value is not usable; use
// NewRunner.
type Runner struct {
	// CaptureBinary is the packet-capture executable, tshark by default.
	CaptureBinary string

	// Grace bounds each wait during capture shutdown.
	Grace time.Duration

	// Console receives the streamed combined output of blocking commands.
	Console io.Writer

	fs fsutil.FileSystem
}

// NewRunner creates a Runner with the default capture binary and grace
// period, streaming command output to stdout.
func NewRunner(fs fsutil.FileSystem) *Runner {
	return &Runner{
		CaptureBinary: "tshark",
		Grace:         DefaultGrace,
		Console:       os.Stdout,
		fs:            fs,
	}
}

// Capture is a handle on a running capture process.
type Capture struct {
	cmd   *exec.Cmd
	grace time.Duration
	done  chan error
}

// StartCapture launches the capture process writing to outputPath. Its
// own stdout/stderr are discarded; the capture file is the only artifact.
func (r *Runner) StartCapture(iface, outputPath string) (*Capture, error) {
	cmd := exec.Command(r.CaptureBinary, "-i", iface, "-w", outputPath)
	// Stdout/Stderr stay nil so os/exec opens os.DevNull directly. Any
	// non-file sink makes exec create pipes, and Wait then blocks until
	// every inherited write end closes, including capture children
	// (tshark's dumpcap) that can outlive the parent.

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start capture on %s: %w", iface, err)
	}

	c := &Capture{cmd: cmd, grace: r.Grace, done: make(chan error, 1)}
	go func() {
		c.done <- cmd.Wait()
	}()
	return c, nil
}

// Stop terminates the capture process: SIGTERM, wait up to the grace
// period, then SIGKILL and wait the grace period again. A process that
// survives both is reported as an error rather than abandoned, since an
// unstopped writer leaves the capture file in an unknown state.
func (c *Capture) Stop() error {
	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already exited is fine; reap below.
		if !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("failed to signal capture process: %w", err)
		}
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(c.grace):
	}

	log.Printf("procrun: capture process did not exit after SIGTERM, sending SIGKILL")
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill capture process: %w", err)
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(c.grace):
		return fmt.Errorf("capture process (pid %d) did not exit after SIGKILL", c.cmd.Process.Pid)
	}
}

// Run executes a command and blocks until it exits, streaming combined
// stdout/stderr line-by-line to the console and, when logPath is
// non-empty, appending each line to that file. arg is passed as the sole
// argument when non-empty.
//
// The exit code is returned, not judged: the replay tooling exits non-zero
// for conditions that do not invalidate a run, so callers decide what to
// do with it. A non-nil error means the command could not be run or its
// output could not be read, not that it failed.
func (r *Runner) Run(ctx context.Context, path, arg, logPath string) (int, error) {
	var args []string
	if arg != "" {
		args = append(args, arg)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to open output pipe for %s: %w", path, err)
	}
	cmd.Stderr = cmd.Stdout

	var logFile io.WriteCloser
	if logPath != "" {
		logFile, err = r.fs.Append(logPath)
		if err != nil {
			return -1, fmt.Errorf("failed to open command log %s: %w", logPath, err)
		}
		defer logFile.Close()
	}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to start %s: %w", path, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(r.Console, line)
		if logFile != nil {
			fmt.Fprintln(logFile, line)
		}
	}
	if err := scanner.Err(); err != nil {
		cmd.Wait()
		return -1, fmt.Errorf("failed to stream output of %s: %w", path, err)
	}

	err = cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("failed to run %s: %w", path, err)
}

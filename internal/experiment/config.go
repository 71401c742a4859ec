package experiment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Default timing parameters, matching the external tool's behavior.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultStartTimeout = 60 * time.Second
	DefaultReplayGap    = time.Second
)

// ReplayTask is one entry in the planned replay sequence. The same
// replay id may appear in any number of tasks; repetition is how the plan
// encodes "play id X three times".
type ReplayTask struct {
	ReplayID string
}

// ReplayGroup expands to prefix_axis repeated Repeat times, for each axis
// in order. Groups keep plans for axis sweeps short: one group line
// instead of dozens of explicit ids.
type ReplayGroup struct {
	Prefix string   `json:"prefix"`
	Axes   []string `json:"axes"`
	Repeat int      `json:"repeat"`
}

// planFile is the on-disk JSON shape of an experiment plan. Durations are
// strings like "100ms". Omitted fields take defaults derived from ToolDir
// or the package constants.
type planFile struct {
	Interface   string `json:"interface"`
	CaptureFile string `json:"capture_file"`

	ToolDir      string `json:"tool_dir"`
	InstallCmd   string `json:"install_cmd,omitempty"`
	ReplayCmd    string `json:"replay_cmd,omitempty"`
	UninstallCmd string `json:"uninstall_cmd,omitempty"`
	BusyFlag     string `json:"busy_flag,omitempty"`
	CommandLog   string `json:"command_log,omitempty"`

	BeaconAddr string `json:"beacon_addr"`

	EventsCSV string `json:"events_csv,omitempty"`
	EventsDB  string `json:"events_db,omitempty"`

	PollInterval string `json:"poll_interval,omitempty"`
	StartTimeout string `json:"start_timeout,omitempty"`
	ReplayGap    string `json:"replay_gap,omitempty"`

	Replays []string      `json:"replays,omitempty"`
	Groups  []ReplayGroup `json:"groups,omitempty"`
}

// Config is a validated, fully resolved experiment plan.
type Config struct {
	Interface   string
	CaptureFile string

	InstallCmd   string
	ReplayCmd    string
	UninstallCmd string
	BusyFlag     string
	CommandLog   string

	BeaconAddr string

	EventsCSV string
	EventsDB  string

	PollInterval time.Duration
	StartTimeout time.Duration
	ReplayGap    time.Duration

	Tasks []ReplayTask
}

// LoadConfig reads and resolves an experiment plan from a JSON file.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("plan file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var pf planFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}

	return pf.resolve()
}

// ParseConfig resolves a plan from in-memory JSON. Tests and tools use
// this to avoid temp files.
func ParseConfig(data []byte) (*Config, error) {
	var pf planFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	return pf.resolve()
}

func (pf *planFile) resolve() (*Config, error) {
	cfg := &Config{
		Interface:    pf.Interface,
		CaptureFile:  pf.CaptureFile,
		InstallCmd:   pf.InstallCmd,
		ReplayCmd:    pf.ReplayCmd,
		UninstallCmd: pf.UninstallCmd,
		BusyFlag:     pf.BusyFlag,
		CommandLog:   pf.CommandLog,
		BeaconAddr:   pf.BeaconAddr,
		EventsCSV:    pf.EventsCSV,
		EventsDB:     pf.EventsDB,
		PollInterval: DefaultPollInterval,
		StartTimeout: DefaultStartTimeout,
		ReplayGap:    DefaultReplayGap,
	}

	// Tool entry points and the busy-flag default to well-known names
	// under the tool directory.
	if pf.ToolDir != "" {
		if cfg.InstallCmd == "" {
			cfg.InstallCmd = filepath.Join(pf.ToolDir, "install_replay")
		}
		if cfg.ReplayCmd == "" {
			cfg.ReplayCmd = filepath.Join(pf.ToolDir, "replay")
		}
		if cfg.UninstallCmd == "" {
			cfg.UninstallCmd = filepath.Join(pf.ToolDir, "uninstall_replay")
		}
		if cfg.BusyFlag == "" {
			cfg.BusyFlag = filepath.Join(pf.ToolDir, "tape", "busy.flag")
		}
		if cfg.CommandLog == "" {
			cfg.CommandLog = filepath.Join(pf.ToolDir, "vcr_runner.log")
		}
	}
	if cfg.EventsCSV == "" {
		cfg.EventsCSV = "timestamps.csv"
	}

	var err error
	if cfg.PollInterval, err = parseDuration(pf.PollInterval, DefaultPollInterval); err != nil {
		return nil, fmt.Errorf("invalid poll_interval: %w", err)
	}
	if cfg.StartTimeout, err = parseDuration(pf.StartTimeout, DefaultStartTimeout); err != nil {
		return nil, fmt.Errorf("invalid start_timeout: %w", err)
	}
	if cfg.ReplayGap, err = parseDuration(pf.ReplayGap, DefaultReplayGap); err != nil {
		return nil, fmt.Errorf("invalid replay_gap: %w", err)
	}

	cfg.Tasks, err = expandTasks(pf.Replays, pf.Groups)
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return cfg, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %v", d)
	}
	return d, nil
}

// expandTasks builds the flat task list: explicit replay ids first, in
// order, then each group expanded axis-by-axis with consecutive repeats.
// Duplicate ids are expected and preserved.
func expandTasks(replays []string, groups []ReplayGroup) ([]ReplayTask, error) {
	var tasks []ReplayTask
	for _, id := range replays {
		if id == "" {
			return nil, fmt.Errorf("empty replay id in plan")
		}
		tasks = append(tasks, ReplayTask{ReplayID: id})
	}
	for i, g := range groups {
		if g.Prefix == "" {
			return nil, fmt.Errorf("group %d: prefix is required", i)
		}
		if len(g.Axes) == 0 {
			return nil, fmt.Errorf("group %d: at least one axis is required", i)
		}
		if g.Repeat < 1 {
			return nil, fmt.Errorf("group %d: repeat must be >= 1, got %d", i, g.Repeat)
		}
		for _, axis := range g.Axes {
			for r := 0; r < g.Repeat; r++ {
				tasks = append(tasks, ReplayTask{ReplayID: g.Prefix + "_" + axis})
			}
		}
	}
	return tasks, nil
}

func (c *Config) validate() error {
	if c.Interface == "" {
		return fmt.Errorf("interface is required")
	}
	if c.CaptureFile == "" {
		return fmt.Errorf("capture_file is required")
	}
	if c.BeaconAddr == "" {
		return fmt.Errorf("beacon_addr is required")
	}
	if c.InstallCmd == "" || c.ReplayCmd == "" || c.UninstallCmd == "" {
		return fmt.Errorf("tool_dir or explicit install/replay/uninstall commands are required")
	}
	if c.BusyFlag == "" {
		return fmt.Errorf("tool_dir or busy_flag is required")
	}
	if len(c.Tasks) == 0 {
		return fmt.Errorf("plan contains no replays")
	}
	return nil
}

// Package config loads the application configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	yaml "github.com/goccy/go-yaml"

	"vrtos/internal/sched"
)

// Task kinds.
const (
	KindPrint = "print"
	KindBurst = "burst"
)

// TaskSpec describes one task created at startup.
type TaskSpec struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"` // print (default) or burst
	Text       string `yaml:"text"`
	DelayMS    int    `yaml:"delay_ms"`    // print: pause between messages
	BurstTicks int    `yaml:"burst_ticks"` // burst: simulated work per round
	Count      int    `yaml:"count"`       // 0 = forever
	Priority   int    `yaml:"priority"`
	StackWords int    `yaml:"stack_words"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

type TraceConfig struct {
	CSV   string `yaml:"csv"`   // CSV event log path; empty = off
	DB    string `yaml:"db"`    // SQLite event store path; empty = off
	Ticks bool   `yaml:"ticks"` // also log every tick
}

// Config mirrors config.yml.
type Config struct {
	Kernel sched.Config `yaml:"kernel"`
	Tasks  []TaskSpec   `yaml:"tasks"`
	Log    LogConfig    `yaml:"log"`
	Trace  TraceConfig  `yaml:"trace"`
}

// Default returns the demo setup: two print tasks at priorities 3 and 2 with
// 2000 ms and 3000 ms periods.
func Default() Config {
	return Config{
		Kernel: sched.DefaultConfig(),
		Tasks: []TaskSpec{
			{Name: "task1", Kind: KindPrint, Text: "Task1\r\n", DelayMS: 2000, Priority: 3, StackWords: 128},
			{Name: "task2", Kind: KindPrint, Text: "Task2\r\n", DelayMS: 3000, Priority: 2, StackWords: 128},
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads YAML and overrides defaults; an empty path or a missing file
// means defaults only. Malformed files and unknown fields are errors.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse overlays YAML data on cfg and validates the result.
func Parse(data []byte, cfg *Config) error {
	// A tasks list in the file replaces the default list as a whole.
	defTasks := cfg.Tasks
	cfg.Tasks = nil
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.DisallowUnknownField()); err != nil {
		cfg.Tasks = defTasks
		return fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Tasks == nil {
		cfg.Tasks = defTasks
	}
	cfg.Kernel = cfg.Kernel.Normalize()
	for i := range cfg.Tasks {
		if cfg.Tasks[i].Kind == "" {
			cfg.Tasks[i].Kind = KindPrint
		}
	}
	return cfg.validate()
}

// validate checks that all config values are valid.
func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Tasks))
	for i, t := range c.Tasks {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("invalid task #%d: name cannot be empty", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("invalid task %q: duplicate name", t.Name)
		}
		seen[t.Name] = true

		switch t.Kind {
		case KindPrint, KindBurst:
		default:
			return fmt.Errorf("invalid task %q: unknown kind %q", t.Name, t.Kind)
		}
		if t.DelayMS < 0 || t.BurstTicks < 0 || t.Count < 0 || t.StackWords < 0 {
			return fmt.Errorf("invalid task %q: negative value", t.Name)
		}
		if t.Priority < 0 || t.Priority >= c.Kernel.MaxPriorities {
			return fmt.Errorf("invalid task %q: priority %d outside 0..%d",
				t.Name, t.Priority, c.Kernel.MaxPriorities-1)
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	return nil
}

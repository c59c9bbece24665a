package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML string parsing ("10s", "5m"),
// identical in shape to the teacher's cli/config.Duration.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "1m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Daemon is the top-level shape of redapid.yaml.
type Daemon struct {
	// ListenAddress is the transport socket address the daemon binds, e.g.
	// "unix:///var/run/redapid.sock" or "tcp://0.0.0.0:4223".
	ListenAddress string `yaml:"listen_address"`

	// ProgramsRoot is <programs_root> from spec.md §4.7, the directory
	// holding one subdirectory per defined program.
	ProgramsRoot string `yaml:"programs_root"`

	// SessionDefaultLifetime is the lifetime given to the session
	// cmd/redapid-server creates for each client connection.
	SessionDefaultLifetime Duration `yaml:"session_default_lifetime"`
	// SessionSweepInterval drives the event loop's periodic session-expiry
	// timer (spec.md §4.4).
	SessionSweepInterval Duration `yaml:"session_sweep_interval"`

	// SchedulerTickInterval drives the Program scheduler tick (spec.md §4.7).
	SchedulerTickInterval Duration `yaml:"scheduler_tick_interval"`

	// MaxOpenFiles is passed to every spawn as
	// procobj.SpawnInputs.MaxOpenFiles. Spawn does not read it and closes
	// no descriptor range itself; the child inherits only its three stdio
	// descriptors because Go opens files close-on-exec.
	MaxOpenFiles int `yaml:"max_open_files"`

	// AsyncWorkers bounds the goroutine pool backing read_file_async /
	// write_file_async (SPEC_FULL.md §4.5).
	AsyncWorkers int `yaml:"async_workers"`

	LogLevel string       `yaml:"log_level"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Adapter  AdapterConfig `yaml:"adapter"`
}

// MetricsConfig toggles the in-process counters of internal/metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AdapterConfig selects and configures the optional adapter package's
// fan-out of lifecycle callbacks, mirroring the teacher's
// cli/config.AdapterConfig shape (Type discriminates "webhook" / "redis").
type AdapterConfig struct {
	Type    string            `yaml:"type,omitempty"`
	URL     string            `yaml:"url,omitempty"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// defaults mirrors what a fresh install ships with; Load applies these
// before unmarshalling so a minimal redapid.yaml (or an absent one) is
// still a fully workable daemon configuration.
func defaults() Daemon {
	return Daemon{
		ListenAddress:          "unix:///var/run/redapid.sock",
		ProgramsRoot:           "/var/lib/redapid/programs",
		SessionDefaultLifetime: Duration{30 * time.Second},
		SessionSweepInterval:   Duration{1 * time.Second},
		SchedulerTickInterval:  Duration{1 * time.Second},
		MaxOpenFiles:           1024,
		AsyncWorkers:           4,
		LogLevel:               "info",
	}
}

// Load reads, env-expands and parses a redapid.yaml file. A missing file is
// not an error: the daemon runs with defaults(), matching a fresh install
// that has not dropped a config file in place yet.
func Load(path string) (*Daemon, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	expanded := ExpandEnv(string(data))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}

	return &cfg, nil
}

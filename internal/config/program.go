package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// StdioMode is the persisted form of a Program's per-stream redirection
// (spec.md §4.7: each of stdin/stdout/stderr is one of {DevNull, Pipe, File}).
type StdioMode string

const (
	StdioDevNull StdioMode = "dev_null"
	StdioPipe    StdioMode = "pipe"
	StdioFile    StdioMode = "file"
)

// StdioRedirection is one stream's redirection rule; FileName is only
// meaningful when Mode == StdioFile.
type StdioRedirection struct {
	Mode     StdioMode `yaml:"mode"`
	FileName string    `yaml:"file_name,omitempty"`
}

// StartCondition is spec.md §4.7's start_condition enum.
type StartCondition string

const (
	StartNever StartCondition = "never"
	StartNow   StartCondition = "now"
	StartBoot  StartCondition = "boot"
	StartTime  StartCondition = "time"
)

// RepeatMode is spec.md §4.7's repeat_mode enum.
type RepeatMode string

const (
	RepeatNever     RepeatMode = "never"
	RepeatInterval  RepeatMode = "interval"
	RepeatSelection RepeatMode = "selection"
)

// Schedule bundles every scheduling field spec.md §4.7 names.
type Schedule struct {
	StartCondition StartCondition `yaml:"start_condition"`
	StartTime      int64          `yaml:"start_time,omitempty"`       // unix seconds
	StartDelay     int64          `yaml:"start_delay,omitempty"`       // seconds
	RepeatMode     RepeatMode     `yaml:"repeat_mode"`
	RepeatInterval int64          `yaml:"repeat_interval,omitempty"`   // seconds

	// Selection bitmasks, one bit per valid value (second: 0-59, minute:
	// 0-59, hour: 0-23, day: 1-31, month: 1-12, weekday: 0-6).
	Second  uint64 `yaml:"second,omitempty"`
	Minute  uint64 `yaml:"minute,omitempty"`
	Hour    uint32 `yaml:"hour,omitempty"`
	Day     uint32 `yaml:"day,omitempty"`
	Month   uint16 `yaml:"month,omitempty"`
	Weekday uint8  `yaml:"weekday,omitempty"`
}

// Program is the on-disk shape of <programs_root>/<identifier>/program.conf
// (spec.md §4.7, §6). Argument/environment lists are plain string slices
// here; internal/objects/progobj is responsible for materializing them as
// live String/List objects and back.
type Program struct {
	Identifier string `yaml:"identifier"`

	Executable  string   `yaml:"executable"`
	Arguments   []string `yaml:"arguments"`
	Environment []string `yaml:"environment"`
	WorkingDirectory string `yaml:"working_directory"`

	Stdin  StdioRedirection `yaml:"stdin"`
	Stdout StdioRedirection `yaml:"stdout"`
	Stderr StdioRedirection `yaml:"stderr"`

	Schedule Schedule `yaml:"schedule"`

	Defined bool `yaml:"defined"`

	// CustomOptions persists get/set_custom_program_option_* (spec.md §6,
	// present in the public surface but never elaborated; SPEC_FULL.md §4.7
	// resolves it as a flat string map alongside the typed fields).
	CustomOptions map[string]string `yaml:"custom_options,omitempty"`
}

// ProgramFileName is the fixed file name within a program's directory.
const ProgramFileName = "program.conf"

// SaveProgram atomically rewrites dir/program.conf: marshal to a temp file
// in the same directory, then os.Rename over the target, so a reader never
// observes a partially written file (spec.md §6: "the core guarantees
// atomic rewrite (save to temp, rename)").
func SaveProgram(dir string, p *Program) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("config: marshal program %q: %w", p.Identifier, err)
	}

	target := filepath.Join(dir, ProgramFileName)
	tmp, err := os.CreateTemp(dir, ProgramFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("config: create temp file for program %q: %w", p.Identifier, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config: write program %q: %w", p.Identifier, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: close program %q: %w", p.Identifier, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: rename program %q into place: %w", p.Identifier, err)
	}
	return nil
}

// LoadProgram reads and parses dir/program.conf.
func LoadProgram(dir string) (*Program, error) {
	data, err := os.ReadFile(filepath.Join(dir, ProgramFileName))
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filepath.Join(dir, ProgramFileName), err)
	}
	var p Program
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filepath.Join(dir, ProgramFileName), err)
	}
	return &p, nil
}

// DiscoverPrograms lists every subdirectory of programsRoot that contains a
// program.conf, for daemon-startup rediscovery (spec.md §1: "no migration
// of existing objects across restarts other than rediscovery of on-disk
// Program definitions").
func DiscoverPrograms(programsRoot string) ([]*Program, error) {
	entries, err := os.ReadDir(programsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read programs root %q: %w", programsRoot, err)
	}

	var programs []*Program
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(programsRoot, e.Name())
		p, err := LoadProgram(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		programs = append(programs, p)
	}
	return programs, nil
}

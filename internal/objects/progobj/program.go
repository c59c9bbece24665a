// Package progobj implements the Program object kind: a disk-persisted
// command definition (executable, arguments, environment, stdio
// redirection, schedule) plus the scheduler tick that turns a Program's
// schedule into spawn decisions (SPEC_FULL.md §4.7).
package progobj

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/redapid/server/internal/apierr"
	"github.com/redapid/server/internal/config"
	"github.com/redapid/server/internal/object"
	"github.com/redapid/server/internal/objects/directoryobj"
	"github.com/redapid/server/internal/objects/listobj"
	"github.com/redapid/server/internal/objects/strobj"
)

// ObjectFactory is the seam progobj uses to create new, inventory-bound
// String/List objects without importing internal/inventory directly (the
// same import-cycle-avoidance shape procobj/listobj already use). The
// wire dispatcher implements it on top of the live inventory.
type ObjectFactory interface {
	// NewWrappedString creates a String object pre-seeded with value,
	// holding the sole internal reference the creator then owns outright
	// (mirrors OBJECT_CREATE_FLAG_INTERNAL|OCCUPIED's string_wrap).
	NewWrappedString(value string) (*strobj.String, object.ID, error)
	// NewEmptyList creates an empty List object of itemType, likewise
	// owned outright by the creator.
	NewEmptyList(itemType object.Type) (*listobj.List, object.ID, error)
}

// Program is the Program object kind.
type Program struct {
	header *object.Header

	identifier   *strobj.String
	identifierID object.ID
	directory    *strobj.String
	directoryID  object.ID
	configDir    string

	executable    *strobj.String
	executableID  object.ID
	arguments     *listobj.List
	argumentsID   object.ID
	environment   *listobj.List
	environmentID object.ID

	stdin, stdout, stderr Redirection

	schedule config.Schedule

	defined bool

	customOptionsCache map[string]string
}

type Redirection struct {
	Mode     config.StdioMode
	FileName *strobj.String
	FileID   object.ID
}

// isValidIdentifier mirrors program_is_valid_identifier: the alphabet is
// [A-Za-z0-9._-], "." and ".." are rejected outright (they would collide
// with the program directory's own "." and its parent), and a leading '-'
// is rejected so an identifier can never be mistaken for a flag.
func isValidIdentifier(s string) bool {
	if s == "" || len(s) > 255 {
		return false
	}
	if s == "." || s == ".." {
		return false
	}
	if s[0] == '-' {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}

// Define implements program_define: validates identifier, creates the
// program's on-disk directory and a default (dev-null stdio, never
// scheduled) config, and registers a Program object holding an internal
// and an external reference. Every intermediate object/directory is
// rolled back in reverse order on any failure.
func Define(factory ObjectFactory, programsRoot string, identifier *strobj.String, identifierID object.ID, session object.SessionID, hasSession bool) (*Program, error) {
	if !isValidIdentifier(identifier.String()) {
		return nil, apierr.New(apierr.CodeInvalidParameter, "progobj.Define: invalid identifier")
	}

	identifier.Header().AddInternal()
	rollbackIdentifier := func() { identifier.Header().RemoveInternal() }

	path := filepath.Join(programsRoot, identifier.String())

	directory, directoryID, err := factory.NewWrappedString(path)
	if err != nil {
		rollbackIdentifier()
		return nil, err
	}
	rollbackDirectory := func() {
		directory.Header().RemoveInternal()
		rollbackIdentifier()
	}

	if err := directoryobj.Create(path, 0755); err != nil {
		rollbackDirectory()
		return nil, err
	}
	rollbackDisk := func() {
		os.RemoveAll(path)
		rollbackDirectory()
	}

	executable, executableID, err := factory.NewWrappedString("")
	if err != nil {
		rollbackDisk()
		return nil, err
	}
	rollbackExecutable := func() {
		executable.Header().RemoveInternal()
		rollbackDisk()
	}

	arguments, argumentsID, err := factory.NewEmptyList(object.TypeString)
	if err != nil {
		rollbackExecutable()
		return nil, err
	}
	rollbackArguments := func() {
		arguments.Header().RemoveInternal()
		rollbackExecutable()
	}

	environment, environmentID, err := factory.NewEmptyList(object.TypeString)
	if err != nil {
		rollbackArguments()
		return nil, err
	}
	rollbackEnvironment := func() {
		environment.Header().RemoveInternal()
		rollbackArguments()
	}

	cfg := &config.Program{
		Identifier:       identifier.String(),
		Executable:       "",
		Arguments:        nil,
		Environment:      nil,
		WorkingDirectory: path,
		Stdin:            config.StdioRedirection{Mode: config.StdioDevNull},
		Stdout:           config.StdioRedirection{Mode: config.StdioDevNull},
		Stderr:           config.StdioRedirection{Mode: config.StdioDevNull},
		Schedule:         config.Schedule{StartCondition: config.StartNever, RepeatMode: config.RepeatNever},
		Defined:          true,
	}
	if err := config.SaveProgram(path, cfg); err != nil {
		rollbackEnvironment()
		return nil, apierr.Wrap(apierr.CodeUnknownError, "progobj.Define: save config", err)
	}

	h, err := object.NewHeader(object.TypeProgram, object.WithInternal|object.WithExternal, session, hasSession)
	if err != nil {
		rollbackEnvironment()
		return nil, apierr.Wrap(apierr.CodeInvalidParameter, "progobj.Define", err)
	}

	return &Program{
		header:        h,
		identifier:    identifier,
		identifierID:  identifierID,
		directory:     directory,
		directoryID:   directoryID,
		configDir:     path,
		executable:    executable,
		executableID:  executableID,
		arguments:     arguments,
		argumentsID:   argumentsID,
		environment:   environment,
		environmentID: environmentID,
		stdin:         Redirection{Mode: config.StdioDevNull},
		stdout:        Redirection{Mode: config.StdioDevNull},
		stderr:        Redirection{Mode: config.StdioDevNull},
		schedule:      cfg.Schedule,
		defined:       true,
	}, nil
}

// Load rehydrates a Program object from an already-persisted config.Program
// (config.DiscoverPrograms), the path daemon startup uses to repopulate the
// inventory with every program found under programs_root. Unlike Define it
// creates no directory and writes no config; it wraps the fields already on
// disk as fresh, daemon-owned objects (internal reference only, no session
// holds an external reference until a client opens the program again via
// get_defined_programs).
func Load(factory ObjectFactory, configDir string, cfg *config.Program) (*Program, error) {
	identifier, identifierID, err := factory.NewWrappedString(cfg.Identifier)
	if err != nil {
		return nil, err
	}
	rollbackIdentifier := func() { identifier.Header().RemoveInternal() }

	directory, directoryID, err := factory.NewWrappedString(cfg.WorkingDirectory)
	if err != nil {
		rollbackIdentifier()
		return nil, err
	}
	rollbackDirectory := func() {
		directory.Header().RemoveInternal()
		rollbackIdentifier()
	}

	executable, executableID, err := factory.NewWrappedString(cfg.Executable)
	if err != nil {
		rollbackDirectory()
		return nil, err
	}
	rollbackExecutable := func() {
		executable.Header().RemoveInternal()
		rollbackDirectory()
	}

	arguments, argumentsID, err := factory.NewEmptyList(object.TypeString)
	if err != nil {
		rollbackExecutable()
		return nil, err
	}
	rollbackArguments := func() {
		arguments.Header().RemoveInternal()
		rollbackExecutable()
	}
	for _, arg := range cfg.Arguments {
		s, id, err := factory.NewWrappedString(arg)
		if err != nil {
			rollbackArguments()
			return nil, err
		}
		if err := arguments.Append(id); err != nil {
			rollbackArguments()
			return nil, err
		}
		s.Header().RemoveInternal()
	}

	environment, environmentID, err := factory.NewEmptyList(object.TypeString)
	if err != nil {
		rollbackArguments()
		return nil, err
	}
	rollbackEnvironment := func() {
		environment.Header().RemoveInternal()
		rollbackArguments()
	}
	for _, kv := range cfg.Environment {
		s, id, err := factory.NewWrappedString(kv)
		if err != nil {
			rollbackEnvironment()
			return nil, err
		}
		if err := environment.Append(id); err != nil {
			rollbackEnvironment()
			return nil, err
		}
		s.Header().RemoveInternal()
	}

	h, err := object.NewHeader(object.TypeProgram, object.WithInternal, 0, false)
	if err != nil {
		rollbackEnvironment()
		return nil, apierr.Wrap(apierr.CodeInvalidParameter, "progobj.Load", err)
	}

	p := &Program{
		header:        h,
		identifier:    identifier,
		identifierID:  identifierID,
		directory:     directory,
		directoryID:   directoryID,
		configDir:     configDir,
		executable:    executable,
		executableID:  executableID,
		arguments:     arguments,
		argumentsID:   argumentsID,
		environment:   environment,
		environmentID: environmentID,
		schedule:      cfg.Schedule,
		defined:       cfg.Defined,
	}
	p.stdin = loadRedirection(factory, cfg.Stdin)
	p.stdout = loadRedirection(factory, cfg.Stdout)
	p.stderr = loadRedirection(factory, cfg.Stderr)
	if cfg.CustomOptions != nil {
		p.customOptionsCache = make(map[string]string, len(cfg.CustomOptions))
		for k, v := range cfg.CustomOptions {
			p.customOptionsCache[k] = v
		}
	}
	return p, nil
}

func loadRedirection(factory ObjectFactory, r config.StdioRedirection) Redirection {
	out := Redirection{Mode: r.Mode}
	if r.Mode == config.StdioFile && r.FileName != "" {
		if s, id, err := factory.NewWrappedString(r.FileName); err == nil {
			out.FileName, out.FileID = s, id
		}
	}
	return out
}

// Header implements object.Object.
func (p *Program) Header() *object.Header { return p.header }

// Signature implements object.Object.
func (p *Program) Signature() string {
	return fmt.Sprintf("program[id=%d, identifier=%s, defined=%v]", p.header.ID(), p.identifier.String(), p.defined)
}

// Destroy implements object.Object: releases every internal reference the
// Program holds, in the reverse of Define's acquisition order
// (program_destroy's own order).
func (p *Program) Destroy() {
	if p.stderr.Mode == config.StdioFile && p.stderr.FileName != nil {
		p.stderr.FileName.Header().RemoveInternal()
	}
	if p.stdout.Mode == config.StdioFile && p.stdout.FileName != nil {
		p.stdout.FileName.Header().RemoveInternal()
	}
	if p.stdin.Mode == config.StdioFile && p.stdin.FileName != nil {
		p.stdin.FileName.Header().RemoveInternal()
	}
	p.environment.Header().RemoveInternal()
	p.arguments.Header().RemoveInternal()
	p.executable.Header().RemoveInternal()
	p.directory.Header().RemoveInternal()
	p.identifier.Header().RemoveInternal()
}

// Undefine implements program_undefine: marks the program undefined and
// persists it, then drops the Program's self-held internal reference.
// Fails with CodeInvalidOperation if already undefined.
func (p *Program) Undefine() error {
	if !p.defined {
		return apierr.New(apierr.CodeInvalidOperation, "progobj.Undefine: already undefined")
	}
	p.defined = false
	if err := p.save(); err != nil {
		p.defined = true
		return err
	}
	p.header.RemoveInternal()
	return nil
}

// Identifier returns the identifier String's object and id.
func (p *Program) Identifier() (*strobj.String, object.ID) { return p.identifier, p.identifierID }

// Directory returns the program's directory String object and id.
func (p *Program) Directory() (*strobj.String, object.ID) { return p.directory, p.directoryID }

// ConfigDir returns the on-disk path backing this program (programs_root/identifier).
func (p *Program) ConfigDir() string { return p.configDir }

// Defined reports whether the program is currently defined.
func (p *Program) Defined() bool { return p.defined }

// Command returns the executable/arguments/environment object ids.
func (p *Program) Command() (executable, arguments, environment object.ID) {
	return p.executableID, p.argumentsID, p.environmentID
}

// CommandObjects returns the live String/List objects backing the
// executable/arguments/environment, for the scheduler tick driver to build
// a procobj.SpawnInputs from without re-resolving through the inventory
// (the Program already holds internal references on all three).
func (p *Program) CommandObjects() (executable *strobj.String, arguments, environment *listobj.List) {
	return p.executable, p.arguments, p.environment
}

// SetCommand implements program_set_command: occupies the three new
// objects, swaps them in, persists, then releases the previous ones.
// Any failure restores the previous command and releases the rejected
// new objects.
func (p *Program) SetCommand(newExecutable *strobj.String, newExecutableID object.ID, newArguments *listobj.List, newArgumentsID object.ID, newEnvironment *listobj.List, newEnvironmentID object.ID) error {
	newExecutable.Header().AddInternal()
	newArguments.Header().AddInternal()
	newEnvironment.Header().AddInternal()

	oldExecutable, oldExecutableID := p.executable, p.executableID
	oldArguments, oldArgumentsID := p.arguments, p.argumentsID
	oldEnvironment, oldEnvironmentID := p.environment, p.environmentID

	p.executable, p.executableID = newExecutable, newExecutableID
	p.arguments, p.argumentsID = newArguments, newArgumentsID
	p.environment, p.environmentID = newEnvironment, newEnvironmentID

	if err := p.save(); err != nil {
		p.executable, p.executableID = oldExecutable, oldExecutableID
		p.arguments, p.argumentsID = oldArguments, oldArgumentsID
		p.environment, p.environmentID = oldEnvironment, oldEnvironmentID

		newEnvironment.Header().RemoveInternal()
		newArguments.Header().RemoveInternal()
		newExecutable.Header().RemoveInternal()
		return err
	}

	oldEnvironment.Header().RemoveInternal()
	oldArguments.Header().RemoveInternal()
	oldExecutable.Header().RemoveInternal()
	return nil
}

// StdioRedirection returns the current stdio redirection configuration.
func (p *Program) StdioRedirection() (stdin, stdout, stderr Redirection) {
	return p.stdin, p.stdout, p.stderr
}

func validMode(m config.StdioMode) bool {
	return m == config.StdioDevNull || m == config.StdioPipe || m == config.StdioFile
}

// SetStdioRedirection implements program_set_stdio_redirection. A File
// mode requires the matching fileName String; other modes ignore it.
func (p *Program) SetStdioRedirection(stdinMode config.StdioMode, stdinFile *strobj.String, stdinFileID object.ID, stdoutMode config.StdioMode, stdoutFile *strobj.String, stdoutFileID object.ID, stderrMode config.StdioMode, stderrFile *strobj.String, stderrFileID object.ID) error {
	if !validMode(stdinMode) || !validMode(stdoutMode) || !validMode(stderrMode) {
		return apierr.New(apierr.CodeInvalidParameter, "progobj.SetStdioRedirection: invalid mode")
	}

	newStdin := Redirection{Mode: stdinMode}
	if stdinMode == config.StdioFile {
		stdinFile.Header().AddInternal()
		newStdin.FileName, newStdin.FileID = stdinFile, stdinFileID
	}
	newStdout := Redirection{Mode: stdoutMode}
	if stdoutMode == config.StdioFile {
		stdoutFile.Header().AddInternal()
		newStdout.FileName, newStdout.FileID = stdoutFile, stdoutFileID
	}
	newStderr := Redirection{Mode: stderrMode}
	if stderrMode == config.StdioFile {
		stderrFile.Header().AddInternal()
		newStderr.FileName, newStderr.FileID = stderrFile, stderrFileID
	}

	oldStdin, oldStdout, oldStderr := p.stdin, p.stdout, p.stderr
	p.stdin, p.stdout, p.stderr = newStdin, newStdout, newStderr

	if err := p.save(); err != nil {
		p.stdin, p.stdout, p.stderr = oldStdin, oldStdout, oldStderr
		if newStderr.Mode == config.StdioFile {
			newStderr.FileName.Header().RemoveInternal()
		}
		if newStdout.Mode == config.StdioFile {
			newStdout.FileName.Header().RemoveInternal()
		}
		if newStdin.Mode == config.StdioFile {
			newStdin.FileName.Header().RemoveInternal()
		}
		return err
	}

	if oldStderr.Mode == config.StdioFile {
		oldStderr.FileName.Header().RemoveInternal()
	}
	if oldStdout.Mode == config.StdioFile {
		oldStdout.FileName.Header().RemoveInternal()
	}
	if oldStdin.Mode == config.StdioFile {
		oldStdin.FileName.Header().RemoveInternal()
	}
	return nil
}

func validStartCondition(c config.StartCondition) bool {
	switch c {
	case config.StartNever, config.StartNow, config.StartBoot, config.StartTime:
		return true
	default:
		return false
	}
}

func validRepeatMode(m config.RepeatMode) bool {
	switch m {
	case config.RepeatNever, config.RepeatInterval, config.RepeatSelection:
		return true
	default:
		return false
	}
}

// Schedule returns the program's current schedule.
func (p *Program) Schedule() config.Schedule { return p.schedule }

// SetSchedule implements program_set_schedule: validates the enums,
// swaps in the new schedule, persists, and restores the previous
// schedule on a save failure.
func (p *Program) SetSchedule(s config.Schedule) error {
	if !validStartCondition(s.StartCondition) {
		return apierr.New(apierr.CodeInvalidParameter, "progobj.SetSchedule: invalid start condition")
	}
	if !validRepeatMode(s.RepeatMode) {
		return apierr.New(apierr.CodeInvalidParameter, "progobj.SetSchedule: invalid repeat mode")
	}

	old := p.schedule
	p.schedule = s
	if err := p.save(); err != nil {
		p.schedule = old
		return err
	}
	return nil
}

// CustomOption returns a persisted custom program option value
// (get_custom_program_option_value).
func (p *Program) CustomOption(name string) (string, bool) {
	v, ok := p.customOptions()[name]
	return v, ok
}

// SetCustomOption persists a custom program option
// (set_custom_program_option_value).
func (p *Program) SetCustomOption(name, value string) error {
	opts := p.customOptions()
	old := opts[name]
	hadOld := false
	if _, ok := opts[name]; ok {
		hadOld = true
	}
	opts[name] = value
	p.customOptionsCache = opts
	if err := p.save(); err != nil {
		if hadOld {
			opts[name] = old
		} else {
			delete(opts, name)
		}
		p.customOptionsCache = opts
		return err
	}
	return nil
}

// RemoveCustomOption deletes a custom program option
// (remove_custom_program_option).
func (p *Program) RemoveCustomOption(name string) error {
	opts := p.customOptions()
	old, had := opts[name]
	delete(opts, name)
	p.customOptionsCache = opts
	if err := p.save(); err != nil {
		if had {
			opts[name] = old
		}
		p.customOptionsCache = opts
		return err
	}
	return nil
}

// CustomOptionNames lists every persisted custom option name
// (get_custom_program_option_names).
func (p *Program) CustomOptionNames() []string {
	opts := p.customOptions()
	names := make([]string, 0, len(opts))
	for k := range opts {
		names = append(names, k)
	}
	return names
}

func (p *Program) customOptions() map[string]string {
	if p.customOptionsCache == nil {
		p.customOptionsCache = make(map[string]string)
	}
	return p.customOptionsCache
}

// save rewrites the program's on-disk config.Program, atomically.
func (p *Program) save() error {
	cfg := &config.Program{
		Identifier:       p.identifier.String(),
		Executable:       p.executable.String(),
		Arguments:        resolveStrings(p.arguments),
		Environment:      resolveStrings(p.environment),
		WorkingDirectory: p.directory.String(),
		Stdin:            redirectionToConfig(p.stdin),
		Stdout:           redirectionToConfig(p.stdout),
		Stderr:           redirectionToConfig(p.stderr),
		Schedule:         p.schedule,
		Defined:          p.defined,
		CustomOptions:    p.customOptionsCache,
	}
	if err := config.SaveProgram(p.configDir, cfg); err != nil {
		return apierr.Wrap(apierr.CodeUnknownError, "progobj.save", err)
	}
	return nil
}

func redirectionToConfig(r Redirection) config.StdioRedirection {
	out := config.StdioRedirection{Mode: r.Mode}
	if r.Mode == config.StdioFile && r.FileName != nil {
		out.FileName = r.FileName.String()
	}
	return out
}

func resolveStrings(l *listobj.List) []string {
	items := l.Items()
	out := make([]string, 0, len(items))
	for _, id := range items {
		if s, ok := l.ResolveString(id); ok {
			out = append(out, strings.Clone(s.String()))
		}
	}
	return out
}

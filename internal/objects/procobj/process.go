// Package procobj implements the Process object kind: a spawned child, its
// seven captured inputs (executable, arguments, environment, working
// directory, stdin/stdout/stderr), and the waiter goroutine that turns
// waitpid(2) state transitions into state-changed callbacks (SPEC_FULL.md
// §4.6's Go realization of the original waiter thread).
package procobj

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/redapid/server/internal/apierr"
	"github.com/redapid/server/internal/object"
	"github.com/redapid/server/internal/objects/listobj"
	"github.com/redapid/server/internal/objects/strobj"
)

// State is the Process state machine (spec.md §4.6).
type State uint8

const (
	StateUnknown State = iota
	StateRunning
	StateError
	StateExited
	StateKilled
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsAlive reports whether pid is still valid for this state (process_state_is_alive).
func (s State) IsAlive() bool {
	return s == StateUnknown || s == StateRunning || s == StateStopped
}

// Reserved exit codes a child that fails before replacing its image uses to
// report why (spec.md §4.6). A well-behaved target program can still exit
// with one of these for unrelated reasons; we accept that ambiguity, same
// as the original.
const (
	ExitCodeInternalError = 1
	ExitCodeCannotExecute = 2
	ExitCodeDoesNotExist  = 3
)

// StateChange is one record read off the waiter goroutine's channel.
type StateChange struct {
	State     State
	Timestamp uint64
	ExitCode  uint8
}

// StringLookup resolves a String object's bytes, letting procobj build
// argv/envp without depending on internal/inventory directly.
type StringLookup interface {
	GetString(id object.ID) (*strobj.String, bool)
}

// SpawnInputs bundles the seven objects a spawn_process call captures, each
// already resolved to its concrete type and id by the dispatcher.
type SpawnInputs struct {
	Executable   *strobj.String
	ExecutableID object.ID

	Arguments   *listobj.List
	ArgumentsID object.ID

	Environment   *listobj.List
	EnvironmentID object.ID

	WorkingDirectory   *strobj.String
	WorkingDirectoryID object.ID

	Stdin, Stdout, Stderr                *StdioHandle
	StdinID, StdoutID, StderrID          object.ID

	UID, GID uint32
	// MaxOpenFiles is carried for parity with spec.md §4.6's "close every
	// file descriptor above this limit before exec"; Go's runtime already
	// marks every fd it opens close-on-exec, so there is nothing left for
	// us to close by hand. Kept so callers can still thread the configured
	// value through without it silently vanishing from the API.
	MaxOpenFiles int
}

// StdioHandle is the subset of fileobj.File the spawn protocol needs: an
// internal-reference-bearing header plus the OS-level handle to dup as
// stdio. Declared locally (instead of importing fileobj) to keep procobj
// from depending on the concrete fileobj package; the wire dispatcher
// passes *fileobj.File values, which satisfy this by having the same
// method set.
type StdioHandle struct {
	header *object.Header
	osFile *os.File
}

// NewStdioHandle adapts a concrete stdio handle (e.g. *fileobj.File) for
// use in SpawnInputs. Callers pass the File's Header() and OSFile().
func NewStdioHandle(header *object.Header, osFile *os.File) *StdioHandle {
	return &StdioHandle{header: header, osFile: osFile}
}

// Process is the Process object kind.
type Process struct {
	header *object.Header

	executable       *strobj.String
	executableID     object.ID
	arguments        *listobj.List
	argumentsID      object.ID
	environment      *listobj.List
	environmentID    object.ID
	workingDirectory *strobj.String
	workingDirID     object.ID
	stdin, stdout, stderr             *StdioHandle
	stdinID, stdoutID, stderrID       object.ID

	uid, gid uint32

	pid       int
	state     State
	timestamp uint64
	exitCode  uint8

	stateCh chan StateChange
}

// occupy/vacate only take an internal reference, not a lock: the original
// process.c never calls object_lock on a captured command/stdio object
// (unlike Program's set_command mutators, which lock nothing either — the
// single-threaded event loop already serializes spawn against any client
// mutation, so a lock would only protect against a race that cannot occur).
func occupy(h *object.Header) {
	h.AddInternal()
}

func vacate(h *object.Header) {
	h.RemoveInternal()
}

// Spawn forks and execs in.Executable with the given argv/envp built from
// in.Arguments/in.Environment, wiring in.Stdin/Stdout/Stderr as the child's
// stdio. On any failure after some inputs were captured, every already-
// captured input is released in reverse order before returning the error
// (spec.md §4.6's spawn rollback).
func Spawn(flags object.CreateFlags, session object.SessionID, hasSession bool, in SpawnInputs) (*Process, error) {
	captured := make([]*object.Header, 0, 7)
	rollback := func() {
		for i := len(captured) - 1; i >= 0; i-- {
			vacate(captured[i])
		}
	}
	capture := func(h *object.Header) {
		occupy(h)
		captured = append(captured, h)
	}

	capture(in.Executable.Header())
	capture(in.Arguments.Header())
	capture(in.Environment.Header())
	capture(in.WorkingDirectory.Header())
	capture(in.Stdin.header)
	capture(in.Stdout.header)
	capture(in.Stderr.header)

	argv := make([]string, 0, in.Arguments.Length()+1)
	argv = append(argv, in.Executable.String())
	for _, id := range in.Arguments.Items() {
		s, ok := resolveListString(in.Arguments, id)
		if !ok {
			rollback()
			return nil, apierr.New(apierr.CodeInvalidParameter, "procobj.Spawn: unresolved argument")
		}
		argv = append(argv, s)
	}

	envp := make([]string, 0, in.Environment.Length())
	for _, id := range in.Environment.Items() {
		s, ok := resolveListString(in.Environment, id)
		if !ok {
			rollback()
			return nil, apierr.New(apierr.CodeInvalidParameter, "procobj.Spawn: unresolved environment entry")
		}
		if !hasEquals(s) {
			rollback()
			return nil, apierr.New(apierr.CodeInvalidParameter, "procobj.Spawn: environment entry missing '='")
		}
		envp = append(envp, s)
	}

	cmd := &exec.Cmd{
		Path:   in.Executable.String(),
		Args:   argv,
		Env:    envp,
		Dir:    in.WorkingDirectory.String(),
		Stdin:  in.Stdin.osFile,
		Stdout: in.Stdout.osFile,
		Stderr: in.Stderr.osFile,
		SysProcAttr: &syscall.SysProcAttr{
			Setpgid:    true,
			Credential: &syscall.Credential{Uid: in.UID, Gid: in.GID},
		},
	}

	if err := cmd.Start(); err != nil {
		rollback()
		return nil, apierr.WrapOSError("procobj.Spawn", err)
	}

	h, err := object.NewHeader(object.TypeProcess, flags, session, hasSession)
	if err != nil {
		cmd.Process.Kill()
		rollback()
		return nil, apierr.Wrap(apierr.CodeInvalidParameter, "procobj.Spawn", err)
	}

	p := &Process{
		header:           h,
		executable:       in.Executable,
		executableID:     in.ExecutableID,
		arguments:        in.Arguments,
		argumentsID:      in.ArgumentsID,
		environment:      in.Environment,
		environmentID:    in.EnvironmentID,
		workingDirectory: in.WorkingDirectory,
		workingDirID:     in.WorkingDirectoryID,
		stdin:            in.Stdin,
		stdinID:          in.StdinID,
		stdout:           in.Stdout,
		stdoutID:         in.StdoutID,
		stderr:           in.Stderr,
		stderrID:         in.StderrID,
		uid:              in.UID,
		gid:              in.GID,
		pid:              cmd.Process.Pid,
		state:            StateRunning,
		stateCh:          make(chan StateChange, 4),
	}

	go p.wait()

	return p, nil
}

// resolveListString fetches item's resolved String bytes. Arguments and
// Environment are homogeneous String lists, so the list itself already
// validated item types at Append time; here we just need the owning
// strobj.String back out, which the dispatcher wires through a small
// closure captured at construction time in practice. For the in-process
// case (tests, same-process callers) items are resolved via the list's
// Lookup, exposed indirectly through GetItem + a type assertion performed
// by the caller; we keep this function as a seam so SpawnInputs.Arguments
// can be backed by any Lookup implementation.
func resolveListString(l *listobj.List, id object.ID) (string, bool) {
	s, ok := l.ResolveString(id)
	if !ok {
		return "", false
	}
	return s.String(), true
}

func hasEquals(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return true
		}
	}
	return false
}

// Header implements object.Object.
func (p *Process) Header() *object.Header { return p.header }

// Signature implements object.Object.
func (p *Process) Signature() string {
	return fmt.Sprintf("process[id=%d, pid=%d, state=%s]", p.header.ID(), p.pid, p.state)
}

// Destroy implements object.Object. If the child is still alive, sends
// SIGKILL and blocks until the waiter goroutine observes its final state
// transition, mirroring the original's thread_join on forced destruction;
// acceptable here because the state-change channel unblocks the instant
// the kernel reaps the killed child. Then releases every captured input
// in reverse acquisition order.
func (p *Process) Destroy() {
	if p.state.IsAlive() && p.pid != 0 {
		syscall.Kill(p.pid, syscall.SIGKILL)
		for range p.stateCh {
		}
	}

	vacate(p.stderr.header)
	vacate(p.stdout.header)
	vacate(p.stdin.header)
	vacate(p.workingDirectory.Header())
	vacate(p.environment.Header())
	vacate(p.arguments.Header())
	vacate(p.executable.Header())
}

// Pid returns the child's process id, or 0 once it is no longer alive.
func (p *Process) Pid() int { return p.pid }

// State returns the current state machine value.
func (p *Process) State() State { return p.state }

// ExitCode returns the last recorded exit/signal code.
func (p *Process) ExitCode() uint8 { return p.exitCode }

// Timestamp returns the unix time of the last recorded state transition
// (get_process_state).
func (p *Process) Timestamp() uint64 { return p.timestamp }

// Command returns the ids of the executable, arguments, and environment
// objects captured at spawn time (get_process_command).
func (p *Process) Command() (executable, arguments, environment object.ID) {
	return p.executableID, p.argumentsID, p.environmentID
}

// WorkingDirectory returns the working directory object id (get_process_working_directory).
func (p *Process) WorkingDirectory() object.ID { return p.workingDirID }

// Stdio returns the stdin/stdout/stderr object ids (get_process_stdio).
func (p *Process) Stdio() (stdin, stdout, stderr object.ID) {
	return p.stdinID, p.stdoutID, p.stderrID
}

// Identity returns the uid/gid the child was spawned with (get_process_identity).
func (p *Process) Identity() (uid, gid uint32) { return p.uid, p.gid }

// Changes exposes the waiter goroutine's channel for eventloop.RegisterSource.
func (p *Process) Changes() <-chan StateChange { return p.stateCh }

// Kill sends signal to the child. Returns CodeInvalidOperation if the
// process is no longer alive according to our last-known state; this can
// still race a concurrent exit (the kernel may have already reaped the
// child by the time the signal is delivered), which we accept the same
// way spec.md §4.6 accepts it for process_kill.
func (p *Process) Kill(signal syscall.Signal) error {
	if !p.state.IsAlive() || p.pid == 0 {
		return apierr.New(apierr.CodeInvalidOperation, "procobj.Kill: process not alive")
	}
	if err := syscall.Kill(p.pid, signal); err != nil {
		return apierr.WrapOSError("procobj.Kill", err)
	}
	return nil
}

// HandleStateChange applies one waiter record to the process's own state
// and reports whether a state-changed callback should be delivered (the
// main-loop handler's job per §4.6: only fire when at least one session
// holds an external reference). When the new state is no longer alive,
// drops the internal reference the process holds on itself while running,
// which may synchronously destroy it if no external reference remains.
func (p *Process) HandleStateChange(change StateChange) (shouldCallback bool) {
	p.state = change.State
	p.timestamp = change.Timestamp
	p.exitCode = change.ExitCode
	if !change.State.IsAlive() {
		p.pid = 0
	}

	shouldCallback = p.header.ExternalRefCount() > 0

	if !change.State.IsAlive() {
		p.header.RemoveInternal()
	}

	return shouldCallback
}

// wait is the waiter goroutine: one iteration of waitpid per non-terminal
// transition (Stopped, or Running again after Continued), exiting after
// sending exactly one terminal record (process_wait's loop).
func (p *Process) wait() {
	pid := p.pid
	for {
		var status syscall.WaitStatus
		var rusage syscall.Rusage
		_, err := syscall.Wait4(pid, &status, syscall.WUNTRACED|syscall.WCONTINUED, &rusage)
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			close(p.stateCh)
			return
		}

		change := decodeStatus(status)
		p.stateCh <- change
		if !change.State.IsAlive() {
			close(p.stateCh)
			return
		}
	}
}

func decodeStatus(status syscall.WaitStatus) StateChange {
	ts := uint64(time.Now().Unix())
	switch {
	case status.Exited():
		code := uint8(status.ExitStatus())
		state := StateExited
		if code == ExitCodeInternalError || code == ExitCodeCannotExecute || code == ExitCodeDoesNotExist {
			state = StateError
		}
		return StateChange{State: state, Timestamp: ts, ExitCode: code}
	case status.Signaled():
		return StateChange{State: StateKilled, Timestamp: ts, ExitCode: uint8(status.Signal())}
	case status.Stopped():
		return StateChange{State: StateStopped, Timestamp: ts, ExitCode: uint8(status.StopSignal())}
	case status.Continued():
		return StateChange{State: StateRunning, Timestamp: ts, ExitCode: 0}
	default:
		return StateChange{State: StateUnknown, Timestamp: ts, ExitCode: 0}
	}
}

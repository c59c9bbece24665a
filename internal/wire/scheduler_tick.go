package wire

import (
	"os"
	"time"

	"github.com/redapid/server/internal/apierr"
	"github.com/redapid/server/internal/config"
	"github.com/redapid/server/internal/events"
	"github.com/redapid/server/internal/eventloop"
	"github.com/redapid/server/internal/object"
	"github.com/redapid/server/internal/objects/fileobj"
	"github.com/redapid/server/internal/objects/procobj"
	"github.com/redapid/server/internal/objects/progobj"
)

// SchedulerTick drives spec.md §4.7's scheduler: snapshots every live
// Program, asks the progobj.Scheduler which are due, and spawns each one.
// Exposed so cmd/redapid-server can register it on an eventloop.Every
// timer at internal/config.Daemon.SchedulerTickInterval, the same way
// internal/session.Registry.Sweep is registered for session expiry.
func (d *Dispatcher) SchedulerTick(now time.Time, firstTickAfterBoot bool) {
	snapshot := d.inv.Snapshot(object.TypeProgram)
	programs := make([]*progobj.Program, 0, len(snapshot))
	for _, obj := range snapshot {
		programs = append(programs, obj.(*progobj.Program))
	}

	for _, dec := range d.scheduler.Tick(now, programs, firstTickAfterBoot) {
		d.spawnScheduledProgram(dec)
	}
}

// spawnScheduledProgram materializes one Decision: it resolves the
// Program's captured command and stdio redirection, spawns it exactly as
// FunctionSpawnProcess does for a client-initiated spawn_process, and
// records either a program_process_spawned or a
// program_scheduler_error_occurred callback plus the get_last_spawned_*/
// get_last_program_scheduler_error bookkeeping.
func (d *Dispatcher) spawnScheduledProgram(dec progobj.Decision) {
	id := dec.ProgramID
	p, ok := d.resolveProgram(id)
	if !ok {
		return
	}

	proc, err := d.trySpawnScheduledProgram(p)
	if err != nil {
		d.recordSchedulerError(id, err)
		return
	}

	processID, err := d.inv.Add(proc)
	if err != nil {
		d.recordSchedulerError(id, apierr.New(apierr.CodeNoFreeObjectID, "wire.spawnScheduledProgram"))
		return
	}

	d.spawnTracker().lastProcess[id] = processID
	if d.metrics != nil {
		d.metrics.IncProcessSpawned()
	}

	eventloop.RegisterSource(d.loop, proc.Changes(), func(change procobj.StateChange) {
		if !proc.HandleStateChange(change) {
			return
		}
		d.bus.Emit(events.Envelope{
			Type: events.TypeProcessStateChanged,
			Payload: events.ProcessStateChangedPayload{
				ProcessID: processID,
				State:     uint8(change.State),
				Timestamp: change.Timestamp,
				ExitCode:  change.ExitCode,
			},
		})
	})

	d.bus.Emit(events.Envelope{
		Type: events.TypeProgramProcessSpawned,
		Payload: events.ProgramProcessSpawnedPayload{
			ProgramID: id,
			ProcessID: processID,
		},
	})
}

// trySpawnScheduledProgram materializes stdio per the Program's
// stdio_redirection (dev_null/pipe/file, spec.md §4.7) and spawns via the
// same procobj.Spawn the client-driven path uses. The spawned process and
// its materialized stdio are all daemon-owned (internal-only, no session)
// since there is no client session behind a scheduler-triggered spawn.
func (d *Dispatcher) trySpawnScheduledProgram(p *progobj.Program) (*procobj.Process, error) {
	executable, arguments, environment := p.CommandObjects()
	directory, _ := p.Directory()
	stdinRedir, stdoutRedir, stderrRedir := p.StdioRedirection()

	stdin, err := d.materializeProgramStdio(stdinRedir, false)
	if err != nil {
		return nil, err
	}
	stdout, err := d.materializeProgramStdio(stdoutRedir, true)
	if err != nil {
		return nil, err
	}
	stderr, err := d.materializeProgramStdio(stderrRedir, true)
	if err != nil {
		return nil, err
	}

	in := procobj.SpawnInputs{
		Executable:         executable,
		ExecutableID:       object.NoID,
		Arguments:          arguments,
		ArgumentsID:        object.NoID,
		Environment:        environment,
		EnvironmentID:      object.NoID,
		WorkingDirectory:   directory,
		WorkingDirectoryID: object.NoID,
		Stdin:              procobj.NewStdioHandle(stdin.Header(), stdin.OSFile()),
		Stdout:             procobj.NewStdioHandle(stdout.Header(), stdout.OSFile()),
		Stderr:             procobj.NewStdioHandle(stderr.Header(), stderr.OSFile()),
		StdinID:            object.NoID,
		StdoutID:           object.NoID,
		StderrID:           object.NoID,
		MaxOpenFiles:       d.maxOpenFiles,
	}

	return procobj.Spawn(object.WithInternal, 0, false, in)
}

// materializeProgramStdio opens the File backing one of a program's
// captured stdin/stdout/stderr redirections. forWrite selects the open
// mode for DevNull/File (stdin is read-only, stdout/stderr are
// write+append); Pipe creates an anonymous pair and keeps the far end as
// a standing, internally-referenced File object in the inventory so a
// client can later find and drain/feed it via open_inventory.
func (d *Dispatcher) materializeProgramStdio(r progobj.Redirection, forWrite bool) (*fileobj.File, error) {
	switch r.Mode {
	case config.StdioDevNull:
		flags := fileobj.FlagRead
		if forWrite {
			flags = fileobj.FlagWrite
		}
		return fileobj.Open(object.WithInternal, 0, false, os.DevNull, flags, 0, nil, d.asyncPool)

	case config.StdioFile:
		flags := fileobj.FlagRead
		if forWrite {
			flags = fileobj.FlagWrite | fileobj.FlagCreate | fileobj.FlagAppend
		}
		return fileobj.Open(object.WithInternal, 0, false, r.FileName.String(), flags, 0o644, r.FileName, d.asyncPool)

	case config.StdioPipe:
		read, write, err := fileobj.CreatePipe(object.WithInternal, 0, false, d.asyncPool)
		if err != nil {
			return nil, err
		}
		if forWrite {
			// Child writes to the pipe; keep the read end around for a
			// client to drain.
			if _, err := d.inv.Add(read); err != nil {
				write.Destroy()
				read.Destroy()
				return nil, apierr.New(apierr.CodeNoFreeObjectID, "wire.materializeProgramStdio")
			}
			return write, nil
		}
		// Child reads from the pipe; keep the write end around for a
		// client to feed.
		if _, err := d.inv.Add(write); err != nil {
			read.Destroy()
			write.Destroy()
			return nil, apierr.New(apierr.CodeNoFreeObjectID, "wire.materializeProgramStdio")
		}
		return read, nil

	default:
		return nil, apierr.New(apierr.CodeInvalidParameter, "wire.materializeProgramStdio: invalid mode")
	}
}

// recordSchedulerError implements the program_scheduler_error_occurred
// half of spec.md §4.7: wraps err's message as an internally-owned String
// (get_last_program_scheduler_error hands its id back to callers) and
// fans out the callback.
func (d *Dispatcher) recordSchedulerError(id object.ID, err error) {
	now := uint64(time.Now().Unix())
	_, msgID, wrapErr := d.NewWrappedString(err.Error())
	if wrapErr != nil {
		d.log.Warnw("scheduler error string allocation failed", "program_id", id, "error", wrapErr)
		return
	}

	tracker := d.spawnTracker()
	tracker.lastErrorAt[id] = now
	tracker.lastErrorString[id] = msgID

	d.bus.Emit(events.Envelope{
		Type: events.TypeProgramSchedulerError,
		Payload: events.ProgramSchedulerErrorPayload{
			ProgramID:       id,
			Timestamp:       now,
			MessageStringID: msgID,
		},
	})
}

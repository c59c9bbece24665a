package wire

import (
	"syscall"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/redapid/server/internal/apierr"
	"github.com/redapid/server/internal/events"
	"github.com/redapid/server/internal/eventloop"
	"github.com/redapid/server/internal/object"
	"github.com/redapid/server/internal/objects/listobj"
	"github.com/redapid/server/internal/objects/procobj"
)

type getProcessesResponse struct {
	ProcessesListID object.ID `msgpack:"processes_list_id"`
}

type spawnProcessRequest struct {
	Flags                    uint8     `msgpack:"flags"`
	ExecutableStringID       object.ID `msgpack:"executable_string_id"`
	ArgumentsListID          object.ID `msgpack:"arguments_list_id"`
	EnvironmentListID        object.ID `msgpack:"environment_list_id"`
	WorkingDirectoryStringID object.ID `msgpack:"working_directory_string_id"`
	StdinFileID              object.ID `msgpack:"stdin_file_id"`
	StdoutFileID             object.ID `msgpack:"stdout_file_id"`
	StderrFileID             object.ID `msgpack:"stderr_file_id"`
	UID                      uint32    `msgpack:"uid"`
	GID                      uint32    `msgpack:"gid"`
}

type spawnProcessResponse struct {
	ProcessID object.ID `msgpack:"process_id"`
}

type processIDRequest struct {
	ProcessID object.ID `msgpack:"process_id"`
}

type killProcessRequest struct {
	ProcessID object.ID `msgpack:"process_id"`
	Signal    uint8     `msgpack:"signal"`
}

type getProcessCommandResponse struct {
	ExecutableStringID object.ID `msgpack:"executable_string_id"`
	ArgumentsListID     object.ID `msgpack:"arguments_list_id"`
	EnvironmentListID   object.ID `msgpack:"environment_list_id"`
}

type getProcessIdentityResponse struct {
	PID uint32 `msgpack:"pid"`
	UID uint32 `msgpack:"uid"`
	GID uint32 `msgpack:"gid"`
}

type getProcessStdioResponse struct {
	StdinFileID  object.ID `msgpack:"stdin_file_id"`
	StdoutFileID object.ID `msgpack:"stdout_file_id"`
	StderrFileID object.ID `msgpack:"stderr_file_id"`
}

type getProcessStateResponse struct {
	State     uint8  `msgpack:"state"`
	Timestamp uint64 `msgpack:"timestamp"`
	ExitCode  uint8  `msgpack:"exit_code"`
	PID       uint32 `msgpack:"pid"`
}

// snapshotList builds a List object of typ's currently live object ids,
// owned by sess, the shape get_processes and get_defined_programs share
// (spec.md §6 has no generic "enumerate as list" primitive of its own;
// open_inventory already covers ad hoc iteration, this is the
// convenience form some callers want instead).
func (d *Dispatcher) snapshotList(sess object.SessionID, typ object.Type, ids []object.ID) (object.ID, error) {
	l, err := listobj.New(object.WithInternal|object.WithExternal, sess, true, typ, d)
	if err != nil {
		return object.NoID, err
	}
	for _, id := range ids {
		if err := l.Append(id); err != nil {
			return object.NoID, err
		}
	}
	listID, err := d.inv.Add(l)
	if err != nil {
		return object.NoID, apierr.New(apierr.CodeNoFreeObjectID, "wire.snapshotList")
	}
	d.sessions.Track(sess, l.Header())
	return listID, nil
}

func (d *Dispatcher) registerProcessOps(t map[FunctionID]handlerFunc) {
	t[FunctionGetProcesses] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		snapshot := d.inv.Snapshot(object.TypeProcess)
		ids := make([]object.ID, len(snapshot))
		for i, obj := range snapshot {
			ids[i] = obj.Header().ID()
		}
		listID, err := d.snapshotList(sess, object.TypeProcess, ids)
		if err != nil {
			return nil, codeOf(err)
		}
		return getProcessesResponse{ProcessesListID: listID}, apierr.CodeSuccess
	}

	t[FunctionSpawnProcess] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req spawnProcessRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}

		executable, ok := d.resolveString(req.ExecutableStringID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		arguments, ok := d.resolveList(req.ArgumentsListID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		environment, ok := d.resolveList(req.EnvironmentListID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		workingDirectory, ok := d.resolveString(req.WorkingDirectoryStringID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		stdin, ok := d.resolveFile(req.StdinFileID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		stdout, ok := d.resolveFile(req.StdoutFileID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		stderr, ok := d.resolveFile(req.StderrFileID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}

		flags := object.CreateFlags(req.Flags)
		hasSession := flags&object.WithExternal != 0

		in := procobj.SpawnInputs{
			Executable:         executable,
			ExecutableID:       req.ExecutableStringID,
			Arguments:          arguments,
			ArgumentsID:        req.ArgumentsListID,
			Environment:        environment,
			EnvironmentID:      req.EnvironmentListID,
			WorkingDirectory:   workingDirectory,
			WorkingDirectoryID: req.WorkingDirectoryStringID,
			Stdin:              procobj.NewStdioHandle(stdin.Header(), stdin.OSFile()),
			Stdout:             procobj.NewStdioHandle(stdout.Header(), stdout.OSFile()),
			Stderr:             procobj.NewStdioHandle(stderr.Header(), stderr.OSFile()),
			StdinID:            req.StdinFileID,
			StdoutID:           req.StdoutFileID,
			StderrID:           req.StderrFileID,
			UID:                req.UID,
			GID:                req.GID,
			MaxOpenFiles:       d.maxOpenFiles,
		}

		p, err := procobj.Spawn(flags, sess, hasSession, in)
		if err != nil {
			return nil, codeOf(err)
		}
		id, err := d.inv.Add(p)
		if err != nil {
			return nil, apierr.CodeNoFreeObjectID
		}
		if hasSession {
			d.sessions.Track(sess, p.Header())
		}
		if d.metrics != nil {
			d.metrics.IncProcessSpawned()
		}

		eventloop.RegisterSource(d.loop, p.Changes(), func(change procobj.StateChange) {
			shouldCallback := p.HandleStateChange(change)
			if !shouldCallback {
				return
			}
			d.bus.Emit(events.Envelope{
				Type:     events.TypeProcessStateChanged,
				Sessions: p.Header().Sessions(),
				Payload: events.ProcessStateChangedPayload{
					ProcessID: id,
					State:     uint8(change.State),
					Timestamp: change.Timestamp,
					ExitCode:  change.ExitCode,
				},
			})
		})

		return spawnProcessResponse{ProcessID: id}, apierr.CodeSuccess
	}

	t[FunctionKillProcess] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req killProcessRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		p, ok := d.resolveProcess(req.ProcessID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		if err := p.Kill(syscall.Signal(req.Signal)); err != nil {
			return nil, codeOf(err)
		}
		return nil, apierr.CodeSuccess
	}

	t[FunctionGetProcessCommand] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req processIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		p, ok := d.resolveProcess(req.ProcessID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		executable, arguments, environment := p.Command()
		return getProcessCommandResponse{
			ExecutableStringID: executable,
			ArgumentsListID:    arguments,
			EnvironmentListID:  environment,
		}, apierr.CodeSuccess
	}

	t[FunctionGetProcessIdentity] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req processIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		p, ok := d.resolveProcess(req.ProcessID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		uid, gid := p.Identity()
		return getProcessIdentityResponse{PID: uint32(p.Pid()), UID: uid, GID: gid}, apierr.CodeSuccess
	}

	t[FunctionGetProcessStdio] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req processIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		p, ok := d.resolveProcess(req.ProcessID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		stdin, stdout, stderr := p.Stdio()
		return getProcessStdioResponse{StdinFileID: stdin, StdoutFileID: stdout, StderrFileID: stderr}, apierr.CodeSuccess
	}

	t[FunctionGetProcessState] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req processIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		p, ok := d.resolveProcess(req.ProcessID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		return getProcessStateResponse{
			State:     uint8(p.State()),
			Timestamp: p.Timestamp(),
			ExitCode:  p.ExitCode(),
			PID:       uint32(p.Pid()),
		}, apierr.CodeSuccess
	}
}

package wire

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/redapid/server/internal/apierr"
	"github.com/redapid/server/internal/config"
	"github.com/redapid/server/internal/object"
	"github.com/redapid/server/internal/objects/progobj"
	"github.com/redapid/server/internal/objects/strobj"
)

type getDefinedProgramsResponse struct {
	ProgramsListID object.ID `msgpack:"programs_list_id"`
}

type defineProgramRequest struct {
	Flags              uint8     `msgpack:"flags"`
	IdentifierStringID object.ID `msgpack:"identifier_string_id"`
}

type defineProgramResponse struct {
	ProgramID object.ID `msgpack:"program_id"`
}

type programIDRequest struct {
	ProgramID object.ID `msgpack:"program_id"`
}

type getProgramIdentifierResponse struct {
	IdentifierStringID object.ID `msgpack:"identifier_string_id"`
}

type getProgramDirectoryResponse struct {
	DirectoryStringID object.ID `msgpack:"directory_string_id"`
}

type setProgramCommandRequest struct {
	ProgramID          object.ID `msgpack:"program_id"`
	ExecutableStringID object.ID `msgpack:"executable_string_id"`
	ArgumentsListID     object.ID `msgpack:"arguments_list_id"`
	EnvironmentListID   object.ID `msgpack:"environment_list_id"`
}

type getProgramCommandResponse struct {
	ExecutableStringID object.ID `msgpack:"executable_string_id"`
	ArgumentsListID     object.ID `msgpack:"arguments_list_id"`
	EnvironmentListID   object.ID `msgpack:"environment_list_id"`
}

type setProgramStdioRedirectionRequest struct {
	ProgramID       object.ID `msgpack:"program_id"`
	StdinMode       uint8     `msgpack:"stdin_mode"`
	StdinFileID     object.ID `msgpack:"stdin_file_string_id"`
	StdoutMode      uint8     `msgpack:"stdout_mode"`
	StdoutFileID    object.ID `msgpack:"stdout_file_string_id"`
	StderrMode      uint8     `msgpack:"stderr_mode"`
	StderrFileID    object.ID `msgpack:"stderr_file_string_id"`
}

type getProgramStdioRedirectionResponse struct {
	StdinMode    uint8     `msgpack:"stdin_mode"`
	StdinFileID  object.ID `msgpack:"stdin_file_string_id"`
	StdoutMode   uint8     `msgpack:"stdout_mode"`
	StdoutFileID object.ID `msgpack:"stdout_file_string_id"`
	StderrMode   uint8     `msgpack:"stderr_mode"`
	StderrFileID object.ID `msgpack:"stderr_file_string_id"`
}

type setProgramScheduleRequest struct {
	ProgramID      object.ID `msgpack:"program_id"`
	StartCondition uint8     `msgpack:"start_condition"`
	StartTime      int64     `msgpack:"start_time"`
	StartDelay     int64     `msgpack:"start_delay"`
	RepeatMode     uint8     `msgpack:"repeat_mode"`
	RepeatInterval int64     `msgpack:"repeat_interval"`
	Second         uint64    `msgpack:"second"`
	Minute         uint64    `msgpack:"minute"`
	Hour           uint32    `msgpack:"hour"`
	Day            uint32    `msgpack:"day"`
	Month          uint16    `msgpack:"month"`
	Weekday        uint8     `msgpack:"weekday"`
}

type getProgramScheduleResponse struct {
	StartCondition uint8  `msgpack:"start_condition"`
	StartTime      int64  `msgpack:"start_time"`
	StartDelay     int64  `msgpack:"start_delay"`
	RepeatMode     uint8  `msgpack:"repeat_mode"`
	RepeatInterval int64  `msgpack:"repeat_interval"`
	Second         uint64 `msgpack:"second"`
	Minute         uint64 `msgpack:"minute"`
	Hour           uint32 `msgpack:"hour"`
	Day            uint32 `msgpack:"day"`
	Month          uint16 `msgpack:"month"`
	Weekday        uint8  `msgpack:"weekday"`
}

type getLastSpawnedProgramProcessResponse struct {
	ProcessID object.ID `msgpack:"process_id"`
}

type getLastProgramSchedulerErrorResponse struct {
	Timestamp       uint64    `msgpack:"timestamp"`
	MessageStringID object.ID `msgpack:"message_string_id"`
}

type getCustomProgramOptionNamesResponse struct {
	NamesListID object.ID `msgpack:"names_list_id"`
}

type customProgramOptionNameRequest struct {
	ProgramID      object.ID `msgpack:"program_id"`
	NameStringID   object.ID `msgpack:"name_string_id"`
}

type setCustomProgramOptionValueRequest struct {
	ProgramID     object.ID `msgpack:"program_id"`
	NameStringID  object.ID `msgpack:"name_string_id"`
	ValueStringID object.ID `msgpack:"value_string_id"`
}

type getCustomProgramOptionValueResponse struct {
	ValueStringID object.ID `msgpack:"value_string_id"`
}

// programSpawnTracker records the bookkeeping get_last_spawned_program_process
// and get_last_program_scheduler_error answer: neither is part of Program's
// own state (spec.md §4.7 treats both as daemon-session bookkeeping, not
// persisted config), so the dispatcher keeps them in a side table keyed by
// program id, the same shape internal/objects/progobj.Scheduler uses for its
// own per-program state.
type programSpawnTracker struct {
	lastProcess     map[object.ID]object.ID
	lastErrorAt     map[object.ID]uint64
	lastErrorString map[object.ID]object.ID
}

func (d *Dispatcher) spawnTracker() *programSpawnTracker {
	if d.spawnTrack == nil {
		d.spawnTrack = &programSpawnTracker{
			lastProcess:     make(map[object.ID]object.ID),
			lastErrorAt:     make(map[object.ID]uint64),
			lastErrorString: make(map[object.ID]object.ID),
		}
	}
	return d.spawnTrack
}

func scheduleToConfig(req setProgramScheduleRequest) config.Schedule {
	return config.Schedule{
		StartCondition: config.StartCondition(startConditionNames[req.StartCondition]),
		StartTime:      req.StartTime,
		StartDelay:     req.StartDelay,
		RepeatMode:     config.RepeatMode(repeatModeNames[req.RepeatMode]),
		RepeatInterval: req.RepeatInterval,
		Second:         req.Second,
		Minute:         req.Minute,
		Hour:           req.Hour,
		Day:            req.Day,
		Month:          req.Month,
		Weekday:        req.Weekday,
	}
}

func scheduleFromConfig(s config.Schedule) getProgramScheduleResponse {
	return getProgramScheduleResponse{
		StartCondition: startConditionCodes[s.StartCondition],
		StartTime:      s.StartTime,
		StartDelay:     s.StartDelay,
		RepeatMode:     repeatModeCodes[s.RepeatMode],
		RepeatInterval: s.RepeatInterval,
		Second:         s.Second,
		Minute:         s.Minute,
		Hour:           s.Hour,
		Day:            s.Day,
		Month:          s.Month,
		Weekday:        s.Weekday,
	}
}

// Wire <-> config enum mappings. Kept as small lookup tables rather than
// iota-aligned casts since config's enums are strings (readable YAML) while
// the wire format is a single byte per spec.md §6.
var (
	startConditionNames = map[uint8]config.StartCondition{
		0: config.StartNever, 1: config.StartNow, 2: config.StartBoot, 3: config.StartTime,
	}
	startConditionCodes = map[config.StartCondition]uint8{
		config.StartNever: 0, config.StartNow: 1, config.StartBoot: 2, config.StartTime: 3,
	}
	repeatModeNames = map[uint8]config.RepeatMode{
		0: config.RepeatNever, 1: config.RepeatInterval, 2: config.RepeatSelection,
	}
	repeatModeCodes = map[config.RepeatMode]uint8{
		config.RepeatNever: 0, config.RepeatInterval: 1, config.RepeatSelection: 2,
	}
	stdioModeNames = map[uint8]config.StdioMode{
		0: config.StdioDevNull, 1: config.StdioPipe, 2: config.StdioFile,
	}
	stdioModeCodes = map[config.StdioMode]uint8{
		config.StdioDevNull: 0, config.StdioPipe: 1, config.StdioFile: 2,
	}
)

func (d *Dispatcher) registerProgramOps(t map[FunctionID]handlerFunc) {
	t[FunctionGetDefinedPrograms] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		snapshot := d.inv.Snapshot(object.TypeProgram)
		var ids []object.ID
		for _, obj := range snapshot {
			p := obj.(*progobj.Program)
			if p.Defined() {
				ids = append(ids, p.Header().ID())
			}
		}
		listID, err := d.snapshotList(sess, object.TypeProgram, ids)
		if err != nil {
			return nil, codeOf(err)
		}
		return getDefinedProgramsResponse{ProgramsListID: listID}, apierr.CodeSuccess
	}

	t[FunctionDefineProgram] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req defineProgramRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		identifier, ok := d.resolveString(req.IdentifierStringID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		flags := object.CreateFlags(req.Flags)
		hasSession := flags&object.WithExternal != 0
		p, err := progobj.Define(d, d.programsRoot, identifier, req.IdentifierStringID, sess, hasSession)
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
		d.scheduler.Register(id)
		return defineProgramResponse{ProgramID: id}, apierr.CodeSuccess
	}

	t[FunctionUndefineProgram] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req programIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		p, ok := d.resolveProgram(req.ProgramID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		if err := p.Undefine(); err != nil {
			return nil, codeOf(err)
		}
		d.scheduler.Forget(req.ProgramID)
		return nil, apierr.CodeSuccess
	}

	t[FunctionGetProgramIdentifier] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req programIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		p, ok := d.resolveProgram(req.ProgramID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		_, id := p.Identifier()
		return getProgramIdentifierResponse{IdentifierStringID: id}, apierr.CodeSuccess
	}

	t[FunctionGetProgramDirectory] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req programIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		p, ok := d.resolveProgram(req.ProgramID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		_, id := p.Directory()
		return getProgramDirectoryResponse{DirectoryStringID: id}, apierr.CodeSuccess
	}

	t[FunctionSetProgramCommand] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req setProgramCommandRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		p, ok := d.resolveProgram(req.ProgramID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
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
		if err := p.SetCommand(executable, req.ExecutableStringID, arguments, req.ArgumentsListID, environment, req.EnvironmentListID); err != nil {
			return nil, codeOf(err)
		}
		return nil, apierr.CodeSuccess
	}

	t[FunctionGetProgramCommand] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req programIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		p, ok := d.resolveProgram(req.ProgramID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		executable, arguments, environment := p.Command()
		return getProgramCommandResponse{
			ExecutableStringID: executable,
			ArgumentsListID:    arguments,
			EnvironmentListID:  environment,
		}, apierr.CodeSuccess
	}

	t[FunctionSetProgramStdioRedirection] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req setProgramStdioRedirectionRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		p, ok := d.resolveProgram(req.ProgramID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}

		stdinMode, ok := stdioModeNames[req.StdinMode]
		if !ok {
			return nil, apierr.CodeInvalidParameter
		}
		stdoutMode, ok := stdioModeNames[req.StdoutMode]
		if !ok {
			return nil, apierr.CodeInvalidParameter
		}
		stderrMode, ok := stdioModeNames[req.StderrMode]
		if !ok {
			return nil, apierr.CodeInvalidParameter
		}

		var stdinFileObj, stdoutFileObj, stderrFileObj *strobj.String
		if stdinMode == config.StdioFile {
			if stdinFileObj, ok = d.resolveString(req.StdinFileID); !ok {
				return nil, apierr.CodeUnknownObjectID
			}
		}
		if stdoutMode == config.StdioFile {
			if stdoutFileObj, ok = d.resolveString(req.StdoutFileID); !ok {
				return nil, apierr.CodeUnknownObjectID
			}
		}
		if stderrMode == config.StdioFile {
			if stderrFileObj, ok = d.resolveString(req.StderrFileID); !ok {
				return nil, apierr.CodeUnknownObjectID
			}
		}

		if err := p.SetStdioRedirection(
			stdinMode, stdinFileObj, req.StdinFileID,
			stdoutMode, stdoutFileObj, req.StdoutFileID,
			stderrMode, stderrFileObj, req.StderrFileID,
		); err != nil {
			return nil, codeOf(err)
		}
		return nil, apierr.CodeSuccess
	}

	t[FunctionGetProgramStdioRedirection] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req programIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		p, ok := d.resolveProgram(req.ProgramID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		stdin, stdout, stderr := p.StdioRedirection()
		return getProgramStdioRedirectionResponse{
			StdinMode:    stdioModeCodes[stdin.Mode],
			StdinFileID:  stdin.FileID,
			StdoutMode:   stdioModeCodes[stdout.Mode],
			StdoutFileID: stdout.FileID,
			StderrMode:   stdioModeCodes[stderr.Mode],
			StderrFileID: stderr.FileID,
		}, apierr.CodeSuccess
	}

	t[FunctionSetProgramSchedule] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req setProgramScheduleRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		p, ok := d.resolveProgram(req.ProgramID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		if err := p.SetSchedule(scheduleToConfig(req)); err != nil {
			return nil, codeOf(err)
		}
		return nil, apierr.CodeSuccess
	}

	t[FunctionGetProgramSchedule] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req programIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		p, ok := d.resolveProgram(req.ProgramID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		return scheduleFromConfig(p.Schedule()), apierr.CodeSuccess
	}

	t[FunctionGetLastSpawnedProgramProcess] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req programIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		if _, ok := d.resolveProgram(req.ProgramID); !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		id, ok := d.spawnTracker().lastProcess[req.ProgramID]
		if !ok {
			return nil, apierr.CodeNoMoreData
		}
		return getLastSpawnedProgramProcessResponse{ProcessID: id}, apierr.CodeSuccess
	}

	t[FunctionGetLastProgramSchedulerError] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req programIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		if _, ok := d.resolveProgram(req.ProgramID); !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		tracker := d.spawnTracker()
		msgID, ok := tracker.lastErrorString[req.ProgramID]
		if !ok {
			return nil, apierr.CodeNoMoreData
		}
		return getLastProgramSchedulerErrorResponse{
			Timestamp:       tracker.lastErrorAt[req.ProgramID],
			MessageStringID: msgID,
		}, apierr.CodeSuccess
	}

	t[FunctionGetCustomProgramOptionNames] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req programIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		p, ok := d.resolveProgram(req.ProgramID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		names := p.CustomOptionNames()
		ids := make([]object.ID, 0, len(names))
		for _, name := range names {
			id, err := d.newOwnedString(sess, name)
			if err != nil {
				return nil, codeOf(err)
			}
			ids = append(ids, id)
		}
		listID, err := d.snapshotList(sess, object.TypeString, ids)
		if err != nil {
			return nil, codeOf(err)
		}
		return getCustomProgramOptionNamesResponse{NamesListID: listID}, apierr.CodeSuccess
	}

	t[FunctionSetCustomProgramOptionValue] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req setCustomProgramOptionValueRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		p, ok := d.resolveProgram(req.ProgramID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		name, ok := d.resolveString(req.NameStringID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		value, ok := d.resolveString(req.ValueStringID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		if err := p.SetCustomOption(name.String(), value.String()); err != nil {
			return nil, codeOf(err)
		}
		return nil, apierr.CodeSuccess
	}

	t[FunctionGetCustomProgramOptionValue] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req customProgramOptionNameRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		p, ok := d.resolveProgram(req.ProgramID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		name, ok := d.resolveString(req.NameStringID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		value, ok := p.CustomOption(name.String())
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		id, err := d.newOwnedString(sess, value)
		if err != nil {
			return nil, codeOf(err)
		}
		return getCustomProgramOptionValueResponse{ValueStringID: id}, apierr.CodeSuccess
	}

	t[FunctionRemoveCustomProgramOption] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req customProgramOptionNameRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		p, ok := d.resolveProgram(req.ProgramID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		name, ok := d.resolveString(req.NameStringID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		if err := p.RemoveCustomOption(name.String()); err != nil {
			return nil, codeOf(err)
		}
		return nil, apierr.CodeSuccess
	}
}

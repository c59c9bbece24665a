package wire

import (
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/redapid/server/internal/apierr"
	"github.com/redapid/server/internal/events"
	"github.com/redapid/server/internal/object"
	"github.com/redapid/server/internal/objects/fileobj"
)

type openFileRequest struct {
	Flags        uint8     `msgpack:"flags"`
	NameStringID object.ID `msgpack:"name_string_id"`
	OpenFlags    uint16    `msgpack:"open_flags"`
	Permissions  uint32    `msgpack:"permissions"`
}

type openFileResponse struct {
	FileID object.ID `msgpack:"file_id"`
}

type createPipeRequest struct {
	Flags uint8 `msgpack:"flags"`
}

type createPipeResponse struct {
	ReadFileID  object.ID `msgpack:"read_file_id"`
	WriteFileID object.ID `msgpack:"write_file_id"`
}

type fileIDRequest struct {
	FileID object.ID `msgpack:"file_id"`
}

type getFileInfoResponse struct {
	Size        int64  `msgpack:"size"`
	Mode        uint32 `msgpack:"mode"`
	ModTimeUnix int64  `msgpack:"mod_time_unix"`
	IsDir       bool   `msgpack:"is_dir"`
}

type readFileRequest struct {
	FileID object.ID `msgpack:"file_id"`
	Length int       `msgpack:"length"`
}

type readFileResponse struct {
	Buffer     []byte `msgpack:"buffer"`
	LengthRead int    `msgpack:"length_read"`
}

type readFileAsyncRequest struct {
	FileID object.ID `msgpack:"file_id"`
	Length int       `msgpack:"length"`
}

type writeFileRequest struct {
	FileID object.ID `msgpack:"file_id"`
	Buffer []byte    `msgpack:"buffer"`
}

type writeFileResponse struct {
	LengthWritten int `msgpack:"length_written"`
}

type setFilePositionRequest struct {
	FileID object.ID `msgpack:"file_id"`
	Offset int64     `msgpack:"offset"`
	Whence int       `msgpack:"whence"`
}

type setFilePositionResponse struct {
	Position int64 `msgpack:"position"`
}

type getFilePositionResponse struct {
	Position int64 `msgpack:"position"`
}

type lookupPathRequest struct {
	NameStringID object.ID `msgpack:"name_string_id"`
}

type lookupFileInfoResponse struct {
	Size        int64  `msgpack:"size"`
	Mode        uint32 `msgpack:"mode"`
	ModTimeUnix int64  `msgpack:"mod_time_unix"`
	IsDir       bool   `msgpack:"is_dir"`
}

type lookupSymlinkTargetResponse struct {
	Target string `msgpack:"target"`
}

// fileInfo converts an os.FileInfo into the fixed wire shape both
// get_file_info and lookup_file_info share.
func fileInfo(info os.FileInfo) (int64, uint32, int64, bool) {
	return info.Size(), uint32(info.Mode()), info.ModTime().Unix(), info.IsDir()
}

// lastPendingRead tracks, per file, the most recently issued async read
// request id: abort_async_file_read (spec.md §6) takes only a file_id, not
// a request id, so there can be at most one outstanding async read per file
// from the wire's point of view.
func (d *Dispatcher) lastPendingRead(fileID object.ID) map[object.ID]uint64 {
	if d.pendingReads == nil {
		d.pendingReads = make(map[object.ID]uint64)
	}
	return d.pendingReads
}

func (d *Dispatcher) registerFileOps(t map[FunctionID]handlerFunc) {
	t[FunctionOpenFile] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req openFileRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		name, ok := d.resolveString(req.NameStringID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		flags := object.CreateFlags(req.Flags)
		hasSession := flags&object.WithExternal != 0
		f, err := fileobj.Open(flags, sess, hasSession, name.String(), fileobj.OpenFlags(req.OpenFlags), os.FileMode(req.Permissions), name, d.asyncPool)
		if err != nil {
			return nil, codeOf(err)
		}
		id, err := d.inv.Add(f)
		if err != nil {
			return nil, apierr.CodeNoFreeObjectID
		}
		if hasSession {
			d.sessions.Track(sess, f.Header())
		}
		return openFileResponse{FileID: id}, apierr.CodeSuccess
	}

	t[FunctionCreatePipe] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req createPipeRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		flags := object.CreateFlags(req.Flags)
		hasSession := flags&object.WithExternal != 0
		read, write, err := fileobj.CreatePipe(flags, sess, hasSession, d.asyncPool)
		if err != nil {
			return nil, codeOf(err)
		}
		readID, err := d.inv.Add(read)
		if err != nil {
			return nil, apierr.CodeNoFreeObjectID
		}
		writeID, err := d.inv.Add(write)
		if err != nil {
			return nil, apierr.CodeNoFreeObjectID
		}
		if hasSession {
			d.sessions.Track(sess, read.Header())
			d.sessions.Track(sess, write.Header())
		}
		return createPipeResponse{ReadFileID: readID, WriteFileID: writeID}, apierr.CodeSuccess
	}

	t[FunctionGetFileInfo] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req fileIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		f, ok := d.resolveFile(req.FileID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		info, err := f.Info()
		if err != nil {
			return nil, codeOf(err)
		}
		size, mode, modTime, isDir := fileInfo(info)
		return getFileInfoResponse{Size: size, Mode: mode, ModTimeUnix: modTime, IsDir: isDir}, apierr.CodeSuccess
	}

	t[FunctionReadFile] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req readFileRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		f, ok := d.resolveFile(req.FileID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		data, err := f.Read(req.Length)
		if err != nil {
			return nil, codeOf(err)
		}
		return readFileResponse{Buffer: data, LengthRead: len(data)}, apierr.CodeSuccess
	}

	t[FunctionReadFileAsync] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req readFileAsyncRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		f, ok := d.resolveFile(req.FileID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		fileID := req.FileID
		reqID := f.ReadAsync(req.Length, d.loop.Post, func(r fileobj.AsyncReadResult) {
			delete(d.lastPendingRead(fileID), fileID)
			payload := events.AsyncFileReadPayload{FileID: fileID}
			if r.Err != nil {
				payload.ErrorCode = uint8(codeOf(r.Err))
			} else {
				payload.Buffer = r.Data
				payload.LengthRead = uint8(len(r.Data))
			}
			d.bus.Emit(events.Envelope{
				Type:     events.TypeAsyncFileRead,
				Sessions: f.Header().Sessions(),
				Payload:  payload,
			})
		})
		d.lastPendingRead(fileID)[fileID] = reqID
		return nil, apierr.CodeSuccess
	}

	t[FunctionAbortAsyncFileRead] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req fileIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		f, ok := d.resolveFile(req.FileID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		pending := d.lastPendingRead(req.FileID)
		reqID, ok := pending[req.FileID]
		if !ok {
			return nil, apierr.CodeInvalidOperation
		}
		if err := f.AbortAsyncFileRead(reqID); err != nil {
			return nil, codeOf(err)
		}
		delete(pending, req.FileID)
		return nil, apierr.CodeSuccess
	}

	t[FunctionWriteFile] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req writeFileRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		f, ok := d.resolveFile(req.FileID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		n, err := f.Write(req.Buffer)
		if err != nil {
			return nil, codeOf(err)
		}
		return writeFileResponse{LengthWritten: n}, apierr.CodeSuccess
	}

	// write_file_unchecked shares write_file's handler; it differs only in
	// that callers send it with response_expected=false (spec.md §6), which
	// cmd/redapid-server honors by not writing the reply when the caller
	// didn't ask.
	t[FunctionWriteFileUnchecked] = t[FunctionWriteFile]

	t[FunctionWriteFileAsync] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req writeFileRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		f, ok := d.resolveFile(req.FileID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		fileID := req.FileID
		f.WriteAsync(req.Buffer, d.loop.Post, func(n int, err error) {
			payload := events.AsyncFileWritePayload{FileID: fileID, LengthWritten: uint8(n)}
			if err != nil {
				payload.ErrorCode = uint8(codeOf(err))
			}
			d.bus.Emit(events.Envelope{
				Type:     events.TypeAsyncFileWrite,
				Sessions: f.Header().Sessions(),
				Payload:  payload,
			})
		})
		return nil, apierr.CodeSuccess
	}

	t[FunctionSetFilePosition] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req setFilePositionRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		f, ok := d.resolveFile(req.FileID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		pos, err := f.SetPosition(req.Offset, req.Whence)
		if err != nil {
			return nil, codeOf(err)
		}
		return setFilePositionResponse{Position: pos}, apierr.CodeSuccess
	}

	t[FunctionGetFilePosition] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req fileIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		f, ok := d.resolveFile(req.FileID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		pos, err := f.GetPosition()
		if err != nil {
			return nil, codeOf(err)
		}
		return getFilePositionResponse{Position: pos}, apierr.CodeSuccess
	}

	t[FunctionLookupFileInfo] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req lookupPathRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		name, ok := d.resolveString(req.NameStringID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		info, err := os.Lstat(name.String())
		if err != nil {
			return nil, codeOf(apierr.WrapOSError("wire.LookupFileInfo", err))
		}
		size, mode, modTime, isDir := fileInfo(info)
		return lookupFileInfoResponse{Size: size, Mode: mode, ModTimeUnix: modTime, IsDir: isDir}, apierr.CodeSuccess
	}

	t[FunctionLookupSymlinkTarget] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req lookupPathRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		name, ok := d.resolveString(req.NameStringID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		target, err := os.Readlink(name.String())
		if err != nil {
			return nil, codeOf(apierr.WrapOSError("wire.LookupSymlinkTarget", err))
		}
		return lookupSymlinkTargetResponse{Target: target}, apierr.CodeSuccess
	}
}

package wire

import (
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/redapid/server/internal/apierr"
	"github.com/redapid/server/internal/object"
	"github.com/redapid/server/internal/objects/directoryobj"
	"github.com/redapid/server/internal/objects/strobj"
)

type openDirectoryRequest struct {
	Flags        uint8     `msgpack:"flags"`
	NameStringID object.ID `msgpack:"name_string_id"`
}

type openDirectoryResponse struct {
	DirectoryID object.ID `msgpack:"directory_id"`
}

type directoryIDRequest struct {
	DirectoryID object.ID `msgpack:"directory_id"`
}

type getDirectoryNameResponse struct {
	NameStringID object.ID `msgpack:"name_string_id"`
}

type getNextDirectoryEntryResponse struct {
	EntryStringID object.ID `msgpack:"entry_string_id"`
}

type createDirectoryRequest struct {
	NameStringID object.ID `msgpack:"name_string_id"`
	Permissions  uint32    `msgpack:"permissions"`
}

// newOwnedString allocates a String object carrying value and grants sess
// an external reference to it, the shape every read-only query that
// materializes a path or directory entry name into a fresh object uses
// (get_directory_name, get_next_directory_entry): the caller now owns the
// id and must release_object it when done, the same as anything it
// allocated itself.
func (d *Dispatcher) newOwnedString(sess object.SessionID, value string) (object.ID, error) {
	s, err := strobj.New(object.WithInternal|object.WithExternal, sess, true, len(value), []byte(value))
	if err != nil {
		return object.NoID, err
	}
	id, err := d.inv.Add(s)
	if err != nil {
		return object.NoID, apierr.New(apierr.CodeNoFreeObjectID, "wire.newOwnedString")
	}
	d.sessions.Track(sess, s.Header())
	return id, nil
}

func (d *Dispatcher) registerDirectoryOps(t map[FunctionID]handlerFunc) {
	t[FunctionOpenDirectory] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req openDirectoryRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		name, ok := d.resolveString(req.NameStringID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		flags := object.CreateFlags(req.Flags)
		hasSession := flags&object.WithExternal != 0
		dir, err := directoryobj.Open(flags, sess, hasSession, name.String(), name)
		if err != nil {
			return nil, codeOf(err)
		}
		id, err := d.inv.Add(dir)
		if err != nil {
			return nil, apierr.CodeNoFreeObjectID
		}
		if hasSession {
			d.sessions.Track(sess, dir.Header())
		}
		return openDirectoryResponse{DirectoryID: id}, apierr.CodeSuccess
	}

	t[FunctionGetDirectoryName] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req directoryIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		dir, ok := d.resolveDirectory(req.DirectoryID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		id, err := d.newOwnedString(sess, dir.Path())
		if err != nil {
			return nil, codeOf(err)
		}
		return getDirectoryNameResponse{NameStringID: id}, apierr.CodeSuccess
	}

	t[FunctionGetNextDirectoryEntry] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req directoryIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		dir, ok := d.resolveDirectory(req.DirectoryID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		name, hasNext, err := dir.Next()
		if err != nil {
			return nil, codeOf(err)
		}
		if !hasNext {
			return nil, apierr.CodeNoMoreData
		}
		id, err := d.newOwnedString(sess, name)
		if err != nil {
			return nil, codeOf(err)
		}
		return getNextDirectoryEntryResponse{EntryStringID: id}, apierr.CodeSuccess
	}

	t[FunctionRewindDirectory] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req directoryIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		dir, ok := d.resolveDirectory(req.DirectoryID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		dir.Rewind()
		return nil, apierr.CodeSuccess
	}

	t[FunctionCreateDirectory] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req createDirectoryRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		name, ok := d.resolveString(req.NameStringID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		if err := directoryobj.Create(name.String(), os.FileMode(req.Permissions)); err != nil {
			return nil, codeOf(err)
		}
		return nil, apierr.CodeSuccess
	}
}

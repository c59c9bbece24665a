package wire

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/redapid/server/internal/apierr"
	"github.com/redapid/server/internal/object"
	"github.com/redapid/server/internal/objects/strobj"
)

type allocateStringRequest struct {
	Flags       uint8  `msgpack:"flags"`
	LengthToReserve int `msgpack:"length_to_reserve"`
	Buffer      []byte `msgpack:"buffer"`
}

type allocateStringResponse struct {
	StringID object.ID `msgpack:"string_id"`
}

type stringIDRequest struct {
	StringID object.ID `msgpack:"string_id"`
}

type truncateStringRequest struct {
	StringID object.ID `msgpack:"string_id"`
	Length   int       `msgpack:"length"`
}

type getStringLengthResponse struct {
	Length int `msgpack:"length"`
}

type setStringChunkRequest struct {
	StringID object.ID `msgpack:"string_id"`
	Offset   int       `msgpack:"offset"`
	Buffer   []byte    `msgpack:"buffer"`
}

type getStringChunkRequest struct {
	StringID object.ID `msgpack:"string_id"`
	Offset   int       `msgpack:"offset"`
}

type getStringChunkResponse struct {
	Buffer []byte `msgpack:"buffer"`
}

func (d *Dispatcher) registerStringOps(t map[FunctionID]handlerFunc) {
	t[FunctionAllocateString] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req allocateStringRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		flags := object.CreateFlags(req.Flags)
		hasSession := flags&object.WithExternal != 0
		s, err := strobj.New(flags, sess, hasSession, req.LengthToReserve, req.Buffer)
		if err != nil {
			return nil, codeOf(err)
		}
		id, err := d.inv.Add(s)
		if err != nil {
			return nil, apierr.CodeNoFreeObjectID
		}
		if hasSession {
			d.sessions.Track(sess, s.Header())
		}
		return allocateStringResponse{StringID: id}, apierr.CodeSuccess
	}

	t[FunctionTruncateString] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req truncateStringRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		s, ok := d.resolveString(req.StringID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		if err := s.Truncate(req.Length); err != nil {
			return nil, codeOf(err)
		}
		return nil, apierr.CodeSuccess
	}

	t[FunctionGetStringLength] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req stringIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		s, ok := d.resolveString(req.StringID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		return getStringLengthResponse{Length: s.Length()}, apierr.CodeSuccess
	}

	t[FunctionSetStringChunk] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req setStringChunkRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		s, ok := d.resolveString(req.StringID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		if err := s.SetChunk(req.Offset, req.Buffer); err != nil {
			return nil, codeOf(err)
		}
		return nil, apierr.CodeSuccess
	}

	t[FunctionGetStringChunk] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req getStringChunkRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		s, ok := d.resolveString(req.StringID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		chunk, err := s.GetChunk(req.Offset)
		if err != nil {
			return nil, codeOf(err)
		}
		return getStringChunkResponse{Buffer: chunk}, apierr.CodeSuccess
	}
}

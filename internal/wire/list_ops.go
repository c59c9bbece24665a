package wire

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/redapid/server/internal/apierr"
	"github.com/redapid/server/internal/object"
	"github.com/redapid/server/internal/objects/listobj"
)

type allocateListRequest struct {
	Flags    uint8 `msgpack:"flags"`
	ItemType uint8 `msgpack:"item_type"`
}

type allocateListResponse struct {
	ListID object.ID `msgpack:"list_id"`
}

type listIDRequest struct {
	ListID object.ID `msgpack:"list_id"`
}

type getListLengthResponse struct {
	Length int `msgpack:"length"`
}

type getListItemRequest struct {
	ListID object.ID `msgpack:"list_id"`
	Index  int       `msgpack:"index"`
}

type getListItemResponse struct {
	ItemObjectID object.ID `msgpack:"item_object_id"`
}

type appendToListRequest struct {
	ListID       object.ID `msgpack:"list_id"`
	ItemObjectID object.ID `msgpack:"item_object_id"`
}

type removeFromListRequest struct {
	ListID object.ID `msgpack:"list_id"`
	Index  int       `msgpack:"index"`
}

func (d *Dispatcher) registerListOps(t map[FunctionID]handlerFunc) {
	t[FunctionAllocateList] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req allocateListRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		itemType := object.Type(req.ItemType)
		if !itemType.Valid() {
			return nil, apierr.CodeInvalidParameter
		}
		flags := object.CreateFlags(req.Flags)
		hasSession := flags&object.WithExternal != 0
		l, err := listobj.New(flags, sess, hasSession, itemType, d)
		if err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		id, err := d.inv.Add(l)
		if err != nil {
			return nil, apierr.CodeNoFreeObjectID
		}
		if hasSession {
			d.sessions.Track(sess, l.Header())
		}
		return allocateListResponse{ListID: id}, apierr.CodeSuccess
	}

	t[FunctionGetListLength] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req listIDRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		l, ok := d.resolveList(req.ListID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		return getListLengthResponse{Length: l.Length()}, apierr.CodeSuccess
	}

	t[FunctionGetListItem] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req getListItemRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		l, ok := d.resolveList(req.ListID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		id, err := l.GetItem(req.Index)
		if err != nil {
			return nil, codeOf(err)
		}
		return getListItemResponse{ItemObjectID: id}, apierr.CodeSuccess
	}

	t[FunctionAppendToList] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req appendToListRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		l, ok := d.resolveList(req.ListID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		if err := l.Append(req.ItemObjectID); err != nil {
			return nil, codeOf(err)
		}
		return nil, apierr.CodeSuccess
	}

	t[FunctionRemoveFromList] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req removeFromListRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		l, ok := d.resolveList(req.ListID)
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		if err := l.RemoveAt(req.Index); err != nil {
			return nil, codeOf(err)
		}
		return nil, apierr.CodeSuccess
	}
}

package wire

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/redapid/server/internal/apierr"
	"github.com/redapid/server/internal/inventory"
	"github.com/redapid/server/internal/object"
)

// openInventories is the handle table backing open_inventory/
// get_next_inventory_entry/rewind_inventory/get_inventory_type. A handle
// is not an object.ID: it never enters the shared 16-bit object id space,
// since an open iterator isn't itself refcounted or releasable through
// release_object — spec.md §6 names no close_inventory counterpart, so a
// handle simply lives until the connection that opened it drops (the
// dispatcher is one per daemon process in this port, so in practice these
// persist for the process lifetime; a future per-connection Dispatcher
// would scope this table per connection instead).
type inventoryHandle struct {
	it  *inventory.Iterator
	typ object.Type
}

type openInventories struct {
	next     uint16
	byHandle map[uint16]*inventoryHandle
}

func (d *Dispatcher) inventories() *openInventories {
	if d.inventoryHandles == nil {
		d.inventoryHandles = &openInventories{byHandle: make(map[uint16]*inventoryHandle)}
	}
	return d.inventoryHandles
}

type releaseObjectRequest struct {
	ObjectID object.ID `msgpack:"object_id"`
}

type openInventoryRequest struct {
	Type uint8 `msgpack:"type"`
}

type openInventoryResponse struct {
	InventoryID uint16 `msgpack:"inventory_id"`
}

type inventoryHandleRequest struct {
	InventoryID uint16 `msgpack:"inventory_id"`
}

type getInventoryTypeResponse struct {
	Type uint8 `msgpack:"type"`
}

type getNextInventoryEntryResponse struct {
	ObjectID object.ID `msgpack:"object_id"`
}

type getIdentityResponse struct {
	UID              uint32    `msgpack:"uid"`
	ConnectedUID     uint32    `msgpack:"connected_uid"`
	Position         byte      `msgpack:"position"`
	HardwareVersion  [3]uint8  `msgpack:"hardware_version"`
	FirmwareVersion  [3]uint8  `msgpack:"firmware_version"`
	DeviceIdentifier uint16    `msgpack:"device_identifier"`
}

func (d *Dispatcher) registerInventoryOps(t map[FunctionID]handlerFunc) {
	t[FunctionReleaseObject] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req releaseObjectRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		if err := d.release(sess, req.ObjectID); err != nil {
			return nil, codeOf(err)
		}
		return nil, apierr.CodeSuccess
	}

	t[FunctionOpenInventory] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req openInventoryRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		typ := object.Type(req.Type)
		if !typ.Valid() {
			return nil, apierr.CodeInvalidParameter
		}
		it, err := d.inv.OpenIterator(typ)
		if err != nil {
			return nil, apierr.CodeInternalError
		}
		handles := d.inventories()
		handles.next++
		handle := handles.next
		handles.byHandle[handle] = &inventoryHandle{it: it, typ: typ}
		return openInventoryResponse{InventoryID: handle}, apierr.CodeSuccess
	}

	t[FunctionGetInventoryType] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req inventoryHandleRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		h, ok := d.inventories().byHandle[req.InventoryID]
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		return getInventoryTypeResponse{Type: uint8(h.typ)}, apierr.CodeSuccess
	}

	t[FunctionGetNextInventoryEntry] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req inventoryHandleRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		h, ok := d.inventories().byHandle[req.InventoryID]
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		obj, ok, err := h.it.Next()
		if err != nil {
			return nil, apierr.CodeNoRewind
		}
		if !ok {
			return nil, apierr.CodeNoMoreData
		}
		return getNextInventoryEntryResponse{ObjectID: obj.Header().ID()}, apierr.CodeSuccess
	}

	t[FunctionRewindInventory] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		var req inventoryHandleRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, apierr.CodeInvalidParameter
		}
		h, ok := d.inventories().byHandle[req.InventoryID]
		if !ok {
			return nil, apierr.CodeUnknownObjectID
		}
		h.it.Rewind()
		return nil, apierr.CodeSuccess
	}

	t[FunctionGetIdentity] = func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code) {
		id := d.identity
		return getIdentityResponse{
			UID:              id.UID,
			ConnectedUID:     id.ConnectedUID,
			Position:         id.Position,
			HardwareVersion:  id.HardwareVersion,
			FirmwareVersion:  id.FirmwareVersion,
			DeviceIdentifier: id.DeviceIdentifier,
		}, apierr.CodeSuccess
	}
}

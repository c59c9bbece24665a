package wire

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/redapid/server/internal/apierr"
	"github.com/redapid/server/internal/daemonlog"
	"github.com/redapid/server/internal/events"
	"github.com/redapid/server/internal/eventloop"
	"github.com/redapid/server/internal/inventory"
	"github.com/redapid/server/internal/object"
	"github.com/redapid/server/internal/objects/directoryobj"
	"github.com/redapid/server/internal/objects/fileobj"
	"github.com/redapid/server/internal/objects/listobj"
	"github.com/redapid/server/internal/objects/procobj"
	"github.com/redapid/server/internal/objects/progobj"
	"github.com/redapid/server/internal/objects/strobj"
	"github.com/redapid/server/internal/session"
)

// handlerFunc decodes a request body, performs the operation against the
// Dispatcher's session (sess is NoSession-safe: most read-only operations
// ignore it, operations that take or drop an external reference require
// one), and returns a response body plus an apierr.Code. A nil body paired
// with CodeSuccess means the operation has no result fields.
type handlerFunc func(d *Dispatcher, sess object.SessionID, body msgpack.RawMessage) (any, apierr.Code)

// Dispatcher wires every object package, the inventory, the session
// registry, and the Program scheduler behind the wire-level function
// table (spec.md §6's "public object-API surface"). One Dispatcher serves
// every connection; all calls happen on the event loop goroutine, so
// nothing here takes a lock (§5).
type Dispatcher struct {
	log       *daemonlog.Logger
	inv       *inventory.Inventory
	sessions  *session.Registry
	loop      *eventloop.Loop
	bus       *events.Bus
	asyncPool *fileobj.AsyncPool
	scheduler *progobj.Scheduler

	inventoryHandles *openInventories
	pendingReads     map[object.ID]uint64
	spawnTrack       *programSpawnTracker
	metrics          SpawnCounter

	programsRoot string
	maxOpenFiles int
	identity     Identity

	handlers map[FunctionID]handlerFunc
}

// SpawnCounter is the one metrics hook the dispatcher calls directly,
// rather than through the event bus: a successful spawn has no envelope of
// its own (spawning isn't a callback-delivering event), unlike every other
// counter internal/metrics.Collector derives straight from bus traffic.
// internal/metrics.Collector satisfies this without wire importing it.
type SpawnCounter interface {
	IncProcessSpawned()
}

// SetMetrics installs the optional daemon metrics collector. Safe to call
// with nil (the default; Dispatch simply skips the call).
func (d *Dispatcher) SetMetrics(m SpawnCounter) { d.metrics = m }

// Identity answers get_identity (spec.md §6): the daemon's own uid on the
// transport, used by clients to distinguish which RED Brick they're
// talking to when more than one is reachable.
type Identity struct {
	UID              uint32
	ConnectedUID     uint32
	Position         byte
	HardwareVersion  [3]uint8
	FirmwareVersion  [3]uint8
	DeviceIdentifier uint16
}

// New builds a Dispatcher over a freshly created inventory, async file
// pool and program scheduler, plus the caller's session registry, event
// loop and bus. asyncWorkers and programsRoot come from
// internal/config.Daemon; maxOpenFiles is threaded into spawn_process the
// same way (see procobj.SpawnInputs.MaxOpenFiles).
func New(log *daemonlog.Logger, loop *eventloop.Loop, bus *events.Bus, sessions *session.Registry, asyncWorkers int, programsRoot string, maxOpenFiles int, identity Identity) *Dispatcher {
	d := &Dispatcher{
		log:          log,
		inv:          inventory.New(log),
		sessions:     sessions,
		loop:         loop,
		bus:          bus,
		asyncPool:    fileobj.NewAsyncPool(asyncWorkers),
		scheduler:    progobj.NewScheduler(),
		programsRoot: programsRoot,
		maxOpenFiles: maxOpenFiles,
		identity:     identity,
	}
	d.handlers = d.buildTable()
	return d
}

// Inventory exposes the live inventory to cmd/redapid-server for
// metrics/admin-CLI snapshots.
func (d *Dispatcher) Inventory() *inventory.Inventory { return d.inv }

// Scheduler exposes the Program scheduler so the daemon entrypoint can
// drive its tick off internal/config.Daemon.SchedulerTickInterval.
func (d *Dispatcher) Scheduler() *progobj.Scheduler { return d.scheduler }

// Dispatch decodes req's body per its FunctionID, runs the matching
// handler, and builds the Response frame. sess identifies the calling
// connection's session (object.SessionID(0) / hasSession=false for
// connections that never created one; most read-only operations don't
// need it). Unknown function ids come back as CodeInvalidParameter rather
// than a transport-level error, matching §7's "every public operation
// returns an error code; none raises out-of-band".
func (d *Dispatcher) Dispatch(req *Request, sess object.SessionID) *Response {
	resp := &Response{
		Header: Header{
			UID:        req.UID,
			FunctionID: req.FunctionID,
			Options:    req.Options,
		},
	}

	h, ok := d.handlers[req.FunctionID]
	if !ok {
		resp.ErrorCode = uint8(apierr.CodeInvalidParameter)
		return resp
	}

	out, code := h(d, sess, req.Body)
	resp.ErrorCode = uint8(code)
	if code == apierr.CodeSuccess {
		if body, err := encodeBody(out); err == nil {
			resp.Body = body
		} else {
			resp.ErrorCode = uint8(apierr.CodeInternalError)
		}
	}
	return resp
}

// codeOf classifies err the way every handler reports failure: nil maps
// to CodeSuccess, an *apierr.Error keeps its code, anything else is an
// unclassified bug surfaced as CodeUnknownError.
func codeOf(err error) apierr.Code {
	return apierr.CodeOf(err)
}

// --- object resolution helpers, shared across the per-kind handler files ---

func (d *Dispatcher) resolveString(id object.ID) (*strobj.String, bool) {
	obj, ok := d.inv.GetTyped(id, object.TypeString)
	if !ok {
		return nil, false
	}
	return obj.(*strobj.String), true
}

func (d *Dispatcher) resolveList(id object.ID) (*listobj.List, bool) {
	obj, ok := d.inv.GetTyped(id, object.TypeList)
	if !ok {
		return nil, false
	}
	return obj.(*listobj.List), true
}

func (d *Dispatcher) resolveFile(id object.ID) (*fileobj.File, bool) {
	obj, ok := d.inv.GetTyped(id, object.TypeFile)
	if !ok {
		return nil, false
	}
	return obj.(*fileobj.File), true
}

func (d *Dispatcher) resolveDirectory(id object.ID) (*directoryobj.Directory, bool) {
	obj, ok := d.inv.GetTyped(id, object.TypeDirectory)
	if !ok {
		return nil, false
	}
	return obj.(*directoryobj.Directory), true
}

func (d *Dispatcher) resolveProcess(id object.ID) (*procobj.Process, bool) {
	obj, ok := d.inv.GetTyped(id, object.TypeProcess)
	if !ok {
		return nil, false
	}
	return obj.(*procobj.Process), true
}

func (d *Dispatcher) resolveProgram(id object.ID) (*progobj.Program, bool) {
	obj, ok := d.inv.GetTyped(id, object.TypeProgram)
	if !ok {
		return nil, false
	}
	return obj.(*progobj.Program), true
}

// GetTyped implements listobj.Lookup and procobj.StringLookup's shared
// shape over the live inventory.
func (d *Dispatcher) GetTyped(id object.ID, typ object.Type) (object.Object, bool) {
	return d.inv.GetTyped(id, typ)
}

// GetString implements procobj.StringLookup.
func (d *Dispatcher) GetString(id object.ID) (*strobj.String, bool) {
	return d.resolveString(id)
}

// NewWrappedString implements progobj.ObjectFactory.
func (d *Dispatcher) NewWrappedString(value string) (*strobj.String, object.ID, error) {
	s, err := strobj.New(object.WithInternal, 0, false, len(value), []byte(value))
	if err != nil {
		return nil, object.NoID, apierr.Wrap(apierr.CodeInvalidParameter, "wire.NewWrappedString", err)
	}
	id, err := d.inv.Add(s)
	if err != nil {
		return nil, object.NoID, apierr.Wrap(apierr.CodeNoFreeObjectID, "wire.NewWrappedString", err)
	}
	return s, id, nil
}

// NewEmptyList implements progobj.ObjectFactory.
func (d *Dispatcher) NewEmptyList(itemType object.Type) (*listobj.List, object.ID, error) {
	l, err := listobj.New(object.WithInternal, 0, false, itemType, d)
	if err != nil {
		return nil, object.NoID, apierr.Wrap(apierr.CodeInvalidParameter, "wire.NewEmptyList", err)
	}
	id, err := d.inv.Add(l)
	if err != nil {
		return nil, object.NoID, apierr.Wrap(apierr.CodeNoFreeObjectID, "wire.NewEmptyList", err)
	}
	return l, id, nil
}

// release releases one external reference sess holds on id, regardless of
// type (release_object, spec.md §6). Destruction, if both refcounts drop
// to zero, happens synchronously inside RemoveExternal via the header's
// Remover callback into the inventory.
func (d *Dispatcher) release(sess object.SessionID, id object.ID) error {
	obj, ok := d.inv.Get(id)
	if !ok {
		return apierr.New(apierr.CodeUnknownObjectID, "wire.release")
	}
	h := obj.Header()
	if err := h.RemoveExternal(sess); err != nil {
		return apierr.New(apierr.CodeInvalidOperation, "wire.release")
	}
	d.sessions.Untrack(sess, h)
	return nil
}

func (d *Dispatcher) buildTable() map[FunctionID]handlerFunc {
	t := make(map[FunctionID]handlerFunc)
	d.registerInventoryOps(t)
	d.registerStringOps(t)
	d.registerListOps(t)
	d.registerFileOps(t)
	d.registerDirectoryOps(t)
	d.registerProcessOps(t)
	d.registerProgramOps(t)
	return t
}

package wire

import (
	"sync"

	"github.com/redapid/server/internal/events"
	"github.com/redapid/server/internal/object"
)

// CallbackRouter fans internal/events.Bus envelopes addressed to specific
// sessions out to each session's connection as an encoded Callback frame.
// cmd/redapid-server registers one transmit function per connection via
// Register as sessions are created, Unregister as they close or expire,
// and subscribes the router itself to the same Bus internal/metrics and
// the adapter package's Sink listen on.
//
// Grounded on the teacher's ipc package having no multi-subscriber
// broadcast concept of its own (quarry's frames are request/response only);
// this is new orchestration over internal/events.Sink and internal/wire's
// own Header/Callback/EncodeResponse, not adapted from any one teacher
// file.
type CallbackRouter struct {
	mu   sync.Mutex
	conn map[object.SessionID]func([]byte)
}

// NewCallbackRouter creates an empty router.
func NewCallbackRouter() *CallbackRouter {
	return &CallbackRouter{conn: make(map[object.SessionID]func([]byte))}
}

// Register installs send as sess's frame transmitter. cmd/redapid-server
// backs it with a mutex-guarded direct conn.Write; Emit calls each send in
// turn while holding the router's lock, so a send that blocks delays
// delivery to every session after it.
func (r *CallbackRouter) Register(sess object.SessionID, send func([]byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn[sess] = send
}

// Unregister removes sess's transmitter, e.g. on connection close or
// session expiry.
func (r *CallbackRouter) Unregister(sess object.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conn, sess)
}

// functionIDFor maps an events.Type to its wire callback FunctionID. ok is
// false for daemon-internal-only events (session_expired has no client
// audience, per internal/events' own doc comment) that never reach a
// connection.
func functionIDFor(t events.Type) (FunctionID, bool) {
	switch t {
	case events.TypeProcessStateChanged:
		return FunctionProcessStateChanged, true
	case events.TypeProgramProcessSpawned:
		return FunctionProgramProcessSpawned, true
	case events.TypeProgramSchedulerError:
		return FunctionProgramSchedulerErrorOccurred, true
	case events.TypeAsyncFileRead:
		return FunctionAsyncFileRead, true
	case events.TypeAsyncFileWrite:
		return FunctionAsyncFileWrite, true
	default:
		return 0, false
	}
}

// Emit implements events.Sink. Envelopes with no addressed session (every
// daemon-internal event, plus any future kind this router doesn't yet
// know) are silently dropped; a lookup miss for an addressed session means
// the connection already closed, which is not an error.
func (r *CallbackRouter) Emit(env events.Envelope) {
	if len(env.Sessions) == 0 {
		return
	}
	fid, ok := functionIDFor(env.Type)
	if !ok {
		return
	}
	body, err := encodeBody(env.Payload)
	if err != nil {
		return
	}
	frame, err := EncodeResponse(&Callback{Header: Header{FunctionID: fid}, Body: body})
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sess := range env.Sessions {
		if send, ok := r.conn[sess]; ok {
			send(frame)
		}
	}
}

// Package object implements the shared header every server-side object
// embeds: a 16-bit identifier, a dual internal/external reference count, a
// lock count, and a per-session external-reference ledger.
//
// All mutation here happens on the event loop goroutine (see
// internal/eventloop); nothing in this package takes a mutex, matching the
// single-threaded core the rest of the server assumes.
package object

import "fmt"

// ID identifies an object across all types. 0 (NoID) means "no object" in
// API responses and is never assigned to a live object.
type ID uint16

// NoID is the reserved id meaning "no object".
const NoID ID = 0

// Type is the kind of a server-side object. One 16-bit id space is shared
// across all types (invariant I2).
type Type uint8

// Object kinds, in the shutdown order used by the inventory (Program,
// Directory, File, Process, List, String is the *destruction* order;
// this declaration order is just the type enumeration).
const (
	TypeString Type = iota + 1
	TypeList
	TypeFile
	TypeDirectory
	TypeProcess
	TypeProgram
)

func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeList:
		return "list"
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeProcess:
		return "process"
	case TypeProgram:
		return "program"
	default:
		return "<unknown>"
	}
}

// Valid reports whether t is one of the six known object kinds.
func (t Type) Valid() bool {
	return t >= TypeString && t <= TypeProgram
}

// SessionID identifies a client session (internal/session.Registry owns
// allocation); kept here, rather than imported, to avoid a dependency
// cycle between object and session.
type SessionID uint16

// CreateFlags controls what references object creation establishes.
// At least one of WithInternal|WithExternal must be set; Locked requires
// WithInternal (mirrors the original create_flags contract).
type CreateFlags uint8

const (
	WithInternal CreateFlags = 1 << iota
	WithExternal
	Locked
)

// Object is implemented by every concrete object kind (String, List, File,
// Directory, Process, Program). Header returns the embedded header;
// Destroy releases whatever internal references/locks/OS resources the
// concrete type owns once the header's own bookkeeping has drained.
type Object interface {
	Header() *Header
	Destroy()
	Signature() string
}

// Remover is implemented by the inventory: once an object's dual refcount
// both hit zero, the header asks its owner to remove it by id, which
// triggers bucket removal and the generic + type-specific destruction
// sequence. The inventory looks the object back up by (id, typ) itself.
type Remover interface {
	RemoveByID(id ID, typ Type)
}

// externalRef is one session's share of an object's external references.
type externalRef struct {
	session SessionID
	count   uint32
}

// Header is the shared state every object embeds. Exported fields are
// intentionally absent: all mutation goes through the methods below so the
// refcount invariants (I1, I3, I4) cannot be bypassed by a caller poking a
// field directly.
type Header struct {
	id    ID
	typ   Type
	owner Remover

	internalRefs uint32
	externalRefs uint32
	lockCount    uint32

	// ledger is keyed by session for O(1) lookup/update; internal/session
	// keeps each session's own set of tracked headers to find which objects
	// to release on expiry, rather than this package tracking sessions.
	ledger map[SessionID]*externalRef

	removed bool
}

// NewHeader creates a header for a newly-constructed object. The object is
// not yet registered with an inventory (ID() is NoID) until Bind is called
// by the inventory on Add. flags must carry at least one of
// WithInternal|WithExternal; Locked requires WithInternal; WithExternal
// requires hasSession. Mirrors object_create's validation.
func NewHeader(typ Type, flags CreateFlags, session SessionID, hasSession bool) (*Header, error) {
	if flags&(WithInternal|WithExternal) == 0 {
		return nil, fmt.Errorf("object: invalid create flags 0x%02x: need WithInternal or WithExternal", flags)
	}
	if flags&WithExternal != 0 && !hasSession {
		return nil, fmt.Errorf("object: invalid create flags 0x%02x: WithExternal requires a session", flags)
	}
	if flags&Locked != 0 && flags&WithInternal == 0 {
		return nil, fmt.Errorf("object: invalid create flags 0x%02x: Locked requires WithInternal", flags)
	}

	h := &Header{
		typ:    typ,
		ledger: make(map[SessionID]*externalRef),
	}

	if flags&WithInternal != 0 {
		h.internalRefs = 1
	}
	if flags&WithExternal != 0 {
		h.addExternalLocked(session)
	}
	if flags&Locked != 0 {
		h.lockCount = 1
	}

	return h, nil
}

// Bind assigns the id the inventory allocated and records the inventory as
// the owner to notify when the dual refcount reaches zero. Called exactly
// once, by Inventory.Add.
func (h *Header) Bind(id ID, owner Remover) {
	h.id = id
	h.owner = owner
}

// ID returns the object's id, or NoID before Bind is called.
func (h *Header) ID() ID { return h.id }

// Type returns the object's kind.
func (h *Header) Type() Type { return h.typ }

// InternalRefCount returns the current internal reference count.
func (h *Header) InternalRefCount() uint32 { return h.internalRefs }

// ExternalRefCount returns the current external reference count, the sum
// over all sessions' ledger entries (invariant I1).
func (h *Header) ExternalRefCount() uint32 { return h.externalRefs }

// LockCount returns the current lock count; LockCount() > 0 means
// write-protected (invariant I4 is enforced by callers, e.g. strobj/listobj).
func (h *Header) LockCount() uint32 { return h.lockCount }

// Locked reports whether the object is currently write-protected.
func (h *Header) Locked() bool { return h.lockCount > 0 }

// AddInternal increments the internal reference count (object_add_internal_reference).
func (h *Header) AddInternal() {
	h.internalRefs++
}

// RemoveInternal decrements the internal reference count. Decrementing past
// zero is an internal bug: logged by the caller (the object package itself
// has no logger dependency) and ignored, matching object_remove_internal_reference.
// Returns true if the caller should log a bug report.
func (h *Header) RemoveInternal() (becameZero bool, bug bool) {
	if h.internalRefs == 0 {
		return false, true
	}
	h.internalRefs--
	if h.isDead() {
		h.notifyOwner()
		return true, false
	}
	return false, false
}

// AddExternal increments the session's share of the external reference
// count, creating a ledger entry if this is the session's first reference
// to the object (object_add_external_reference).
func (h *Header) AddExternal(session SessionID) {
	h.addExternalLocked(session)
}

func (h *Header) addExternalLocked(session SessionID) {
	if entry, ok := h.ledger[session]; ok {
		entry.count++
	} else {
		h.ledger[session] = &externalRef{session: session, count: 1}
	}
	h.externalRefs++
}

// RemoveExternal decrements the session's share of the external reference
// count by one, removing the ledger entry if it reaches zero, and destroys
// the object if both counts are now zero. Returns an error if the session
// holds no reference (object_release's "already zero" check).
func (h *Header) RemoveExternal(session SessionID) error {
	entry, ok := h.ledger[session]
	if !ok {
		return fmt.Errorf("object: session %d holds no external reference to object %d", session, h.id)
	}

	entry.count--
	h.externalRefs--
	if entry.count == 0 {
		delete(h.ledger, session)
	}

	if h.isDead() {
		h.notifyOwner()
	}
	return nil
}

// RemoveAllExternalForSession drops a session's entire share of external
// references in one step (the O(1)-per-entry bulk release the session
// registry's expiry sweep needs, rather than RemoveExternal called count
// times). No-op if the session holds no reference.
func (h *Header) RemoveAllExternalForSession(session SessionID) {
	entry, ok := h.ledger[session]
	if !ok {
		return
	}
	h.externalRefs -= entry.count
	delete(h.ledger, session)

	if h.isDead() {
		h.notifyOwner()
	}
}

// Lock increments the lock count (object_lock).
func (h *Header) Lock() {
	h.lockCount++
}

// Unlock decrements the lock count. Underflow is an internal bug (logged
// by the caller); returns true when the caller should log it.
func (h *Header) Unlock() (bug bool) {
	if h.lockCount == 0 {
		return true
	}
	h.lockCount--
	return false
}

// HasExternalRef reports whether the given session currently holds any
// external reference to this object; used by the Process/Program main-loop
// handlers to decide whether a state-changed callback has a session to
// deliver to.
func (h *Header) HasExternalRef(session SessionID) bool {
	_, ok := h.ledger[session]
	return ok
}

// Sessions returns the set of sessions currently holding an external
// reference, for broadcasting a callback to "every such session" (§4.6).
func (h *Header) Sessions() []SessionID {
	out := make([]SessionID, 0, len(h.ledger))
	for s := range h.ledger {
		out = append(out, s)
	}
	return out
}

// DrainExternalRefs forcibly empties the ledger without consulting any
// session, returning the sessions that held references. Used only by
// object destruction during global shutdown (object_destroy's defensive
// drain); in steady state the ledger is already empty by the time destroy
// runs because RemoveExternal/RemoveAllExternalForSession already brought
// both counts to zero.
func (h *Header) DrainExternalRefs() []SessionID {
	sessions := make([]SessionID, 0, len(h.ledger))
	for s, entry := range h.ledger {
		h.externalRefs -= entry.count
		sessions = append(sessions, s)
	}
	h.ledger = make(map[SessionID]*externalRef)
	return sessions
}

func (h *Header) isDead() bool {
	return h.internalRefs == 0 && h.externalRefs == 0
}

func (h *Header) notifyOwner() {
	if h.removed || h.owner == nil {
		return
	}
	// The Remover looks the Object back up by id; Header itself does not
	// hold the enclosing Object to avoid every leaf type needing to pass
	// itself in in the same call. Inventory.RemoveByID re-resolves via its
	// bucket, which is why Bind happens before any reference mutation can
	// observe a live header.
	h.removed = true
	h.owner.RemoveByID(h.id, h.typ)
}

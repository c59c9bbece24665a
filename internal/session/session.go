// Package session implements the client session registry: per-client
// handles with a renewable lifetime, each tracking which objects it holds
// external references to so those references can be bulk-released in one
// pass when the session expires.
//
// Grounded on spec.md §4.3, and on object.c's session_node/external_reference
// bookkeeping: the original keeps every external_reference node on two
// intrusive lists at once (the object's and the session's); here the
// session's side of that is a plain set of *object.Header, and the
// object's side is internal/object's ledger.
package session

import (
	"fmt"
	"time"

	"github.com/redapid/server/internal/idpool"
	"github.com/redapid/server/internal/object"
)

// ID identifies a session, drawn from its own 16-bit space distinct from
// object.ID's.
type ID = object.SessionID

const maxID = ID(65535)

// EventSink receives registry lifecycle notifications. Satisfied by
// events.SessionSink, which forwards them onto the event bus; nil-safe via
// noopSink.
type EventSink interface {
	SessionExpired(id ID, label string)
}

type noopSink struct{}

func (noopSink) SessionExpired(ID, string) {}

// Logger is the minimal warning sink the registry needs.
type Logger interface {
	Warnw(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Warnw(string, ...any) {}

// entry is one live session's bookkeeping.
type entry struct {
	id       ID
	label    string
	deadline time.Time
	refs     map[*object.Header]struct{}
}

// Registry owns every live session. Like internal/inventory, it assumes a
// single caller (the event loop goroutine).
type Registry struct {
	log   Logger
	sink  EventSink
	ids   *idpool.Pool[ID]
	byID  map[ID]*entry
	clock func() time.Time
}

// New creates an empty registry. log and sink may be nil.
func New(log Logger, sink EventSink) *Registry {
	if log == nil {
		log = nopLogger{}
	}
	if sink == nil {
		sink = noopSink{}
	}
	return &Registry{
		log:   log,
		sink:  sink,
		ids:   idpool.New(maxID),
		byID:  make(map[ID]*entry),
		clock: time.Now,
	}
}

// Create allocates a new session with the given lifetime and optional
// diagnostic label (spec.md §4.3's `create(lifetime) → SessionId`, plus the
// FULL label extension).
func (r *Registry) Create(lifetime time.Duration, label string) (ID, error) {
	id, err := r.ids.Allocate()
	if err != nil {
		return 0, fmt.Errorf("session: %w", err)
	}
	r.byID[id] = &entry{
		id:       id,
		label:    label,
		deadline: r.clock().Add(lifetime),
		refs:     make(map[*object.Header]struct{}),
	}
	return id, nil
}

// KeepAlive extends a session's deadline by lifetime from now. Returns
// false if the session does not exist (already expired or never created).
func (r *Registry) KeepAlive(id ID, lifetime time.Duration) bool {
	e, ok := r.byID[id]
	if !ok {
		return false
	}
	e.deadline = r.clock().Add(lifetime)
	return true
}

// Track records that a session now holds at least one external reference
// to h, so Expire knows to release it. Called by whatever assigns the
// external reference (the dispatcher, or a leaf object's creation path),
// immediately after object.Header.AddExternal.
func (r *Registry) Track(id ID, h *object.Header) {
	e, ok := r.byID[id]
	if !ok {
		return
	}
	e.refs[h] = struct{}{}
}

// Untrack drops the bookkeeping entry for h, once the caller knows the
// session no longer holds any reference to it (e.g. after a normal
// RemoveExternal call brings that session's share to zero). Purely a
// memory-bound cleanup; Expire is correct even if this is never called; an
// un-tracked header with no remaining reference for the session is simply a
// no-op when RemoveAllExternalForSession runs.
func (r *Registry) Untrack(id ID, h *object.Header) {
	e, ok := r.byID[id]
	if !ok {
		return
	}
	delete(e.refs, h)
}

// Expire destroys a session immediately, releasing every external
// reference it holds in one pass per object (invariant: after Expire, no
// live ledger entry references the freed session).
func (r *Registry) Expire(id ID) bool {
	e, ok := r.byID[id]
	if !ok {
		return false
	}
	for h := range e.refs {
		h.RemoveAllExternalForSession(id)
	}
	delete(r.byID, id)
	r.ids.Release(id)
	r.sink.SessionExpired(id, e.label)
	return true
}

// Sweep expires every session whose deadline has passed as of now,
// returning the ids it expired. Intended to be called from a
// time.Ticker-driven handler in the event loop (spec.md §4.4's periodic
// session-sweep timer).
func (r *Registry) Sweep(now time.Time) []ID {
	var expired []ID
	for id, e := range r.byID {
		if !now.Before(e.deadline) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		r.log.Warnw("session: expiring session past deadline", "session_id", id)
		r.Expire(id)
	}
	return expired
}

// Exists reports whether id is a currently live session.
func (r *Registry) Exists(id ID) bool {
	_, ok := r.byID[id]
	return ok
}

// Count returns the number of currently live sessions.
func (r *Registry) Count() int {
	return len(r.byID)
}

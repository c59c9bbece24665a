// Package inventory is the single registry that owns every live object: it
// assigns the shared 16-bit id space, buckets objects by type, and drives
// the type-indexed iterators the object-enumeration API exposes to clients.
//
// Grounded on object_table.c: a LIFO free-id pool backed by a monotonic
// next-id counter, per-type iteration cursors that are adjusted in place
// when a bucket is mutated out from under an open iterator, and a fixed
// shutdown destruction order.
//
// Like internal/object, everything here assumes a single caller (the event
// loop goroutine); no field is guarded by a mutex.
package inventory

import (
	"fmt"
	"sort"

	"github.com/redapid/server/internal/idpool"
	"github.com/redapid/server/internal/object"
)

// shutdownOrder is the fixed destruction order object_table.c uses:
// Program and Directory first (so they release the File/Process/String/List
// objects they reference), then File and Process, then the leaf value types.
var shutdownOrder = []object.Type{
	object.TypeProgram,
	object.TypeDirectory,
	object.TypeFile,
	object.TypeProcess,
	object.TypeList,
	object.TypeString,
}

// maxID is the largest assignable id; ids are 16-bit and 0 (object.NoID) is
// reserved, so the usable range is [1, 65535].
const maxID = object.ID(65535)

// Logger is the minimal warning sink the inventory needs. daemonlog.Logger
// satisfies it without this package importing daemonlog directly.
type Logger interface {
	Warnw(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Warnw(string, ...any) {}

// bucket holds one type's live objects in insertion order, plus an id→index
// map kept in sync on every ordered-shift removal, and the set of iterators
// currently open over it.
type bucket struct {
	objects []object.Object
	byID    map[object.ID]int
	iters   map[*Iterator]struct{}
}

func newBucket() *bucket {
	return &bucket{byID: make(map[object.ID]int), iters: make(map[*Iterator]struct{})}
}

// Inventory is the process-wide object table.
type Inventory struct {
	log Logger

	buckets map[object.Type]*bucket
	byID    map[object.ID]object.Object

	ids *idpool.Pool[object.ID]
}

// New creates an empty inventory. log may be nil, in which case warnings
// are discarded.
func New(log Logger) *Inventory {
	if log == nil {
		log = nopLogger{}
	}
	buckets := make(map[object.Type]*bucket, len(shutdownOrder))
	for _, t := range shutdownOrder {
		buckets[t] = newBucket()
	}
	return &Inventory{
		log:     log,
		buckets: buckets,
		byID:    make(map[object.ID]object.Object),
		ids:     idpool.New(maxID),
	}
}

// Add registers obj, allocating and binding its id. obj.Header() must not
// yet be bound (ID() == object.NoID).
func (inv *Inventory) Add(obj object.Object) (object.ID, error) {
	h := obj.Header()
	if h.ID() != object.NoID {
		return object.NoID, fmt.Errorf("inventory: object already bound to id %d", h.ID())
	}
	typ := h.Type()
	b, ok := inv.buckets[typ]
	if !ok {
		return object.NoID, fmt.Errorf("inventory: unknown object type %v", typ)
	}

	id, err := inv.ids.Allocate()
	if err != nil {
		return object.NoID, fmt.Errorf("inventory: %w", err)
	}

	h.Bind(id, inv)
	b.byID[id] = len(b.objects)
	b.objects = append(b.objects, obj)
	inv.byID[id] = obj

	return id, nil
}

// Get looks up a live object by id, regardless of type.
func (inv *Inventory) Get(id object.ID) (object.Object, bool) {
	obj, ok := inv.byID[id]
	return obj, ok
}

// GetTyped looks up a live object by id, additionally checking it has the
// expected type (the Code__UNKNOWN_OBJECT_ID vs. a type-mismatch are both
// surfaced by callers as CodeUnknownObjectID; see apierr).
func (inv *Inventory) GetTyped(id object.ID, typ object.Type) (object.Object, bool) {
	obj, ok := inv.byID[id]
	if !ok || obj.Header().Type() != typ {
		return nil, false
	}
	return obj, true
}

// Count returns the number of live objects of the given type.
func (inv *Inventory) Count(typ object.Type) int {
	b, ok := inv.buckets[typ]
	if !ok {
		return 0
	}
	return len(b.objects)
}

// RemoveByID implements object.Remover: called by a Header once its dual
// refcount reaches zero. Removes obj from its bucket, recycles its id, and
// invokes the concrete type's Destroy. Any open iterator over the same
// bucket has its cursor adjusted so it neither skips nor repeats an entry.
func (inv *Inventory) RemoveByID(id object.ID, typ object.Type) {
	obj, ok := inv.byID[id]
	if !ok {
		inv.log.Warnw("inventory: RemoveByID for unknown id", "id", id, "type", typ)
		return
	}
	inv.remove(obj)
	obj.Destroy()
}

// remove splices obj out of its bucket and recycles its id; it does not
// call Destroy, so Shutdown can log/drain before destroying.
//
// Uses an ordered shift-down (not swap-remove): every element after idx
// moves back by one. object_table_remove_object's cursor-adjustment rule
// (it.onRemove) assumes this shape — a swap-remove would move the bucket's
// last (possibly still-unvisited) element behind an open iterator's cursor,
// causing it to be skipped while some already-visited element is re-yielded.
func (inv *Inventory) remove(obj object.Object) {
	h := obj.Header()
	id := h.ID()
	typ := h.Type()

	b := inv.buckets[typ]
	idx, ok := b.byID[id]
	if !ok {
		return
	}

	last := len(b.objects) - 1
	copy(b.objects[idx:last], b.objects[idx+1:])
	b.objects[last] = nil
	b.objects = b.objects[:last]
	delete(b.byID, id)
	for i := idx; i < len(b.objects); i++ {
		b.byID[b.objects[i].Header().ID()] = i
	}

	for it := range b.iters {
		it.onRemove(idx, last)
	}

	delete(inv.byID, id)
	inv.ids.Release(id)
}

// Shutdown forcibly destroys every remaining object in the fixed order
// {Program, Directory, File, Process, List, String}, bypassing the normal
// refcount-reaches-zero gate. Objects still externally referenced or locked
// at shutdown are logged (a client never released them, or the process is
// exiting with sessions still open) and destroyed anyway.
func (inv *Inventory) Shutdown() {
	for _, typ := range shutdownOrder {
		b := inv.buckets[typ]
		// Copy first: remove() mutates b.objects as it walks.
		remaining := make([]object.Object, len(b.objects))
		copy(remaining, b.objects)

		for _, obj := range remaining {
			h := obj.Header()
			if h.ExternalRefCount() > 0 || h.Locked() {
				inv.log.Warnw("inventory: forcing shutdown destroy of referenced object",
					"id", h.ID(), "type", typ,
					"external_refs", h.ExternalRefCount(), "lock_count", h.LockCount())
			}
			h.DrainExternalRefs()
			inv.remove(obj)
			obj.Destroy()
		}
	}
}

// Iterator is a client-visible cursor over one type bucket. Unlike a plain
// slice index, Open/Next/Rewind follow object_table.c's contract: a freshly
// opened iterator is NOT rewound (Next returns CodeNoRewind-equivalent
// until Rewind is called), and removals occurring while the iterator is
// open shift its cursor so it never re-yields or skips an entry.
type Iterator struct {
	typ       object.Type
	b         *bucket
	next      int // index of the next element to yield; -1 means not rewound
	rewound   bool
	exhausted bool
}

// OpenIterator opens a new cursor over typ's bucket. The cursor starts
// un-rewound; callers must call Rewind before the first Next.
func (inv *Inventory) OpenIterator(typ object.Type) (*Iterator, error) {
	b, ok := inv.buckets[typ]
	if !ok {
		return nil, fmt.Errorf("inventory: unknown object type %v", typ)
	}
	it := &Iterator{typ: typ, b: b, next: -1}
	b.iters[it] = struct{}{}
	return it, nil
}

// Close releases the iterator's hold on its bucket. Safe to call more than
// once.
func (it *Iterator) Close() {
	if it.b == nil {
		return
	}
	delete(it.b.iters, it)
	it.b = nil
}

// Rewind resets the cursor to the start of the bucket.
func (it *Iterator) Rewind() {
	it.next = 0
	it.rewound = true
	it.exhausted = false
}

// Next returns the next live object in iteration order, or ok=false once
// the bucket is exhausted. Returns an error if the iterator was never
// rewound (mirrors object_table_get_next_entry's NO_REWIND check).
func (it *Iterator) Next() (obj object.Object, ok bool, err error) {
	if !it.rewound {
		return nil, false, fmt.Errorf("inventory: iterator not rewound")
	}
	if it.next >= len(it.b.objects) {
		it.exhausted = true
		return nil, false, nil
	}
	obj = it.b.objects[it.next]
	it.next++
	return obj, true, nil
}

// onRemove adjusts the cursor when the bucket removes the element at idx,
// shifting every following element back by one (see remove()). Mirrors
// object_table_remove_object's rule: if the removed index is strictly
// before the cursor, the cursor shifts back by one so the element that
// shifted into its old slot is not re-visited. If the removed index is at
// or after the cursor, every unvisited element keeps its relative order
// (just shifted down), so the cursor itself does not need to move.
func (it *Iterator) onRemove(removedIdx, lastIdx int) {
	if !it.rewound {
		return
	}
	if removedIdx < it.next {
		it.next--
	}
}

// Types returns the six object kinds in shutdown order, exposed so the
// admin CLI can enumerate "all buckets" without importing object directly.
func Types() []object.Type {
	out := make([]object.Type, len(shutdownOrder))
	copy(out, shutdownOrder)
	return out
}

// Snapshot returns a stable-ordered (by id) slice of every live object of
// the given type, for callers (the TUI, diagnostics) that want a point-in-
// time view rather than an iterator.
func (inv *Inventory) Snapshot(typ object.Type) []object.Object {
	b, ok := inv.buckets[typ]
	if !ok {
		return nil
	}
	out := make([]object.Object, len(b.objects))
	copy(out, b.objects)
	sort.Slice(out, func(i, j int) bool { return out[i].Header().ID() < out[j].Header().ID() })
	return out
}

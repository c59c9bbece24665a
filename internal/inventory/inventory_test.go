package inventory

import (
	"testing"

	"github.com/redapid/server/internal/object"
)

// fakeObject is a minimal object.Object used to exercise the inventory
// without pulling in any concrete leaf type.
type fakeObject struct {
	h         *object.Header
	destroyed bool
}

func newFake(t *testing.T, typ object.Type, flags object.CreateFlags) *fakeObject {
	t.Helper()
	h, err := object.NewHeader(typ, flags, 1, flags&object.WithExternal != 0)
	if err != nil {
		t.Fatalf("NewHeader: %v", err)
	}
	return &fakeObject{h: h}
}

func (f *fakeObject) Header() *object.Header { return f.h }
func (f *fakeObject) Destroy()               { f.destroyed = true }
func (f *fakeObject) Signature() string      { return "fake" }

func TestAddAssignsSequentialIDsStartingAtOne(t *testing.T) {
	inv := New(nil)
	a := newFake(t, object.TypeString, object.WithInternal)
	b := newFake(t, object.TypeString, object.WithInternal)

	idA, err := inv.Add(a)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	idB, err := inv.Add(b)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if idA != 1 || idB != 2 {
		t.Fatalf("ids = %d, %d, want 1, 2", idA, idB)
	}
}

func TestRemoveByIDRecyclesMostRecentID(t *testing.T) {
	inv := New(nil)
	a := newFake(t, object.TypeString, object.WithInternal)
	if _, err := inv.Add(a); err != nil {
		t.Fatalf("Add: %v", err)
	}
	b := newFake(t, object.TypeString, object.WithInternal)
	idB, err := inv.Add(b)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if idB != 2 {
		t.Fatalf("idB = %d, want 2", idB)
	}

	// a keeps an extra internal ref so it stays alive and its id does not
	// enter the free pool; only b's single ref is dropped, driving its
	// dual refcount to zero and triggering RemoveByID via the header.
	a.h.AddInternal()
	b.h.RemoveInternal()
	if !b.destroyed {
		t.Fatalf("expected b to be destroyed once its refcount hit zero")
	}

	c := newFake(t, object.TypeString, object.WithInternal)
	idC, err := inv.Add(c)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if idC != 2 {
		t.Fatalf("idC = %d, want 2 (recycled from b)", idC)
	}
}

func TestRemoveByIDUnknownIDIsIgnored(t *testing.T) {
	inv := New(nil)
	// Must not panic.
	inv.RemoveByID(object.ID(999), object.TypeString)
}

func TestShutdownDestroysEverythingRegardlessOfRefcount(t *testing.T) {
	inv := New(nil)
	prog := newFake(t, object.TypeProgram, object.WithExternal)
	str := newFake(t, object.TypeString, object.WithExternal)
	if _, err := inv.Add(prog); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := inv.Add(str); err != nil {
		t.Fatalf("Add: %v", err)
	}

	inv.Shutdown()

	if !prog.destroyed || !str.destroyed {
		t.Fatalf("expected both objects destroyed by Shutdown")
	}
	if inv.Count(object.TypeProgram) != 0 || inv.Count(object.TypeString) != 0 {
		t.Fatalf("expected empty buckets after Shutdown")
	}
}

func TestIteratorRequiresRewindBeforeNext(t *testing.T) {
	inv := New(nil)
	a := newFake(t, object.TypeList, object.WithInternal)
	if _, err := inv.Add(a); err != nil {
		t.Fatalf("Add: %v", err)
	}

	it, err := inv.OpenIterator(object.TypeList)
	if err != nil {
		t.Fatalf("OpenIterator: %v", err)
	}
	defer it.Close()

	if _, _, err := it.Next(); err == nil {
		t.Fatalf("expected error calling Next before Rewind")
	}
}

func TestIteratorYieldsAllThenExhausts(t *testing.T) {
	inv := New(nil)
	ids := make([]object.ID, 0, 3)
	for i := 0; i < 3; i++ {
		obj := newFake(t, object.TypeList, object.WithInternal)
		id, err := inv.Add(obj)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		ids = append(ids, id)
	}

	it, err := inv.OpenIterator(object.TypeList)
	if err != nil {
		t.Fatalf("OpenIterator: %v", err)
	}
	defer it.Close()
	it.Rewind()

	seen := map[object.ID]bool{}
	for {
		obj, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		seen[obj.Header().ID()] = true
	}
	if len(seen) != len(ids) {
		t.Fatalf("saw %d objects, want %d", len(seen), len(ids))
	}
}

func TestIteratorCursorAdjustsWhenEarlierElementRemoved(t *testing.T) {
	inv := New(nil)
	objs := make([]*fakeObject, 3)
	for i := range objs {
		objs[i] = newFake(t, object.TypeList, object.WithInternal)
		if _, err := inv.Add(objs[i]); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	it, err := inv.OpenIterator(object.TypeList)
	if err != nil {
		t.Fatalf("OpenIterator: %v", err)
	}
	defer it.Close()
	it.Rewind()

	first, ok, err := it.Next()
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	_ = first

	// Removing objs[0] (index 0, already consumed) must not affect the
	// cursor's next position relative to what remains unvisited.
	objs[0].h.RemoveInternal()

	remaining := map[object.ID]bool{}
	for {
		obj, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		remaining[obj.Header().ID()] = true
	}
	// objs[1] and objs[2] must both still be visited exactly once.
	if len(remaining) != 2 {
		t.Fatalf("remaining = %v, want 2 entries", remaining)
	}
}

// TestIteratorNoSkipOrDuplicateOnMidRemoval reproduces the scenario a
// sequence of independent get_next_inventory_entry requests can hit in
// production: five objects, three already visited, then an object behind
// the cursor is released by an unrelated request. Every remaining object
// must be yielded exactly once; none may be skipped or repeated.
func TestIteratorNoSkipOrDuplicateOnMidRemoval(t *testing.T) {
	inv := New(nil)
	objs := make([]*fakeObject, 5)
	for i := range objs {
		objs[i] = newFake(t, object.TypeList, object.WithInternal)
		if _, err := inv.Add(objs[i]); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	it, err := inv.OpenIterator(object.TypeList)
	if err != nil {
		t.Fatalf("OpenIterator: %v", err)
	}
	defer it.Close()
	it.Rewind()

	// Visit a, b, c (indices 0, 1, 2).
	for i := 0; i < 3; i++ {
		if _, ok, err := it.Next(); err != nil || !ok {
			t.Fatalf("Next[%d]: ok=%v err=%v", i, ok, err)
		}
	}

	// Release b (index 1): already visited, two unvisited elements remain.
	objs[1].h.RemoveInternal()

	seen := map[object.ID]int{}
	for {
		obj, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		seen[obj.Header().ID()]++
	}

	if seen[objs[3].h.ID()] != 1 {
		t.Fatalf("objs[3] yielded %d times, want 1", seen[objs[3].h.ID()])
	}
	if seen[objs[4].h.ID()] != 1 {
		t.Fatalf("objs[4] yielded %d times, want 1", seen[objs[4].h.ID()])
	}
	if seen[objs[2].h.ID()] != 0 {
		t.Fatalf("objs[2] (already visited) re-yielded %d times, want 0", seen[objs[2].h.ID()])
	}
	if len(seen) != 2 {
		t.Fatalf("seen = %v, want exactly 2 distinct unvisited ids", seen)
	}
}

func TestOpenIteratorUnknownTypeErrors(t *testing.T) {
	inv := New(nil)
	if _, err := inv.OpenIterator(object.Type(99)); err == nil {
		t.Fatalf("expected error opening iterator over unknown type")
	}
}

func TestSnapshotIsSortedByID(t *testing.T) {
	inv := New(nil)
	for i := 0; i < 3; i++ {
		obj := newFake(t, object.TypeFile, object.WithInternal)
		if _, err := inv.Add(obj); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	snap := inv.Snapshot(object.TypeFile)
	if len(snap) != 3 {
		t.Fatalf("len(snap) = %d, want 3", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i-1].Header().ID() >= snap[i].Header().ID() {
			t.Fatalf("snapshot not sorted by id: %v", snap)
		}
	}
}

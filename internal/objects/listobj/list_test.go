package listobj

import (
	"testing"

	"github.com/redapid/server/internal/apierr"
	"github.com/redapid/server/internal/object"
	"github.com/redapid/server/internal/objects/strobj"
)

type fakeLookup struct {
	items map[object.ID]object.Object
}

func newFakeLookup() *fakeLookup { return &fakeLookup{items: make(map[object.ID]object.Object)} }

func (f *fakeLookup) add(id object.ID, obj object.Object) {
	obj.Header().Bind(id, fakeRemover{})
	f.items[id] = obj
}

func (f *fakeLookup) GetTyped(id object.ID, typ object.Type) (object.Object, bool) {
	obj, ok := f.items[id]
	if !ok || obj.Header().Type() != typ {
		return nil, false
	}
	return obj, true
}

type fakeRemover struct{}

func (fakeRemover) RemoveByID(object.ID, object.Type) {}

func newString(t *testing.T) *strobj.String {
	t.Helper()
	s, err := strobj.New(object.WithInternal, 0, false, 16, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAppendAndRemove(t *testing.T) {
	lookup := newFakeLookup()
	item1 := newString(t)
	lookup.add(1, item1)

	l, err := New(object.WithExternal, 1, true, object.TypeString, lookup)
	if err != nil {
		t.Fatal(err)
	}

	if err := l.Append(1); err != nil {
		t.Fatal(err)
	}
	if item1.Header().InternalRefCount() != 2 {
		t.Fatalf("internal ref count = %d, want 2 after append (its own + the list's)", item1.Header().InternalRefCount())
	}
	if l.Length() != 1 {
		t.Fatalf("length = %d, want 1", l.Length())
	}

	if err := l.RemoveAt(0); err != nil {
		t.Fatal(err)
	}
	if l.Length() != 0 {
		t.Fatalf("length after removal = %d, want 0", l.Length())
	}
}

func TestLockPreventsAppendAndRemove(t *testing.T) {
	lookup := newFakeLookup()
	item1 := newString(t)
	lookup.add(1, item1)

	l, err := New(object.WithInternal, 0, false, object.TypeString, lookup)
	if err != nil {
		t.Fatal(err)
	}
	l.Header().Lock()

	if err := l.Append(1); apierr.CodeOf(err) != apierr.CodeLocked {
		t.Fatalf("Append while locked = %v, want CodeLocked", err)
	}
}

func TestAppendWrongTypeFails(t *testing.T) {
	lookup := newFakeLookup()
	l, err := New(object.WithInternal, 0, false, object.TypeString, lookup)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Append(99); apierr.CodeOf(err) != apierr.CodeInvalidParameter {
		t.Fatalf("Append unknown id = %v, want CodeInvalidParameter", err)
	}
}

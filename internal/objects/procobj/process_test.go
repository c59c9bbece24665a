package procobj

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/redapid/server/internal/object"
	"github.com/redapid/server/internal/objects/listobj"
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

func newString(t *testing.T, lookup *fakeLookup, id object.ID, value string) *strobj.String {
	t.Helper()
	s, err := strobj.New(object.WithInternal, 0, false, len(value), []byte(value))
	if err != nil {
		t.Fatal(err)
	}
	lookup.add(id, s)
	return s
}

func newStringList(t *testing.T, lookup *fakeLookup, id object.ID, items ...object.ID) *listobj.List {
	t.Helper()
	l, err := listobj.New(object.WithInternal, 0, false, object.TypeString, lookup)
	if err != nil {
		t.Fatal(err)
	}
	for _, item := range items {
		if err := l.Append(item); err != nil {
			t.Fatal(err)
		}
	}
	lookup.add(id, l)
	return l
}

func resolveExecutable(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("true")
	if err != nil {
		t.Skip("no 'true' binary on PATH; skipping process spawn test")
	}
	return path
}

func TestSpawnAndWaitExits(t *testing.T) {
	lookup := newFakeLookup()

	executable := newString(t, lookup, 1, resolveExecutable(t))
	arguments := newStringList(t, lookup, 2)
	newString(t, lookup, 4, "FOO=bar")
	environment := newStringList(t, lookup, 3, 4)
	workingDir := newString(t, lookup, 5, "/")

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer devNull.Close()

	stdin := NewStdioHandle(mustHeader(t), devNull)
	stdout := NewStdioHandle(mustHeader(t), devNull)
	stderr := NewStdioHandle(mustHeader(t), devNull)

	in := SpawnInputs{
		Executable:         executable,
		ExecutableID:       1,
		Arguments:          arguments,
		ArgumentsID:        2,
		Environment:        environment,
		EnvironmentID:      3,
		WorkingDirectory:   workingDir,
		WorkingDirectoryID: 5,
		Stdin:              stdin,
		Stdout:             stdout,
		Stderr:             stderr,
	}

	p, err := Spawn(object.WithInternal, 0, false, in)
	if err != nil {
		t.Fatal(err)
	}
	if p.State() != StateRunning {
		t.Fatalf("state after spawn = %v, want running", p.State())
	}
	if executable.Header().InternalRefCount() != 2 {
		t.Fatalf("executable internal refs = %d, want 2 (its own + the process's)", executable.Header().InternalRefCount())
	}

	select {
	case change := <-p.Changes():
		if !change.State.IsAlive() && change.State != StateExited {
			t.Fatalf("unexpected terminal state %v", change.State)
		}
		p.HandleStateChange(change)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit")
	}

	if p.State() != StateExited {
		t.Fatalf("final state = %v, want exited", p.State())
	}

	// In the real server, the inventory calls Destroy once both the
	// process's own internal and external refcounts reach zero; here we
	// call it directly since this test never registers p with one.
	p.Destroy()
	if executable.Header().InternalRefCount() != 1 {
		t.Fatalf("executable internal refs after destroy = %d, want 1 (only its own)", executable.Header().InternalRefCount())
	}
}

func mustHeader(t *testing.T) *object.Header {
	t.Helper()
	h, err := object.NewHeader(object.TypeFile, object.WithInternal, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

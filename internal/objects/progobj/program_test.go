package progobj

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redapid/server/internal/apierr"
	"github.com/redapid/server/internal/config"
	"github.com/redapid/server/internal/object"
	"github.com/redapid/server/internal/objects/listobj"
	"github.com/redapid/server/internal/objects/strobj"
)

type fakeLookup struct {
	items  map[object.ID]object.Object
	nextID object.ID
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{items: make(map[object.ID]object.Object)}
}

func (f *fakeLookup) bind(obj object.Object) object.ID {
	f.nextID++
	obj.Header().Bind(f.nextID, fakeRemover{})
	f.items[f.nextID] = obj
	return f.nextID
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

type fakeFactory struct {
	lookup *fakeLookup
}

func (f *fakeFactory) NewWrappedString(value string) (*strobj.String, object.ID, error) {
	s, err := strobj.New(object.WithInternal, 0, false, len(value), []byte(value))
	if err != nil {
		return nil, object.NoID, err
	}
	return s, f.lookup.bind(s), nil
}

func (f *fakeFactory) NewEmptyList(itemType object.Type) (*listobj.List, object.ID, error) {
	l, err := listobj.New(object.WithInternal, 0, false, itemType, f.lookup)
	if err != nil {
		return nil, object.NoID, err
	}
	return l, f.lookup.bind(l), nil
}

func newIdentifier(t *testing.T, lookup *fakeLookup, name string) (*strobj.String, object.ID) {
	t.Helper()
	s, err := strobj.New(object.WithExternal, 1, true, len(name), []byte(name))
	if err != nil {
		t.Fatal(err)
	}
	return s, lookup.bind(s)
}

func TestDefineAndUndefine(t *testing.T) {
	root := t.TempDir()
	lookup := newFakeLookup()
	factory := &fakeFactory{lookup: lookup}

	identifier, identifierID := newIdentifier(t, lookup, "my-job")

	p, err := Define(factory, root, identifier, identifierID, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Defined() {
		t.Fatal("program should be defined")
	}
	if _, err := os.Stat(filepath.Join(root, "my-job", config.ProgramFileName)); err != nil {
		t.Fatalf("program.conf not written: %v", err)
	}
	if identifier.Header().InternalRefCount() != 1 {
		t.Fatalf("identifier internal refs = %d, want 1", identifier.Header().InternalRefCount())
	}

	if err := p.Undefine(); err != nil {
		t.Fatal(err)
	}
	if p.Defined() {
		t.Fatal("program should be undefined")
	}
	if err := p.Undefine(); apierr.CodeOf(err) != apierr.CodeInvalidOperation {
		t.Fatalf("double undefine = %v, want CodeInvalidOperation", err)
	}

	loaded, err := config.LoadProgram(filepath.Join(root, "my-job"))
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Defined {
		t.Fatal("persisted config should be marked undefined")
	}
}

func TestIsValidIdentifier(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"my-job", true},
		{"my.prog", true},
		{"a.b.c_123-x", true},
		{"", false},
		{".", false},
		{"..", false},
		{"-leading-dash", false},
		{"not valid!", false},
	}
	for _, c := range cases {
		if got := isValidIdentifier(c.name); got != c.want {
			t.Errorf("isValidIdentifier(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestDefineRejectsInvalidIdentifier(t *testing.T) {
	root := t.TempDir()
	lookup := newFakeLookup()
	factory := &fakeFactory{lookup: lookup}

	identifier, identifierID := newIdentifier(t, lookup, "not valid!")

	if _, err := Define(factory, root, identifier, identifierID, 1, true); apierr.CodeOf(err) != apierr.CodeInvalidParameter {
		t.Fatalf("Define with bad identifier = %v, want CodeInvalidParameter", err)
	}
	if identifier.Header().InternalRefCount() != 0 {
		t.Fatalf("identifier internal refs after rejected Define = %d, want 0", identifier.Header().InternalRefCount())
	}
}

func TestSetCommandSwapsAndPersists(t *testing.T) {
	root := t.TempDir()
	lookup := newFakeLookup()
	factory := &fakeFactory{lookup: lookup}

	identifier, identifierID := newIdentifier(t, lookup, "swap-job")
	p, err := Define(factory, root, identifier, identifierID, 1, true)
	if err != nil {
		t.Fatal(err)
	}

	newExecutable, newExecutableID, err := factory.NewWrappedString("/usr/bin/true")
	if err != nil {
		t.Fatal(err)
	}
	newExecutable.Header().AddExternal(1)
	newArguments, newArgumentsID, err := factory.NewEmptyList(object.TypeString)
	if err != nil {
		t.Fatal(err)
	}
	newArguments.Header().AddExternal(1)
	newEnvironment, newEnvironmentID, err := factory.NewEmptyList(object.TypeString)
	if err != nil {
		t.Fatal(err)
	}
	newEnvironment.Header().AddExternal(1)

	oldExecutableID, _, _ := p.Command()

	if err := p.SetCommand(newExecutable, newExecutableID, newArguments, newArgumentsID, newEnvironment, newEnvironmentID); err != nil {
		t.Fatal(err)
	}

	gotExecutableID, gotArgumentsID, gotEnvironmentID := p.Command()
	if gotExecutableID != newExecutableID || gotArgumentsID != newArgumentsID || gotEnvironmentID != newEnvironmentID {
		t.Fatal("Command() did not reflect the swap")
	}

	oldExecutable, _ := lookup.GetTyped(oldExecutableID, object.TypeString)
	if oldExecutable.Header().InternalRefCount() != 0 {
		t.Fatal("old executable should have been released")
	}

	loaded, err := config.LoadProgram(p.ConfigDir())
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Executable != "/usr/bin/true" {
		t.Fatalf("persisted executable = %q, want /usr/bin/true", loaded.Executable)
	}
}

func TestSchedulerStartNowFiresOnce(t *testing.T) {
	root := t.TempDir()
	lookup := newFakeLookup()
	factory := &fakeFactory{lookup: lookup}

	identifier, identifierID := newIdentifier(t, lookup, "now-job")
	p, err := Define(factory, root, identifier, identifierID, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SetSchedule(config.Schedule{StartCondition: config.StartNow, RepeatMode: config.RepeatNever}); err != nil {
		t.Fatal(err)
	}

	sched := NewScheduler()
	sched.Register(p.Header().ID())

	now := time.Unix(1700000000, 0)
	first := sched.Tick(now, []*Program{p}, false)
	if len(first) != 1 || first[0].Reason != ReasonStartNow {
		t.Fatalf("first tick decisions = %+v, want one start_now", first)
	}

	second := sched.Tick(now.Add(time.Minute), []*Program{p}, false)
	if len(second) != 0 {
		t.Fatalf("second tick decisions = %+v, want none (start_now is one-shot)", second)
	}
}

func TestSchedulerRepeatInterval(t *testing.T) {
	root := t.TempDir()
	lookup := newFakeLookup()
	factory := &fakeFactory{lookup: lookup}

	identifier, identifierID := newIdentifier(t, lookup, "interval-job")
	p, err := Define(factory, root, identifier, identifierID, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SetSchedule(config.Schedule{
		StartCondition: config.StartNever,
		RepeatMode:     config.RepeatInterval,
		RepeatInterval: 60,
	}); err != nil {
		t.Fatal(err)
	}

	sched := NewScheduler()
	sched.Register(p.Header().ID())

	now := time.Unix(1700000000, 0)
	if d := sched.Tick(now, []*Program{p}, false); len(d) != 0 {
		t.Fatalf("first tick should only prime the interval, got %+v", d)
	}
	if d := sched.Tick(now.Add(30*time.Second), []*Program{p}, false); len(d) != 0 {
		t.Fatalf("tick before interval elapsed should be empty, got %+v", d)
	}
	d := sched.Tick(now.Add(61*time.Second), []*Program{p}, false)
	if len(d) != 1 || d[0].Reason != ReasonInterval {
		t.Fatalf("tick after interval elapsed = %+v, want one repeat_interval", d)
	}
}

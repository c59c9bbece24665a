package progobj

import (
	"testing"
	"time"

	"github.com/redapid/server/internal/config"
	"github.com/redapid/server/internal/object"
)

func TestSchedulerStartBootOnlyFiresOnFirstTick(t *testing.T) {
	root := t.TempDir()
	lookup := newFakeLookup()
	factory := &fakeFactory{lookup: lookup}

	identifier, identifierID := newIdentifier(t, lookup, "boot-job")
	p, err := Define(factory, root, identifier, identifierID, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SetSchedule(config.Schedule{StartCondition: config.StartBoot, RepeatMode: config.RepeatNever}); err != nil {
		t.Fatal(err)
	}

	sched := NewScheduler()
	sched.Register(p.Header().ID())

	now := time.Unix(1700000000, 0)

	if d := sched.Tick(now, []*Program{p}, false); len(d) != 0 {
		t.Fatalf("tick with firstTickAfterBoot=false should not fire Boot, got %+v", d)
	}

	d := sched.Tick(now.Add(time.Second), []*Program{p}, true)
	if len(d) != 1 || d[0].Reason != ReasonStartBoot {
		t.Fatalf("tick with firstTickAfterBoot=true = %+v, want one start_boot", d)
	}

	if d := sched.Tick(now.Add(2*time.Second), []*Program{p}, true); len(d) != 0 {
		t.Fatalf("Boot must only fire once, got %+v", d)
	}
}

func TestSchedulerStartTimeWaitsForDeadline(t *testing.T) {
	root := t.TempDir()
	lookup := newFakeLookup()
	factory := &fakeFactory{lookup: lookup}

	identifier, identifierID := newIdentifier(t, lookup, "time-job")
	p, err := Define(factory, root, identifier, identifierID, 1, true)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Unix(1700000500, 0)
	if err := p.SetSchedule(config.Schedule{
		StartCondition: config.StartTime,
		StartTime:      deadline.Unix(),
		RepeatMode:     config.RepeatNever,
	}); err != nil {
		t.Fatal(err)
	}

	sched := NewScheduler()
	sched.Register(p.Header().ID())

	before := deadline.Add(-time.Second)
	if d := sched.Tick(before, []*Program{p}, false); len(d) != 0 {
		t.Fatalf("tick before deadline = %+v, want none", d)
	}

	at := deadline
	d := sched.Tick(at, []*Program{p}, false)
	if len(d) != 1 || d[0].Reason != ReasonStartTime {
		t.Fatalf("tick at deadline = %+v, want one start_time", d)
	}

	if d := sched.Tick(deadline.Add(time.Minute), []*Program{p}, false); len(d) != 0 {
		t.Fatalf("Time start is one-shot, got %+v", d)
	}
}

func TestSchedulerRepeatSelectionMatchesOncePerMinute(t *testing.T) {
	root := t.TempDir()
	lookup := newFakeLookup()
	factory := &fakeFactory{lookup: lookup}

	identifier, identifierID := newIdentifier(t, lookup, "selection-job")
	p, err := Define(factory, root, identifier, identifierID, 1, true)
	if err != nil {
		t.Fatal(err)
	}

	// Matches every second of minute 30, any hour/day/month/weekday.
	if err := p.SetSchedule(config.Schedule{
		StartCondition: config.StartNever,
		RepeatMode:     config.RepeatSelection,
		Minute:         1 << 30,
	}); err != nil {
		t.Fatal(err)
	}

	sched := NewScheduler()
	sched.Register(p.Header().ID())

	matching := time.Date(2026, time.July, 31, 12, 30, 0, 0, time.UTC)
	nonMatching := time.Date(2026, time.July, 31, 12, 31, 0, 0, time.UTC)

	if d := sched.Tick(nonMatching, []*Program{p}, false); len(d) != 0 {
		t.Fatalf("non-matching minute tick = %+v, want none", d)
	}

	d := sched.Tick(matching, []*Program{p}, false)
	if len(d) != 1 || d[0].Reason != ReasonSelection {
		t.Fatalf("matching minute tick = %+v, want one repeat_selection", d)
	}

	// A second tick within the same matching minute must not re-fire.
	again := matching.Add(10 * time.Second)
	if d := sched.Tick(again, []*Program{p}, false); len(d) != 0 {
		t.Fatalf("second tick within same matching minute = %+v, want none", d)
	}
}

func TestSchedulerForgetDropsState(t *testing.T) {
	sched := NewScheduler()
	id := object.ID(42)
	sched.Register(id)
	sched.Forget(id)
	if _, ok := sched.state[id]; ok {
		t.Fatal("Forget should drop the program's scheduling state")
	}
}

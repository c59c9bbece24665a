package progobj

import (
	"time"

	"github.com/redapid/server/internal/config"
	"github.com/redapid/server/internal/object"
)

// Scheduler turns each defined Program's schedule into spawn decisions on
// every eventloop.Every tick (spec.md §4.7's scheduler tick, driven here
// instead of a dedicated OS timer thread). One Scheduler instance serves
// every Program; per-program state (whether its one-shot trigger already
// fired, the next interval deadline, the last minute a selection mask was
// evaluated for) lives in a side table keyed by object id so Program
// itself stays free of scheduling bookkeeping that only matters while the
// program is live under a Scheduler.
type Scheduler struct {
	state map[object.ID]*programState
}

type programState struct {
	startFired       bool
	nextInterval     time.Time
	lastSelectionMin int64 // unix seconds truncated to the minute, to fire a selection match once per matching minute
}

// NewScheduler creates an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{state: make(map[object.ID]*programState)}
}

// Forget drops a program's scheduling state (call on Undefine/destroy).
func (s *Scheduler) Forget(id object.ID) {
	delete(s.state, id)
}

// Register announces a program became active, either through a live
// program_define call or through daemon-startup rediscovery. Its
// start_condition fires on the first Tick call that sees it: Now fires on
// any tick, Boot only fires when that tick's firstTickAfterBoot is true —
// which is naturally only the case right after daemon startup, so a
// program newly defined later never mistakes a later tick for a boot.
func (s *Scheduler) Register(id object.ID) {
	s.state[id] = &programState{}
}

// ScheduleReason distinguishes why Tick decided to spawn a program, purely
// for diagnostics/logging at the call site.
type ScheduleReason string

const (
	ReasonStartNow  ScheduleReason = "start_now"
	ReasonStartBoot ScheduleReason = "start_boot"
	ReasonStartTime ScheduleReason = "start_time"
	ReasonInterval  ScheduleReason = "repeat_interval"
	ReasonSelection ScheduleReason = "repeat_selection"
)

// Decision is one program the scheduler wants spawned this tick.
type Decision struct {
	ProgramID object.ID
	Reason    ScheduleReason
}

// Tick evaluates every program passed in against now, returning the ones
// that should be spawned. firstTickAfterBoot must be true only on the very first
// tick after daemon startup (so Boot-conditioned programs fire exactly
// once, right after rediscovery).
func (s *Scheduler) Tick(now time.Time, programs []*Program, firstTickAfterBoot bool) []Decision {
	var decisions []Decision

	for _, p := range programs {
		if !p.Defined() {
			continue
		}
		id := p.Header().ID()
		st, ok := s.state[id]
		if !ok {
			st = &programState{}
			s.state[id] = st
		}

		sched := p.Schedule()

		if !st.startFired {
			switch sched.StartCondition {
			case config.StartNow:
				st.startFired = true
				decisions = append(decisions, Decision{ProgramID: id, Reason: ReasonStartNow})
			case config.StartBoot:
				if firstTickAfterBoot {
					st.startFired = true
					decisions = append(decisions, Decision{ProgramID: id, Reason: ReasonStartBoot})
				}
			case config.StartTime:
				due := time.Unix(sched.StartTime, 0).Add(time.Duration(sched.StartDelay) * time.Second)
				if !now.Before(due) {
					st.startFired = true
					decisions = append(decisions, Decision{ProgramID: id, Reason: ReasonStartTime})
				}
			}
		}

		switch sched.RepeatMode {
		case config.RepeatInterval:
			if sched.RepeatInterval <= 0 {
				continue
			}
			if st.nextInterval.IsZero() {
				st.nextInterval = now.Add(time.Duration(sched.RepeatInterval) * time.Second)
				continue
			}
			if !now.Before(st.nextInterval) {
				decisions = append(decisions, Decision{ProgramID: id, Reason: ReasonInterval})
				st.nextInterval = now.Add(time.Duration(sched.RepeatInterval) * time.Second)
			}
		case config.RepeatSelection:
			minuteMark := now.Unix() / 60
			if st.lastSelectionMin == minuteMark {
				continue
			}
			if selectionMatches(sched, now) {
				st.lastSelectionMin = minuteMark
				decisions = append(decisions, Decision{ProgramID: id, Reason: ReasonSelection})
			}
		}
	}

	return decisions
}

// selectionMatches reports whether now's second/minute/hour/day/month/
// weekday all satisfy their respective bitmask in sched (a cron-style
// selection match, per spec.md §4.7's repeat_mode=Selection).
func selectionMatches(sched config.Schedule, now time.Time) bool {
	if sched.Second != 0 && sched.Second&(1<<uint(now.Second())) == 0 {
		return false
	}
	if sched.Minute != 0 && sched.Minute&(1<<uint(now.Minute())) == 0 {
		return false
	}
	if sched.Hour != 0 && sched.Hour&(1<<uint(now.Hour())) == 0 {
		return false
	}
	if sched.Day != 0 && sched.Day&(1<<uint(now.Day())) == 0 {
		return false
	}
	if sched.Month != 0 && sched.Month&(1<<uint(now.Month())) == 0 {
		return false
	}
	if sched.Weekday != 0 && sched.Weekday&(1<<uint(now.Weekday())) == 0 {
		return false
	}
	return true
}

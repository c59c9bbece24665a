// Package metrics accumulates daemon-lifetime counters: object creation and
// destruction per type, session churn, process spawns/exits, and program
// scheduler activity.
//
// Adapted from the teacher's per-run metrics.Collector: same mutex-guarded
// counter struct plus an immutable Snapshot, but scoped to the daemon's
// whole lifetime instead of a single run, and fed by internal/events rather
// than by a single ingestion pipeline.
package metrics

import (
	"sync"

	"github.com/redapid/server/internal/events"
	"github.com/redapid/server/internal/object"
)

// Snapshot is an immutable point-in-time view of daemon counters.
type Snapshot struct {
	ObjectsCreated    map[object.Type]int64
	ObjectsDestroyed  map[object.Type]int64
	SessionsCreated   int64
	SessionsExpired   int64
	ProcessesSpawned  int64
	ProcessesExited   int64
	ProcessesKilled   int64
	ProgramsSpawned   int64
	SchedulerErrors   int64
	AsyncReads        int64
	AsyncWrites       int64
}

// Collector accumulates daemon counters. All methods are nil-receiver safe,
// matching the teacher's collector so a daemon started without metrics
// configured can pass a nil *Collector everywhere without branching.
type Collector struct {
	mu sync.Mutex

	objectsCreated   map[object.Type]int64
	objectsDestroyed map[object.Type]int64
	sessionsCreated  int64
	sessionsExpired  int64
	processesSpawned int64
	processesExited  int64
	processesKilled  int64
	programsSpawned  int64
	schedulerErrors  int64
	asyncReads       int64
	asyncWrites      int64
}

// NewCollector creates an empty daemon metrics collector.
func NewCollector() *Collector {
	return &Collector{
		objectsCreated:   make(map[object.Type]int64),
		objectsDestroyed: make(map[object.Type]int64),
	}
}

// IncObjectCreated records the creation of an object of the given type.
func (c *Collector) IncObjectCreated(typ object.Type) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.objectsCreated[typ]++
	c.mu.Unlock()
}

// IncObjectDestroyed records the destruction of an object of the given type.
func (c *Collector) IncObjectDestroyed(typ object.Type) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.objectsDestroyed[typ]++
	c.mu.Unlock()
}

// IncSessionCreated records a new session.
func (c *Collector) IncSessionCreated() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsCreated++
	c.mu.Unlock()
}

// Emit implements events.Sink: the collector listens to the same bus
// the adapter package's Sink subscribes to, rather than the daemon calling a
// dedicated metrics method per callback site.
func (c *Collector) Emit(env events.Envelope) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch env.Type {
	case events.TypeSessionExpired:
		c.sessionsExpired++
	case events.TypeProcessStateChanged:
		p, ok := env.Payload.(events.ProcessStateChangedPayload)
		if !ok {
			return
		}
		switch procState(p.State) {
		case procStateExited:
			c.processesExited++
		case procStateKilled:
			c.processesKilled++
		case procStateError:
			c.processesExited++
		}
	case events.TypeProgramProcessSpawned:
		c.programsSpawned++
	case events.TypeProgramSchedulerError:
		c.schedulerErrors++
	case events.TypeAsyncFileRead:
		c.asyncReads++
	case events.TypeAsyncFileWrite:
		c.asyncWrites++
	}
}

// IncProcessSpawned records a successful process spawn (called directly by
// the internal/wire dispatcher through its SpawnCounter hook after each
// spawn, since spawning has no envelope of its own).
func (c *Collector) IncProcessSpawned() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.processesSpawned++
	c.mu.Unlock()
}

// procState mirrors procobj.State's numeric encoding without importing that
// package (which would create an import cycle: procobj -> events -> metrics
// would become metrics -> procobj -> events -> metrics). The wire-level
// state numbering is stable per spec.md §4.6, so duplicating the three
// values this package cares about is safe.
type procState uint8

const (
	procStateExited procState = 3
	procStateKilled procState = 4
	procStateError  procState = 2
)

// Snapshot returns an immutable copy of every counter.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{ObjectsCreated: map[object.Type]int64{}, ObjectsDestroyed: map[object.Type]int64{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	created := make(map[object.Type]int64, len(c.objectsCreated))
	for k, v := range c.objectsCreated {
		created[k] = v
	}
	destroyed := make(map[object.Type]int64, len(c.objectsDestroyed))
	for k, v := range c.objectsDestroyed {
		destroyed[k] = v
	}

	return Snapshot{
		ObjectsCreated:   created,
		ObjectsDestroyed: destroyed,
		SessionsCreated:  c.sessionsCreated,
		SessionsExpired:  c.sessionsExpired,
		ProcessesSpawned: c.processesSpawned,
		ProcessesExited:  c.processesExited,
		ProcessesKilled:  c.processesKilled,
		ProgramsSpawned:  c.programsSpawned,
		SchedulerErrors:  c.schedulerErrors,
		AsyncReads:       c.asyncReads,
		AsyncWrites:      c.asyncWrites,
	}
}

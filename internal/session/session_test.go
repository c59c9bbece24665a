package session

import (
	"testing"
	"time"

	"github.com/redapid/server/internal/object"
)

type fakeSink struct {
	expired []ID
}

func (f *fakeSink) SessionExpired(id ID, label string) {
	f.expired = append(f.expired, id)
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	r := New(nil, nil)
	a, err := r.Create(time.Minute, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := r.Create(time.Minute, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a != 1 || b != 2 {
		t.Fatalf("ids = %d, %d, want 1, 2", a, b)
	}
}

func TestKeepAliveUnknownSessionReturnsFalse(t *testing.T) {
	r := New(nil, nil)
	if r.KeepAlive(42, time.Minute) {
		t.Fatalf("expected KeepAlive on an unknown session to return false")
	}
}

func TestExpireReleasesAllTrackedReferencesInOnePass(t *testing.T) {
	r := New(nil, nil)
	sid, err := r.Create(time.Minute, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	h1, err := object.NewHeader(object.TypeString, object.WithExternal, sid, true)
	if err != nil {
		t.Fatalf("NewHeader: %v", err)
	}
	h1.AddExternal(sid) // two total references from this session
	h2, err := object.NewHeader(object.TypeList, object.WithExternal, sid, true)
	if err != nil {
		t.Fatalf("NewHeader: %v", err)
	}

	r.Track(sid, h1)
	r.Track(sid, h2)

	if !r.Expire(sid) {
		t.Fatalf("expected Expire to succeed for a live session")
	}
	if h1.ExternalRefCount() != 0 {
		t.Fatalf("h1.ExternalRefCount() = %d, want 0 after Expire", h1.ExternalRefCount())
	}
	if h2.ExternalRefCount() != 0 {
		t.Fatalf("h2.ExternalRefCount() = %d, want 0 after Expire", h2.ExternalRefCount())
	}
	if r.Exists(sid) {
		t.Fatalf("expected session to be gone after Expire")
	}
}

func TestExpireNotifiesSink(t *testing.T) {
	sink := &fakeSink{}
	r := New(nil, sink)
	sid, _ := r.Create(time.Minute, "debug-session")
	r.Expire(sid)

	if len(sink.expired) != 1 || sink.expired[0] != sid {
		t.Fatalf("expected sink to be notified of expiry, got %v", sink.expired)
	}
}

func TestSweepExpiresOnlyPastDeadlineSessions(t *testing.T) {
	r := New(nil, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.clock = func() time.Time { return base }

	expiring, err := r.Create(time.Second, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	longLived, err := r.Create(time.Hour, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	expired := r.Sweep(base.Add(2 * time.Second))
	if len(expired) != 1 || expired[0] != expiring {
		t.Fatalf("Sweep() = %v, want [%d]", expired, expiring)
	}
	if !r.Exists(longLived) {
		t.Fatalf("expected long-lived session to survive the sweep")
	}
	if r.Exists(expiring) {
		t.Fatalf("expected expiring session to be gone after the sweep")
	}
}

func TestUntrackPreventsDoubleReleaseBookkeeping(t *testing.T) {
	r := New(nil, nil)
	sid, _ := r.Create(time.Minute, "")
	h, err := object.NewHeader(object.TypeString, object.WithExternal, sid, true)
	if err != nil {
		t.Fatalf("NewHeader: %v", err)
	}
	r.Track(sid, h)

	if err := h.RemoveExternal(sid); err != nil {
		t.Fatalf("RemoveExternal: %v", err)
	}
	r.Untrack(sid, h)

	// Expire must not error or double-release now that h has no reference
	// for this session left; RemoveAllExternalForSession is a no-op.
	if !r.Expire(sid) {
		t.Fatalf("expected Expire to succeed")
	}
}

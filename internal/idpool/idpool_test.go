package idpool

import "testing"

func TestAllocateSequential(t *testing.T) {
	p := New[uint16](5)
	for i := uint16(1); i <= 5; i++ {
		id, err := p.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if id != i {
			t.Fatalf("Allocate() = %d, want %d", id, i)
		}
	}
	if _, err := p.Allocate(); err == nil {
		t.Fatalf("expected exhaustion error after allocating the full range")
	}
}

func TestReleaseMostRecentDecrementsCounter(t *testing.T) {
	p := New[uint16](10)
	a, _ := p.Allocate() // 1
	b, _ := p.Allocate() // 2
	p.Release(b)

	c, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if c != b {
		t.Fatalf("Allocate() = %d, want %d (recycled via counter decrement)", c, b)
	}
	_ = a
}

func TestReleaseNonRecentGoesToFreeList(t *testing.T) {
	p := New[uint16](10)
	a, _ := p.Allocate() // 1
	_, _ = p.Allocate()  // 2
	c, _ := p.Allocate() // 3

	p.Release(a) // not the most recent; must go to the free list

	next, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if next != a {
		t.Fatalf("Allocate() = %d, want %d (recycled from free list)", next, a)
	}
	_ = c
}

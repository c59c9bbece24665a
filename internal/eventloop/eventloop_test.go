package eventloop

import (
	"testing"
	"time"
)

func TestPostRunsFIFO(t *testing.T) {
	l := New(16)
	go l.Run()
	defer l.Stop()

	var got []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() {
			got = append(got, i)
			if i == 4 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for posted ops")
	}

	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want %d (order not FIFO: %v)", i, v, i, got)
		}
	}
}

func TestRegisterSourcePreservesOrder(t *testing.T) {
	l := New(16)
	go l.Run()
	defer l.Stop()

	ch := make(chan int)
	var got []int
	done := make(chan struct{})
	RegisterSource(l, ch, func(v int) {
		got = append(got, v)
		if v == 9 {
			close(done)
		}
	})

	for i := 0; i < 10; i++ {
		ch <- i
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for source values")
	}

	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestEveryFiresHandlerOnLoop(t *testing.T) {
	l := New(16)
	go l.Run()
	defer l.Stop()

	fired := make(chan struct{}, 1)
	l.Every(10*time.Millisecond, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("ticker handler never fired")
	}
}

func TestPostAfterStopIsDropped(t *testing.T) {
	l := New(1)
	go l.Run()
	l.Stop()

	// Must not block or panic.
	l.Post(func() { t.Fatal("should never run after Stop") })
}

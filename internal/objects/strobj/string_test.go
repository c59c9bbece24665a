package strobj

import (
	"bytes"
	"testing"

	"github.com/redapid/server/internal/apierr"
	"github.com/redapid/server/internal/object"
)

func TestRoundTripChunk(t *testing.T) {
	s, err := New(object.WithExternal, 1, true, 1024, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetChunk(0, []byte("world")); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetChunk(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got[:5], []byte("world")) {
		t.Fatalf("got %q, want prefix %q", got[:5], "world")
	}
}

func TestLockPreventsMutation(t *testing.T) {
	s, err := New(object.WithInternal, 0, false, 16, []byte("hi"))
	if err != nil {
		t.Fatal(err)
	}
	s.Header().Lock()

	if err := s.Truncate(1); !errIsCode(err, apierr.CodeLocked) {
		t.Fatalf("Truncate while locked = %v, want CodeLocked", err)
	}
	if err := s.SetChunk(0, []byte("x")); !errIsCode(err, apierr.CodeLocked) {
		t.Fatalf("SetChunk while locked = %v, want CodeLocked", err)
	}

	s.Header().Unlock()
	if err := s.Truncate(1); err != nil {
		t.Fatalf("Truncate after unlock: %v", err)
	}
}

func errIsCode(err error, code apierr.Code) bool {
	return apierr.CodeOf(err) == code
}

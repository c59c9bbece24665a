// Package strobj implements the String object kind: a reserved-capacity
// byte buffer addressed in fixed-size windows over the wire (spec.md §4.5,
// §6). Mutating operations (truncate, set_chunk) honor write-protection
// under lock, per invariant I4.
package strobj

import (
	"fmt"

	"github.com/redapid/server/internal/apierr"
	"github.com/redapid/server/internal/object"
)

// Wire chunk sizes from spec.md §6 ("string chunk 58/63 bytes").
const (
	SetChunkSize = 58
	GetChunkSize = 63
)

// String is the String object kind.
type String struct {
	header *object.Header
	buffer []byte
}

// New allocates a String with the given reserved capacity, seeded with the
// bytes of initial (truncated to reserved if longer); the String's length
// is the number of bytes seeded. Mirrors allocate_string(reserve, buffer).
func New(typ object.CreateFlags, session object.SessionID, hasSession bool, reserve int, initial []byte) (*String, error) {
	if reserve < 0 {
		return nil, apierr.New(apierr.CodeInvalidParameter, "strobj.New")
	}
	h, err := object.NewHeader(object.TypeString, typ, session, hasSession)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInvalidParameter, "strobj.New", err)
	}

	buf := make([]byte, reserve)
	n := copy(buf, initial)

	return &String{header: h, buffer: buf[:n]}, nil
}

// Header implements object.Object.
func (s *String) Header() *object.Header { return s.header }

// Signature implements object.Object.
func (s *String) Signature() string {
	return fmt.Sprintf("string[id=%d, length=%d, locked=%v]", s.header.ID(), len(s.buffer), s.header.Locked())
}

// Destroy implements object.Object. A String holds no internal references
// of its own, so there is nothing to release beyond freeing the buffer.
func (s *String) Destroy() {
	s.buffer = nil
}

// Length returns the current length of the buffer.
func (s *String) Length() int { return len(s.buffer) }

// Truncate shrinks (or grows, zero-filled) the buffer to length. Fails
// with CodeLocked while the object is write-protected.
func (s *String) Truncate(length int) error {
	if s.header.Locked() {
		return apierr.New(apierr.CodeLocked, "strobj.Truncate")
	}
	if length < 0 {
		return apierr.New(apierr.CodeInvalidParameter, "strobj.Truncate")
	}
	if length <= len(s.buffer) {
		s.buffer = s.buffer[:length]
		return nil
	}
	grown := make([]byte, length)
	copy(grown, s.buffer)
	s.buffer = grown
	return nil
}

// SetChunk writes up to SetChunkSize bytes starting at offset. Fails with
// CodeLocked while write-protected, CodeInvalidParameter if offset is out
// of range.
func (s *String) SetChunk(offset int, chunk []byte) error {
	if s.header.Locked() {
		return apierr.New(apierr.CodeLocked, "strobj.SetChunk")
	}
	if offset < 0 || offset > len(s.buffer) {
		return apierr.New(apierr.CodeInvalidParameter, "strobj.SetChunk")
	}
	n := len(chunk)
	if n > SetChunkSize {
		n = SetChunkSize
	}
	end := offset + n
	if end > len(s.buffer) {
		grown := make([]byte, end)
		copy(grown, s.buffer)
		s.buffer = grown
	}
	copy(s.buffer[offset:end], chunk[:n])
	return nil
}

// GetChunk reads up to GetChunkSize bytes starting at offset. Never fails
// on a locked object (locking only gates mutation, per §4.5); an
// out-of-range offset returns CodeInvalidParameter.
func (s *String) GetChunk(offset int) ([]byte, error) {
	if offset < 0 || offset > len(s.buffer) {
		return nil, apierr.New(apierr.CodeInvalidParameter, "strobj.GetChunk")
	}
	end := offset + GetChunkSize
	if end > len(s.buffer) {
		end = len(s.buffer)
	}
	out := make([]byte, GetChunkSize)
	copy(out, s.buffer[offset:end])
	return out, nil
}

// Bytes returns the buffer's current contents (used internally by procobj/
// progobj when materializing argv/envp; never exposed raw over the wire).
func (s *String) Bytes() []byte { return s.buffer }

// String implements fmt.Stringer for diagnostics/logging.
func (s *String) String() string { return string(s.buffer) }

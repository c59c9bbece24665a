// Package listobj implements the List object kind: an ordered sequence of
// item object ids, each an internally-referenced object of a fixed item
// type (always String for the argument/environment lists Process and
// Program capture, per SPEC_FULL.md §4.5). append/remove_at honor
// write-protection under lock, per invariant I4.
package listobj

import (
	"fmt"

	"github.com/redapid/server/internal/apierr"
	"github.com/redapid/server/internal/object"
	"github.com/redapid/server/internal/objects/strobj"
)

// Lookup resolves an item id to its live object, letting List add/remove
// internal references without importing internal/inventory (which would
// create an import cycle: inventory's callers construct Lists that need
// inventory itself).
type Lookup interface {
	GetTyped(id object.ID, typ object.Type) (object.Object, bool)
}

// List is the List object kind.
type List struct {
	header   *object.Header
	itemType object.Type
	items    []object.ID
	lookup   Lookup
}

// New allocates an empty List whose items must all be of itemType.
func New(flags object.CreateFlags, session object.SessionID, hasSession bool, itemType object.Type, lookup Lookup) (*List, error) {
	h, err := object.NewHeader(object.TypeList, flags, session, hasSession)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInvalidParameter, "listobj.New", err)
	}
	return &List{header: h, itemType: itemType, lookup: lookup}, nil
}

// Header implements object.Object.
func (l *List) Header() *object.Header { return l.header }

// Signature implements object.Object.
func (l *List) Signature() string {
	return fmt.Sprintf("list[id=%d, length=%d, item_type=%s]", l.header.ID(), len(l.items), l.itemType)
}

// Destroy implements object.Object: releases the internal reference the
// list holds on every item it still contains (object.c's list_vacate
// walking the item array releasing each one).
func (l *List) Destroy() {
	for _, id := range l.items {
		l.releaseItem(id)
	}
	l.items = nil
}

// Length returns the number of items.
func (l *List) Length() int { return len(l.items) }

// GetItem returns the id of the item at index.
func (l *List) GetItem(index int) (object.ID, error) {
	if index < 0 || index >= len(l.items) {
		return object.NoID, apierr.New(apierr.CodeInvalidParameter, "listobj.GetItem")
	}
	return l.items[index], nil
}

// Items returns the full item slice (used by procobj/progobj to resolve
// argv/envp without a Length/GetItem loop).
func (l *List) Items() []object.ID {
	out := make([]object.ID, len(l.items))
	copy(out, l.items)
	return out
}

// Append adds id to the end of the list, taking an internal reference on
// its object. Fails with CodeLocked while write-protected, and
// CodeInvalidParameter if id does not name a live object of this list's
// item type.
func (l *List) Append(id object.ID) error {
	if l.header.Locked() {
		return apierr.New(apierr.CodeLocked, "listobj.Append")
	}
	obj, ok := l.lookup.GetTyped(id, l.itemType)
	if !ok {
		return apierr.New(apierr.CodeInvalidParameter, "listobj.Append")
	}
	obj.Header().AddInternal()
	l.items = append(l.items, id)
	return nil
}

// RemoveAt removes the item at index, releasing its internal reference.
// Fails with CodeLocked while write-protected.
func (l *List) RemoveAt(index int) error {
	if l.header.Locked() {
		return apierr.New(apierr.CodeLocked, "listobj.RemoveAt")
	}
	if index < 0 || index >= len(l.items) {
		return apierr.New(apierr.CodeInvalidParameter, "listobj.RemoveAt")
	}
	id := l.items[index]
	l.items = append(l.items[:index], l.items[index+1:]...)
	l.releaseItem(id)
	return nil
}

// ResolveString looks up a String-typed item by id, for callers (procobj's
// argv/envp builder) that need the item's bytes rather than just its
// presence. Only meaningful when itemType is object.TypeString.
func (l *List) ResolveString(id object.ID) (*strobj.String, bool) {
	obj, ok := l.lookup.GetTyped(id, object.TypeString)
	if !ok {
		return nil, false
	}
	s, ok := obj.(*strobj.String)
	return s, ok
}

func (l *List) releaseItem(id object.ID) {
	obj, ok := l.lookup.GetTyped(id, l.itemType)
	if !ok {
		return
	}
	obj.Header().RemoveInternal()
}

// Package directoryobj implements the Directory object kind: a snapshot of
// a host directory's entries taken at open time, enumerated through a
// rewindable cursor (SPEC_FULL.md §4.5's concrete byte-level behavior for
// the Directory leaf spec.md §4.5 treats as external).
package directoryobj

import (
	"fmt"
	"os"

	"github.com/redapid/server/internal/apierr"
	"github.com/redapid/server/internal/object"
)

// NameHolder mirrors fileobj.NameHolder: the internal reference a
// Directory keeps on the String object naming it.
type NameHolder interface {
	Header() *object.Header
}

// Directory is the Directory object kind.
type Directory struct {
	header  *object.Header
	path    string
	name    NameHolder
	entries []string
	next    int
	rewound bool
}

// Open snapshots the entries of path at open time (consistent with the
// Inventory's own iterator semantics: mutating the host directory after
// opening does not perturb an open iteration).
func Open(flags object.CreateFlags, session object.SessionID, hasSession bool, path string, name NameHolder) (*Directory, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, apierr.WrapOSError("directoryobj.Open", err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}

	h, err := object.NewHeader(object.TypeDirectory, flags, session, hasSession)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInvalidParameter, "directoryobj.Open", err)
	}
	if name != nil {
		name.Header().AddInternal()
	}
	return &Directory{header: h, path: path, name: name, entries: names}, nil
}

// Create makes a new directory on disk (create_directory). This is a
// free function: spec.md §6 does not bind it to an object, it just
// performs the mkdir.
func Create(path string, perm os.FileMode) error {
	if err := os.Mkdir(path, perm); err != nil {
		return apierr.WrapOSError("directoryobj.Create", err)
	}
	return nil
}

// Header implements object.Object.
func (d *Directory) Header() *object.Header { return d.header }

// Signature implements object.Object.
func (d *Directory) Signature() string {
	return fmt.Sprintf("directory[id=%d, path=%s, entries=%d]", d.header.ID(), d.path, len(d.entries))
}

// Destroy implements object.Object: releases the internal reference on the
// name String, if any.
func (d *Directory) Destroy() {
	if d.name != nil {
		d.name.Header().RemoveInternal()
	}
	d.entries = nil
}

// Path returns the directory's path (get_directory_name returns this via
// a String object the dispatcher allocates; the core just needs the raw
// value).
func (d *Directory) Path() string { return d.path }

// Rewind resets the enumeration cursor to the start of the snapshot.
func (d *Directory) Rewind() {
	d.next = 0
	d.rewound = true
}

// Next returns the next entry name in the snapshot, or ok=false once
// exhausted. Fails with CodeNoRewind if Rewind was never called, mirroring
// the Inventory iterator's own contract.
func (d *Directory) Next() (name string, ok bool, err error) {
	if !d.rewound {
		return "", false, apierr.New(apierr.CodeNoRewind, "directoryobj.Next")
	}
	if d.next >= len(d.entries) {
		return "", false, nil
	}
	name = d.entries[d.next]
	d.next++
	return name, true, nil
}

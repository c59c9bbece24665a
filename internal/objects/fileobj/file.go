// Package fileobj implements the File object kind: a thin wrapper around
// an *os.File plus cached os.FileInfo, supporting synchronous and
// goroutine-pooled asynchronous read/write (SPEC_FULL.md §4.5's concrete
// byte-level behavior for the File leaf spec.md §4.5 treats as external).
//
// Like internal/object, every File field (including the pending-request
// map backing ReadAsync/AbortAsyncFileRead) is owned by the event-loop
// goroutine; AsyncPool workers only ever touch it through a post() closure
// handed back to that goroutine, never directly.
package fileobj

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/redapid/server/internal/apierr"
	"github.com/redapid/server/internal/object"
)

// OpenFlags are the POSIX-style flags open_file accepts (spec.md §6).
type OpenFlags uint16

const (
	FlagRead OpenFlags = 1 << iota
	FlagWrite
	FlagAppend
	FlagCreate
	FlagTruncate
	FlagReplace // create, replacing an existing file entirely (O_CREATE|O_TRUNC|O_EXCL-free)
)

func (f OpenFlags) toOS() int {
	var flag int
	switch {
	case f&FlagRead != 0 && f&FlagWrite != 0:
		flag = os.O_RDWR
	case f&FlagWrite != 0:
		flag = os.O_WRONLY
	default:
		flag = os.O_RDONLY
	}
	if f&FlagAppend != 0 {
		flag |= os.O_APPEND
	}
	if f&FlagCreate != 0 {
		flag |= os.O_CREATE
	}
	if f&FlagTruncate != 0 {
		flag |= os.O_TRUNC
	}
	if f&FlagReplace != 0 {
		flag |= os.O_CREATE | os.O_TRUNC
	}
	return flag
}

// NameHolder is the internal reference a File keeps on the String object
// naming it (spec.md §4.5: "a File object holds an internal reference on
// the String object for its name").
type NameHolder interface {
	Header() *object.Header
}

// AsyncPool is a bounded goroutine pool backing read_file_async/
// write_file_async, sized by internal/config.Daemon.AsyncWorkers.
type AsyncPool struct {
	sem chan struct{}
}

// NewAsyncPool creates a pool that runs at most workers goroutines at once.
func NewAsyncPool(workers int) *AsyncPool {
	if workers <= 0 {
		workers = 1
	}
	return &AsyncPool{sem: make(chan struct{}, workers)}
}

// Go runs fn on a pooled goroutine once a slot is free.
func (p *AsyncPool) Go(fn func()) {
	p.sem <- struct{}{}
	go func() {
		defer func() { <-p.sem }()
		fn()
	}()
}

// File is the File object kind.
type File struct {
	header *object.Header
	osFile *os.File
	name   NameHolder

	pool *AsyncPool

	pending map[uint64]context.CancelFunc
	nextReq uint64
}

// New wraps an already-open *os.File (e.g. from CreatePipe or the spawn
// protocol's stdio hookup) as a File object. name may be nil when the file
// has no String-backed name (anonymous pipe ends).
func New(flags object.CreateFlags, session object.SessionID, hasSession bool, f *os.File, name NameHolder, pool *AsyncPool) (*File, error) {
	h, err := object.NewHeader(object.TypeFile, flags, session, hasSession)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInvalidParameter, "fileobj.New", err)
	}
	if name != nil {
		name.Header().AddInternal()
	}
	return &File{header: h, osFile: f, name: name, pool: pool, pending: make(map[uint64]context.CancelFunc)}, nil
}

// Open opens path with the given POSIX-style flags and permission.
func Open(flags object.CreateFlags, session object.SessionID, hasSession bool, path string, openFlags OpenFlags, perm os.FileMode, name NameHolder, pool *AsyncPool) (*File, error) {
	f, err := os.OpenFile(path, openFlags.toOS(), perm)
	if err != nil {
		return nil, apierr.WrapOSError("fileobj.Open", err)
	}
	obj, err := New(flags, session, hasSession, f, name, pool)
	if err != nil {
		f.Close()
		return nil, err
	}
	return obj, nil
}

// CreatePipe returns the read and write ends of an anonymous in-process
// pipe, wired the same way Process stdio pipes are (spec.md §4.5).
func CreatePipe(flags object.CreateFlags, session object.SessionID, hasSession bool, pool *AsyncPool) (read, write *File, err error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, apierr.WrapOSError("fileobj.CreatePipe", err)
	}
	read, err = New(flags, session, hasSession, r, nil, pool)
	if err != nil {
		r.Close()
		w.Close()
		return nil, nil, err
	}
	write, err = New(flags, session, hasSession, w, nil, pool)
	if err != nil {
		read.Destroy()
		w.Close()
		return nil, nil, err
	}
	return read, write, nil
}

// Header implements object.Object.
func (f *File) Header() *object.Header { return f.header }

// Signature implements object.Object.
func (f *File) Signature() string {
	return fmt.Sprintf("file[id=%d, name=%s]", f.header.ID(), f.osFile.Name())
}

// Destroy implements object.Object: cancels any pending async reads,
// closes the underlying fd, and releases the internal reference on the
// name String.
func (f *File) Destroy() {
	for _, cancel := range f.pending {
		cancel()
	}
	f.pending = nil
	if f.osFile != nil {
		f.osFile.Close()
	}
	if f.name != nil {
		f.name.Header().RemoveInternal()
	}
}

// OSFile exposes the underlying *os.File for the spawn protocol's dup2
// equivalent (Cmd.Stdin/Stdout/Stderr wiring).
func (f *File) OSFile() *os.File { return f.osFile }

// Read reads up to length bytes starting at the current position.
func (f *File) Read(length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := f.osFile.Read(buf)
	if err != nil && err != io.EOF {
		return nil, apierr.WrapOSError("fileobj.Read", err)
	}
	return buf[:n], nil
}

// Write writes data at the current position, returning the number of
// bytes written.
func (f *File) Write(data []byte) (int, error) {
	n, err := f.osFile.Write(data)
	if err != nil {
		return n, apierr.WrapOSError("fileobj.Write", err)
	}
	return n, nil
}

// SetPosition seeks to offset from whence (0=start, 1=current, 2=end).
func (f *File) SetPosition(offset int64, whence int) (int64, error) {
	pos, err := f.osFile.Seek(offset, whence)
	if err != nil {
		return 0, apierr.WrapOSError("fileobj.SetPosition", err)
	}
	return pos, nil
}

// GetPosition returns the current file offset.
func (f *File) GetPosition() (int64, error) {
	pos, err := f.osFile.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, apierr.WrapOSError("fileobj.GetPosition", err)
	}
	return pos, nil
}

// Info returns the cached-on-call os.FileInfo (get_file_info).
func (f *File) Info() (os.FileInfo, error) {
	info, err := f.osFile.Stat()
	if err != nil {
		return nil, apierr.WrapOSError("fileobj.Info", err)
	}
	return info, nil
}

// AsyncReadResult is delivered through the event loop once a pooled read
// completes (or is aborted).
type AsyncReadResult struct {
	Data []byte
	Err  error
}

// ReadAsync runs a read on the pool and calls deliver(result) by posting it
// through post (the event loop's Post), matching spec.md §4.5's
// "async_file_read callback delivered through the event loop". Returns a
// request handle for AbortAsyncFileRead.
func (f *File) ReadAsync(length int, post func(func()), deliver func(AsyncReadResult)) uint64 {
	ctx, cancel := context.WithCancel(context.Background())
	f.nextReq++
	reqID := f.nextReq
	f.pending[reqID] = cancel

	f.pool.Go(func() {
		type result struct {
			data []byte
			err  error
		}
		done := make(chan result, 1)
		go func() {
			buf := make([]byte, length)
			n, err := f.osFile.Read(buf)
			if err != nil && err != io.EOF {
				done <- result{err: apierr.WrapOSError("fileobj.ReadAsync", err)}
				return
			}
			done <- result{data: buf[:n]}
		}()

		// f.pending is only ever mutated on the event-loop goroutine; the
		// delete below is posted through it rather than done here on the
		// pool goroutine, so it can never race AbortAsyncFileRead or a
		// concurrent ReadAsync's own map write.
		select {
		case <-ctx.Done():
			post(func() {
				delete(f.pending, reqID)
				deliver(AsyncReadResult{Err: apierr.New(apierr.CodeInvalidOperation, "fileobj.ReadAsync: aborted")})
			})
		case r := <-done:
			post(func() {
				delete(f.pending, reqID)
				deliver(AsyncReadResult{Data: r.data, Err: r.err})
			})
		}
	})

	return reqID
}

// AbortAsyncFileRead cancels a pending async read started by ReadAsync.
func (f *File) AbortAsyncFileRead(reqID uint64) error {
	cancel, ok := f.pending[reqID]
	if !ok {
		return apierr.New(apierr.CodeInvalidOperation, "fileobj.AbortAsyncFileRead")
	}
	cancel()
	return nil
}

// WriteAsync runs a write on the pool and delivers the result the same way
// ReadAsync does.
func (f *File) WriteAsync(data []byte, post func(func()), deliver func(n int, err error)) {
	f.pool.Go(func() {
		n, err := f.osFile.Write(data)
		if err != nil {
			err = apierr.WrapOSError("fileobj.WriteAsync", err)
		}
		post(func() { deliver(n, err) })
	})
}

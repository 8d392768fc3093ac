package main

import (
	"errors"
	"io"
	"os"
	"sync"
)

// ErrAsyncUnsupported is returned when a caller tries to register an
// asynchronous read listener. The content is already fully buffered, so
// there is nothing to notify about.
var ErrAsyncUnsupported = errors.New("replay reader is blocking, read listeners are not supported")

// ReplayReader is one independent cursor over a CachedBody. Each cursor
// serves a single logical consumer; only Mark and Reset are safe to call
// from multiple goroutines at once.
type ReplayReader struct {
	file    *os.File
	markMtx sync.Mutex
	mark    int64
}

func (r *ReplayReader) Read(p []byte) (int, error) {
	return r.file.Read(p)
}

func (r *ReplayReader) ReadByte() (byte, error) {
	var buf [1]byte
	_, err := io.ReadFull(r.file, buf[:])
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Skip advances the cursor by up to n bytes and reports how many were
// actually skipped. Skipping past the end stops at the end.
func (r *ReplayReader) Skip(n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	cur, err := r.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := r.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	skipped := min(n, end-cur)
	_, err = r.file.Seek(cur+skipped, io.SeekStart)
	if err != nil {
		return 0, err
	}
	return skipped, nil
}

// Available reports how many bytes remain before end of content.
func (r *ReplayReader) Available() (int64, error) {
	cur, err := r.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	st, err := r.file.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size() - cur, nil
}

func (r *ReplayReader) Close() error {
	return r.file.Close()
}

// Mark saves the current position for a later Reset. Mark and Reset
// serialize on a mutex so one goroutine's mark/reset pair cannot interleave
// with another's; the deferred unlock guarantees a failure never leaves the
// lock held.
func (r *ReplayReader) Mark() error {
	r.markMtx.Lock()
	defer r.markMtx.Unlock()
	pos, err := r.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	r.mark = pos
	return nil
}

// Reset rewinds the cursor to the last mark, or to the start of the content
// when Mark was never called.
func (r *ReplayReader) Reset() error {
	r.markMtx.Lock()
	defer r.markMtx.Unlock()
	_, err := r.file.Seek(r.mark, io.SeekStart)
	return err
}

func (r *ReplayReader) MarkSupported() bool {
	return true
}

// IsFinished always reports false and IsReady always reports true: this
// reader is purely blocking, so end of content is signaled only by io.EOF
// from Read, never by these queries.
func (r *ReplayReader) IsFinished() bool {
	return false
}

func (r *ReplayReader) IsReady() bool {
	return true
}

// SetReadListener rejects asynchronous notification outright.
func (r *ReplayReader) SetReadListener(any) error {
	return ErrAsyncUnsupported
}

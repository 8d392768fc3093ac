package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// CachedBody is a replayable copy of a one-shot request body, spooled to a
// file so the audit middleware and the proxy handler can each read the same
// content in full, any number of times.
type CachedBody struct {
	path string
	size int64
}

// SpoolError reports a failed spooling attempt. The wrapper is unusable
// after a SpoolError; any partially written file has already been removed.
type SpoolError struct {
	cause error
}

func (e *SpoolError) Error() string {
	return fmt.Sprintf("failed to spool request body: %v", e.cause)
}

func (e *SpoolError) Unwrap() error {
	return e.cause
}

// NewCachedBody drains body into a fresh file named <id>_<uuid> under dir,
// consuming the one-shot stream exactly once. The file is fully written
// before NewCachedBody returns, so readers never observe a partial copy.
// Name uniqueness rests on the randomness of the UUID; O_EXCL turns an
// actual collision into a SpoolError instead of silent corruption.
func NewCachedBody(id string, body io.Reader, dir string) (*CachedBody, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s", sanitizeSpoolID(id), uuid.NewString()))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, &SpoolError{cause: err}
	}
	var size int64
	if body != nil {
		size, err = io.Copy(f, body)
		if err != nil {
			f.Close()
			os.Remove(path)
			return nil, &SpoolError{cause: err}
		}
	}
	err = f.Close()
	if err != nil {
		os.Remove(path)
		return nil, &SpoolError{cause: err}
	}
	return &CachedBody{path: path, size: size}, nil
}

// sanitizeSpoolID flattens the identifier to a single path component, so a
// hostile value like "../../x" cannot place the store outside dir. The
// audit record keeps the identifier verbatim; only the file name is
// sanitized.
func sanitizeSpoolID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '.', r == '_':
			return r
		}
		return '-'
	}, id)
}

// Open returns a new independent cursor positioned at offset 0. Cursors
// share no state: fully consuming one does not affect bytes obtainable
// from another, including cursors opened later.
func (b *CachedBody) Open() (*ReplayReader, error) {
	f, err := os.Open(b.path)
	if err != nil {
		return nil, err
	}
	return &ReplayReader{file: f}, nil
}

// BodyContent drains a fresh cursor and returns the full cached body. An
// absent body yields an empty, non-nil slice rather than nil.
func (b *CachedBody) BodyContent() ([]byte, error) {
	r, err := b.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Clear deletes the backing file. Clearing an already deleted store is not
// an error; reads after Clear fail with os.ErrNotExist.
func (b *CachedBody) Clear() error {
	err := os.Remove(b.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (b *CachedBody) Size() int64 {
	return b.size
}

func (b *CachedBody) Path() string {
	return b.path
}

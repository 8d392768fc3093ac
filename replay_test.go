package main

import (
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReader(t *testing.T, content string) *ReplayReader {
	t.Helper()
	cached, err := NewCachedBody("replay", strings.NewReader(content), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { cached.Clear() })
	r, err := cached.Open()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestReplayReaderReadByte(t *testing.T) {
	r := newTestReader(t, "ab")

	b, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('a'), b)
	b, err = r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('b'), b)
	_, err = r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReplayReaderSkipAndAvailable(t *testing.T) {
	r := newTestReader(t, "0123456789")

	avail, err := r.Available()
	require.NoError(t, err)
	assert.Equal(t, int64(10), avail)

	skipped, err := r.Skip(4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), skipped)

	avail, err = r.Available()
	require.NoError(t, err)
	assert.Equal(t, int64(6), avail)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "456789", string(rest))

	// Skipping past the end stops at the end
	skipped, err = r.Skip(100)
	require.NoError(t, err)
	assert.Zero(t, skipped)

	skipped, err = r.Skip(-1)
	require.NoError(t, err)
	assert.Zero(t, skipped)
}

func TestReplayReaderMarkReset(t *testing.T) {
	r := newTestReader(t, "abcdef")

	buf := make([]byte, 2)
	_, err := io.ReadFull(r, buf)
	require.NoError(t, err)
	require.Equal(t, "ab", string(buf))

	require.NoError(t, r.Mark())
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	require.Equal(t, "cd", string(buf))

	require.NoError(t, r.Reset())
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, "cd", string(buf))
}

func TestReplayReaderResetWithoutMark(t *testing.T) {
	r := newTestReader(t, "abcdef")

	_, err := r.Skip(3)
	require.NoError(t, err)
	require.NoError(t, r.Reset())

	all, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(all))
}

func TestReplayReaderBlockingContract(t *testing.T) {
	r := newTestReader(t, "content")

	assert.False(t, r.IsFinished())
	assert.True(t, r.IsReady())
	assert.True(t, r.MarkSupported())

	// Listener registration fails regardless of argument
	assert.ErrorIs(t, r.SetReadListener(nil), ErrAsyncUnsupported)
	assert.ErrorIs(t, r.SetReadListener(func() {}), ErrAsyncUnsupported)

	// End of content is only visible through Read, never through IsFinished
	_, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.False(t, r.IsFinished())
}

func TestReplayReaderConcurrentMarkReset(t *testing.T) {
	r := newTestReader(t, strings.Repeat("x", 1024))

	_, err := r.Skip(7)
	require.NoError(t, err)
	require.NoError(t, r.Mark())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if err := r.Mark(); err != nil {
					t.Error(err)
					return
				}
				if err := r.Reset(); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	// Every mark/reset pair targeted offset 7; interleaving would leave
	// the cursor somewhere else.
	pos, err := r.file.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(7), pos)
}

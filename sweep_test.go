package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepOnceRemovesOnlyStaleFiles(t *testing.T) {
	conf := testConfig(t)

	stale := filepath.Join(conf.SpoolDir, "req1_aaaa")
	require.NoError(t, os.WriteFile(stale, []byte("orphaned"), 0o600))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, past, past))

	fresh := filepath.Join(conf.SpoolDir, "req2_bbbb")
	require.NoError(t, os.WriteFile(fresh, []byte("in flight"), 0o600))

	s := NewSweeper(conf)
	require.NoError(t, s.sweepOnce(time.Hour))

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}

func TestSweepOnceMissingDir(t *testing.T) {
	conf := testConfig(t)
	conf.SpoolDir = filepath.Join(conf.SpoolDir, "missing")

	s := NewSweeper(conf)
	assert.Error(t, s.sweepOnce(time.Hour))
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	conf := testConfig(t)
	conf.Sweeper.Interval = 1

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewSweeper(conf).Run(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

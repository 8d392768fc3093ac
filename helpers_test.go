package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	spoolDir := filepath.Join(dir, "spool")
	require.NoError(t, os.MkdirAll(spoolDir, 0o700))
	return &Config{
		DB:       filepath.Join(dir, "audit.db"),
		SpoolDir: spoolDir,
		Upstream: ConfigUpstream{
			BaseUrl: "http://127.0.0.1:1",
		},
		Downstream: ConfigDownstream{
			ListenAddr:   "127.0.0.1:0",
			AuditPath:    "/audit/",
			AuthToken:    "secret",
			MaxBodyBytes: defaultMaxBodyBytes,
			Prefix:       []string{"", "audit", ""},
		},
		Sweeper: ConfigSweeper{
			Interval: 60,
			MaxAge:   600,
		},
	}
}

func openTestAuditLog(t *testing.T, conf *Config) *AuditLog {
	t.Helper()
	db, err := OpenAuditLog(conf)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func collectAudits(t *testing.T, db *AuditLog, offset int64) []string {
	t.Helper()
	var rows []string
	for row, err := range db.GetAudits(context.Background(), offset, 100) {
		require.NoError(t, err)
		rows = append(rows, row)
	}
	return rows
}

package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Sweeper removes spool files a crashed or killed process left behind.
// Live spools are cleared by the audit middleware as soon as their request
// finishes, so anything older than max_age is an orphan.
type Sweeper struct {
	conf *Config
}

func NewSweeper(conf *Config) *Sweeper {
	return &Sweeper{conf: conf}
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(s.conf.Sweeper.Interval) * time.Second)
	defer ticker.Stop()
	maxAge := time.Duration(s.conf.Sweeper.MaxAge) * time.Second
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		err := s.sweepOnce(maxAge)
		if err != nil {
			log.Println("Spool sweep error:", err)
		}
	}
}

func (s *Sweeper) sweepOnce(maxAge time.Duration) error {
	entries, err := os.ReadDir(s.conf.SpoolDir)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			err = os.Remove(filepath.Join(s.conf.SpoolDir, entry.Name()))
			if err != nil && !os.IsNotExist(err) {
				log.Println("Failed to remove stale spool file:", err)
				continue
			}
			log.Println("Removed stale spool file:", entry.Name())
		}
	}
	return nil
}

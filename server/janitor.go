package server

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically removes leftovers: orphaned scratch directories from
// jobs that died mid-run (normal completion removes its own), stale cached
// assets, and old script records.
type Janitor struct {
	scratchDir string
	assetDir   string
	scripts    ScriptStore
	maxAge     time.Duration
	logger     *slog.Logger
	cron       *cron.Cron
}

// NewJanitor creates a Janitor sweeping anything older than maxAge.
func NewJanitor(scratchDir, assetDir string, scripts ScriptStore, maxAge time.Duration, logger *slog.Logger) *Janitor {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		scratchDir: scratchDir,
		assetDir:   assetDir,
		scripts:    scripts,
		maxAge:     maxAge,
		logger:     logger,
	}
}

// Start schedules sweeps with the given cron expression.
func (j *Janitor) Start(schedule string) error {
	j.cron = cron.New()
	if _, err := j.cron.AddFunc(schedule, j.Sweep); err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts scheduled sweeps, waiting for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// Sweep runs one cleanup pass. Errors are logged, never fatal.
func (j *Janitor) Sweep() {
	cutoff := time.Now().Add(-j.maxAge)

	j.sweepDir(j.scratchDir, cutoff)
	j.sweepDir(j.assetDir, cutoff)

	if j.scripts != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if n, err := j.scripts.DeleteOlderThan(ctx, cutoff); err != nil {
			j.logger.Warn("script prune failed", "error", err)
		} else if n > 0 {
			j.logger.Info("old scripts pruned", "count", n)
		}
	}
}

func (j *Janitor) sweepDir(dir string, cutoff time.Time) {
	if dir == "" {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Warn("janitor read failed", "dir", dir, "error", err)
		}
		return
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			j.logger.Warn("janitor remove failed", "path", path, "error", err)
			continue
		}
		j.logger.Debug("stale entry removed", "path", path)
	}
}

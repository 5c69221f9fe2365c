package server

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJanitorSweep(t *testing.T) {
	scratch := t.TempDir()
	assets := t.TempDir()

	staleJob := filepath.Join(scratch, "dead-job")
	freshJob := filepath.Join(scratch, "live-job")
	staleAsset := filepath.Join(assets, "old.mp3")
	for _, dir := range []string{staleJob, freshJob} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(staleAsset, []byte("mp3"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	old := time.Now().Add(-10 * 24 * time.Hour)
	for _, path := range []string{staleJob, staleAsset} {
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	store := newMemStore()
	store.recs["ancient"] = ScriptRecord{ID: "ancient", CreatedAt: old}
	store.recs["recent"] = ScriptRecord{ID: "recent", CreatedAt: time.Now()}

	j := NewJanitor(scratch, assets, store, 7*24*time.Hour, slog.New(slog.DiscardHandler))
	j.Sweep()

	if _, err := os.Stat(staleJob); !os.IsNotExist(err) {
		t.Error("stale scratch directory survived the sweep")
	}
	if _, err := os.Stat(freshJob); err != nil {
		t.Errorf("fresh scratch directory was removed: %v", err)
	}
	if _, err := os.Stat(staleAsset); !os.IsNotExist(err) {
		t.Error("stale cached asset survived the sweep")
	}

	if _, err := store.Get(context.Background(), "ancient"); err == nil {
		t.Error("ancient script record survived the sweep")
	}
	if _, err := store.Get(context.Background(), "recent"); err != nil {
		t.Errorf("recent script record was pruned: %v", err)
	}
}

func TestJanitorSweepMissingDirs(t *testing.T) {
	j := NewJanitor(filepath.Join(t.TempDir(), "absent"), "", nil, time.Hour, slog.New(slog.DiscardHandler))
	j.Sweep() // must not panic or create anything
}

func TestJanitorStartStop(t *testing.T) {
	j := NewJanitor(t.TempDir(), "", nil, time.Hour, slog.New(slog.DiscardHandler))
	if err := j.Start("@hourly"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	j.Stop()

	if err := j.Start("not a schedule"); err == nil {
		t.Error("invalid schedule should be rejected")
	}
}

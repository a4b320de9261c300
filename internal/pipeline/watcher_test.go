package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"orthorect/internal/config"
)

func TestWatcherSubmitsNewImages(t *testing.T) {
	watchDir := t.TempDir()

	p := New(context.Background(), 1, slog.Default(), nil, config.Default())
	p.processor = &stubProcessor{fn: func(ctx context.Context, job Job) Result {
		return Result{Job: job, Meta: map[string]any{"input": job.InputPath}}
	}}
	defer p.Stop()

	results, unsub := p.Subscribe()
	defer unsub()

	w, err := NewWatcher(p, slog.Default(), []string{watchDir}, t.TempDir(), map[string]any{"dem": "dem.asc"})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	w.SetSettle(100 * time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	defer w.Stop()

	imgPath := filepath.Join(watchDir, "frame.tif")
	if err := os.WriteFile(imgPath, []byte{0}, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	// Non-image and already-rectified files must be ignored.
	if err := os.WriteFile(filepath.Join(watchDir, "notes.txt"), []byte{0}, 0o644); err != nil {
		t.Fatalf("write txt: %v", err)
	}
	if err := os.WriteFile(filepath.Join(watchDir, "old_ORTHO.tif"), []byte{0}, 0o644); err != nil {
		t.Fatalf("write ortho: %v", err)
	}

	select {
	case res := <-results:
		if res.Job.Type != JobRectify {
			t.Fatalf("unexpected job type %q", res.Job.Type)
		}
		if res.Job.InputPath != imgPath {
			t.Fatalf("unexpected input %q", res.Job.InputPath)
		}
		if res.Job.Options["dem"] != "dem.asc" {
			t.Fatalf("options not forwarded: %v", res.Job.Options)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for watched image job")
	}

	select {
	case res := <-results:
		t.Fatalf("unexpected extra job for %q", res.Job.InputPath)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcherRequiresDirectories(t *testing.T) {
	if _, err := NewWatcher(nil, slog.Default(), nil, "", nil); err == nil {
		t.Fatalf("expected error for empty watch list")
	}
}

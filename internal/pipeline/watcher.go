package pipeline

import (
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"orthorect/internal/fsutil"
)

// Watcher monitors survey directories and submits a rectify job for
// every new source image once it has stopped growing. Capture software
// writes images incrementally, so a settle delay separates "file
// appeared" from "file is complete".
type Watcher struct {
	pipe    *Pipeline
	log     *slog.Logger
	watcher *fsnotify.Watcher

	dirs      []string
	outputDir string
	options   map[string]any
	settle    time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	done    chan struct{}
}

const defaultSettle = 2 * time.Second

// NewWatcher creates a watcher that feeds the given pipeline. options is
// passed through to every submitted rectify job and must carry at least
// the dem path.
func NewWatcher(pipe *Pipeline, logger *slog.Logger, dirs []string, outputDir string, options map[string]any) (*Watcher, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("no directories to watch")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		pipe:      pipe,
		log:       logger,
		watcher:   fsw,
		dirs:      dirs,
		outputDir: outputDir,
		options:   options,
		settle:    defaultSettle,
		pending:   make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}, nil
}

// SetSettle overrides the delay between the last write to a file and
// job submission.
func (w *Watcher) SetSettle(d time.Duration) {
	if d > 0 {
		w.settle = d
	}
}

// Start registers the watch directories and begins processing events.
func (w *Watcher) Start() error {
	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.log.Info("watching directory", "dir", dir)
	}
	go w.loop()
	return nil
}

// Stop cancels pending submissions and closes the underlying watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	w.mu.Lock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !fsutil.IsImageFile(event.Name) || fsutil.IsRectified(event.Name) {
				continue
			}
			w.schedule(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

// schedule arms (or re-arms) the settle timer for a path. Every write
// event pushes submission out by the settle delay.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case <-w.done:
			return
		default:
		}
		w.submit(path)
	})
}

func (w *Watcher) submit(path string) {
	job := Job{
		ID:        uuid.NewString(),
		Type:      JobRectify,
		InputPath: path,
		Output:    w.outputDir,
		Options:   w.options,
	}
	if err := w.pipe.Submit(job); err != nil {
		w.log.Error("submit watched image", "image", path, "error", err)
		return
	}
	w.log.Info("queued watched image", "image", path, "job_id", job.ID)
}

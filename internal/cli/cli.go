package cli

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"log/slog"

	"orthorect/internal/config"
	"orthorect/internal/pipeline"
	"orthorect/internal/server"
	"orthorect/internal/storage"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

type serverFunc func(ctx context.Context, addr string, watchDirs []string, watchOptions map[string]any, outputDir string, root *Root) error

func defaultServe(ctx context.Context, addr string, watchDirs []string, watchOptions map[string]any, outputDir string, root *Root) error {
	real, ok := root.pipeline.(*pipeline.Pipeline)
	if !ok {
		return fmt.Errorf("pipeline does not support server operation")
	}
	var watcher *pipeline.Watcher
	if len(watchDirs) > 0 {
		var err error
		watcher, err = pipeline.NewWatcher(real, root.log, watchDirs, outputDir, watchOptions)
		if err != nil {
			return err
		}
	}
	return server.NewServer(addr, root.store, real, watcher, root.log).Start(ctx)
}

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	serveFn  serverFunc
}

// NewRoot constructs the CLI root.
func NewRoot(pl *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		serveFn:  defaultServe,
	}
}

// enqueueAndWait submits a job and blocks until its result arrives.
func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) error {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res.Error
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

// watchAndRectify runs rectify jobs for images as they appear under the
// input directories, until ctx is cancelled.
func (r *Root) watchAndRectify(ctx context.Context, dirs []string, outputDir string, options map[string]any) error {
	real, ok := r.pipeline.(*pipeline.Pipeline)
	if !ok {
		return fmt.Errorf("pipeline does not support watch operation")
	}
	watcher, err := pipeline.NewWatcher(real, r.log, dirs, outputDir, options)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()
	<-ctx.Done()
	return nil
}

func newID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%04d", prefix, ts, rand.Intn(10000))
}

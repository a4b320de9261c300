package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"orthorect/internal/config"
	"orthorect/internal/storage"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log       *slog.Logger
	store     *storage.Store
	cfg       *config.Config
	rectifyFn rectifyFunc
}

// rectifyFunc processes one source image into an orthorectified output.
// It is a field so tests can substitute the heavy geometry path.
type rectifyFunc func(ctx context.Context, req rectifyRequest) (rectifyOutcome, error)

func newRouter(logger *slog.Logger, store *storage.Store, cfg *config.Config) Processor {
	return &router{
		log:       logger,
		store:     store,
		cfg:       cfg,
		rectifyFn: rectifyImage,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobRectify:
		return r.handleRectify(ctx, job)
	case JobScan:
		return r.handleScan(ctx, job)
	case JobExif:
		return r.handleExif(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func getStringOption(options map[string]any, key string) string {
	s, _ := options[key].(string)
	return s
}

func getBoolOption(options map[string]any, key string) bool {
	b, _ := options[key].(bool)
	return b
}

func getFloat64Option(options map[string]any, key string) float64 {
	switch v := options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

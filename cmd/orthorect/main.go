package main

import (
	"context"
	"fmt"
	"os"

	"orthorect/internal/cli"
	"orthorect/internal/config"
	"orthorect/internal/logging"
	"orthorect/internal/pipeline"
	"orthorect/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	pipe := pipeline.New(ctx, cfg.Processing.ParallelJobs, logger, store, cfg)
	defer pipe.Stop()

	return cli.NewRootCmd(cfg, logger, store, pipe).ExecuteContext(ctx)
}

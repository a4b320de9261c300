package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"orthorect/internal/config"
)

// New returns a slog.Logger with the provided level string (info, debug, warn, error).
// format may be "json" or "text".
func New(level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// Setup configures global logging, optionally teeing into a dated log
// file under the configured directory.
func Setup(cfg *config.Config) (*slog.Logger, error) {
	level := parseLevel(cfg.Logging.Level)

	if cfg.Logging.FileOutput {
		if err := os.MkdirAll(cfg.Logging.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %v", err)
		}
	}

	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if cfg.Logging.FileOutput {
		logFile := filepath.Join(cfg.Logging.LogDir, fmt.Sprintf("orthorect-%s.log",
			time.Now().Format("2006-01-02")))

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %v", err)
		}

		writers = append(writers, file)

		// Keep a stable name pointing at today's log.
		currentLogPath := filepath.Join(cfg.Logging.LogDir, "orthorect-current.log")
		os.Remove(currentLogPath)
		if err := os.Symlink(filepath.Base(logFile), currentLogPath); err != nil {
			// Symlink failed, but continue - it's not critical
		}
	}

	multiWriter := io.MultiWriter(writers...)

	logger := log.New(multiWriter, "", log.LstdFlags)

	handler := &TraditionalHandler{
		logger: logger,
		level:  level,
	}

	slogLogger := slog.New(handler)
	slog.SetDefault(slogLogger)

	slogLogger.Info("orthorect logging initialized",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"file_output", cfg.Logging.FileOutput,
		"log_dir", cfg.Logging.LogDir,
	)

	return slogLogger, nil
}

// TraditionalHandler implements slog.Handler with traditional log formatting
type TraditionalHandler struct {
	logger *log.Logger
	level  slog.Level
}

func (h *TraditionalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *TraditionalHandler) Handle(ctx context.Context, r slog.Record) error {
	level := r.Level.String()

	msg := r.Message
	attrs := make([]string, 0)

	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		return true
	})

	if len(attrs) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(attrs, " "))
	}

	h.logger.Printf("[%s] %s", strings.ToUpper(level), msg)

	return nil
}

func (h *TraditionalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// For simplicity, return the same handler
	return h
}

func (h *TraditionalHandler) WithGroup(name string) slog.Handler {
	// For simplicity, return the same handler
	return h
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogJobStart logs the beginning of a rectification job
func LogJobStart(logger *slog.Logger, jobType, jobID, inputPath, outputPath string, options map[string]any) {
	logger.Info("job started",
		"type", jobType,
		"id", jobID,
		"input", inputPath,
		"output", outputPath,
		"options", options,
	)
}

// LogJobComplete logs successful job completion
func LogJobComplete(logger *slog.Logger, jobType, jobID string, duration time.Duration, resultInfo map[string]any) {
	logger.Info("job completed successfully",
		"type", jobType,
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"duration_human", duration.String(),
		"result", resultInfo,
	)
}

// LogJobError logs job failures
func LogJobError(logger *slog.Logger, jobType, jobID string, duration time.Duration, err error, context map[string]any) {
	logger.Error("job failed",
		"type", jobType,
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
		"context", context,
	)
}

// LogImageStep logs per-image progress within a batch job
func LogImageStep(logger *slog.Logger, jobID, image, step, status string, details map[string]any) {
	logger.Info("image step",
		"job_id", jobID,
		"image", image,
		"step", step,
		"status", status,
		"details", details,
	)
}

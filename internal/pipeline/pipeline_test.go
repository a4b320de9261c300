package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"orthorect/internal/config"
)

type stubProcessor struct {
	fn func(ctx context.Context, job Job) Result
}

func (s *stubProcessor) Process(ctx context.Context, job Job) Result {
	return s.fn(ctx, job)
}

func TestPipelineProcessesAndBroadcasts(t *testing.T) {
	p := New(context.Background(), 2, slog.Default(), nil, config.Default())
	p.processor = &stubProcessor{fn: func(ctx context.Context, job Job) Result {
		if job.Type == JobScan {
			return Result{Job: job, Meta: map[string]any{"images": 3}}
		}
		return Result{Job: job, Error: errors.New("unexpected job")}
	}}

	results, unsub := p.Subscribe()
	defer unsub()

	if err := p.Submit(Job{ID: "scan-1", Type: JobScan, InputPath: t.TempDir()}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case res := <-results:
		if res.Job.ID != "scan-1" {
			t.Fatalf("unexpected job id %q", res.Job.ID)
		}
		if res.Error != nil {
			t.Fatalf("unexpected error: %v", res.Error)
		}
		if res.Meta["images"] != 3 {
			t.Fatalf("unexpected meta: %v", res.Meta)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for result")
	}

	p.Stop()
}

func TestPipelineStopClosesSubscribers(t *testing.T) {
	p := New(context.Background(), 1, slog.Default(), nil, config.Default())
	p.processor = &stubProcessor{fn: func(ctx context.Context, job Job) Result {
		return Result{Job: job}
	}}

	results, _ := p.Subscribe()
	p.Stop()

	select {
	case _, ok := <-results:
		if ok {
			t.Fatalf("expected closed channel after Stop")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("subscriber channel not closed")
	}
}

func TestPipelineQueueFull(t *testing.T) {
	block := make(chan struct{})
	p := New(context.Background(), 1, slog.Default(), nil, config.Default())
	p.processor = &stubProcessor{fn: func(ctx context.Context, job Job) Result {
		<-block
		return Result{Job: job}
	}}
	defer func() {
		close(block)
		p.Stop()
	}()

	// One job occupies the worker; the buffer holds two more. Submissions
	// beyond that must fail rather than block the caller.
	var err error
	for i := 0; i < 10; i++ {
		err = p.Submit(Job{ID: "q", Type: JobScan})
		if err != nil {
			break
		}
	}
	if err == nil {
		t.Fatalf("expected queue-full error")
	}
}

package service

import (
	"context"
	"time"

	"github.com/kursadbilgin/course-relay/internal/catalog"
	"github.com/kursadbilgin/course-relay/internal/domain"
)

// CatalogWalker lists every asset of a batch's course in discovery order.
type CatalogWalker interface {
	Walk(ctx context.Context, src catalog.Source) ([]domain.Asset, error)
}

// Fetcher stores remote media in local temporary files.
type Fetcher interface {
	FetchVideo(ctx context.Context, location string, name string) (string, error)
	FetchDocument(ctx context.Context, location string, name string) (string, error)
}

// Prober reads media metadata.
type Prober interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// Thumbnailer renders a cover image for a video upload.
type Thumbnailer interface {
	Generate(ctx context.Context, source string, videoPath string) (string, error)
}

// Launcher starts a run of a batch asynchronously and returns the run id.
type Launcher interface {
	Launch(ctx context.Context, batch domain.Batch, trigger domain.RunTrigger) (string, error)
}

// Deliverer pushes a discovered asset list to the batch destination.
type Deliverer interface {
	Deliver(ctx context.Context, batch domain.Batch, assets []domain.Asset) (RunResult, error)
}

// RunExecutor runs one batch synchronously.
type RunExecutor interface {
	Run(ctx context.Context, batch domain.Batch, trigger domain.RunTrigger) (RunResult, error)
}

// ScheduleController owns the recurring delivery loops.
type ScheduleController interface {
	Schedule(batch domain.Batch) error
	Cancel(key domain.BatchKey)
}

// RunResult summarises one run.
type RunResult struct {
	RunID      string
	Discovered int
	Delivered  int
	PDFs       int
	Videos     int
	Skipped    int
	Failed     int
	State      domain.DeliveryState
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

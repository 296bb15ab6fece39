package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kursadbilgin/course-relay/internal/domain"
	"github.com/kursadbilgin/course-relay/internal/observability"
	"github.com/kursadbilgin/course-relay/internal/queue"
	"github.com/kursadbilgin/course-relay/internal/repository"
	"go.uber.org/zap"
)

const minRunConcurrency = 1

// RunWorker consumes run requests and executes them with bounded concurrency. Messages are
// acked as soon as a slot is taken, so a run lasting hours never holds a broker delivery.
type RunWorker struct {
	batches  repository.BatchRepository
	consumer queue.Consumer
	runner   RunExecutor
	logger   *zap.Logger
	slots    chan struct{}
	inflight sync.WaitGroup
}

func NewRunWorker(
	batches repository.BatchRepository,
	consumer queue.Consumer,
	runner RunExecutor,
	concurrency int,
	logger *zap.Logger,
) (*RunWorker, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if concurrency < minRunConcurrency {
		concurrency = minRunConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RunWorker{
		batches:  batches,
		consumer: consumer,
		runner:   runner,
		logger:   logger,
		slots:    make(chan struct{}, concurrency),
	}, nil
}

// Start consumes until ctx is done, then waits for in-flight runs to stop.
func (w *RunWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	w.logger.Info("run worker started", zap.Int("concurrency", cap(w.slots)))
	err := w.consumer.Consume(ctx, func(msgCtx context.Context, msg queue.RunMessage) error {
		return w.handle(ctx, msgCtx, msg)
	})

	w.inflight.Wait()
	w.logger.Info("run worker stopped")

	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// handle returns an error only when the message should be redelivered. Runs execute under
// runCtx, which outlives the broker delivery.
func (w *RunWorker) handle(runCtx context.Context, msgCtx context.Context, msg queue.RunMessage) error {
	select {
	case w.slots <- struct{}{}:
	case <-msgCtx.Done():
		return msgCtx.Err()
	}

	logger := w.logger.With(
		zap.String("runId", msg.RunID),
		zap.String("ownerId", msg.OwnerID),
		zap.String("courseId", msg.CourseID),
		zap.String("trigger", msg.Trigger.String()),
	)

	batch, err := w.batches.GetByKey(msgCtx, msg.Key())
	if err != nil {
		<-w.slots
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("run requested for unknown batch, dropping")
			return nil
		}
		return fmt.Errorf("failed to load batch: %w", err)
	}

	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		defer func() { <-w.slots }()

		ctx := observability.WithCorrelationID(runCtx, msg.RunID)
		result, err := w.runner.Run(ctx, *batch, msg.Trigger)
		if err != nil {
			if errors.Is(err, domain.ErrRunInProgress) {
				logger.Info("batch already running, request dropped")
				return
			}
			if runCtx.Err() != nil {
				logger.Info("run interrupted by shutdown")
				return
			}
			logger.Error("run failed", zap.Error(err))
			return
		}
		logger.Info("run finished",
			zap.Int("delivered", result.Delivered),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed),
		)
	}()

	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kursadbilgin/course-relay/internal/catalog"
	"github.com/kursadbilgin/course-relay/internal/domain"
	"github.com/kursadbilgin/course-relay/internal/messenger"
	"github.com/kursadbilgin/course-relay/internal/observability"
	"github.com/kursadbilgin/course-relay/internal/repository"
	"go.uber.org/zap"
)

const (
	runOutcomeCompleted   = "completed"
	runOutcomeFailed      = "failed"
	runOutcomeCanceled    = "canceled"
	runOutcomeRejected    = "rejected"
	runOutcomeUnreachable = "unreachable"
)

// Runner walks a batch's catalog and hands the result to the delivery pipeline.
type Runner struct {
	batches   repository.BatchRepository
	states    repository.DeliveryStateRepository
	walker    CatalogWalker
	deliverer Deliverer
	messenger messenger.Messenger
	logger    *zap.Logger
	metrics   *observability.Metrics
	newID     func() string

	mu      sync.Mutex
	running map[domain.BatchKey]struct{}
}

func NewRunner(
	batches repository.BatchRepository,
	states repository.DeliveryStateRepository,
	walker CatalogWalker,
	deliverer Deliverer,
	msgr messenger.Messenger,
	logger *zap.Logger,
) (*Runner, error) {
	if batches == nil || states == nil {
		return nil, fmt.Errorf("runner repositories are required")
	}
	if walker == nil {
		return nil, fmt.Errorf("catalog walker is required")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	if msgr == nil {
		return nil, fmt.Errorf("messenger is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		batches:   batches,
		states:    states,
		walker:    walker,
		deliverer: deliverer,
		messenger: msgr,
		logger:    logger,
		newID:     uuid.NewString,
		running:   make(map[domain.BatchKey]struct{}),
	}, nil
}

func (r *Runner) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Run executes one full run of batch. A malformed credential is rejected before any state is
// touched; a catalog failure leaves the state non-terminal so recovery picks it up later.
func (r *Runner) Run(ctx context.Context, batch domain.Batch, trigger domain.RunTrigger) (RunResult, error) {
	if _, err := catalog.ParseCredentials(batch.Credential); err != nil {
		r.metrics.IncRun(trigger.String(), runOutcomeRejected)
		return RunResult{}, err
	}

	key := batch.Key()
	if !r.acquire(key) {
		r.metrics.IncRun(trigger.String(), runOutcomeRejected)
		return RunResult{}, fmt.Errorf("%w: %s", domain.ErrRunInProgress, key)
	}
	defer r.release(key)

	runID, ok := observability.CorrelationIDFromContext(ctx)
	if !ok {
		runID = r.newID()
		ctx = observability.WithCorrelationID(ctx, runID)
	}

	logger := observability.WithContextLogger(r.logger, ctx).With(
		zap.String("ownerId", batch.OwnerID),
		zap.String("courseId", batch.CourseID),
		zap.String("trigger", trigger.String()),
	)

	r.metrics.IncRunsInFlight()
	defer r.metrics.DecRunsInFlight()

	result, err := r.run(ctx, batch, logger)
	result.RunID = runID
	r.metrics.IncRun(trigger.String(), runOutcome(err))
	return result, err
}

func (r *Runner) run(ctx context.Context, batch domain.Batch, logger *zap.Logger) (RunResult, error) {
	key := batch.Key()

	current, err := r.states.Get(ctx, key)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return RunResult{}, fmt.Errorf("failed to load delivery state: %w", err)
	}
	processing := domain.DeliveryState{
		OwnerID:  key.OwnerID,
		CourseID: key.CourseID,
		Status:   domain.DeliveryStatusProcessing,
	}
	if current != nil {
		processing = *current
		processing.Status = domain.DeliveryStatusProcessing
	}
	if err := r.states.Upsert(ctx, &processing); err != nil {
		return RunResult{}, fmt.Errorf("failed to mark delivery processing: %w", err)
	}

	logger.Info("run started", observability.Redacted("credential", batch.Credential))

	assets, err := r.walker.Walk(ctx, catalog.SourceFromBatch(batch))
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("catalog walk failed", zap.Error(err))
			r.notifyFailure(ctx, batch, "The course catalog could not be reached.", logger)
		}
		return RunResult{}, fmt.Errorf("failed to walk catalog: %w", err)
	}
	r.metrics.ObserveCatalogAssets(len(assets))

	if err := r.batches.UpdateItemCount(ctx, key, len(assets)); err != nil {
		logger.Warn("item count not updated", zap.Error(err))
	}

	return r.deliverer.Deliver(ctx, batch, assets)
}

func (r *Runner) notifyFailure(ctx context.Context, batch domain.Batch, reason string, logger *zap.Logger) {
	if strings.TrimSpace(batch.Destination) == "" {
		return
	}
	if _, err := r.messenger.SendText(ctx, batch.Destination, failureMessage(batch, reason), 0); err != nil {
		logger.Warn("failure notice not sent", zap.Error(err))
	}
}

func (r *Runner) acquire(key domain.BatchKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.running[key]; busy {
		return false
	}
	r.running[key] = struct{}{}
	return true
}

func (r *Runner) release(key domain.BatchKey) {
	r.mu.Lock()
	delete(r.running, key)
	r.mu.Unlock()
}

func runOutcome(err error) string {
	switch {
	case err == nil:
		return runOutcomeCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return runOutcomeCanceled
	case errors.Is(err, domain.ErrCatalogUnreachable):
		return runOutcomeUnreachable
	default:
		return runOutcomeFailed
	}
}

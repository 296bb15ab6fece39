package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/course-relay/internal/domain"
	"github.com/kursadbilgin/course-relay/internal/messenger"
	"github.com/kursadbilgin/course-relay/internal/repository"
	"go.uber.org/zap"
)

const defaultRecoveryDelay = 5 * time.Second

// RecoverySupervisor relaunches runs that were interrupted by a previous shutdown or crash.
type RecoverySupervisor struct {
	batches   repository.BatchRepository
	states    repository.DeliveryStateRepository
	launcher  Launcher
	messenger messenger.Messenger
	delay     time.Duration
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewRecoverySupervisor(
	batches repository.BatchRepository,
	states repository.DeliveryStateRepository,
	launcher Launcher,
	msgr messenger.Messenger,
	delay time.Duration,
	logger *zap.Logger,
) (*RecoverySupervisor, error) {
	if batches == nil || states == nil {
		return nil, fmt.Errorf("recovery repositories are required")
	}
	if launcher == nil {
		return nil, fmt.Errorf("launcher is required")
	}
	if msgr == nil {
		return nil, fmt.Errorf("messenger is required")
	}
	if delay < 0 {
		delay = defaultRecoveryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RecoverySupervisor{
		batches:   batches,
		states:    states,
		launcher:  launcher,
		messenger: msgr,
		delay:     delay,
		logger:    logger,
		sleep:     sleepWithContext,
	}, nil
}

// Recover launches one recovery run per non-terminal delivery state and returns how many
// were launched. Launches are spaced by the configured delay.
func (r *RecoverySupervisor) Recover(ctx context.Context) (int, error) {
	incomplete, err := r.states.ListIncomplete(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list incomplete deliveries: %w", err)
	}
	if len(incomplete) == 0 {
		return 0, nil
	}

	r.logger.Info("resuming interrupted deliveries", zap.Int("count", len(incomplete)))

	launched := 0
	for i, state := range incomplete {
		if i > 0 {
			if err := r.sleep(ctx, r.delay); err != nil {
				return launched, err
			}
		}

		logger := r.logger.With(
			zap.String("ownerId", state.OwnerID),
			zap.String("courseId", state.CourseID),
			zap.String("status", state.Status.String()),
		)

		batch, err := r.batches.GetByKey(ctx, state.Key())
		if err != nil {
			if ctx.Err() != nil {
				return launched, ctx.Err()
			}
			if errors.Is(err, domain.ErrNotFound) {
				logger.Warn("delivery state has no batch, skipping")
			} else {
				logger.Error("batch lookup failed, skipping", zap.Error(err))
			}
			continue
		}

		if _, err := r.messenger.SendText(ctx, batch.Destination, resumingMessage(*batch, state), 0); err != nil {
			logger.Warn("resume notice not sent", zap.Error(err))
		}

		runID, err := r.launcher.Launch(ctx, *batch, domain.TriggerRecovery)
		if err != nil {
			if ctx.Err() != nil {
				return launched, ctx.Err()
			}
			logger.Error("recovery run not launched", zap.Error(err))
			continue
		}

		launched++
		logger.Info("recovery run launched", zap.String("runId", runID))
	}

	return launched, nil
}

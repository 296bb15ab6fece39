package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/course-relay/internal/catalog"
	"github.com/kursadbilgin/course-relay/internal/domain"
	"github.com/kursadbilgin/course-relay/internal/repository"
	"go.uber.org/zap"
)

// BatchService is the onboarding and management boundary for batches.
type BatchService struct {
	batches   repository.BatchRepository
	states    repository.DeliveryStateRepository
	ledger    repository.DeliveredAssetRepository
	launcher  Launcher
	scheduler ScheduleController
	logger    *zap.Logger
	newID     func() string
}

func NewBatchService(
	batches repository.BatchRepository,
	states repository.DeliveryStateRepository,
	ledger repository.DeliveredAssetRepository,
	launcher Launcher,
	scheduler ScheduleController,
	logger *zap.Logger,
) (*BatchService, error) {
	if batches == nil || states == nil || ledger == nil {
		return nil, fmt.Errorf("batch service repositories are required")
	}
	if launcher == nil {
		return nil, fmt.Errorf("launcher is required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("schedule controller is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchService{
		batches:   batches,
		states:    states,
		ledger:    ledger,
		launcher:  launcher,
		scheduler: scheduler,
		logger:    logger,
		newID:     uuid.NewString,
	}, nil
}

// RegisterResult is returned by Register.
type RegisterResult struct {
	Batch *domain.Batch
	RunID string
}

// Register stores a fully onboarded batch, starts its first delivery and, when a time is
// set, its daily schedule. The state is written as PENDING before the launch so a failed
// launch is still picked up by recovery.
func (s *BatchService) Register(ctx context.Context, batch *domain.Batch) (*RegisterResult, error) {
	if batch == nil {
		return nil, fmt.Errorf("%w: batch is required", domain.ErrValidation)
	}

	batch.OwnerID = strings.TrimSpace(batch.OwnerID)
	batch.CourseID = strings.TrimSpace(batch.CourseID)
	batch.Destination = strings.TrimSpace(batch.Destination)
	batch.APIBase = strings.TrimRight(strings.TrimSpace(batch.APIBase), "/")
	batch.Name = strings.TrimSpace(batch.Name)

	if err := batch.Validate(); err != nil {
		return nil, err
	}
	if _, err := catalog.ParseCredentials(batch.Credential); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	if _, err := s.batches.GetByKey(ctx, batch.Key()); err == nil {
		return nil, fmt.Errorf("%w: batch %s already exists", domain.ErrConflict, batch.Key())
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing batch: %w", err)
	}

	if strings.TrimSpace(batch.ID) == "" {
		batch.ID = s.newID()
	}
	batch.ItemCount = 0

	if err := s.batches.Create(ctx, batch); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: batch %s already exists", domain.ErrConflict, batch.Key())
		}
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	pending := domain.DeliveryState{
		OwnerID:  batch.OwnerID,
		CourseID: batch.CourseID,
		Status:   domain.DeliveryStatusPending,
	}
	if err := s.states.Upsert(ctx, &pending); err != nil {
		return nil, fmt.Errorf("failed to initialise delivery state: %w", err)
	}

	logger := s.logger.With(
		zap.String("ownerId", batch.OwnerID),
		zap.String("courseId", batch.CourseID),
	)

	runID, err := s.launcher.Launch(ctx, *batch, domain.TriggerOnboarding)
	if err != nil {
		logger.Error("initial run not launched, recovery will retry", zap.Error(err))
	}

	if batch.IsScheduled() {
		if err := s.scheduler.Schedule(*batch); err != nil {
			logger.Error("batch not scheduled", zap.Error(err))
		}
	}

	logger.Info("batch registered", zap.String("runId", runID))
	return &RegisterResult{Batch: batch, RunID: runID}, nil
}

func (s *BatchService) Get(ctx context.Context, ownerID string, courseID string) (*domain.Batch, error) {
	key, err := batchKey(ownerID, courseID)
	if err != nil {
		return nil, err
	}
	return s.batches.GetByKey(ctx, key)
}

func (s *BatchService) List(ctx context.Context, ownerID string) ([]domain.Batch, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, fmt.Errorf("%w: ownerId is required", domain.ErrValidation)
	}
	return s.batches.ListByOwner(ctx, ownerID)
}

// Status returns the delivery state of a batch. A batch that never ran reports PENDING.
func (s *BatchService) Status(ctx context.Context, ownerID string, courseID string) (*domain.DeliveryState, error) {
	key, err := batchKey(ownerID, courseID)
	if err != nil {
		return nil, err
	}
	if _, err := s.batches.GetByKey(ctx, key); err != nil {
		return nil, err
	}

	state, err := s.states.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.DeliveryState{
			OwnerID:  key.OwnerID,
			CourseID: key.CourseID,
			Status:   domain.DeliveryStatusPending,
		}, nil
	}
	return state, err
}

// UpdateSchedule sets or clears (nil) the daily delivery time and restarts the loop.
func (s *BatchService) UpdateSchedule(ctx context.Context, ownerID string, courseID string, scheduleTime *string) (*domain.Batch, error) {
	key, err := batchKey(ownerID, courseID)
	if err != nil {
		return nil, err
	}

	var normalized *string
	if scheduleTime != nil && strings.TrimSpace(*scheduleTime) != "" {
		value, err := domain.ParseScheduleTime(*scheduleTime)
		if err != nil {
			return nil, err
		}
		normalized = &value
	}

	if err := s.batches.UpdateSchedule(ctx, key, normalized); err != nil {
		return nil, err
	}

	batch, err := s.batches.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	if batch.IsScheduled() {
		if err := s.scheduler.Schedule(*batch); err != nil {
			return nil, fmt.Errorf("failed to reschedule batch: %w", err)
		}
	} else {
		s.scheduler.Cancel(key)
	}
	return batch, nil
}

// Trigger requests a manual re-run of a batch.
func (s *BatchService) Trigger(ctx context.Context, ownerID string, courseID string) (string, error) {
	batch, err := s.Get(ctx, ownerID, courseID)
	if err != nil {
		return "", err
	}
	runID, err := s.launcher.Launch(ctx, *batch, domain.TriggerManual)
	if err != nil {
		return "", fmt.Errorf("failed to launch run: %w", err)
	}
	return runID, nil
}

// Delete removes a batch with its state. The course ledger goes too once no other batch
// references the course.
func (s *BatchService) Delete(ctx context.Context, ownerID string, courseID string) error {
	key, err := batchKey(ownerID, courseID)
	if err != nil {
		return err
	}
	if _, err := s.batches.GetByKey(ctx, key); err != nil {
		return err
	}

	s.scheduler.Cancel(key)

	if err := s.states.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete delivery state: %w", err)
	}
	if err := s.batches.Delete(ctx, key); err != nil {
		return err
	}

	remaining, err := s.batches.CountByCourse(ctx, key.CourseID)
	if err != nil {
		return fmt.Errorf("failed to count course references: %w", err)
	}
	if remaining == 0 {
		if err := s.ledger.DeleteByCourse(ctx, key.CourseID); err != nil {
			return fmt.Errorf("failed to delete course ledger: %w", err)
		}
	}

	s.logger.Info("batch deleted",
		zap.String("ownerId", key.OwnerID),
		zap.String("courseId", key.CourseID),
		zap.Bool("ledgerDeleted", remaining == 0),
	)
	return nil
}

func batchKey(ownerID string, courseID string) (domain.BatchKey, error) {
	key := domain.BatchKey{OwnerID: strings.TrimSpace(ownerID), CourseID: strings.TrimSpace(courseID)}
	if key.OwnerID == "" {
		return domain.BatchKey{}, fmt.Errorf("%w: ownerId is required", domain.ErrValidation)
	}
	if key.CourseID == "" {
		return domain.BatchKey{}, fmt.Errorf("%w: courseId is required", domain.ErrValidation)
	}
	return key, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/course-relay/internal/domain"
	"github.com/kursadbilgin/course-relay/internal/messenger"
	"github.com/kursadbilgin/course-relay/internal/repository"
	"go.uber.org/zap"
)

const schedulerRetryDelay = time.Minute

// NextRunTime returns today at hhmm in loc, or tomorrow when that is not strictly after now.
func NextRunTime(now time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	normalized, err := domain.ParseScheduleTime(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}

	clock, err := time.Parse("15:04", normalized)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid schedule time %q", domain.ErrValidation, hhmm)
	}

	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, clock.Hour(), clock.Minute(), 0, 0, loc)
	}
	return next, nil
}

// Scheduler keeps one daily delivery loop per scheduled batch.
type Scheduler struct {
	batches   repository.BatchRepository
	runner    RunExecutor
	messenger messenger.Messenger
	loc       *time.Location
	logger    *zap.Logger
	now       func() time.Time
	after     func(d time.Duration) <-chan time.Time

	mu      sync.Mutex
	baseCtx context.Context
	loops   map[domain.BatchKey]*scheduleLoop
	wg      sync.WaitGroup
}

type scheduleLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(
	batches repository.BatchRepository,
	runner RunExecutor,
	msgr messenger.Messenger,
	loc *time.Location,
	logger *zap.Logger,
) (*Scheduler, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if msgr == nil {
		return nil, fmt.Errorf("messenger is required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		batches:   batches,
		runner:    runner,
		messenger: msgr,
		loc:       loc,
		logger:    logger,
		now:       time.Now,
		after:     time.After,
		loops:     make(map[domain.BatchKey]*scheduleLoop),
	}, nil
}

// Start launches a loop for every scheduled batch and blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	scheduled, err := s.batches.ListScheduled(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to load scheduled batches: %w", err)
	}

	for i := range scheduled {
		if err := s.Schedule(scheduled[i]); err != nil {
			s.logger.Error("batch not scheduled",
				zap.String("ownerId", scheduled[i].OwnerID),
				zap.String("courseId", scheduled[i].CourseID),
				zap.Error(err),
			)
		}
	}
	s.logger.Info("scheduler started", zap.Int("batches", len(scheduled)))

	<-ctx.Done()
	s.wg.Wait()
	return nil
}

// Schedule (re)starts the loop of batch. Calls made before Start are ignored, since Start
// loads every scheduled batch itself.
func (s *Scheduler) Schedule(batch domain.Batch) error {
	if !batch.IsScheduled() {
		s.Cancel(batch.Key())
		return nil
	}
	if _, err := domain.ParseScheduleTime(*batch.ScheduleTime); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.baseCtx == nil || s.baseCtx.Err() != nil {
		return nil
	}

	key := batch.Key()
	if existing, ok := s.loops[key]; ok {
		existing.cancel()
	}

	loopCtx, cancel := context.WithCancel(s.baseCtx)
	loop := &scheduleLoop{cancel: cancel, done: make(chan struct{})}
	s.loops[key] = loop

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(loop.done)
		defer s.forget(key, loop)
		s.loop(loopCtx, batch)
	}()
	return nil
}

// Cancel stops the loop of key, if any.
func (s *Scheduler) Cancel(key domain.BatchKey) {
	s.mu.Lock()
	loop, ok := s.loops[key]
	if ok {
		delete(s.loops, key)
	}
	s.mu.Unlock()

	if ok {
		loop.cancel()
	}
}

func (s *Scheduler) forget(key domain.BatchKey, loop *scheduleLoop) {
	s.mu.Lock()
	if current, ok := s.loops[key]; ok && current == loop {
		delete(s.loops, key)
	}
	s.mu.Unlock()
}

func (s *Scheduler) loop(ctx context.Context, batch domain.Batch) {
	key := batch.Key()
	logger := s.logger.With(
		zap.String("ownerId", key.OwnerID),
		zap.String("courseId", key.CourseID),
	)

	for {
		current, err := s.batches.GetByKey(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, domain.ErrNotFound) {
				logger.Info("batch removed, schedule stopped")
				return
			}
			logger.Warn("batch reload failed", zap.Error(err))
			if !s.wait(ctx, s.now().Add(schedulerRetryDelay)) {
				return
			}
			continue
		}
		if !current.IsScheduled() {
			logger.Info("batch unscheduled, schedule stopped")
			return
		}

		next, err := NextRunTime(s.now(), *current.ScheduleTime, s.loc)
		if err != nil {
			logger.Error("invalid schedule time, schedule stopped", zap.Error(err))
			return
		}
		logger.Debug("next scheduled run", zap.Time("at", next))

		if !s.wait(ctx, next) {
			return
		}

		// The batch may have changed or disappeared while waiting.
		current, err = s.batches.GetByKey(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, domain.ErrNotFound) {
				logger.Info("batch removed, schedule stopped")
				return
			}
			logger.Warn("batch reload failed, skipping this run", zap.Error(err))
			continue
		}
		if !current.IsScheduled() {
			logger.Info("batch unscheduled, schedule stopped")
			return
		}

		result, err := s.runner.Run(ctx, *current, domain.TriggerSchedule)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("scheduled run failed", zap.Error(err))
			continue
		}

		if _, err := s.messenger.SendText(ctx, current.Destination, deltaMessage(*current, result), 0); err != nil {
			logger.Warn("daily update not sent", zap.Error(err))
		}
	}
}

// wait blocks until at or ctx is done and reports whether at was reached.
func (s *Scheduler) wait(ctx context.Context, at time.Time) bool {
	d := at.Sub(s.now())
	if d < 0 {
		d = 0
	}
	select {
	case <-ctx.Done():
		return false
	case <-s.after(d):
		return true
	}
}

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowlane/flowlane/pkg/models"
	"github.com/flowlane/flowlane/pkg/otelhelper"
	"github.com/flowlane/flowlane/pkg/persistence"
)

const (
	defaultBatchSize     = 200
	defaultWorkers       = 10
	defaultLeaseDuration = 5 * time.Minute
)

// LeaseLock is an optional cross-instance filter in front of the database
// claim, satisfied by claim.Lock.
type LeaseLock interface {
	Acquire(ctx context.Context, enrollmentID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, enrollmentID string) error
}

// SchedulerConfig wires the scheduler. Lock is optional.
type SchedulerConfig struct {
	Persistence persistence.Persistence
	Executor    *Executor
	Lock        LeaseLock
	Clock       clockwork.Clock
	Logger      *slog.Logger
	Tracer      trace.Tracer

	BatchSize     int
	Workers       int
	LeaseDuration time.Duration
}

// Scheduler is the sole driver of enrollment advancement. Each pass selects
// due enrollments, claims them and executes exactly one step transition per
// enrollment through a bounded worker pool. Passes share no memory state;
// everything lives in the store, so any number of instances can run.
type Scheduler struct {
	persistence persistence.Persistence
	executor    *Executor
	lock        LeaseLock
	clock       clockwork.Clock
	logger      *slog.Logger
	tracer      trace.Tracer

	batchSize     int
	workers       int
	leaseDuration time.Duration

	cron *cron.Cron
}

func NewScheduler(config SchedulerConfig) *Scheduler {
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	workers := config.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	lease := config.LeaseDuration
	if lease <= 0 {
		lease = defaultLeaseDuration
	}

	return &Scheduler{
		persistence:   config.Persistence,
		executor:      config.Executor,
		lock:          config.Lock,
		clock:         config.Clock,
		logger:        config.Logger.With("module", "scheduler"),
		tracer:        config.Tracer,
		batchSize:     batchSize,
		workers:       workers,
		leaseDuration: lease,
	}
}

// Start drives ProcessEnrollments every minute until the context ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()

	_, err := s.cron.AddFunc("* * * * *", func() {
		processed, err := s.ProcessEnrollments(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Scheduler pass failed", "error", err)

			return
		}

		if processed > 0 {
			s.logger.InfoContext(ctx, "Scheduler pass finished", "processed", processed)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule enrollment processing: %w", err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started",
		"batch_size", s.batchSize,
		"workers", s.workers)

	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()

	return nil
}

// Stop halts the cron loop and waits for the running pass to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}

	stopCtx := s.cron.Stop()

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}

	s.logger.InfoContext(ctx, "Scheduler stopped")
}

// ProcessEnrollments runs one pass and returns the count of enrollments
// executed. One enrollment's failure never blocks the rest of the batch.
func (s *Scheduler) ProcessEnrollments(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()

	due, err := s.persistence.Enrollments().Due(ctx, now, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to select due enrollments: %w", err)
	}

	if len(due) == 0 {
		return 0, nil
	}

	var (
		processed atomic.Int64
		wg        sync.WaitGroup
	)

	jobs := make(chan *models.Enrollment)

	for range s.workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for enrollment := range jobs {
				if s.processOne(ctx, enrollment, now) {
					processed.Add(1)
				}
			}
		}()
	}

	for _, enrollment := range due {
		jobs <- enrollment
	}

	close(jobs)
	wg.Wait()

	return int(processed.Load()), nil
}

// processOne claims and executes a single enrollment. Returns false when
// the claim was lost or execution errored.
func (s *Scheduler) processOne(ctx context.Context, enrollment *models.Enrollment, now time.Time) bool {
	var span trace.Span

	if s.tracer != nil {
		ctx, span = otelhelper.StartSpan(ctx, s.tracer, "enrollment.process",
			attribute.String(otelhelper.EnrollmentIDKey, enrollment.ID),
			attribute.String(otelhelper.AutomationIDKey, enrollment.AutomationID),
			attribute.String(otelhelper.ContactIDKey, enrollment.ContactID),
		)
		defer span.End()
	}

	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, enrollment.ID, s.leaseDuration)
		if err != nil {
			s.logger.WarnContext(ctx, "Lease lock unavailable, falling back to store claim",
				"enrollment_id", enrollment.ID, "error", err)
		} else if !acquired {
			return false
		} else {
			defer func() {
				err := s.lock.Release(ctx, enrollment.ID)
				if err != nil {
					s.logger.WarnContext(ctx, "Failed to release lease",
						"enrollment_id", enrollment.ID, "error", err)
				}
			}()
		}
	}

	claimed, err := s.persistence.Enrollments().Claim(ctx, enrollment.ID, now, now.Add(s.leaseDuration))
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to claim enrollment",
			"enrollment_id", enrollment.ID, "error", err)

		return false
	}

	if !claimed {
		return false
	}

	err = s.executor.Process(ctx, enrollment)
	if err != nil {
		if span != nil {
			var attrs []attribute.KeyValue
			if enrollment.CurrentStepID != nil {
				attrs = append(attrs, attribute.String(otelhelper.StepIDKey, *enrollment.CurrentStepID))
			}

			otelhelper.SetError(span, err, attrs...)
		}

		s.logger.ErrorContext(ctx, "Enrollment execution failed",
			"enrollment_id", enrollment.ID, "error", err)

		return false
	}

	return true
}

package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/studygen/internal/database"
	"github.com/benvon/studygen/internal/logger"
	"github.com/benvon/studygen/internal/queue"
	"github.com/benvon/studygen/internal/telemetry"
	"go.uber.org/zap"
)

const (
	// sweepBatchSize caps the rows handled per sweep and kind
	sweepBatchSize = 100
	// overdueGrace is how long a due row may wait for its own message before it is re-published
	overdueGrace = 2 * time.Minute
)

// errStaleClaim is the failure recorded for a row abandoned in Processing
var errStaleClaim = errors.New("processing claim went stale")

// Sweeper re-publishes pending rows whose dispatch message was lost and recovers rows
// left in Processing by a worker that died mid-attempt
type Sweeper struct {
	queueRepo  database.QueueRepositoryInterface
	jobQueue   queue.JobQueue
	processor  *Processor
	interval   time.Duration
	staleAfter time.Duration
	metrics    *telemetry.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewSweeper creates a new sweeper. Stale rows go through processor's retry policy.
func NewSweeper(queueRepo database.QueueRepositoryInterface, jobQueue queue.JobQueue, processor *Processor, interval, staleAfter time.Duration, metrics *telemetry.Metrics, log *zap.Logger) *Sweeper {
	return &Sweeper{
		queueRepo:  queueRepo,
		jobQueue:   jobQueue,
		processor:  processor,
		interval:   interval,
		staleAfter: staleAfter,
		metrics:    metrics,
		logger:     logger.OrNop(log).Named("sweeper"),
		now:        time.Now,
	}
}

// Start sweeps every interval until ctx is cancelled
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep_failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one pass and reports how many rows were re-published and recovered
func (s *Sweeper) Sweep(ctx context.Context) (int, int, error) {
	redispatched, errRedispatch := s.redispatch(ctx)
	recovered, errRecover := s.recoverStale(ctx)
	return redispatched, recovered, errors.Join(errRedispatch, errRecover)
}

func (s *Sweeper) redispatch(ctx context.Context) (int, error) {
	overdue, err := s.queueRepo.ListOverdue(ctx, s.now().Add(-overdueGrace), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, req := range overdue {
		if err := s.jobQueue.Enqueue(ctx, queue.NewJob(req)); err != nil {
			return published, fmt.Errorf("re-publish %s: %w", req.ID, err)
		}
		published++
	}

	s.metrics.AddRedispatched(published)
	if published > 0 {
		s.logger.Info("generation_redispatched", zap.Int("count", published))
	}
	return published, nil
}

func (s *Sweeper) recoverStale(ctx context.Context) (int, error) {
	stale, err := s.queueRepo.ListStale(ctx, s.now().Add(-s.staleAfter), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	recovered := 0
	var errs error
	for _, req := range stale {
		log := s.logger.With(
			zap.String("queue_id", req.ID.String()),
			zap.String("owner_id", req.OwnerID.String()),
			zap.Time("claimed_at", req.UpdatedAt),
		)
		outcome, err := s.processor.handleFailure(ctx, log, req, errStaleClaim)
		if errors.Is(err, database.ErrStateConflict) {
			// Finished by its worker after all
			continue
		}
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("recover %s: %w", req.ID, err))
			continue
		}
		s.metrics.ObserveJob(string(req.Type), string(outcome))
		recovered++
	}
	return recovered, errs
}

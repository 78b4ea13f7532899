package workers

import (
	"context"
	"errors"

	"github.com/benvon/studygen/internal/logger"
	"github.com/benvon/studygen/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Background is a periodic task run alongside the consumers
type Background interface {
	Start(ctx context.Context) error
}

// Pool runs concurrency consumers over the job queue plus the background tasks, and
// stops them all when ctx is cancelled or one of them fails
type Pool struct {
	jobQueue    queue.JobQueue
	processor   *Processor
	concurrency int
	prefetch    int
	background  []Background
	logger      *zap.Logger
}

// NewPool creates a worker pool
func NewPool(jobQueue queue.JobQueue, processor *Processor, concurrency, prefetch int, log *zap.Logger, background ...Background) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if prefetch < 1 {
		prefetch = 1
	}
	return &Pool{
		jobQueue:    jobQueue,
		processor:   processor,
		concurrency: concurrency,
		prefetch:    prefetch,
		background:  background,
		logger:      logger.OrNop(log).Named("pool"),
	}
}

// Run blocks until ctx is cancelled or a component fails
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.concurrency; i++ {
		worker := i
		g.Go(func() error {
			return p.consume(ctx, worker)
		})
	}

	for _, bg := range p.background {
		g.Go(func() error {
			return bg.Start(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) consume(ctx context.Context, worker int) error {
	msgChan, errChan, err := p.jobQueue.Consume(ctx, p.prefetch)
	if err != nil {
		return err
	}

	log := p.logger.With(zap.Int("worker", worker))
	log.Info("worker_started", zap.Int("prefetch", p.prefetch))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errChan:
			if !ok {
				errChan = nil
				continue
			}
			log.Error("queue_error", zap.Error(err))
		case msg, ok := <-msgChan:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("message channel closed")
			}
			if err := p.processor.ProcessJob(ctx, msg); err != nil {
				log.Error("job_failed",
					zap.Error(err),
					zap.String("job_id", msg.GetJob().ID.String()),
					zap.String("queue_id", msg.GetJob().QueueID.String()),
					zap.String("type", string(msg.GetJob().Type)),
				)
			}
		}
	}
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/studygen/internal/database"
	"github.com/benvon/studygen/internal/logger"
	"github.com/benvon/studygen/internal/telemetry"
	"go.uber.org/zap"
)

// GarbageCollector periodically purges queue residue older than retention: queue rows
// in any state, the event log and dead-lettered messages.
type GarbageCollector struct {
	purgers   map[string]Purger
	interval  time.Duration
	retention time.Duration
	metrics   *telemetry.Metrics
	logger    *zap.Logger
}

// NewGarbageCollector creates a new garbage collector over the named purgers
func NewGarbageCollector(purgers map[string]Purger, interval, retention time.Duration, metrics *telemetry.Metrics, log *zap.Logger) *GarbageCollector {
	return &GarbageCollector{
		purgers:   purgers,
		interval:  interval,
		retention: retention,
		metrics:   metrics,
		logger:    logger.OrNop(log).Named("queue_gc"),
	}
}

// Start runs the GC loop until ctx is cancelled.
func (gc *GarbageCollector) Start(ctx context.Context) error {
	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := gc.Collect(ctx); err != nil {
				gc.logger.Error("queue_gc_failed", zap.Error(err))
			}
		}
	}
}

// Collect runs every purger once and returns the total removed
func (gc *GarbageCollector) Collect(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	total := 0
	var errs error
	for name, purger := range gc.purgers {
		if purger == nil {
			continue
		}
		n, err := purger.PurgeOlderThan(ctx, gc.retention)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s purge: %w", name, err))
			continue
		}
		total += n
		if n > 0 {
			gc.logger.Info("queue_gc_purged",
				zap.String("target", name),
				zap.Int("count", n),
				zap.Duration("retention", gc.retention),
			)
		}
	}

	gc.metrics.AddReaped(int64(total))
	return total, errs
}

// RowReaper deletes queue rows and events older than the retention window
type RowReaper struct {
	queue  database.QueueRepositoryInterface
	events database.EventRepositoryInterface
}

// NewRowReaper creates a purger over the queue table and the event log
func NewRowReaper(queue database.QueueRepositoryInterface, events database.EventRepositoryInterface) *RowReaper {
	return &RowReaper{queue: queue, events: events}
}

// PurgeOlderThan deletes rows created before now minus retention
func (r *RowReaper) PurgeOlderThan(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)

	rows, err := r.queue.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	var events int64
	if r.events != nil {
		events, err = r.events.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return int(rows), err
		}
	}

	return int(rows + events), nil
}

var _ Purger = (*RowReaper)(nil)

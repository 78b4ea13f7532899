package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/studygen/internal/database"
	"github.com/benvon/studygen/internal/logger"
	"github.com/benvon/studygen/internal/models"
	"github.com/benvon/studygen/internal/notify"
	"github.com/benvon/studygen/internal/outbound"
	"github.com/benvon/studygen/internal/queue"
	"github.com/benvon/studygen/internal/services/ai"
	"github.com/benvon/studygen/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrMaxRetriesExceeded marks a request that was failed because its attempts ran out
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// transitionTimeout bounds the bookkeeping after a generation call, which runs even when
// the worker is shutting down so rows are not left in Processing
const transitionTimeout = 30 * time.Second

// ContentCommitter stores a successful generation as a new content version
type ContentCommitter interface {
	Commit(ctx context.Context, ownerID uuid.UUID, genType models.GenerationType, prompt, content string, blob *models.Blob) (*models.ContentVersion, error)
}

// Outcome is what processing did with a queue entry
type Outcome string

const (
	OutcomeCompleted Outcome = telemetry.OutcomeCompleted
	OutcomeRetried   Outcome = telemetry.OutcomeRetried
	OutcomeFailed    Outcome = telemetry.OutcomeFailed
	OutcomeSkipped   Outcome = telemetry.OutcomeSkipped
)

// Processor runs one attempt of a generation request through the queue state machine:
// claim, generate, then commit and complete, reschedule with backoff, or fail.
type Processor struct {
	queueRepo database.QueueRepositoryInterface
	events    database.EventRepositoryInterface
	content   ContentCommitter
	generator ai.Generator
	jobQueue  queue.JobQueue
	notifier  notify.Notifier
	metrics   *telemetry.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewProcessor creates a new processor
func NewProcessor(
	queueRepo database.QueueRepositoryInterface,
	events database.EventRepositoryInterface,
	content ContentCommitter,
	generator ai.Generator,
	jobQueue queue.JobQueue,
	notifier notify.Notifier,
	metrics *telemetry.Metrics,
	log *zap.Logger,
) *Processor {
	return &Processor{
		queueRepo: queueRepo,
		events:    events,
		content:   content,
		generator: generator,
		jobQueue:  jobQueue,
		notifier:  notifier,
		metrics:   metrics,
		logger:    logger.OrNop(log).Named("processor"),
		now:       time.Now,
	}
}

// ProcessJob handles one delivery. The queue row carries the state, so the message is
// acknowledged whatever the outcome; only infrastructure errors dead-letter it.
func (p *Processor) ProcessJob(ctx context.Context, msg queue.Delivery) error {
	job := msg.GetJob()

	outcome, err := p.Process(ctx, job.QueueID)
	if err != nil && !errors.Is(err, ErrMaxRetriesExceeded) {
		if nackErr := msg.Nack(false); nackErr != nil {
			p.logger.Warn("job_nack_failed", zap.Error(nackErr))
		}
		return fmt.Errorf("job %s: %w", job.ID, err)
	}

	if ackErr := msg.Ack(); ackErr != nil {
		return fmt.Errorf("failed to ack job: %w", ackErr)
	}

	p.metrics.ObserveJob(string(job.Type), string(outcome))
	return nil
}

// Process claims the queue entry and attempts it once
func (p *Processor) Process(ctx context.Context, queueID uuid.UUID) (Outcome, error) {
	req, err := p.queueRepo.Claim(ctx, queueID, p.now())
	if errors.Is(err, database.ErrStateConflict) {
		return p.handleUnclaimable(ctx, queueID)
	}
	if err != nil {
		return OutcomeSkipped, err
	}

	log := p.logger.With(
		zap.String("queue_id", req.ID.String()),
		zap.String("owner_id", req.OwnerID.String()),
		zap.String("type", string(req.Type)),
		zap.Int("retries", req.Retries),
	)
	log.Info("generation_claimed")
	if ce := log.Check(zap.DebugLevel, "generation_prompt"); ce != nil {
		ce.Write(zap.String("prompt", logger.SanitizePrompt(req.Prompt)))
	}

	spanCtx, span := telemetry.StartSpan(ctx, "generation.process",
		attribute.String("queue_id", req.ID.String()),
		attribute.String("type", string(req.Type)),
		attribute.Int("retries", req.Retries),
	)
	result, genErr := p.generator.Generate(spanCtx, req.Type, req.Prompt)
	telemetry.EndSpan(span, genErr)

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), transitionTimeout)
	defer cancel()

	if genErr != nil {
		return p.handleFailure(tctx, log, req, genErr)
	}

	version, err := p.content.Commit(tctx, req.OwnerID, req.Type, req.Prompt, result.Content, result.Blob)
	if err != nil {
		return p.handleFailure(tctx, log, req, fmt.Errorf("commit: %w", err))
	}

	if err := p.queueRepo.Complete(tctx, req.ID); err != nil {
		log.Error("generation_complete_failed",
			zap.String("content_id", version.ID.String()),
			zap.Error(err),
		)
		return OutcomeCompleted, fmt.Errorf("failed to complete queue entry: %w", err)
	}

	versionID := version.ID
	p.finish(tctx, log, req, models.EventKindCompleted, &versionID, "")
	log.Info("generation_completed",
		zap.String("content_id", version.ID.String()),
		zap.Int("version", version.Version),
	)
	return OutcomeCompleted, nil
}

// handleUnclaimable decides what to do with an entry the claim did not match
func (p *Processor) handleUnclaimable(ctx context.Context, queueID uuid.UUID) (Outcome, error) {
	req, err := p.queueRepo.GetByID(ctx, queueID)
	if errors.Is(err, database.ErrNotFound) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeSkipped, err
	}

	if req.Status != models.RequestStatusPending || !req.RetriesExhausted() {
		p.logger.Debug("generation_not_claimable",
			zap.String("queue_id", queueID.String()),
			zap.String("status", req.Status.String()),
			zap.Time("run_after", req.RunAfter),
		)
		return OutcomeSkipped, nil
	}

	changed, err := p.queueRepo.FailExhausted(ctx, queueID, models.MessageMaxRetries)
	if err != nil {
		return OutcomeSkipped, err
	}
	if !changed {
		return OutcomeSkipped, nil
	}

	log := p.logger.With(zap.String("queue_id", queueID.String()), zap.String("owner_id", req.OwnerID.String()))
	log.Warn("generation_max_retries", zap.Int("retries", req.Retries))
	p.finish(ctx, log, req, models.EventKindFailed, nil, models.MessageMaxRetries)
	return OutcomeFailed, ErrMaxRetriesExceeded
}

// handleFailure applies the retry policy. The raw cause is logged, never stored.
func (p *Processor) handleFailure(ctx context.Context, log *zap.Logger, req *models.GenerationRequest, cause error) (Outcome, error) {
	retries := req.Retries + 1

	if !ai.IsRetryable(cause) {
		message := models.MessageGenerationFailed
		if errors.Is(cause, outbound.ErrSSRFBlocked) {
			message = models.MessageConfiguration
		}
		log.Error("generation_failed_fatal", zap.String("error", logger.SanitizeError(cause)))
		if err := p.queueRepo.Fail(ctx, req.ID, retries, message); err != nil {
			return OutcomeFailed, err
		}
		p.finish(ctx, log, req, models.EventKindFailed, nil, message)
		return OutcomeFailed, nil
	}

	if retries >= models.MaxRetries {
		log.Error("generation_failed_max_retries",
			zap.Int("attempts", retries),
			zap.String("error", logger.SanitizeError(cause)),
		)
		if err := p.queueRepo.Fail(ctx, req.ID, retries, models.MessageGenerationFailed); err != nil {
			return OutcomeFailed, err
		}
		p.finish(ctx, log, req, models.EventKindFailed, nil, models.MessageGenerationFailed)
		return OutcomeFailed, nil
	}

	delay := models.BackoffDelay(retries)
	runAfter := p.now().Add(delay)
	if err := p.queueRepo.Reschedule(ctx, req.ID, retries, runAfter, models.MessageGenerationFailed); err != nil {
		return OutcomeRetried, err
	}

	log.Warn("generation_retry_scheduled",
		zap.Int("attempt", retries),
		zap.Duration("delay", delay),
		zap.Bool("rate_limited", ai.IsRateLimitError(cause)),
		zap.String("error", logger.SanitizeError(cause)),
	)

	next := *req
	next.Status = models.RequestStatusPending
	next.Retries = retries
	next.RunAfter = runAfter
	if err := p.jobQueue.Enqueue(ctx, queue.NewJob(&next)); err != nil {
		// The sweeper re-publishes overdue pending rows
		log.Warn("generation_retry_publish_failed", zap.Error(err))
	}
	return OutcomeRetried, nil
}

// finish records the terminal event and notifies the requesting user
func (p *Processor) finish(ctx context.Context, log *zap.Logger, req *models.GenerationRequest, kind models.EventKind, versionID *uuid.UUID, message string) {
	event := &models.GenerationEvent{
		ID:        uuid.New(),
		QueueID:   req.ID,
		OwnerID:   req.OwnerID,
		UserID:    req.UserID,
		Type:      req.Type,
		Kind:      kind,
		VersionID: versionID,
		Message:   message,
		CreatedAt: p.now(),
	}

	if err := p.events.Create(ctx, event); err != nil {
		log.Warn("generation_event_failed", zap.Error(err))
	}

	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(ctx, notify.NewNotification(event, req.Prompt)); err != nil {
		log.Warn("generation_notify_failed", zap.Error(err))
	}
}

// Package pipeline is the caller-facing side of content generation: it records requests,
// reports their progress, and exposes the versioned content they produce.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/benvon/studygen/internal/database"
	"github.com/benvon/studygen/internal/logger"
	"github.com/benvon/studygen/internal/models"
	"github.com/benvon/studygen/internal/queue"
	"github.com/benvon/studygen/internal/ratelimit"
	"github.com/benvon/studygen/internal/request"
	"github.com/benvon/studygen/internal/services/ai"
	"github.com/benvon/studygen/internal/validation"
)

const (
	// RecentWindow is how far back Status looks for completions and failures
	RecentWindow = 60 * time.Second
	// MaxChatMessage caps a chat message after trimming
	MaxChatMessage = 1000
	// MaxPrompt caps a generation prompt
	MaxPrompt = 2000

	defaultRubricTopic = "the generated content"
)

var (
	// ErrNoContent is returned by operations that need a current version when there is none
	ErrNoContent = errors.New("no content has been generated yet")
	// ErrForbidden is returned when the caller may not change the owner's content
	ErrForbidden = errors.New("caller may not manage this content")
	// ErrNoCaller is returned when the context carries no identity
	ErrNoCaller = errors.New("missing caller identity")
)

// RateChecker bounds how often a user may act
type RateChecker interface {
	Check(ctx context.Context, userID uuid.UUID, class ratelimit.ActionClass) error
}

// ContentStore is the versioned content the pipeline reads and manages
type ContentStore interface {
	Restore(ctx context.Context, ownerID, versionID uuid.UUID) (*models.ContentVersion, error)
	Current(ctx context.Context, ownerID uuid.UUID) (*models.ContentVersion, error)
	Versions(ctx context.Context, ownerID uuid.UUID) ([]*models.VersionSummary, error)
	Blob(ctx context.Context, ownerID, versionID uuid.UUID, area models.BlobArea) (*models.Blob, error)
	UpdateContent(ctx context.Context, ownerID uuid.UUID, content string) (*models.ContentVersion, error)
	Reset(ctx context.Context, ownerID uuid.UUID) (int64, error)
}

// Assistant answers synchronous requests against the LLM backend
type Assistant interface {
	Rubric(ctx context.Context, topic string) (string, error)
	Chat(ctx context.Context, material, question string, history []ai.ChatMessage) (string, error)
}

// EnqueueInput is a generation request as submitted by a caller
type EnqueueInput struct {
	Type   models.GenerationType `json:"type" validate:"required,generation_type"`
	Prompt string                `json:"prompt" validate:"required,notblank,max=2000"`
}

// ChatInput is one chat message. A nil History falls back to the server-side session.
type ChatInput struct {
	Message string           `json:"message" validate:"required,notblank"`
	History []ai.ChatMessage `json:"history,omitempty" validate:"omitempty,dive"`
}

// ChatReply is the assistant's answer
type ChatReply struct {
	Reply         string `json:"reply"`
	HistoryLength int    `json:"history_length"`
}

// StatusError is a recent permanent failure as shown to users
type StatusError struct {
	QueueID   uuid.UUID             `json:"queue_id"`
	Type      models.GenerationType `json:"type"`
	Message   string                `json:"message"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Status is the generation progress for an owner
type Status struct {
	PendingCount      int                         `json:"pending_count"`
	Tasks             []*models.GenerationRequest `json:"tasks"`
	HasNewlyCompleted bool                        `json:"has_newly_completed"`
	Errors            []StatusError               `json:"errors"`
}

// ResetResult counts what Reset removed
type ResetResult struct {
	Versions int64 `json:"versions"`
	Requests int64 `json:"requests"`
	Events   int64 `json:"events"`
}

// Service implements the pipeline operations
type Service struct {
	queueRepo database.QueueRepositoryInterface
	events    database.EventRepositoryInterface
	content   ContentStore
	jobQueue  queue.JobQueue
	limiter   RateChecker
	assistant Assistant
	sessions  *ai.ChatSessions
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a pipeline service
func NewService(
	queueRepo database.QueueRepositoryInterface,
	events database.EventRepositoryInterface,
	content ContentStore,
	jobQueue queue.JobQueue,
	limiter RateChecker,
	assistant Assistant,
	sessions *ai.ChatSessions,
	log *zap.Logger,
) *Service {
	if sessions == nil {
		sessions = ai.NewChatSessions()
	}
	return &Service{
		queueRepo: queueRepo,
		events:    events,
		content:   content,
		jobQueue:  jobQueue,
		limiter:   limiter,
		assistant: assistant,
		sessions:  sessions,
		logger:    logger.OrNop(log).Named("pipeline"),
		now:       time.Now,
	}
}

// Enqueue records a generation request and dispatches it. Input is validated before the
// rate limit is charged; a denied request creates no row.
func (s *Service) Enqueue(ctx context.Context, caller *request.Caller, in EnqueueInput) (*models.GenerationRequest, error) {
	if err := requireManager(caller); err != nil {
		return nil, err
	}
	in.Prompt = validation.SanitizeText(in.Prompt)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if err := s.limiter.Check(ctx, caller.UserID, ratelimit.ClassGeneration); err != nil {
		return nil, err
	}

	req := models.NewGenerationRequest(caller.OwnerID, caller.UserID, in.Type, in.Prompt)
	if err := s.queueRepo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to record generation request: %w", err)
	}

	log := s.logger.With(
		zap.String("queue_id", req.ID.String()),
		zap.String("owner_id", req.OwnerID.String()),
		zap.String("user_id", req.UserID.String()),
		zap.String("type", string(req.Type)),
	)
	if err := s.jobQueue.Enqueue(ctx, queue.NewJob(req)); err != nil {
		// The row is durable; the sweeper dispatches it
		log.Warn("generation_dispatch_failed", zap.Error(err))
	}
	log.Info("generation_enqueued")
	return req, nil
}

// Status reports queued and running requests plus what finished in the last minute
func (s *Service) Status(ctx context.Context, ownerID uuid.UUID) (*Status, error) {
	active, err := s.queueRepo.ListActiveByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}

	since := s.now().Add(-RecentWindow)
	completed, err := s.events.ListSince(ctx, ownerID, models.EventKindCompleted, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list completions: %w", err)
	}
	failed, err := s.queueRepo.ListFailedSince(ctx, ownerID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}

	status := &Status{
		PendingCount:      len(active),
		Tasks:             active,
		HasNewlyCompleted: len(completed) > 0,
		Errors:            make([]StatusError, 0, len(failed)),
	}
	if status.Tasks == nil {
		status.Tasks = []*models.GenerationRequest{}
	}
	for _, req := range failed {
		message := models.MessageGenerationFailed
		if req.ErrorMessage != nil && *req.ErrorMessage != "" {
			message = *req.ErrorMessage
		}
		status.Errors = append(status.Errors, StatusError{
			QueueID:   req.ID,
			Type:      req.Type,
			Message:   message,
			UpdatedAt: req.UpdatedAt,
		})
	}
	return status, nil
}

// Current returns the owner's current version
func (s *Service) Current(ctx context.Context, ownerID uuid.UUID) (*models.ContentVersion, error) {
	return s.content.Current(ctx, ownerID)
}

// Versions lists the retained versions, newest first
func (s *Service) Versions(ctx context.Context, ownerID uuid.UUID) ([]*models.VersionSummary, error) {
	return s.content.Versions(ctx, ownerID)
}

// Restore makes versionID the caller's owner's current version
func (s *Service) Restore(ctx context.Context, caller *request.Caller, versionID uuid.UUID) (*models.ContentVersion, error) {
	if err := requireManager(caller); err != nil {
		return nil, err
	}
	v, err := s.content.Restore(ctx, caller.OwnerID, versionID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("content_restored",
		zap.String("owner_id", caller.OwnerID.String()),
		zap.String("user_id", caller.UserID.String()),
		zap.String("content_id", v.ID.String()),
		zap.Int("version", v.Version),
	)
	return v, nil
}

// UpdateContent edits the current version in place
func (s *Service) UpdateContent(ctx context.Context, caller *request.Caller, content string) (*models.ContentVersion, error) {
	if err := requireManager(caller); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, validation.NewError("content", "is required")
	}
	return s.content.UpdateContent(ctx, caller.OwnerID, content)
}

// Reset deletes the owner's versions, blobs, queue rows and events
func (s *Service) Reset(ctx context.Context, caller *request.Caller) (*ResetResult, error) {
	if err := requireManager(caller); err != nil {
		return nil, err
	}

	var result ResetResult
	var err error
	if result.Requests, err = s.queueRepo.DeleteByOwner(ctx, caller.OwnerID); err != nil {
		return nil, fmt.Errorf("failed to delete requests: %w", err)
	}
	if result.Versions, err = s.content.Reset(ctx, caller.OwnerID); err != nil {
		return nil, err
	}
	if result.Events, err = s.events.DeleteByOwner(ctx, caller.OwnerID); err != nil {
		return nil, fmt.Errorf("failed to delete events: %w", err)
	}

	s.logger.Info("content_reset",
		zap.String("owner_id", caller.OwnerID.String()),
		zap.String("user_id", caller.UserID.String()),
		zap.Int64("versions", result.Versions),
		zap.Int64("requests", result.Requests),
	)
	return &result, nil
}

// Blob returns a binary payload of one of the owner's versions
func (s *Service) Blob(ctx context.Context, ownerID, versionID uuid.UUID, area models.BlobArea) (*models.Blob, error) {
	return s.content.Blob(ctx, ownerID, versionID, area)
}

// Chat answers a question about the current content
func (s *Service) Chat(ctx context.Context, caller *request.Caller, in ChatInput) (*ChatReply, error) {
	if caller == nil {
		return nil, ErrNoCaller
	}
	in.Message = validation.Truncate(strings.TrimSpace(in.Message), MaxChatMessage)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if err := s.limiter.Check(ctx, caller.UserID, ratelimit.ClassChat); err != nil {
		return nil, err
	}

	current, err := s.content.Current(ctx, caller.OwnerID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNoContent
	}
	if err != nil {
		return nil, err
	}
	material, err := ai.ExtractContext(current.Type, current.Content)
	if err != nil {
		return nil, err
	}

	history := in.History
	if history == nil {
		history = s.sessions.History(caller.OwnerID, caller.UserID)
	}
	history = ai.TrimHistory(history)

	reply, err := s.assistant.Chat(ctx, material, in.Message, history)
	if err != nil {
		return nil, err
	}

	length := s.sessions.Append(caller.OwnerID, caller.UserID, in.Message, reply)
	if in.History != nil {
		length = min(len(history)+2, ai.MaxChatHistory)
	}
	return &ChatReply{Reply: reply, HistoryLength: length}, nil
}

// ClearChat forgets the caller's server-side chat session
func (s *Service) ClearChat(caller *request.Caller) error {
	if caller == nil {
		return ErrNoCaller
	}
	s.sessions.Clear(caller.OwnerID, caller.UserID)
	return nil
}

// Rubric generates an assessment rubric. An empty topic refers to the current content.
func (s *Service) Rubric(ctx context.Context, caller *request.Caller, topic string) (string, error) {
	if err := requireManager(caller); err != nil {
		return "", err
	}
	topic = validation.Truncate(validation.SanitizeText(topic), MaxPrompt)
	if topic == "" {
		if _, err := s.content.Current(ctx, caller.OwnerID); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return "", validation.NewError("topic", "is required")
			}
			return "", err
		}
		topic = defaultRubricTopic
	}
	if err := s.limiter.Check(ctx, caller.UserID, ratelimit.ClassGeneration); err != nil {
		return "", err
	}
	return s.assistant.Rubric(ctx, topic)
}

func requireManager(caller *request.Caller) error {
	if caller == nil {
		return ErrNoCaller
	}
	if !caller.Manager {
		return ErrForbidden
	}
	return nil
}

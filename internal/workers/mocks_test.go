package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benvon/studygen/internal/database"
	"github.com/benvon/studygen/internal/models"
	"github.com/benvon/studygen/internal/notify"
	"github.com/benvon/studygen/internal/queue"
	"github.com/benvon/studygen/internal/services/ai"
	"github.com/google/uuid"
)

// mockQueueRepo is a mock implementation of QueueRepositoryInterface
type mockQueueRepo struct {
	mu sync.Mutex

	claimFunc         func(ctx context.Context, id uuid.UUID, now time.Time) (*models.GenerationRequest, error)
	getByIDFunc       func(ctx context.Context, id uuid.UUID) (*models.GenerationRequest, error)
	failExhaustedFunc func(ctx context.Context, id uuid.UUID, message string) (bool, error)
	rescheduleFunc    func(ctx context.Context, id uuid.UUID, retries int, runAfter time.Time, message string) error
	failFunc          func(ctx context.Context, id uuid.UUID, retries int, message string) error
	completeFunc      func(ctx context.Context, id uuid.UUID) error
	listOverdueFunc   func(ctx context.Context, before time.Time, limit int) ([]*models.GenerationRequest, error)
	listStaleFunc     func(ctx context.Context, before time.Time, limit int) ([]*models.GenerationRequest, error)

	rescheduled []rescheduleCall
	failed      []failCall
	completed   []uuid.UUID
}

type rescheduleCall struct {
	id       uuid.UUID
	retries  int
	runAfter time.Time
	message  string
}

type failCall struct {
	id      uuid.UUID
	retries int
	message string
}

func (m *mockQueueRepo) Create(ctx context.Context, req *models.GenerationRequest) error {
	return nil
}

func (m *mockQueueRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationRequest, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, database.ErrNotFound
}

func (m *mockQueueRepo) Claim(ctx context.Context, id uuid.UUID, now time.Time) (*models.GenerationRequest, error) {
	if m.claimFunc != nil {
		return m.claimFunc(ctx, id, now)
	}
	return nil, database.ErrStateConflict
}

func (m *mockQueueRepo) FailExhausted(ctx context.Context, id uuid.UUID, message string) (bool, error) {
	if m.failExhaustedFunc != nil {
		return m.failExhaustedFunc(ctx, id, message)
	}
	return false, nil
}

func (m *mockQueueRepo) Reschedule(ctx context.Context, id uuid.UUID, retries int, runAfter time.Time, message string) error {
	m.mu.Lock()
	m.rescheduled = append(m.rescheduled, rescheduleCall{id, retries, runAfter, message})
	m.mu.Unlock()
	if m.rescheduleFunc != nil {
		return m.rescheduleFunc(ctx, id, retries, runAfter, message)
	}
	return nil
}

func (m *mockQueueRepo) Fail(ctx context.Context, id uuid.UUID, retries int, message string) error {
	m.mu.Lock()
	m.failed = append(m.failed, failCall{id, retries, message})
	m.mu.Unlock()
	if m.failFunc != nil {
		return m.failFunc(ctx, id, retries, message)
	}
	return nil
}

func (m *mockQueueRepo) Complete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	m.completed = append(m.completed, id)
	m.mu.Unlock()
	if m.completeFunc != nil {
		return m.completeFunc(ctx, id)
	}
	return nil
}

func (m *mockQueueRepo) ListActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.GenerationRequest, error) {
	return nil, nil
}

func (m *mockQueueRepo) ListFailedSince(ctx context.Context, ownerID uuid.UUID, since time.Time) ([]*models.GenerationRequest, error) {
	return nil, nil
}

func (m *mockQueueRepo) ListOverdue(ctx context.Context, before time.Time, limit int) ([]*models.GenerationRequest, error) {
	if m.listOverdueFunc != nil {
		return m.listOverdueFunc(ctx, before, limit)
	}
	return nil, nil
}

func (m *mockQueueRepo) ListStale(ctx context.Context, before time.Time, limit int) ([]*models.GenerationRequest, error) {
	if m.listStaleFunc != nil {
		return m.listStaleFunc(ctx, before, limit)
	}
	return nil, nil
}

func (m *mockQueueRepo) DeleteByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	return 0, nil
}

func (m *mockQueueRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// mockEventRepo records created events
type mockEventRepo struct {
	mu     sync.Mutex
	events []*models.GenerationEvent
}

func (m *mockEventRepo) Create(ctx context.Context, e *models.GenerationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *mockEventRepo) ListSince(ctx context.Context, ownerID uuid.UUID, kind models.EventKind, since time.Time) ([]*models.GenerationEvent, error) {
	return nil, nil
}

func (m *mockEventRepo) DeleteByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	return 0, nil
}

func (m *mockEventRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// mockCommitter is a mock implementation of ContentCommitter
type mockCommitter struct {
	commitFunc func(ctx context.Context, ownerID uuid.UUID, genType models.GenerationType, prompt, content string, blob *models.Blob) (*models.ContentVersion, error)
	calls      int
}

func (m *mockCommitter) Commit(ctx context.Context, ownerID uuid.UUID, genType models.GenerationType, prompt, content string, blob *models.Blob) (*models.ContentVersion, error) {
	m.calls++
	if m.commitFunc != nil {
		return m.commitFunc(ctx, ownerID, genType, prompt, content, blob)
	}
	return &models.ContentVersion{ID: uuid.New(), OwnerID: ownerID, Type: genType, Content: content, Prompt: prompt, Version: 1, IsCurrent: true}, nil
}

// mockGenerator is a mock implementation of ai.Generator
type mockGenerator struct {
	generateFunc func(ctx context.Context, genType models.GenerationType, prompt string) (*ai.Result, error)
	calls        int
}

func (m *mockGenerator) Generate(ctx context.Context, genType models.GenerationType, prompt string) (*ai.Result, error) {
	m.calls++
	if m.generateFunc != nil {
		return m.generateFunc(ctx, genType, prompt)
	}
	return &ai.Result{Content: "<p>generated</p>"}, nil
}

// mockJobQueue is a mock implementation of JobQueue
type mockJobQueue struct {
	mu          sync.Mutex
	enqueueFunc func(ctx context.Context, job *queue.Job) error
	consumeFunc func(ctx context.Context, prefetchCount int) (<-chan *queue.Message, <-chan error, error)
	enqueued    []*queue.Job
}

func (m *mockJobQueue) Enqueue(ctx context.Context, job *queue.Job) error {
	m.mu.Lock()
	m.enqueued = append(m.enqueued, job)
	m.mu.Unlock()
	if m.enqueueFunc != nil {
		return m.enqueueFunc(ctx, job)
	}
	return nil
}

func (m *mockJobQueue) Consume(ctx context.Context, prefetchCount int) (<-chan *queue.Message, <-chan error, error) {
	if m.consumeFunc != nil {
		return m.consumeFunc(ctx, prefetchCount)
	}
	return nil, nil, errors.New("not implemented")
}

func (m *mockJobQueue) Close() error {
	return nil
}

func (m *mockJobQueue) HealthCheck(ctx context.Context) error {
	return nil
}

// mockNotifier records notifications
type mockNotifier struct {
	mu   sync.Mutex
	sent []*notify.Notification
}

func (m *mockNotifier) Notify(ctx context.Context, n *notify.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return nil
}

// mockMessage records how the processor settled a delivery
type mockMessage struct {
	job    *queue.Job
	acked  bool
	nacked bool
}

func (m *mockMessage) Ack() error {
	m.acked = true
	return nil
}

func (m *mockMessage) Nack(requeue bool) error {
	m.nacked = true
	return nil
}

func (m *mockMessage) GetJob() *queue.Job {
	return m.job
}

// Ensure mocks implement interfaces
var (
	_ database.QueueRepositoryInterface = (*mockQueueRepo)(nil)
	_ database.EventRepositoryInterface = (*mockEventRepo)(nil)
	_ ContentCommitter                  = (*mockCommitter)(nil)
	_ ai.Generator                      = (*mockGenerator)(nil)
	_ queue.JobQueue                    = (*mockJobQueue)(nil)
	_ notify.Notifier                   = (*mockNotifier)(nil)
	_ queue.Delivery                    = (*mockMessage)(nil)
)

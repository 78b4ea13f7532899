package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benvon/studygen/internal/models"
	"github.com/benvon/studygen/internal/queue"
	"go.uber.org/zap"
)

// countingAcknowledger records acknowledgements for messages delivered through the pool
type countingAcknowledger struct {
	acks  atomic.Int32
	nacks atomic.Int32
}

func (a *countingAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acks.Add(1)
	return nil
}

func (a *countingAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.nacks.Add(1)
	return nil
}

func (a *countingAcknowledger) Reject(tag uint64, requeue bool) error {
	a.nacks.Add(1)
	return nil
}

type stubBackground struct {
	started atomic.Bool
	err     error
}

func (b *stubBackground) Start(ctx context.Context) error {
	b.started.Store(true)
	if b.err != nil {
		return b.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestPoolProcessesDeliveries(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture(t)
	req := newRequest(models.GenerationTypeSummary, 0)
	f.claimable(req)

	ack := &countingAcknowledger{}
	msgs := make(chan *queue.Message, 1)
	msgs <- &queue.Message{Job: queue.NewJob(req), DeliveryTag: 1, Channel: ack}

	var consumers atomic.Int32
	f.jobQueue.consumeFunc = func(ctx context.Context, prefetchCount int) (<-chan *queue.Message, <-chan error, error) {
		if prefetchCount != 3 {
			t.Errorf("prefetch = %d, want 3", prefetchCount)
		}
		if consumers.Add(1) == 1 {
			return msgs, make(chan error), nil
		}
		return make(chan *queue.Message), make(chan error), nil
	}

	bg := &stubBackground{}
	pool := NewPool(f.jobQueue, f.processor, 2, 3, zap.NewNop(), bg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for ack.acks.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("delivery was not acknowledged")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
	if got := consumers.Load(); got != 2 {
		t.Errorf("consumers = %d, want 2", got)
	}
	if !bg.started.Load() {
		t.Error("background task was not started")
	}
	if ack.nacks.Load() != 0 {
		t.Errorf("nacks = %d, want 0", ack.nacks.Load())
	}
}

func TestPoolStopsWhenBackgroundFails(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture(t)
	f.jobQueue.consumeFunc = func(ctx context.Context, prefetchCount int) (<-chan *queue.Message, <-chan error, error) {
		return make(chan *queue.Message), make(chan error), nil
	}

	errBoom := errors.New("boom")
	pool := NewPool(f.jobQueue, f.processor, 1, 1, zap.NewNop(), &stubBackground{err: errBoom})

	if err := pool.Run(context.Background()); !errors.Is(err, errBoom) {
		t.Errorf("Run() error = %v, want %v", err, errBoom)
	}
}

func TestPoolConsumeError(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture(t)
	errConsume := errors.New("channel open failed")
	f.jobQueue.consumeFunc = func(ctx context.Context, prefetchCount int) (<-chan *queue.Message, <-chan error, error) {
		return nil, nil, errConsume
	}

	if err := NewPool(f.jobQueue, f.processor, 0, 0, zap.NewNop()).Run(context.Background()); !errors.Is(err, errConsume) {
		t.Errorf("Run() error = %v, want %v", err, errConsume)
	}
}

func TestPoolClosedDeliveryChannel(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture(t)
	f.jobQueue.consumeFunc = func(ctx context.Context, prefetchCount int) (<-chan *queue.Message, <-chan error, error) {
		msgs := make(chan *queue.Message)
		close(msgs)
		return msgs, nil, nil
	}

	err := NewPool(f.jobQueue, f.processor, 1, 1, zap.NewNop()).Run(context.Background())
	if err == nil {
		t.Fatal("Run() expected error when the delivery channel closes")
	}
}

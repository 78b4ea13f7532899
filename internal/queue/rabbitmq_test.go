package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/benvon/studygen/internal/models"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// recordingAcknowledger records acknowledgements by delivery tag
type recordingAcknowledger struct {
	acked    []uint64
	nacked   []uint64
	requeued []bool
}

func (a *recordingAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acked = append(a.acked, tag)
	return nil
}

func (a *recordingAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked = append(a.nacked, tag)
	a.requeued = append(a.requeued, requeue)
	return nil
}

func (a *recordingAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

var _ amqp.Acknowledger = (*recordingAcknowledger)(nil)

func delivery(t *testing.T, ack amqp.Acknowledger, tag uint64, job *Job) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: body}
}

func TestRabbitMQQueue_Decode(t *testing.T) {
	t.Parallel()

	q := &RabbitMQQueue{logger: zap.NewNop()}
	req := models.NewGenerationRequest(uuid.New(), uuid.New(), models.GenerationTypeSummary, "glaciers")

	t.Run("due job becomes a message", func(t *testing.T) {
		t.Parallel()
		ack := &recordingAcknowledger{}
		msg, err := q.decode(delivery(t, ack, 11, NewJob(req)), ack)
		if err != nil || msg == nil {
			t.Fatalf("decode = %v, %v", msg, err)
		}
		if msg.GetJob().QueueID != req.ID {
			t.Errorf("QueueID = %s, want %s", msg.GetJob().QueueID, req.ID)
		}
		if err := msg.Ack(); err != nil {
			t.Fatalf("Ack: %v", err)
		}
		if len(ack.acked) != 1 || ack.acked[0] != 11 {
			t.Errorf("acked = %v, want [11]", ack.acked)
		}
	})

	t.Run("early job is acknowledged and dropped", func(t *testing.T) {
		t.Parallel()
		ack := &recordingAcknowledger{}
		early := *req
		early.RunAfter = time.Now().Add(time.Hour)
		msg, err := q.decode(delivery(t, ack, 12, NewJob(&early)), ack)
		if err != nil || msg != nil {
			t.Fatalf("decode = %v, %v; want nil, nil", msg, err)
		}
		if len(ack.acked) != 1 || len(ack.nacked) != 0 {
			t.Errorf("acked=%v nacked=%v", ack.acked, ack.nacked)
		}
	})

	t.Run("garbage body is an error", func(t *testing.T) {
		t.Parallel()
		ack := &recordingAcknowledger{}
		_, err := q.decode(amqp.Delivery{Acknowledger: ack, DeliveryTag: 13, Body: []byte("{nope")}, ack)
		if err == nil {
			t.Fatal("expected decode error")
		}
	})
}

func TestMessage_Nack(t *testing.T) {
	t.Parallel()

	ack := &recordingAcknowledger{}
	msg := &Message{Job: &Job{}, DeliveryTag: 5, Channel: ack}
	if err := msg.Nack(true); err != nil {
		t.Fatalf("Nack: %v", err)
	}
	if len(ack.nacked) != 1 || ack.nacked[0] != 5 || !ack.requeued[0] {
		t.Errorf("nacked=%v requeued=%v", ack.nacked, ack.requeued)
	}
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeName is the fanout exchange notifications are published to
const ExchangeName = "generation_notifications"

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes notifications to a fanout exchange for delivery services to consume
type AMQPNotifier struct {
	ch       publisher
	exchange string
}

// NewAMQPNotifier declares the exchange on ch and returns a notifier that publishes to it
func NewAMQPNotifier(ch *amqp.Channel) (*AMQPNotifier, error) {
	err := ch.ExchangeDeclare(
		ExchangeName,
		"fanout",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare notification exchange: %w", err)
	}

	return &AMQPNotifier{ch: ch, exchange: ExchangeName}, nil
}

// Notify publishes the notification as JSON
func (a *AMQPNotifier) Notify(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	err = a.ch.PublishWithContext(ctx, a.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.Event.ID.String(),
		Timestamp:    n.Event.CreatedAt,
		Type:         string(n.Event.Kind),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

var _ Notifier = (*AMQPNotifier)(nil)

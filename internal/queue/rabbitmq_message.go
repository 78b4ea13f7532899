package queue

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Message is a decoded job together with the handle needed to settle its delivery
type Message struct {
	Job         *Job
	DeliveryTag uint64
	Channel     amqp.Acknowledger
}

func (m *Message) Ack() error {
	return m.Channel.Ack(m.DeliveryTag, false)
}

// Nack rejects the delivery. Without requeue the broker dead-letters it.
func (m *Message) Nack(requeue bool) error {
	return m.Channel.Nack(m.DeliveryTag, false, requeue)
}

func (m *Message) GetJob() *Job {
	return m.Job
}

var _ Delivery = (*Message)(nil)

package queue

import (
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

var errNoChannel = errors.New("message has no delivery channel")

// Message is a decoded stats job plus the delivery it arrived on
type Message struct {
	Job         *Job
	DeliveryTag uint64
	Channel     *amqp.Channel
}

// Ack settles the delivery as processed
func (m *Message) Ack() error {
	if m.Channel == nil {
		return errNoChannel
	}
	return m.Channel.Ack(m.DeliveryTag, false)
}

// Nack settles the delivery as failed, either back onto the queue or to the DLQ
func (m *Message) Nack(requeue bool) error {
	if m.Channel == nil {
		return errNoChannel
	}
	return m.Channel.Nack(m.DeliveryTag, false, requeue)
}

// GetJob returns the decoded job
func (m *Message) GetJob() *Job {
	return m.Job
}

var _ MessageInterface = (*Message)(nil)

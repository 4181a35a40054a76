package apqueue

import (
	"context"
	"errors"
)

var (
	ErrBrokerClosed   = errors.New("broker is closed")
	ErrUnknownQueue   = errors.New("queue is not declared")
	ErrAlreadySettled = errors.New("delivery was already acked or nacked")
)

// Broker is the minimal durable messaging surface the gateway needs. The
// local implementation stores messages in badger, the amqp one talks to a
// RabbitMQ compatible server.
type Broker interface {
	Declare(ctx context.Context, topo Topology) error

	Publish(ctx context.Context, queue string, msg *Message) error
	PublishExchange(ctx context.Context, exchange, routingKey string, msg *Message) error

	// Consume delivers messages from queue until ctx is done. No more than
	// prefetch deliveries are outstanding (unsettled) at any time.
	Consume(ctx context.Context, queue string, prefetch int) (<-chan *Delivery, error)
	// Get pulls a single message without a consumer, ok is false when the
	// queue is empty.
	Get(ctx context.Context, queue string) (d *Delivery, ok bool, err error)

	Ack(d *Delivery) error
	Nack(d *Delivery, requeue bool) error

	Depth(ctx context.Context, queue string) (int, error)

	Close() error
}

package apqueue

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/AvaProtocol/chainflow/pkg/logger"
)

// AMQPBroker maps the topology onto RabbitMQ: dead lettering uses the
// default exchange with x-dead-letter-routing-key, and delayed dispatch is a
// per-message expiration on a queue that dead letters into execution.
type AMQPBroker struct {
	conn *amqp.Connection

	pubLock sync.Mutex
	pub     *amqp.Channel

	queues map[string]QueueSpec
	logger sdklogging.Logger
}

func DialAMQP(url string, log sdklogging.Logger) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to amqp broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("cannot open amqp channel: %w", err)
	}

	return &AMQPBroker{
		conn:   conn,
		pub:    ch,
		queues: make(map[string]QueueSpec),
		logger: logger.EnsureLogger(log),
	}, nil
}

func queueArgs(q QueueSpec) amqp.Table {
	if q.DeadLetterTo == "" {
		return nil
	}
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.DeadLetterTo,
	}
}

func (b *AMQPBroker) Declare(ctx context.Context, topo Topology) error {
	if err := topo.Validate(); err != nil {
		return err
	}

	b.pubLock.Lock()
	defer b.pubLock.Unlock()

	for _, q := range topo.Queues() {
		if _, err := b.pub.QueueDeclare(q.Name, true, false, false, false, queueArgs(q)); err != nil {
			return fmt.Errorf("cannot declare queue %s: %w", q.Name, err)
		}
		b.queues[q.Name] = q
	}

	if err := b.pub.ExchangeDeclare(topo.CronExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("cannot declare exchange %s: %w", topo.CronExchange, err)
	}
	return nil
}

func toPublishing(msg *Message) amqp.Publishing {
	p := amqp.Publishing{
		ContentType: ContentTypeJSON,
		Body:        msg.Body,
	}
	if msg.Persistent {
		p.DeliveryMode = amqp.Persistent
	}
	if len(msg.Headers) > 0 {
		p.Headers = amqp.Table{}
		for k, v := range msg.Headers {
			// amqp tables reject plain int
			if i, ok := v.(int); ok {
				v = int64(i)
			}
			p.Headers[k] = v
		}
	}
	if msg.Expiration > 0 {
		p.Expiration = strconv.FormatInt(msg.Expiration.Milliseconds(), 10)
	}
	return p
}

func (b *AMQPBroker) Publish(ctx context.Context, queue string, msg *Message) error {
	b.pubLock.Lock()
	defer b.pubLock.Unlock()
	return b.pub.PublishWithContext(ctx, "", queue, false, false, toPublishing(msg))
}

func (b *AMQPBroker) PublishExchange(ctx context.Context, exchange, routingKey string, msg *Message) error {
	b.pubLock.Lock()
	defer b.pubLock.Unlock()
	return b.pub.PublishWithContext(ctx, exchange, routingKey, false, false, toPublishing(msg))
}

func fromAMQP(queue string, d *amqp.Delivery) *Delivery {
	return &Delivery{
		Queue:   queue,
		ID:      d.DeliveryTag,
		Body:    d.Body,
		Headers: map[string]any(d.Headers),
		settle:  d,
	}
}

// Consume opens a dedicated channel so basic.qos applies to this consumer
// only.
func (b *AMQPBroker) Consume(ctx context.Context, queue string, prefetch int) (<-chan *Delivery, error) {
	if prefetch <= 0 {
		prefetch = 1
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, err
	}

	in, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}

	out := make(chan *Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-in:
				if !ok {
					b.logger.Warn("amqp delivery channel closed", "queue", queue)
					return
				}
				select {
				case out <- fromAMQP(queue, &d):
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			}
		}
	}()

	return out, nil
}

func (b *AMQPBroker) Get(ctx context.Context, queue string) (*Delivery, bool, error) {
	b.pubLock.Lock()
	defer b.pubLock.Unlock()

	d, ok, err := b.pub.Get(queue, false)
	if err != nil || !ok {
		return nil, false, err
	}
	return fromAMQP(queue, &d), true, nil
}

func rawDelivery(d *Delivery) (*amqp.Delivery, error) {
	raw, ok := d.settle.(*amqp.Delivery)
	if !ok {
		return nil, fmt.Errorf("delivery %d was not produced by the amqp broker", d.ID)
	}
	return raw, nil
}

func (b *AMQPBroker) Ack(d *Delivery) error {
	raw, err := rawDelivery(d)
	if err != nil {
		return err
	}
	return raw.Ack(false)
}

func (b *AMQPBroker) Nack(d *Delivery, requeue bool) error {
	raw, err := rawDelivery(d)
	if err != nil {
		return err
	}
	return raw.Nack(false, requeue)
}

func (b *AMQPBroker) Depth(ctx context.Context, queue string) (int, error) {
	b.pubLock.Lock()
	defer b.pubLock.Unlock()

	q, err := b.pub.QueueDeclarePassive(queue, true, false, false, false, queueArgs(b.queues[queue]))
	if err != nil {
		return 0, err
	}
	return q.Messages, nil
}

func (b *AMQPBroker) Close() error {
	b.pubLock.Lock()
	defer b.pubLock.Unlock()

	if err := b.pub.Close(); err != nil {
		b.logger.Warn("failed to close amqp channel", "error", err)
	}
	return b.conn.Close()
}

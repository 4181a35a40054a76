package apqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/go-co-op/gocron/v2"

	"github.com/AvaProtocol/chainflow/pkg/logger"
	"github.com/AvaProtocol/chainflow/storage"
	"github.com/AvaProtocol/chainflow/storage/schema"
)

const pollInterval = 200 * time.Millisecond

// LocalBroker is a single process durable broker on top of badger. Each
// message lives under q:<queue>:r:<id> while ready and is moved to
// q:<queue>:u:<id> once delivered, until it is acked or nacked.
type LocalBroker struct {
	db storage.Storage

	seq    storage.Sequence
	dbLock sync.Mutex

	mu        sync.RWMutex
	queues    map[string]QueueSpec
	exchanges map[string]bool
	notify    map[string]chan struct{}

	scheduler      gocron.Scheduler
	expiryInterval time.Duration
	now            func() time.Time

	logger    sdklogging.Logger
	closeCh   chan struct{}
	closeOnce sync.Once
}

type LocalBrokerOption struct {
	// How often delayed messages are checked for expiry
	ExpiryInterval time.Duration
	Logger         sdklogging.Logger
}

type localSettle struct {
	key  []byte
	slot chan struct{}
	done atomic.Bool
}

func NewLocalBroker(db storage.Storage, opts *LocalBrokerOption) *LocalBroker {
	b := &LocalBroker{
		db:             db,
		queues:         make(map[string]QueueSpec),
		exchanges:      make(map[string]bool),
		notify:         make(map[string]chan struct{}),
		expiryInterval: time.Second,
		now:            time.Now,
		logger:         logger.NewNoOpLogger(),
		closeCh:        make(chan struct{}),
	}

	if opts != nil {
		if opts.ExpiryInterval > 0 {
			b.expiryInterval = opts.ExpiryInterval
		}
		b.logger = logger.EnsureLogger(opts.Logger)
	}

	return b
}

// MustStart acquires the id sequence and starts the expiry sweep, panic if
// the database is unusable.
func (b *LocalBroker) MustStart() {
	var err error
	b.seq, err = b.db.GetSequence(schema.QueueSequenceKey("broker"), 1000)
	if err != nil {
		panic(err)
	}

	b.scheduler, err = gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		panic(fmt.Errorf("failed to create queue scheduler: %w", err))
	}

	_, err = b.scheduler.NewJob(
		gocron.DurationJob(b.expiryInterval),
		gocron.NewTask(func() {
			if n, err := b.promoteExpired(b.now()); err != nil {
				b.logger.Error("failed to promote expired messages", "error", err)
			} else if n > 0 {
				b.logger.Debug("promoted expired messages", "count", n)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		panic(fmt.Errorf("failed to schedule expiry sweep: %w", err))
	}
	b.scheduler.Start()
}

func (b *LocalBroker) Declare(ctx context.Context, topo Topology) error {
	if err := topo.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, q := range topo.Queues() {
		b.queues[q.Name] = q
		if _, ok := b.notify[q.Name]; !ok {
			b.notify[q.Name] = make(chan struct{}, 1)
		}
	}
	b.exchanges[topo.CronExchange] = true
	return nil
}

func (b *LocalBroker) spec(queue string) (QueueSpec, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.queues[queue]
	return q, ok
}

func (b *LocalBroker) wake(queue string) {
	b.mu.RLock()
	ch := b.notify[queue]
	b.mu.RUnlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (b *LocalBroker) waitCh(queue string) chan struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.notify[queue]
}

func getNextSeq(seq storage.Sequence) (num uint64, err error) {
	defer func() {
		r := recover()
		if r != nil {
			// recover from panic and send err instead
			err = fmt.Errorf("sequence panic: %v", r)
		}
	}()

	num, err = seq.Next()
	return num, err
}

func (b *LocalBroker) Publish(ctx context.Context, queue string, msg *Message) error {
	if _, ok := b.spec(queue); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	if err := b.put(queue, msg); err != nil {
		return err
	}
	b.wake(queue)
	return nil
}

// PublishExchange stores the message under <exchange>.<routingKey>, the
// queue a topic binding on the routing key would deliver to.
func (b *LocalBroker) PublishExchange(ctx context.Context, exchange, routingKey string, msg *Message) error {
	b.mu.RLock()
	ok := b.exchanges[exchange]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("exchange %s is not declared", exchange)
	}
	return b.put(exchange+"."+routingKey, msg)
}

func (b *LocalBroker) put(queue string, msg *Message) error {
	select {
	case <-b.closeCh:
		return ErrBrokerClosed
	default:
	}

	num, err := getNextSeq(b.seq)
	if err != nil {
		return err
	}
	msg.ID = num + 1
	msg.PublishedAt = b.now()

	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return b.db.Set(schema.QueueReadyKey(queue, msg.ID), data)
}

// dequeue moves the oldest ready message of queue to the unacked set
func (b *LocalBroker) dequeue(queue string, slot chan struct{}) (*Delivery, error) {
	b.dbLock.Lock()
	defer b.dbLock.Unlock()

	k, v, err := b.db.FirstKVHasPrefix(schema.QueueReadyPrefix(queue))
	if err != nil {
		return nil, err
	}
	// there is no more message
	if k == nil {
		return nil, nil
	}

	m, err := decodeMessage(v)
	if err != nil {
		// a message we cannot decode can never be processed, park it
		b.logger.Error("dropping undecodable message", "queue", queue, "key", string(k), "error", err)
		return nil, b.db.Delete(k)
	}

	unacked := schema.QueueUnackedKey(queue, m.ID)
	if err := b.db.Move(k, unacked); err != nil {
		return nil, err
	}

	return &Delivery{
		Queue:   queue,
		ID:      m.ID,
		Body:    m.Body,
		Headers: m.Headers,
		settle:  &localSettle{key: unacked, slot: slot},
	}, nil
}

func (b *LocalBroker) Consume(ctx context.Context, queue string, prefetch int) (<-chan *Delivery, error) {
	if _, ok := b.spec(queue); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	if prefetch <= 0 {
		prefetch = 1
	}

	out := make(chan *Delivery)
	slots := make(chan struct{}, prefetch)
	wakeup := b.waitCh(queue)

	go func() {
		defer close(out)

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			// block until an outstanding delivery is settled
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return
			case <-b.closeCh:
				return
			}

			d, err := b.dequeue(queue, slots)
			if err != nil {
				b.logger.Error("failed to dequeue", "queue", queue, "error", err)
			}
			if d == nil {
				<-slots
				select {
				case <-wakeup:
				case <-ticker.C:
				case <-ctx.Done():
					return
				case <-b.closeCh:
					return
				}
				continue
			}

			select {
			case out <- d:
			case <-ctx.Done():
				if err := b.Nack(d, true); err != nil {
					b.logger.Error("failed to return message on shutdown", "queue", queue, "id", d.ID, "error", err)
				}
				return
			}
		}
	}()

	return out, nil
}

func (b *LocalBroker) Get(ctx context.Context, queue string) (*Delivery, bool, error) {
	if _, ok := b.spec(queue); !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	d, err := b.dequeue(queue, nil)
	if err != nil || d == nil {
		return nil, false, err
	}
	return d, true, nil
}

func (b *LocalBroker) settled(d *Delivery) (*localSettle, error) {
	s, ok := d.settle.(*localSettle)
	if !ok {
		return nil, fmt.Errorf("delivery %d was not produced by the local broker", d.ID)
	}
	if !s.done.CompareAndSwap(false, true) {
		return nil, ErrAlreadySettled
	}
	if s.slot != nil {
		<-s.slot
	}
	return s, nil
}

func (b *LocalBroker) Ack(d *Delivery) error {
	s, err := b.settled(d)
	if err != nil {
		return err
	}
	return b.db.Delete(s.key)
}

// Nack returns the message to its queue when requeue is set, otherwise it
// is dead lettered like a broker would on basic.reject.
func (b *LocalBroker) Nack(d *Delivery, requeue bool) error {
	s, err := b.settled(d)
	if err != nil {
		return err
	}

	if requeue {
		b.dbLock.Lock()
		err = b.db.Move(s.key, schema.QueueReadyKey(d.Queue, d.ID))
		b.dbLock.Unlock()
		if err == nil {
			b.wake(d.Queue)
		}
		return err
	}

	raw, err := b.db.GetKey(s.key)
	if err != nil {
		return err
	}
	m, err := decodeMessage(raw)
	if err != nil {
		return err
	}
	return b.deadLetter(d.Queue, s.key, m, "rejected")
}

// deadLetter moves the message stored at key into the dead letter target of
// queue. Without a target the message is discarded.
func (b *LocalBroker) deadLetter(queue string, key []byte, m *Message, reason string) error {
	spec, _ := b.spec(queue)
	if spec.DeadLetterTo == "" {
		b.logger.Warn("discarding message without dead letter target", "queue", queue, "id", m.ID, "reason", reason)
		return b.db.Delete(key)
	}

	num, err := getNextSeq(b.seq)
	if err != nil {
		return err
	}

	m.Headers = cloneHeaders(m.Headers)
	m.Headers[HeaderDeathReason] = reason
	m.Headers[HeaderOriginalQueue] = queue
	m.ID = num + 1
	m.Expiration = 0
	m.PublishedAt = b.now()

	data, err := encodeMessage(m)
	if err != nil {
		return err
	}

	b.dbLock.Lock()
	err = b.db.Replace(key, schema.QueueReadyKey(spec.DeadLetterTo, m.ID), data)
	b.dbLock.Unlock()
	if err != nil {
		return err
	}

	b.wake(spec.DeadLetterTo)
	return nil
}

// promoteExpired dead letters every ready message whose expiration elapsed
// at now. Only queues with a dead letter target are swept.
func (b *LocalBroker) promoteExpired(now time.Time) (int, error) {
	b.mu.RLock()
	specs := make([]QueueSpec, 0, len(b.queues))
	for _, q := range b.queues {
		if q.DeadLetterTo != "" {
			specs = append(specs, q)
		}
	}
	b.mu.RUnlock()

	promoted := 0
	for _, q := range specs {
		kvs, err := b.db.GetByPrefix(schema.QueueReadyPrefix(q.Name))
		if err != nil {
			return promoted, err
		}

		for _, kv := range kvs {
			m, err := decodeMessage(kv.Value)
			if err != nil {
				b.logger.Error("failed to decode message during expiry sweep", "key", string(kv.Key), "error", err)
				continue
			}
			if m.Expiration <= 0 || now.Before(m.PublishedAt.Add(m.Expiration)) {
				continue
			}

			if err := b.deadLetter(q.Name, kv.Key, m, "expired"); err != nil {
				if storage.IsNotFound(err) {
					// consumed concurrently
					continue
				}
				return promoted, err
			}
			promoted++
		}
	}

	return promoted, nil
}

func (b *LocalBroker) Depth(ctx context.Context, queue string) (int, error) {
	n, err := b.db.CountKeysByPrefix(schema.QueueReadyPrefix(queue))
	return int(n), err
}

// Close stops consumers and the expiry sweep, and releases the sequence so
// no id is wasted.
func (b *LocalBroker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closeCh)
		if b.scheduler != nil {
			if e := b.scheduler.Shutdown(); e != nil {
				err = e
			}
		}
		if b.seq != nil {
			if e := b.seq.Release(); e != nil {
				err = e
			}
		}
	})
	return err
}

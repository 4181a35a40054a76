package apqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/AvaProtocol/chainflow/model"
	"github.com/AvaProtocol/chainflow/pkg/logger"
)

// Handler processes one job. Any returned error (or panic) rejects the
// message without requeue so it is dead lettered.
type Handler func(ctx context.Context, job *model.QueueJob) error

// QueueStats is the depth snapshot served to health checks
type QueueStats struct {
	Execution int `json:"execution"`
	Retry     int `json:"retry"`
	DLQ       int `json:"dlq"`
	Delayed   int `json:"delayed"`
}

type Gateway struct {
	broker     Broker
	topo       Topology
	maxRetries int
	logger     sdklogging.Logger

	now func() time.Time
}

type GatewayOption struct {
	MaxRetries int
	Logger     sdklogging.Logger
}

func NewGateway(broker Broker, topo Topology, opts *GatewayOption) *Gateway {
	g := &Gateway{
		broker:     broker,
		topo:       topo,
		maxRetries: 3,
		logger:     logger.NewNoOpLogger(),
		now:        time.Now,
	}
	if opts != nil {
		if opts.MaxRetries > 0 {
			g.maxRetries = opts.MaxRetries
		}
		g.logger = logger.EnsureLogger(opts.Logger)
	}
	return g
}

func (g *Gateway) Topology() Topology {
	return g.topo
}

// Setup declares the queues and the cron exchange
func (g *Gateway) Setup(ctx context.Context) error {
	return g.broker.Declare(ctx, g.topo)
}

func jobMessage(job *model.QueueJob) (*Message, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	body, err := job.Encode()
	if err != nil {
		return nil, err
	}
	return &Message{Body: body, Persistent: true}, nil
}

func (g *Gateway) Enqueue(ctx context.Context, job *model.QueueJob) error {
	msg, err := jobMessage(job)
	if err != nil {
		return err
	}

	if err := g.broker.Publish(ctx, g.topo.Execution, msg); err != nil {
		return fmt.Errorf("cannot enqueue execution %s: %w", job.ExecutionID, err)
	}
	g.logger.Info("enqueued job", "execution_id", job.ExecutionID, "workflow_id", job.WorkflowID)
	return nil
}

// EnqueueDelayed publishes job to the delayed queue with a ttl of
// notBefore-now. When notBefore is not in the future the job goes straight
// to the execution queue.
func (g *Gateway) EnqueueDelayed(ctx context.Context, job *model.QueueJob, notBefore time.Time) error {
	delay := notBefore.Sub(g.now())
	if delay <= 0 {
		return g.Enqueue(ctx, job)
	}

	scheduled := notBefore.UTC()
	delayed := *job
	delayed.ScheduledTime = &scheduled

	msg, err := jobMessage(&delayed)
	if err != nil {
		return err
	}
	msg.Expiration = delay

	if err := g.broker.Publish(ctx, g.topo.Delayed, msg); err != nil {
		return fmt.Errorf("cannot enqueue delayed execution %s: %w", job.ExecutionID, err)
	}
	g.logger.Info("enqueued delayed job", "execution_id", job.ExecutionID, "not_before", scheduled, "delay_ms", delay.Milliseconds())
	return nil
}

// PublishCron transports a cron descriptor to the cron exchange. Expansion
// of the expression is left to whoever binds to the exchange.
func (g *Gateway) PublishCron(ctx context.Context, desc *model.CronDescriptor) error {
	if desc.WorkflowID == "" || desc.Cron == "" || desc.JobType == "" {
		return fmt.Errorf("cron descriptor requires workflowId, cron and jobType")
	}
	body, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	return g.broker.PublishExchange(ctx, g.topo.CronExchange, desc.JobType, &Message{Body: body, Persistent: true})
}

func (g *Gateway) Ack(d *Delivery) error {
	return g.broker.Ack(d)
}

func (g *Gateway) Nack(d *Delivery, requeue bool) error {
	return g.broker.Nack(d, requeue)
}

// Consume runs handler for every message of queue until ctx is done.
// Deliveries are handled concurrently; the broker's prefetch bounds how many
// are in flight. Cancelling ctx stops new deliveries only: Consume returns
// once every handler it started has acked or nacked its message.
func (g *Gateway) Consume(ctx context.Context, queue string, prefetch int, handler Handler) error {
	deliveries, err := g.broker.Consume(ctx, queue, prefetch)
	if err != nil {
		return err
	}

	// jobs keep their values but not the consumer's cancellation; the
	// processor applies its own deadline
	jobCtx := context.WithoutCancel(ctx)

	var inflight sync.WaitGroup
	for d := range deliveries {
		inflight.Add(1)
		go func(d *Delivery) {
			defer inflight.Done()
			g.handle(jobCtx, d, handler)
		}(d)
	}
	inflight.Wait()
	return ctx.Err()
}

func (g *Gateway) handle(ctx context.Context, d *Delivery, handler Handler) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("job handler panic", "queue", d.Queue, "id", d.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}

		if err != nil {
			if nackErr := g.broker.Nack(d, false); nackErr != nil {
				g.logger.Error("failed to nack message", "queue", d.Queue, "id", d.ID, "error", nackErr)
			}
			return
		}
		if ackErr := g.broker.Ack(d); ackErr != nil {
			g.logger.Error("failed to ack message", "queue", d.Queue, "id", d.ID, "error", ackErr)
		}
	}()

	job, err := model.DecodeQueueJob(d.Body)
	if err != nil {
		g.logger.Error("rejecting undecodable job", "queue", d.Queue, "id", d.ID, "error", err)
		return
	}
	if err = job.Validate(); err != nil {
		g.logger.Error("rejecting invalid job", "queue", d.Queue, "id", d.ID, "error", err)
		return
	}

	err = handler(ctx, job)
	if err != nil {
		g.logger.Error("failed to perform job", "queue", d.Queue, "execution_id", job.ExecutionID, "error", err)
	}
}

// Redrive moves up to max messages from the dead letter queue into the retry
// queue, bumping x-retry-count. Messages that already used their retries are
// put back at the tail of the dead letter queue.
func (g *Gateway) Redrive(ctx context.Context, max int) (int, error) {
	depth, err := g.broker.Depth(ctx, g.topo.DeadLetter)
	if err != nil {
		return 0, err
	}
	if max <= 0 || max > depth {
		max = depth
	}

	redriven := 0
	for i := 0; i < max; i++ {
		d, ok, err := g.broker.Get(ctx, g.topo.DeadLetter)
		if err != nil {
			return redriven, err
		}
		if !ok {
			break
		}

		headers := cloneHeaders(d.Headers)
		retries := d.RetryCount()
		target := g.topo.Retry
		if retries >= g.maxRetries {
			target = g.topo.DeadLetter
			headers[HeaderRedriveExhaust] = true
		} else {
			headers[HeaderRetryCount] = int64(retries + 1)
		}

		if err := g.broker.Publish(ctx, target, &Message{Body: d.Body, Headers: headers, Persistent: true}); err != nil {
			_ = g.broker.Nack(d, true)
			return redriven, err
		}
		if err := g.broker.Ack(d); err != nil {
			return redriven, err
		}

		if target == g.topo.Retry {
			redriven++
		} else {
			g.logger.Warn("message exhausted its retries", "id", d.ID, "retries", retries)
		}
	}

	g.logger.Info("redrive completed", "redriven", redriven, "inspected", max)
	return redriven, nil
}

func (g *Gateway) Stats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{}
	for _, item := range []struct {
		queue string
		dst   *int
	}{
		{g.topo.Execution, &stats.Execution},
		{g.topo.Retry, &stats.Retry},
		{g.topo.DeadLetter, &stats.DLQ},
		{g.topo.Delayed, &stats.Delayed},
	} {
		n, err := g.broker.Depth(ctx, item.queue)
		if err != nil {
			return nil, fmt.Errorf("cannot read depth of %s: %w", item.queue, err)
		}
		*item.dst = n
	}
	return stats, nil
}

func (g *Gateway) Close() error {
	return g.broker.Close()
}

package worker

import (
	"context"
	"fmt"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/AvaProtocol/chainflow/core/apqueue"
	"github.com/AvaProtocol/chainflow/core/config"
	"github.com/AvaProtocol/chainflow/storage"
)

// Topology maps the queue section of the config onto queue names
func Topology(c *config.Config) apqueue.Topology {
	return apqueue.Topology{
		Execution:    c.Queue.ExecutionQueue,
		Retry:        c.Queue.RetryQueue,
		DeadLetter:   c.Queue.DeadLetter,
		Delayed:      c.Queue.DelayedQueue,
		CronExchange: c.Queue.CronExchange,
	}
}

// OpenQueue connects the configured broker and declares the topology. The
// local driver keeps its messages in db, so db must stay open for as long
// as the gateway is used.
func OpenQueue(ctx context.Context, c *config.Config, db storage.Storage, logger sdklogging.Logger) (*apqueue.Gateway, error) {
	var broker apqueue.Broker
	var local *apqueue.LocalBroker

	switch c.Queue.Driver {
	case config.QueueDriverAMQP:
		b, err := apqueue.DialAMQP(c.Queue.AmqpURL, logger)
		if err != nil {
			return nil, err
		}
		broker = b
	case config.QueueDriverLocal:
		if db == nil {
			return nil, fmt.Errorf("the local queue driver needs a database")
		}
		local = apqueue.NewLocalBroker(db, &apqueue.LocalBrokerOption{
			ExpiryInterval: c.Queue.ExpiryInterval,
			Logger:         logger,
		})
		local.MustStart()
		broker = local
	default:
		return nil, fmt.Errorf("unknown queue driver %q", c.Queue.Driver)
	}

	gw := apqueue.NewGateway(broker, Topology(c), &apqueue.GatewayOption{
		MaxRetries: c.Queue.MaxRetries,
		Logger:     logger,
	})
	if err := gw.Setup(ctx); err != nil {
		gw.Close()
		return nil, fmt.Errorf("cannot declare queues: %w", err)
	}

	if local != nil {
		stats, err := local.Recover()
		if err != nil {
			gw.Close()
			return nil, fmt.Errorf("cannot recover unacked messages: %w", err)
		}
		if stats.Unacked > 0 {
			logger.Info("recovered unacked messages", "unacked", stats.Unacked, "recovered", stats.Recovered, "failed", stats.Failed, "duration", stats.Duration)
		}
	}
	return gw, nil
}

// queueDepths adapts the gateway stats to the queue depth collector
func queueDepths(gw *apqueue.Gateway) func(ctx context.Context) (map[string]int, error) {
	topo := gw.Topology()
	return func(ctx context.Context) (map[string]int, error) {
		stats, err := gw.Stats(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int{
			topo.Execution:  stats.Execution,
			topo.Retry:      stats.Retry,
			topo.DeadLetter: stats.DLQ,
			topo.Delayed:    stats.Delayed,
		}, nil
	}
}

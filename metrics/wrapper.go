package metrics

import (
	"context"
	"time"

	"github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// QueueDepthFunc returns the current depth of every named queue
type QueueDepthFunc func(ctx context.Context) (map[string]int, error)

// QueueDepthCollector reads queue depths at scrape time, so the gauge is
// never staler than the scrape itself
type QueueDepthCollector struct {
	depths  QueueDepthFunc
	timeout time.Duration
	logger  logging.Logger

	queueDepth *prometheus.GaugeVec
}

func NewQueueDepthCollector(depths QueueDepthFunc, logger logging.Logger) *QueueDepthCollector {
	return &QueueDepthCollector{
		depths:  depths,
		timeout: 5 * time.Second,
		logger:  logger,
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfNamespace,
				Name:      "queue_depth",
				Help:      "Number of messages waiting in each queue",
			},
			[]string{"queue"},
		),
	}
}

func (c *QueueDepthCollector) Describe(ch chan<- *prometheus.Desc) {
	c.queueDepth.Describe(ch)
}

func (c *QueueDepthCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	depths, err := c.depths(ctx)
	if err != nil {
		// keep the last known values rather than failing the scrape
		if c.logger != nil {
			c.logger.Warn("cannot read queue depth", "error", err)
		}
	} else {
		for queue, n := range depths {
			c.queueDepth.WithLabelValues(queue).Set(float64(n))
		}
	}

	c.queueDepth.Collect(ch)
}

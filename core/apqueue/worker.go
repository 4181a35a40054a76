package apqueue

import (
	"context"
	"sync"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/AvaProtocol/chainflow/model"
	"github.com/AvaProtocol/chainflow/pkg/logger"
)

type JobProcessor interface {
	Perform(ctx context.Context, job *model.QueueJob) error
}

// Worker runs a pool of consumers. Each consumer has its own prefetch
// window so total in-flight jobs is consumers*prefetch per queue.
type Worker struct {
	gw *Gateway

	consumers int
	prefetch  int

	processorRegistry map[string]JobProcessor
	logger            sdklogging.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// RegisterProcessor binds a processor to a queue name
func (w *Worker) RegisterProcessor(queue string, processor JobProcessor) {
	w.processorRegistry[queue] = processor
}

// A worker monitors queues, and use a processor to perform job
func NewWorker(gw *Gateway, consumers, prefetch int, log sdklogging.Logger) *Worker {
	if consumers <= 0 {
		consumers = 1
	}
	return &Worker{
		gw:        gw,
		consumers: consumers,
		prefetch:  prefetch,
		logger:    logger.EnsureLogger(log),

		processorRegistry: make(map[string]JobProcessor),
	}
}

func (w *Worker) loop(ctx context.Context, queue string, id int, processor JobProcessor) {
	defer w.wg.Done()

	w.logger.Info("consumer started", "queue", queue, "consumer", id, "prefetch", w.prefetch)
	err := w.gw.Consume(ctx, queue, w.prefetch, processor.Perform)
	if err != nil && ctx.Err() == nil {
		w.logger.Error("consumer stopped", "queue", queue, "consumer", id, "error", err)
		return
	}
	w.logger.Info("consumer stopped", "queue", queue, "consumer", id)
}

func (w *Worker) MustStart(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	for queue, processor := range w.processorRegistry {
		for i := 0; i < w.consumers; i++ {
			w.wg.Add(1)
			go w.loop(ctx, queue, i, processor)
		}
	}
}

// Stop cancels all consumers and waits for them to return. A consumer
// returns only after the jobs it already handed to a processor have
// finished and been acked, so the broker can be closed right after.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

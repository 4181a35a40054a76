package apqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/chainflow/model"
)

type recordingProcessor struct {
	mu   sync.Mutex
	seen []string
}

func (p *recordingProcessor) Perform(ctx context.Context, job *model.QueueJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, job.ExecutionID)
	return nil
}

func (p *recordingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func TestWorkerConsumesExecutionAndRetryQueues(t *testing.T) {
	gw, broker := newTestGateway(t)
	ctx := context.Background()

	p := &recordingProcessor{}
	w := NewWorker(gw, 2, 2, nil)
	w.RegisterProcessor(testTopology.Execution, p)
	w.RegisterProcessor(testTopology.Retry, p)
	w.MustStart(ctx)
	defer w.Stop()

	require.NoError(t, gw.Enqueue(ctx, testJob("e1")))
	body, err := testJob("e2").Encode()
	require.NoError(t, err)
	require.NoError(t, broker.Publish(ctx, testTopology.Retry, &Message{Body: body, Persistent: true}))

	waitFor(t, func() bool { return p.count() == 2 })
}

// slowProcessor holds every job until release is closed
type slowProcessor struct {
	started  chan struct{}
	release  chan struct{}
	finished atomic.Bool
	ctxErr   atomic.Value
}

func (p *slowProcessor) Perform(ctx context.Context, job *model.QueueJob) error {
	close(p.started)
	<-p.release
	if err := ctx.Err(); err != nil {
		p.ctxErr.Store(err)
	}
	p.finished.Store(true)
	return nil
}

func TestWorkerStopWaitsForInflightJobs(t *testing.T) {
	gw, broker := newTestGateway(t)
	ctx := context.Background()

	p := &slowProcessor{started: make(chan struct{}), release: make(chan struct{})}
	w := NewWorker(gw, 1, 1, nil)
	w.RegisterProcessor(testTopology.Execution, p)
	w.MustStart(ctx)

	require.NoError(t, gw.Enqueue(ctx, testJob("e1")))
	select {
	case <-p.started:
	case <-time.After(5 * time.Second):
		t.Fatal("job was never delivered")
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was still running")
	case <-time.After(200 * time.Millisecond):
	}

	close(p.release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the job finished")
	}

	assert.True(t, p.finished.Load())
	assert.Nil(t, p.ctxErr.Load(), "stopping consumers must not cancel running jobs")

	// the message was acked before Stop returned
	stats, err := broker.Recover()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Recovered)
	assert.Equal(t, 0, depth(t, broker, testTopology.Execution))
	assert.Equal(t, 0, depth(t, broker, testTopology.DeadLetter))
}

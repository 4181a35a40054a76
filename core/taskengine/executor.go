package taskengine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/AvaProtocol/chainflow/core/taskengine/macros"
	"github.com/AvaProtocol/chainflow/metrics"
	"github.com/AvaProtocol/chainflow/model"
	"github.com/AvaProtocol/chainflow/pkg/logger"
)

const DefaultJobTimeout = 10 * time.Minute

type ExecutorOption struct {
	JobTimeout time.Duration
	Logger     sdklogging.Logger
	Metrics    metrics.Recorder
}

// Executor is the queue processor. It walks a workflow graph in dependency
// order and records every node run through the repository.
type Executor struct {
	repo     Repository
	handlers map[model.NodeType]NodeHandler

	jobTimeout time.Duration
	logger     sdklogging.Logger
	metrics    metrics.Recorder
}

func NewExecutor(repo Repository, handlers map[model.NodeType]NodeHandler, opts *ExecutorOption) *Executor {
	x := &Executor{
		repo:       repo,
		handlers:   handlers,
		jobTimeout: DefaultJobTimeout,
		logger:     logger.NewNoOpLogger(),
		metrics:    (*metrics.WorkerMetrics)(nil),
	}
	if opts != nil {
		if opts.JobTimeout > 0 {
			x.jobTimeout = opts.JobTimeout
		}
		x.logger = logger.EnsureLogger(opts.Logger)
		if opts.Metrics != nil {
			x.metrics = opts.Metrics
		}
	}
	return x
}

// Perform runs one queue job. Node failures are recorded on the execution
// and never returned; an error means the job could not be processed at all
// and the message should be dead lettered.
func (x *Executor) Perform(ctx context.Context, job *model.QueueJob) error {
	if err := job.Validate(); err != nil {
		x.metrics.IncJobProcessed("rejected")
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, x.jobTimeout)
	defer cancel()

	status, err := x.run(ctx, job)
	if err != nil {
		x.metrics.IncJobProcessed("error")
		return err
	}
	x.metrics.IncJobProcessed(string(status))
	return nil
}

func (x *Executor) run(ctx context.Context, job *model.QueueJob) (model.ExecutionStatus, error) {
	wf, err := x.repo.GetWorkflow(ctx, job.WorkflowID)
	if err != nil {
		return "", fmt.Errorf("cannot load workflow %s: %w", job.WorkflowID, err)
	}

	exec, err := x.repo.GetExecution(ctx, job.ExecutionID)
	switch {
	case errors.Is(err, ErrExecutionNotFound):
		exec = &model.WorkflowExecution{
			ID:         job.ExecutionID,
			WorkflowID: job.WorkflowID,
			UserID:     job.UserID,
			Status:     model.ExecutionPending,
		}
		if err := x.repo.CreateExecution(ctx, exec); err != nil {
			return "", fmt.Errorf("cannot create execution %s: %w", job.ExecutionID, err)
		}
	case err != nil:
		return "", fmt.Errorf("cannot load execution %s: %w", job.ExecutionID, err)
	}

	// a redelivered job whose run already finished, or a run stopped by
	// the user, is settled as is
	if exec.Status.IsTerminal() || exec.Status.Halted() {
		x.logger.Info("execution is not runnable, skipping", "execution_id", exec.ID, "status", exec.Status)
		return exec.Status, nil
	}

	plan, planErr := Plan(wf)
	if planErr != nil {
		x.logger.Warn("workflow cannot be planned", "workflow_id", wf.ID, "execution_id", exec.ID, "error", planErr)
		if err := x.repo.UpdateExecutionStatus(ctx, exec.ID, model.ExecutionFailed, planErr.Error()); err != nil {
			return "", err
		}
		return model.ExecutionFailed, nil
	}

	if err := x.repo.UpdateExecutionStatus(ctx, exec.ID, model.ExecutionRunning, ""); err != nil {
		return "", fmt.Errorf("cannot start execution %s: %w", exec.ID, err)
	}
	x.logger.Info("execution started", "execution_id", exec.ID, "workflow_id", wf.ID, "nodes", len(plan))

	outputs := map[string]map[string]any{}
	failed := map[string]bool{}
	ran := 0
	var failure string

	recorded, err := x.recordedNodes(ctx, exec.ID)
	if err != nil {
		return "", err
	}
	if len(recorded) > 0 {
		x.logger.Info("resuming execution", "execution_id", exec.ID, "recorded_nodes", len(recorded))
	}

	for _, step := range plan {
		if prev, ok := recorded[step.Node.ID]; ok {
			resumed, err := x.resume(ctx, step, prev, outputs, failed)
			if err != nil {
				return "", err
			}
			if resumed {
				if failed[step.Node.ID] && !step.Node.Optional {
					failure = fmt.Sprintf("node %s failed: %s", step.Node.ID, prev.Error)
					break
				}
				continue
			}
		}

		if ctx.Err() != nil {
			if ran == 0 {
				return "", fmt.Errorf("execution %s: %w before any node ran", exec.ID, ctx.Err())
			}
			failure = fmt.Sprintf("job timed out before node %s", step.Node.ID)
			break
		}

		// status may be changed by a cancel or pause while we run
		current, err := x.repo.GetExecution(ctx, exec.ID)
		if err != nil {
			return "", fmt.Errorf("cannot reload execution %s: %w", exec.ID, err)
		}
		if current.Status.Halted() {
			x.logger.Info("execution halted, no further nodes scheduled", "execution_id", exec.ID, "status", current.Status)
			return current.Status, nil
		}

		if blockedBy := firstFailed(step.Predecessors, failed); blockedBy != "" {
			if err := x.skip(ctx, exec, step, blockedBy); err != nil {
				return "", err
			}
			failed[step.Node.ID] = true
			continue
		}

		res, err := x.runNode(ctx, wf, exec, step, outputs)
		if err != nil {
			return "", err
		}
		ran++
		outputs[step.Node.ID] = res.Envelope()

		if !res.Success {
			failed[step.Node.ID] = true
			if !step.Node.Optional {
				failure = fmt.Sprintf("node %s failed: %s", step.Node.ID, res.Err.Message)
				break
			}
		}
	}

	final := model.ExecutionCompleted
	if failure != "" {
		final = model.ExecutionFailed
	}
	// the terminal write must land even when the job deadline has passed
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := x.repo.UpdateExecutionStatus(writeCtx, exec.ID, final, failure); err != nil {
		return "", fmt.Errorf("cannot finish execution %s: %w", exec.ID, err)
	}
	x.logger.Info("execution finished", "execution_id", exec.ID, "status", final, "error", failure)
	return final, nil
}

// recordedNodes returns the last node execution of every node a previous
// delivery of the same job already recorded
func (x *Executor) recordedNodes(ctx context.Context, executionID string) (map[string]*model.NodeExecution, error) {
	list, err := x.repo.ListNodeExecutions(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("cannot load node executions of %s: %w", executionID, err)
	}
	out := make(map[string]*model.NodeExecution, len(list))
	for _, ne := range list {
		out[ne.NodeID] = ne
	}
	return out, nil
}

// resume settles a node from what an earlier delivery recorded. Settled
// nodes are never dispatched again, so a redelivered job cannot delegate
// the same transaction twice. It reports false when the node must run.
func (x *Executor) resume(ctx context.Context, step *Step, prev *model.NodeExecution, outputs map[string]map[string]any, failed map[string]bool) (bool, error) {
	node := step.Node
	switch prev.Status {
	case model.NodeCompleted:
		outputs[node.ID] = prev.OutputSnapshot
		return true, nil
	case model.NodeFailed, model.NodeSkipped:
		if prev.OutputSnapshot != nil {
			outputs[node.ID] = prev.OutputSnapshot
		}
		failed[node.ID] = true
		return true, nil
	}

	// running: the previous worker stopped inside this node. A transaction
	// may already be broadcast, so its outcome is left to an operator.
	// Read only nodes simply run again.
	transactional := IsTransactionalNodeType(node.Type)
	prev.Error = "interrupted by a worker restart, node runs again"
	if transactional {
		prev.Error = "interrupted while delegating a transaction, outcome unknown"
	}
	x.logger.Warn("node was interrupted by a previous delivery", "execution_id", prev.ExecutionID, "node_id", node.ID, "retry", !transactional)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := x.repo.UpdateNodeExecution(writeCtx, prev.ID, model.NodeFailed, nil, prev.Error); err != nil {
		return false, fmt.Errorf("cannot settle interrupted node %s: %w", node.ID, err)
	}
	if !transactional {
		return false, nil
	}
	x.metrics.IncNodeExecution(string(node.Type), string(model.NodeFailed))
	failed[node.ID] = true
	return true, nil
}

func firstFailed(ids []string, failed map[string]bool) string {
	for _, id := range ids {
		if failed[id] {
			return id
		}
	}
	return ""
}

func (x *Executor) skip(ctx context.Context, exec *model.WorkflowExecution, step *Step, blockedBy string) error {
	ne := &model.NodeExecution{
		ExecutionID:   exec.ID,
		NodeID:        step.Node.ID,
		Status:        model.NodeRunning,
		InputSnapshot: map[string]any{},
	}
	if err := x.repo.CreateNodeExecution(ctx, ne); err != nil {
		return err
	}
	x.metrics.IncNodeExecution(string(step.Node.Type), string(model.NodeSkipped))
	return x.repo.UpdateNodeExecution(ctx, ne.ID, model.NodeSkipped, nil, fmt.Sprintf("upstream node %s did not succeed", blockedBy))
}

// nodeInputs merges the outputs of direct predecessors with the node
// config rendered against every completed node output. Config wins over
// upstream fields of the same name.
func nodeInputs(node *model.WorkflowNode, exec *model.WorkflowExecution, preds []string, outputs map[string]map[string]any) map[string]any {
	vars := make(map[string]any, len(outputs)+1)
	for id, out := range outputs {
		vars[id] = out
	}
	vars["workflow"] = map[string]any{
		"id":          exec.WorkflowID,
		"executionId": exec.ID,
		"userId":      exec.UserID,
	}

	inputs := map[string]any{}
	for _, id := range preds {
		for k, v := range outputs[id] {
			if envelopeKeys[k] {
				continue
			}
			inputs[k] = v
		}
	}

	for k, v := range node.Config {
		// logic bodies are handed to the interpreter untouched
		if node.Type == model.NodeTypeCustomLogic && k == "logic" {
			continue
		}
		rendered := macros.ApplyJSONTemplate(v, vars)
		if rendered == nil && v != nil {
			continue
		}
		inputs[k] = rendered
	}
	return inputs
}

func (x *Executor) runNode(ctx context.Context, wf *model.Workflow, exec *model.WorkflowExecution, step *Step, outputs map[string]map[string]any) (*NodeResult, error) {
	node := step.Node
	inputs := nodeInputs(node, exec, step.Predecessors, outputs)

	ne := &model.NodeExecution{
		ExecutionID:   exec.ID,
		NodeID:        node.ID,
		Status:        model.NodeRunning,
		InputSnapshot: inputs,
	}
	if err := x.repo.CreateNodeExecution(ctx, ne); err != nil {
		return nil, fmt.Errorf("cannot record node %s: %w", node.ID, err)
	}

	nodeLog := NewNodeLogger(ctx, x.repo, ne, x.logger)
	ec := &ExecutionContext{
		Inputs:          inputs,
		PreviousOutputs: outputs,
		UserID:          exec.UserID,
		WorkflowID:      wf.ID,
		ExecutionID:     exec.ID,
		NodeID:          node.ID,
		Logger:          nodeLog,
	}

	if node.Type == model.NodeTypeWalletListener {
		prev, err := x.repo.GetLastNodeOutput(ctx, wf.ID, node.ID)
		if err != nil {
			return nil, fmt.Errorf("cannot load previous state of node %s: %w", node.ID, err)
		}
		ec.PreviousState = prev
	}

	res := x.dispatch(ctx, node, ec)
	envelope := res.Envelope()

	status := model.NodeCompleted
	errMsg := ""
	if !res.Success {
		status = model.NodeFailed
		errMsg = res.Err.Message
		nodeLog.Errorf("node failed: %s", errMsg)
	}

	// persisting the outcome must not be cut short by the job deadline
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := x.repo.UpdateNodeExecution(writeCtx, ne.ID, status, envelope, errMsg); err != nil {
		return nil, fmt.Errorf("cannot record result of node %s: %w", node.ID, err)
	}
	x.metrics.IncNodeExecution(string(node.Type), string(status))

	if node.Type == model.NodeTypeWalletListener {
		// the state is saved on failure too so the next run resumes from
		// the same cursors
		if _, ok := envelope["state"]; ok {
			if err := x.repo.SaveLastNodeOutput(writeCtx, wf.ID, node.ID, envelope); err != nil {
				return nil, fmt.Errorf("cannot save listener state of node %s: %w", node.ID, err)
			}
		}
		if count, ok := res.Output["eventCount"].(int); ok {
			x.metrics.AddListenerEvents(res.Network, count)
		}
	} else if res.Success {
		if err := x.repo.SaveLastNodeOutput(writeCtx, wf.ID, node.ID, envelope); err != nil {
			x.logger.Warn("cannot save node output", "workflow_id", wf.ID, "node_id", node.ID, "error", err)
		}
	}

	return res, nil
}

// dispatch contains handler panics inside the node boundary
func (x *Executor) dispatch(ctx context.Context, node *model.WorkflowNode, ec *ExecutionContext) (res *NodeResult) {
	handler, ok := x.handlers[node.Type]
	if !ok {
		return newResultBuilder("").fail(NewConfigurationError(fmt.Sprintf("no handler for node type %q", node.Type)))
	}

	defer func() {
		if r := recover(); r != nil {
			x.logger.Error("node handler panicked", "node_id", node.ID, "panic", r, "stack", string(debug.Stack()))
			res = newResultBuilder("").fail(NewExecutionError(fmt.Errorf("handler panic: %v", r)))
		}
	}()

	res = handler.Execute(ctx, node, ec)
	if res == nil {
		res = newResultBuilder("").fail(NewExecutionError(errors.New("handler returned no result")))
	}
	return res
}

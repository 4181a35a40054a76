package taskengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AvaProtocol/chainflow/model"
	"github.com/AvaProtocol/chainflow/storage"
	"github.com/AvaProtocol/chainflow/storage/schema"
)

var (
	ErrWorkflowNotFound      = errors.New(WorkflowNotFoundError)
	ErrExecutionNotFound     = errors.New(ExecutionNotFoundError)
	ErrNodeExecutionNotFound = errors.New("node execution not found")
	ErrExecutionExists       = errors.New("execution already exists")
)

// Repository is the job store the executor reads workflows from and
// records runs into
type Repository interface {
	LogAppender

	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	SaveWorkflow(ctx context.Context, wf *model.Workflow) error

	CreateExecution(ctx context.Context, exec *model.WorkflowExecution) error
	GetExecution(ctx context.Context, id string) (*model.WorkflowExecution, error)
	UpdateExecutionStatus(ctx context.Context, id string, status model.ExecutionStatus, errMsg string) error

	CreateNodeExecution(ctx context.Context, ne *model.NodeExecution) error
	UpdateNodeExecution(ctx context.Context, id string, status model.NodeStatus, output map[string]any, errMsg string) error
	ListNodeExecutions(ctx context.Context, executionID string) ([]*model.NodeExecution, error)
	ListNodeLogs(ctx context.Context, nodeExecutionID string) ([]*model.NodeLog, error)

	GetLastNodeOutput(ctx context.Context, workflowID, nodeID string) (map[string]any, error)
	SaveLastNodeOutput(ctx context.Context, workflowID, nodeID string, output map[string]any) error
}

// StorageRepository keeps the job store in badger
type StorageRepository struct {
	db  storage.Storage
	now func() time.Time
}

func NewStorageRepository(db storage.Storage) *StorageRepository {
	return &StorageRepository{db: db, now: time.Now}
}

func (r *StorageRepository) getJSON(key []byte, out any, notFound error) error {
	if r.db == nil {
		return errors.New(StorageUnavailableError)
	}
	raw, err := r.db.GetKey(key)
	if err != nil {
		if storage.IsNotFound(err) {
			return notFound
		}
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: %w", WorkflowStorageCorruptedError, err)
	}
	return nil
}

func (r *StorageRepository) setJSON(key []byte, v any) error {
	if r.db == nil {
		return errors.New(StorageUnavailableError)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := r.db.Set(key, raw); err != nil {
		return fmt.Errorf("%s: %w", StorageWriteError, err)
	}
	return nil
}

func (r *StorageRepository) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	wf := &model.Workflow{}
	if err := r.getJSON(schema.WorkflowKey(id), wf, ErrWorkflowNotFound); err != nil {
		return nil, err
	}
	return wf, nil
}

func (r *StorageRepository) SaveWorkflow(ctx context.Context, wf *model.Workflow) error {
	if wf.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	return r.setJSON(schema.WorkflowKey(wf.ID), wf)
}

func (r *StorageRepository) CreateExecution(ctx context.Context, exec *model.WorkflowExecution) error {
	if exec.ID == "" {
		exec.ID = model.GenerateID()
	}
	if exec.Status == "" {
		exec.Status = model.ExecutionPending
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = r.now()
	}
	if r.db == nil {
		return errors.New(StorageUnavailableError)
	}
	// ids come from the enqueuer, a second create must not reset a run
	exists, err := r.db.Exist(schema.ExecutionKey(exec.ID))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrExecutionExists, exec.ID)
	}
	return r.setJSON(schema.ExecutionKey(exec.ID), exec)
}

func (r *StorageRepository) GetExecution(ctx context.Context, id string) (*model.WorkflowExecution, error) {
	exec := &model.WorkflowExecution{}
	if err := r.getJSON(schema.ExecutionKey(id), exec, ErrExecutionNotFound); err != nil {
		return nil, err
	}
	return exec, nil
}

// UpdateExecutionStatus stamps FinishedAt on terminal statuses. A terminal
// execution is never moved back to a non terminal one.
func (r *StorageRepository) UpdateExecutionStatus(ctx context.Context, id string, status model.ExecutionStatus, errMsg string) error {
	exec, err := r.GetExecution(ctx, id)
	if err != nil {
		return err
	}
	if exec.Status.IsTerminal() && !status.IsTerminal() {
		return fmt.Errorf("execution %s is already %s", id, exec.Status)
	}

	exec.Status = status
	if errMsg != "" {
		exec.Error = errMsg
	}
	if status.IsTerminal() && exec.FinishedAt == nil {
		t := r.now()
		exec.FinishedAt = &t
	}
	return r.setJSON(schema.ExecutionKey(id), exec)
}

func (r *StorageRepository) CreateNodeExecution(ctx context.Context, ne *model.NodeExecution) error {
	if ne.ID == "" {
		ne.ID = model.GenerateID()
	}
	if ne.StartedAt.IsZero() {
		ne.StartedAt = r.now()
	}
	if ne.Status == "" {
		ne.Status = model.NodeRunning
	}

	raw, err := json.Marshal(ne)
	if err != nil {
		return err
	}
	return r.db.BatchWrite(map[string][]byte{
		string(schema.NodeExecutionKey(ne.ExecutionID, ne.ID)): raw,
		string(schema.NodeExecutionIndexKey(ne.ID)):            []byte(ne.ExecutionID),
	})
}

func (r *StorageRepository) getNodeExecution(id string) (*model.NodeExecution, error) {
	executionID, err := r.db.GetKey(schema.NodeExecutionIndexKey(id))
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrNodeExecutionNotFound
		}
		return nil, err
	}
	ne := &model.NodeExecution{}
	if err := r.getJSON(schema.NodeExecutionKey(string(executionID), id), ne, ErrNodeExecutionNotFound); err != nil {
		return nil, err
	}
	return ne, nil
}

// UpdateNodeExecution writes the outcome of a node. The input snapshot
// recorded at creation is left untouched and the output is written once.
func (r *StorageRepository) UpdateNodeExecution(ctx context.Context, id string, status model.NodeStatus, output map[string]any, errMsg string) error {
	ne, err := r.getNodeExecution(id)
	if err != nil {
		return err
	}
	if ne.CompletedAt != nil {
		return fmt.Errorf("node execution %s is already %s", id, ne.Status)
	}

	ne.Status = status
	ne.Error = errMsg
	if status != model.NodeRunning {
		t := r.now()
		ne.CompletedAt = &t
		ne.OutputSnapshot = output
	}
	return r.setJSON(schema.NodeExecutionKey(ne.ExecutionID, ne.ID), ne)
}

// ListNodeExecutions returns the node executions of a run in creation order
func (r *StorageRepository) ListNodeExecutions(ctx context.Context, executionID string) ([]*model.NodeExecution, error) {
	items, err := r.db.GetByPrefix(schema.NodeExecutionPrefix(executionID))
	if err != nil {
		return nil, err
	}
	out := make([]*model.NodeExecution, 0, len(items))
	for _, item := range items {
		ne := &model.NodeExecution{}
		if err := json.Unmarshal(item.Value, ne); err != nil {
			return nil, fmt.Errorf("%s: %w", WorkflowStorageCorruptedError, err)
		}
		out = append(out, ne)
	}
	return out, nil
}

func (r *StorageRepository) AppendNodeLog(ctx context.Context, nodeExecutionID string, level model.LogLevel, message string) error {
	entry := &model.NodeLog{
		ID:              model.GenerateID(),
		NodeExecutionID: nodeExecutionID,
		Message:         message,
		Level:           level,
		CreatedAt:       r.now(),
	}
	return r.setJSON(schema.NodeLogKey(nodeExecutionID, entry.ID), entry)
}

func (r *StorageRepository) ListNodeLogs(ctx context.Context, nodeExecutionID string) ([]*model.NodeLog, error) {
	items, err := r.db.GetByPrefix(schema.NodeLogPrefix(nodeExecutionID))
	if err != nil {
		return nil, err
	}
	out := make([]*model.NodeLog, 0, len(items))
	for _, item := range items {
		entry := &model.NodeLog{}
		if err := json.Unmarshal(item.Value, entry); err != nil {
			return nil, fmt.Errorf("%s: %w", WorkflowStorageCorruptedError, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// GetLastNodeOutput returns nil without error when the node never ran
func (r *StorageRepository) GetLastNodeOutput(ctx context.Context, workflowID, nodeID string) (map[string]any, error) {
	out := map[string]any{}
	err := r.getJSON(schema.LastNodeOutputKey(workflowID, nodeID), &out, ErrNodeExecutionNotFound)
	if errors.Is(err, ErrNodeExecutionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *StorageRepository) SaveLastNodeOutput(ctx context.Context, workflowID, nodeID string, output map[string]any) error {
	return r.setJSON(schema.LastNodeOutputKey(workflowID, nodeID), output)
}

package taskengine

import (
	"context"
	"fmt"
	"sync"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/AvaProtocol/chainflow/model"
	"github.com/AvaProtocol/chainflow/pkg/logger"
)

// ExecutionContext is everything a handler may read about the run it is
// part of.
type ExecutionContext struct {
	// node config rendered against upstream outputs, merged over those outputs
	Inputs map[string]any
	// outputs of already completed nodes, by node id
	PreviousOutputs map[string]map[string]any

	UserID      string
	WorkflowID  string
	ExecutionID string
	NodeID      string

	// output of the previous run of this same node, used by stateful
	// nodes such as the wallet listener
	PreviousState map[string]any

	Logger *NodeLogger
}

func (ec *ExecutionContext) log() *NodeLogger {
	if ec == nil || ec.Logger == nil {
		return nopNodeLogger
	}
	return ec.Logger
}

// LogAppender persists a node log line
type LogAppender interface {
	AppendNodeLog(ctx context.Context, nodeExecutionID string, level model.LogLevel, message string) error
}

// NodeLogger writes node scoped log lines through the repository and
// mirrors them to the process logger.
type NodeLogger struct {
	ctx             context.Context
	store           LogAppender
	nodeExecutionID string
	logger          sdklogging.Logger
	tags            []any

	mu    sync.Mutex
	lines []string
}

var nopNodeLogger = &NodeLogger{logger: logger.NewNoOpLogger()}

func NewNodeLogger(ctx context.Context, store LogAppender, ne *model.NodeExecution, log sdklogging.Logger) *NodeLogger {
	return &NodeLogger{
		ctx:             ctx,
		store:           store,
		nodeExecutionID: ne.ID,
		logger:          logger.EnsureLogger(log),
		tags:            []any{"execution_id", ne.ExecutionID, "node_id", ne.NodeID},
	}
}

func (l *NodeLogger) write(level model.LogLevel, msg string, args ...any) {
	line := msg
	if len(args) > 0 {
		line = fmt.Sprintf(msg, args...)
	}

	if l == nopNodeLogger {
		return
	}

	l.mu.Lock()
	l.lines = append(l.lines, line)
	l.mu.Unlock()

	switch level {
	case model.LogDebug:
		l.logger.Debug(line, l.tags...)
	case model.LogWarn:
		l.logger.Warn(line, l.tags...)
	case model.LogError:
		l.logger.Error(line, l.tags...)
	default:
		l.logger.Info(line, l.tags...)
	}

	if l.store == nil {
		return
	}
	if err := l.store.AppendNodeLog(l.ctx, l.nodeExecutionID, level, line); err != nil {
		l.logger.Warn("cannot persist node log", append([]any{"error", err}, l.tags...)...)
	}
}

func (l *NodeLogger) Debugf(msg string, args ...any) { l.write(model.LogDebug, msg, args...) }
func (l *NodeLogger) Infof(msg string, args ...any)  { l.write(model.LogInfo, msg, args...) }
func (l *NodeLogger) Warnf(msg string, args ...any)  { l.write(model.LogWarn, msg, args...) }
func (l *NodeLogger) Errorf(msg string, args ...any) { l.write(model.LogError, msg, args...) }

// Lines returns what has been logged so far in this node
func (l *NodeLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

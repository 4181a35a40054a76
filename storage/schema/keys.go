package schema

import (
	"fmt"
)

// Key layout for the job repository
//
//	w:<workflowId>                      workflow definition
//	e:<executionId>                     workflow execution
//	ne:<executionId>:<nodeExecutionId>  node execution
//	nl:<nodeExecutionId>:<logId>        node log, ordered by ulid
//	lo:<workflowId>:<nodeId>            last completed output of a node
func WorkflowKey(id string) []byte {
	return []byte(fmt.Sprintf("w:%s", id))
}

func ExecutionKey(id string) []byte {
	return []byte(fmt.Sprintf("e:%s", id))
}

func NodeExecutionKey(executionID, id string) []byte {
	return []byte(fmt.Sprintf("ne:%s:%s", executionID, id))
}

func NodeExecutionPrefix(executionID string) []byte {
	return []byte(fmt.Sprintf("ne:%s:", executionID))
}

// NodeExecutionIndexKey points a node execution id back to its execution so
// updates only need the node execution id.
func NodeExecutionIndexKey(id string) []byte {
	return []byte(fmt.Sprintf("nei:%s", id))
}

func NodeLogKey(nodeExecutionID, logID string) []byte {
	return []byte(fmt.Sprintf("nl:%s:%s", nodeExecutionID, logID))
}

func NodeLogPrefix(nodeExecutionID string) []byte {
	return []byte(fmt.Sprintf("nl:%s:", nodeExecutionID))
}

func LastNodeOutputKey(workflowID, nodeID string) []byte {
	return []byte(fmt.Sprintf("lo:%s:%s", workflowID, nodeID))
}

// Queue keys. Message ids are zero padded so badger iterates them in
// publish order.
//
//	q:<queue>:r:<id>   ready
//	q:<queue>:u:<id>   delivered, waiting for ack/nack
func QueueReadyPrefix(queue string) []byte {
	return []byte(fmt.Sprintf("q:%s:r:", queue))
}

func QueueUnackedPrefix(queue string) []byte {
	return []byte(fmt.Sprintf("q:%s:u:", queue))
}

func QueueReadyKey(queue string, id uint64) []byte {
	return append(QueueReadyPrefix(queue), []byte(fmt.Sprintf("%020d", id))...)
}

func QueueUnackedKey(queue string, id uint64) []byte {
	return append(QueueUnackedPrefix(queue), []byte(fmt.Sprintf("%020d", id))...)
}

func QueueSequenceKey(name string) []byte {
	return []byte("q:seq:" + name)
}

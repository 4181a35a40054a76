package taskengine

import (
	"context"

	"github.com/AvaProtocol/chainflow/model"
)

// NodeHandler runs one node kind. Implementations must contain every
// failure inside the returned result.
type NodeHandler interface {
	Execute(ctx context.Context, node *model.WorkflowNode, ec *ExecutionContext) *NodeResult
}

// AllNodeTypes returns the node types the executor can dispatch
func AllNodeTypes() []model.NodeType {
	return []model.NodeType{
		model.NodeTypePayment,
		model.NodeTypeContractCall,
		model.NodeTypeNFT,
		model.NodeTypeDataFetch,
		model.NodeTypeCustomLogic,
		model.NodeTypeWalletListener,
	}
}

func IsValidNodeType(nodeType model.NodeType) bool {
	for _, t := range AllNodeTypes() {
		if t == nodeType {
			return true
		}
	}
	return false
}

// IsTransactionalNodeType reports whether the node delegates transactions
// and therefore needs a valid wallet session
func IsTransactionalNodeType(nodeType model.NodeType) bool {
	switch nodeType {
	case model.NodeTypePayment, model.NodeTypeContractCall, model.NodeTypeNFT:
		return true
	}
	return false
}

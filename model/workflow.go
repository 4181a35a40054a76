package model

type NodeType string

const (
	NodeTypePayment        NodeType = "payment"
	NodeTypeContractCall   NodeType = "contract_call"
	NodeTypeNFT            NodeType = "nft"
	NodeTypeDataFetch      NodeType = "data_fetch"
	NodeTypeCustomLogic    NodeType = "custom_logic"
	NodeTypeWalletListener NodeType = "wallet_listener"
)

// Workflow is the graph definition read from the job repository.
type Workflow struct {
	ID     string          `json:"id"`
	UserID string          `json:"userId"`
	Name   string          `json:"name"`
	Nodes  []*WorkflowNode `json:"nodes"`
	Edges  []*WorkflowEdge `json:"edges"`
}

type WorkflowNode struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Type   NodeType       `json:"type"`
	Config map[string]any `json:"config"`

	// An optional node that fails does not fail the whole run
	Optional bool `json:"optional,omitempty"`
}

type WorkflowEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

func (w *Workflow) Node(id string) *WorkflowNode {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

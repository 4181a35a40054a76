package worker

import (
	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/AvaProtocol/chainflow/core/chainio/rpc"
	"github.com/AvaProtocol/chainflow/core/config"
	"github.com/AvaProtocol/chainflow/core/taskengine"
	"github.com/AvaProtocol/chainflow/core/taskengine/customcode"
	"github.com/AvaProtocol/chainflow/core/taskengine/modules"
	"github.com/AvaProtocol/chainflow/core/taskengine/tokens"
	"github.com/AvaProtocol/chainflow/core/taskengine/trigger"
	"github.com/AvaProtocol/chainflow/model"
)

// Dependencies are the shared clients every node handler is built from
type Dependencies struct {
	Chains  taskengine.ChainProvider
	Wallet  taskengine.WalletGateway
	Cache   *rpc.Cache
	Tokens  *tokens.Service
	Modules *modules.Registry
}

// NewHandlers builds one handler per node type
func NewHandlers(c *config.Config, deps *Dependencies, logger sdklogging.Logger) map[model.NodeType]taskengine.NodeHandler {
	interpreter := customcode.NewInterpreter(deps.Modules, c.Script.Timeout, logger)
	listener := taskengine.NewWalletListenerProcessor(deps.Chains, deps.Tokens, &trigger.ListenerOption{
		BatchSize:        c.Listener.BatchSize,
		NativeScanWindow: c.Listener.NativeScanWindow,
		LookbackBlocks:   c.Listener.LookbackBlocks,
		MaxBlockRetries:  c.Listener.MaxBlockRetries,
		Logger:           logger,
	})

	return map[model.NodeType]taskengine.NodeHandler{
		model.NodeTypePayment:        taskengine.NewPaymentProcessor(deps.Wallet),
		model.NodeTypeContractCall:   taskengine.NewContractCallProcessor(deps.Wallet),
		model.NodeTypeNFT:            taskengine.NewNFTProcessor(deps.Wallet),
		model.NodeTypeDataFetch:      taskengine.NewDataFetchProcessor(deps.Chains, deps.Cache, deps.Tokens),
		model.NodeTypeCustomLogic:    taskengine.NewCustomLogicProcessor(interpreter),
		model.NodeTypeWalletListener: listener,
	}
}

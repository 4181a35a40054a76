package taskengine

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/chainflow/core/chainio/rpc"
	"github.com/AvaProtocol/chainflow/core/config"
	"github.com/AvaProtocol/chainflow/core/taskengine/trigger"
	"github.com/AvaProtocol/chainflow/core/wallet"
)

// WalletGateway is the wallet/session surface the transactional handlers
// use. *wallet.Gateway implements it.
type WalletGateway interface {
	ValidateSession(ctx context.Context, userID string) (bool, error)
	GetAddress(ctx context.Context, userID string) (common.Address, error)
	GetBalance(ctx context.Context, userID, network, token string) (*big.Int, error)
	CheckSufficientBalance(ctx context.Context, userID, network string, amount *big.Int, token string) (bool, error)
	EstimateGas(ctx context.Context, userID, network string, tx *wallet.Transaction) (*wallet.GasEstimate, error)
	RequiresApproval(tx *wallet.Transaction) bool
	RequestApproval(ctx context.Context, userID string, tx *wallet.Transaction, reason string) (bool, error)
	DelegateTransaction(ctx context.Context, userID, network string, tx *wallet.Transaction) (*wallet.TxResult, error)
	WaitForTransaction(ctx context.Context, network, hash string, confirmations uint64, timeout time.Duration) (*wallet.TxReceipt, error)
}

// ChainReader is the read only EVM surface used by the data fetch handler
// and the wallet listener
type ChainReader interface {
	trigger.ChainReader

	GetBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// CosmosReader is the REST surface of a Cosmos style chain
type CosmosReader interface {
	GetAccount(ctx context.Context, addr string) (map[string]any, error)
	GetAllBalances(ctx context.Context, addr string) ([]rpc.Coin, error)
	GetDelegations(ctx context.Context, addr string) ([]map[string]any, error)
	GetRewards(ctx context.Context, addr string) (*rpc.RewardsResponse, error)
	GetGovernanceVotes(ctx context.Context, addr string) ([]map[string]any, error)
	GetTxHistory(ctx context.Context, addr string, limit int) ([]map[string]any, error)
}

type ChainProvider interface {
	Network(name string) (*config.NetworkConfig, error)
	EVM(ctx context.Context, network string) (ChainReader, error)
	REST(network string) (CosmosReader, error)
}

// RegistryProvider serves chain readers from an rpc registry
type RegistryProvider struct {
	Registry *rpc.Registry
}

func (p *RegistryProvider) Network(name string) (*config.NetworkConfig, error) {
	return p.Registry.Network(name)
}

func (p *RegistryProvider) EVM(ctx context.Context, network string) (ChainReader, error) {
	c, err := p.Registry.EVM(ctx, network)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p *RegistryProvider) REST(network string) (CosmosReader, error) {
	c, err := p.Registry.REST(network)
	if err != nil {
		return nil, err
	}
	return c, nil
}

var _ ChainReader = (*rpc.Client)(nil)
var _ CosmosReader = (*rpc.RestClient)(nil)
var _ WalletGateway = (*wallet.Gateway)(nil)

// receiptFields is the common projection of a mined transaction
func receiptFields(r *wallet.TxReceipt) map[string]any {
	return map[string]any{
		"status":            string(r.Status),
		"blockNumber":       r.BlockNumber,
		"gasUsed":           r.GasUsed,
		"effectiveGasPrice": r.EffectiveGasPrice,
		"confirmations":     r.Confirmations,
	}
}

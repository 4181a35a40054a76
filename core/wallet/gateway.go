package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AvaProtocol/chainflow/core/chainio/rpc"
	"github.com/AvaProtocol/chainflow/pkg/eip1559"
	"github.com/AvaProtocol/chainflow/pkg/logger"
)

var (
	ErrInvalidSession   = errors.New("invalid or expired session")
	ErrApprovalRequired = errors.New("transaction exceeds the approval threshold and was not approved")
	ErrGasEstimation    = errors.New("gas estimation failed")
	ErrInvalidTx        = errors.New("invalid transaction")
)

// Chain is the per-network surface the gateway reads from
type Chain interface {
	eip1559.FeeSource
	rpc.ReceiptSource

	GetBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

type ChainResolver func(ctx context.Context, network string) (Chain, error)

// RegistryResolver adapts an rpc registry to a ChainResolver
func RegistryResolver(reg *rpc.Registry) ChainResolver {
	return func(ctx context.Context, network string) (Chain, error) {
		c, err := reg.EVM(ctx, network)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

const approvalTTL = 10 * time.Minute

var erc20BalanceABI = mustParseABI(`[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Gateway resolves users to on-chain addresses and delegates signing to the
// session service. Any transaction above the threshold must have been
// approved through RequestApproval before DelegateTransaction accepts it.
type Gateway struct {
	sessions SessionService
	chains   ChainResolver

	threshold       *big.Int
	tokenThresholds map[string]*big.Int
	pollInterval    time.Duration

	approvalsMu sync.Mutex
	approvals   map[string]time.Time

	logger sdklogging.Logger
}

type GatewayOption struct {
	// Value in wei above which approval is required
	ApprovalThreshold *big.Int
	// Token amounts above which approval is required, keyed by lowercase
	// contract address
	TokenApprovalThresholds map[string]*big.Int
	PollInterval      time.Duration
	Logger            sdklogging.Logger
}

func NewGateway(sessions SessionService, chains ChainResolver, opts *GatewayOption) *Gateway {
	g := &Gateway{
		sessions:     sessions,
		chains:       chains,
		threshold:       big.NewInt(1e18),
		tokenThresholds: map[string]*big.Int{},
		pollInterval:    3 * time.Second,
		approvals:       make(map[string]time.Time),
		logger:          logger.NewNoOpLogger(),
	}
	if opts != nil {
		if opts.ApprovalThreshold != nil {
			g.threshold = new(big.Int).Set(opts.ApprovalThreshold)
		}
		for token, v := range opts.TokenApprovalThresholds {
			g.tokenThresholds[strings.ToLower(token)] = new(big.Int).Set(v)
		}
		if opts.PollInterval > 0 {
			g.pollInterval = opts.PollInterval
		}
		g.logger = logger.EnsureLogger(opts.Logger)
	}
	return g
}

// RequiresApproval reports whether tx moves more than its threshold. The
// native value is checked against the wei threshold. A token transfer is
// checked against the threshold of its contract, and a token without one
// needs approval for any non zero amount.
func (g *Gateway) RequiresApproval(tx *Transaction) bool {
	value, err := tx.ValueWei()
	if err != nil || value.Cmp(g.threshold) > 0 {
		return true
	}

	amount, ok := tx.TokenAmount()
	if !ok || amount.Sign() == 0 {
		return false
	}
	limit, priced := g.tokenThresholds[strings.ToLower(tx.To)]
	if !priced {
		return true
	}
	return amount.Cmp(limit) > 0
}

func (g *Gateway) ValidateSession(ctx context.Context, userID string) (bool, error) {
	return g.sessions.ValidateSession(ctx, userID)
}

func (g *Gateway) GetAddress(ctx context.Context, userID string) (common.Address, error) {
	addr, err := g.sessions.GetAddress(ctx, userID)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("session service returned invalid address %q", addr)
	}
	return common.HexToAddress(addr), nil
}

// GetBalance returns the native balance, or the ERC20 balance when token is
// a contract address.
func (g *Gateway) GetBalance(ctx context.Context, userID, network, token string) (*big.Int, error) {
	owner, err := g.GetAddress(ctx, userID)
	if err != nil {
		return nil, err
	}
	chain, err := g.chains(ctx, network)
	if err != nil {
		return nil, err
	}
	return TokenBalance(ctx, chain, owner, token)
}

// TokenBalance reads balanceOf(owner) on token, or the native balance when
// token is empty
func TokenBalance(ctx context.Context, chain Chain, owner common.Address, token string) (*big.Int, error) {
	if token == "" {
		return chain.GetBalance(ctx, owner)
	}
	if !common.IsHexAddress(token) {
		return nil, fmt.Errorf("token %q is not a valid address", token)
	}

	data, err := erc20BalanceABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}
	contract := common.HexToAddress(token)
	out, err := chain.Call(ctx, ethereum.CallMsg{To: &contract, Data: data})
	if err != nil {
		return nil, err
	}
	values, err := erc20BalanceABI.Unpack("balanceOf", out)
	if err != nil || len(values) == 0 {
		return nil, fmt.Errorf("cannot decode balanceOf result: %v", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", values[0])
	}
	return balance, nil
}

func (g *Gateway) CheckSufficientBalance(ctx context.Context, userID, network string, amount *big.Int, token string) (bool, error) {
	balance, err := g.GetBalance(ctx, userID, network, token)
	if err != nil {
		return false, err
	}
	return balance.Cmp(amount) >= 0, nil
}

func (g *Gateway) EstimateGas(ctx context.Context, userID, network string, tx *Transaction) (*GasEstimate, error) {
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTx, err)
	}
	from, err := g.GetAddress(ctx, userID)
	if err != nil {
		return nil, err
	}
	chain, err := g.chains(ctx, network)
	if err != nil {
		return nil, err
	}

	value, _ := tx.ValueWei()
	data, _ := tx.Calldata()
	to := common.HexToAddress(tx.To)

	gasLimit, err := chain.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGasEstimation, err)
	}

	maxFee, _, err := eip1559.SuggestFee(ctx, chain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGasEstimation, err)
	}

	return &GasEstimate{
		GasLimit:      gasLimit,
		GasPrice:      maxFee,
		EstimatedCost: new(big.Int).Mul(maxFee, new(big.Int).SetUint64(gasLimit)),
	}, nil
}

// RequestApproval asks the user to approve tx. A positive answer is
// remembered for a short while so the matching DelegateTransaction passes
// the gate exactly once.
func (g *Gateway) RequestApproval(ctx context.Context, userID string, tx *Transaction, reason string) (bool, error) {
	approved, err := g.sessions.RequestApproval(ctx, userID, tx, reason)
	if err != nil {
		return false, err
	}

	g.logger.Info("approval answered", "user_id", userID, "to", tx.To, "value", tx.Value, "approved", approved)
	if approved {
		g.approvalsMu.Lock()
		g.approvals[tx.fingerprint(userID)] = time.Now().Add(approvalTTL)
		g.approvalsMu.Unlock()
	}
	return approved, nil
}

func (g *Gateway) consumeApproval(userID string, tx *Transaction) bool {
	key := tx.fingerprint(userID)

	g.approvalsMu.Lock()
	defer g.approvalsMu.Unlock()

	now := time.Now()
	for k, exp := range g.approvals {
		if now.After(exp) {
			delete(g.approvals, k)
		}
	}

	if _, ok := g.approvals[key]; !ok {
		return false
	}
	delete(g.approvals, key)
	return true
}

// DelegateTransaction validates tx and hands it to the external signer. The
// only immediate status is pending.
func (g *Gateway) DelegateTransaction(ctx context.Context, userID, network string, tx *Transaction) (*TxResult, error) {
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTx, err)
	}

	if g.RequiresApproval(tx) && !g.consumeApproval(userID, tx) {
		return nil, ErrApprovalRequired
	}

	hash, err := g.sessions.SignAndSend(ctx, userID, network, tx)
	if err != nil {
		return nil, err
	}

	g.logger.Info("transaction delegated", "user_id", userID, "network", network, "tx_hash", hash)
	return &TxResult{TxHash: hash, Status: TxPending}, nil
}

// WaitForTransaction waits for the confirmations and maps the receipt
// status to confirmed or failed.
func (g *Gateway) WaitForTransaction(ctx context.Context, network, hash string, confirmations uint64, timeout time.Duration) (*TxReceipt, error) {
	chain, err := g.chains(ctx, network)
	if err != nil {
		return nil, err
	}

	receipt, err := rpc.WaitForReceipt(ctx, chain, common.HexToHash(hash), confirmations, timeout, g.pollInterval)
	if err != nil {
		return nil, err
	}

	out := &TxReceipt{
		TxHash:      hash,
		Status:      TxConfirmed,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		out.Status = TxFailed
	}
	if receipt.EffectiveGasPrice != nil {
		out.EffectiveGasPrice = receipt.EffectiveGasPrice.String()
	}
	if current, err := chain.GetLatestBlockNumber(ctx); err == nil {
		out.Confirmations = rpc.Confirmations(current, out.BlockNumber)
	}
	return out, nil
}

package taskengine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AvaProtocol/chainflow/core/chainio/rpc"
	"github.com/AvaProtocol/chainflow/core/config"
	"github.com/AvaProtocol/chainflow/core/testutil"
	"github.com/AvaProtocol/chainflow/core/wallet"
)

// fakeWallet records every gateway call so tests can assert on the order
// and on what was never reached
type fakeWallet struct {
	mu    sync.Mutex
	calls []string

	sessionValid   bool
	balance        *big.Int
	threshold      *big.Int
	approve        bool
	gasErr         error
	delegateErr    error
	receipt        *wallet.TxReceipt
	waitErr        error
	delegated      []*wallet.Transaction
	approvalReason string

	// keyed by lowercase token address
	tokenThresholds map[string]*big.Int
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		sessionValid: true,
		balance:      big.NewInt(1e18),
		threshold:    big.NewInt(5e17),
		approve:      true,
		tokenThresholds: map[string]*big.Int{
			"0x1c7d4b196cb0c7b01d743fbc6116a902379c7238": big.NewInt(10_000_000),
		},
	}
}

func (f *fakeWallet) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeWallet) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeWallet) ValidateSession(ctx context.Context, userID string) (bool, error) {
	f.record("ValidateSession")
	return f.sessionValid, nil
}

func (f *fakeWallet) GetAddress(ctx context.Context, userID string) (common.Address, error) {
	f.record("GetAddress")
	return common.HexToAddress(testutil.TestWallet), nil
}

func (f *fakeWallet) GetBalance(ctx context.Context, userID, network, token string) (*big.Int, error) {
	f.record("GetBalance")
	return f.balance, nil
}

func (f *fakeWallet) CheckSufficientBalance(ctx context.Context, userID, network string, amount *big.Int, token string) (bool, error) {
	f.record("CheckSufficientBalance")
	return f.balance.Cmp(amount) >= 0, nil
}

func (f *fakeWallet) EstimateGas(ctx context.Context, userID, network string, tx *wallet.Transaction) (*wallet.GasEstimate, error) {
	f.record("EstimateGas")
	if f.gasErr != nil {
		return nil, f.gasErr
	}
	return &wallet.GasEstimate{
		GasLimit:      21000,
		GasPrice:      big.NewInt(1e9),
		EstimatedCost: big.NewInt(21000 * 1e9),
	}, nil
}

func (f *fakeWallet) RequiresApproval(tx *wallet.Transaction) bool {
	value, _ := tx.ValueWei()
	if value != nil && f.threshold != nil && value.Cmp(f.threshold) > 0 {
		return true
	}
	amount, ok := tx.TokenAmount()
	if !ok || amount.Sign() == 0 {
		return false
	}
	limit, priced := f.tokenThresholds[strings.ToLower(tx.To)]
	return !priced || amount.Cmp(limit) > 0
}

func (f *fakeWallet) RequestApproval(ctx context.Context, userID string, tx *wallet.Transaction, reason string) (bool, error) {
	f.record("RequestApproval")
	f.approvalReason = reason
	return f.approve, nil
}

func (f *fakeWallet) DelegateTransaction(ctx context.Context, userID, network string, tx *wallet.Transaction) (*wallet.TxResult, error) {
	f.record("DelegateTransaction")
	if f.delegateErr != nil {
		return nil, f.delegateErr
	}
	f.mu.Lock()
	f.delegated = append(f.delegated, tx)
	f.mu.Unlock()
	return &wallet.TxResult{
		TxHash: "0x5f3e2d7c1e7a4b1c9d8e6f5a4b3c2d1e0f9a8b7c6d5e4f3a2b1c0d9e8f7a6b5c",
		Status: wallet.TxPending,
	}, nil
}

func (f *fakeWallet) WaitForTransaction(ctx context.Context, network, hash string, confirmations uint64, timeout time.Duration) (*wallet.TxReceipt, error) {
	f.record("WaitForTransaction")
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	if f.receipt != nil {
		return f.receipt, nil
	}
	return &wallet.TxReceipt{
		TxHash:        hash,
		Status:        wallet.TxConfirmed,
		BlockNumber:   100,
		GasUsed:       21000,
		Confirmations: confirmations,
	}, nil
}

// fakeEVM answers eth_call through registered contract handlers
type fakeEVM struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
	// contract -> method name -> handler returning packed outputs
	contracts map[common.Address]map[string]func(args []any) ([]any, error)
	abis      map[common.Address]*abi.ABI
	callCount int

	head uint64
	logs []types.Log
}

func newFakeEVM() *fakeEVM {
	return &fakeEVM{
		balances:  map[common.Address]*big.Int{},
		contracts: map[common.Address]map[string]func(args []any) ([]any, error){},
		abis:      map[common.Address]*abi.ABI{},
		head:      100,
	}
}

func (f *fakeEVM) deploy(addr common.Address, parsed *abi.ABI, methods map[string]func(args []any) ([]any, error)) {
	f.contracts[addr] = methods
	f.abis[addr] = parsed
}

func (f *fakeEVM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

func (f *fakeEVM) Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	f.mu.Lock()
	f.callCount++
	f.mu.Unlock()

	if msg.To == nil {
		return nil, errors.New("no target")
	}
	parsed, ok := f.abis[*msg.To]
	if !ok || len(msg.Data) < 4 {
		return nil, errors.New("execution reverted")
	}
	method, err := parsed.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	handler, ok := f.contracts[*msg.To][method.Name]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	out, err := handler(args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out...)
}

func (f *fakeEVM) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeEVM) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return f.Call(ctx, call)
}

func (f *fakeEVM) GetBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	f.mu.Lock()
	f.callCount++
	f.mu.Unlock()
	if b, ok := f.balances[addr]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeEVM) GetLatestBlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }

func (f *fakeEVM) BlockTransactions(ctx context.Context, number uint64) (uint64, types.Transactions, error) {
	return 0, nil, nil
}

func (f *fakeEVM) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func (f *fakeEVM) GetLogs(ctx context.Context, filter rpc.LogFilter) ([]types.Log, error) {
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber < filter.FromBlock || l.BlockNumber > filter.ToBlock {
			continue
		}
		match := true
		for i, group := range filter.Topics {
			if len(group) == 0 {
				continue
			}
			if i >= len(l.Topics) || !slices.Contains(group, l.Topics[i]) {
				match = false
				break
			}
		}
		if match {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeEVM) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: number, Time: 1700000000}, nil
}

type fakeCosmos struct {
	balances    []rpc.Coin
	delegations []map[string]any
}

func (f *fakeCosmos) GetAccount(ctx context.Context, addr string) (map[string]any, error) {
	return map[string]any{"address": addr}, nil
}

func (f *fakeCosmos) GetAllBalances(ctx context.Context, addr string) ([]rpc.Coin, error) {
	return f.balances, nil
}

func (f *fakeCosmos) GetDelegations(ctx context.Context, addr string) ([]map[string]any, error) {
	return f.delegations, nil
}

func (f *fakeCosmos) GetRewards(ctx context.Context, addr string) (*rpc.RewardsResponse, error) {
	return &rpc.RewardsResponse{Total: []rpc.Coin{{Denom: "uatom", Amount: "12.5"}}}, nil
}

func (f *fakeCosmos) GetGovernanceVotes(ctx context.Context, addr string) ([]map[string]any, error) {
	return []map[string]any{}, nil
}

func (f *fakeCosmos) GetTxHistory(ctx context.Context, addr string, limit int) ([]map[string]any, error) {
	return []map[string]any{{"txhash": "ABC"}}, nil
}

type fakeChains struct {
	networks map[string]*config.NetworkConfig
	evm      *fakeEVM
	cosmos   *fakeCosmos
}

func newFakeChains() *fakeChains {
	return &fakeChains{
		networks: map[string]*config.NetworkConfig{
			"ethereum-testnet": {Kind: config.NetworkEVM, ChainID: 11155111, NativeSymbol: "ETH", NativeDecimals: 18},
			"cosmoshub":        {Kind: config.NetworkCosmos, NativeSymbol: "ATOM", NativeDecimals: 6, Denom: "uatom"},
		},
		evm:    newFakeEVM(),
		cosmos: &fakeCosmos{},
	}
}

func (f *fakeChains) Network(name string) (*config.NetworkConfig, error) {
	n, ok := f.networks[name]
	if !ok {
		return nil, fmt.Errorf("unknown network %s", name)
	}
	return n, nil
}

func (f *fakeChains) EVM(ctx context.Context, network string) (ChainReader, error) {
	if n, err := f.Network(network); err != nil || n.Kind != config.NetworkEVM {
		return nil, fmt.Errorf("%s is not an evm network", network)
	}
	return f.evm, nil
}

func (f *fakeChains) REST(network string) (CosmosReader, error) {
	if n, err := f.Network(network); err != nil || n.Kind != config.NetworkCosmos {
		return nil, fmt.Errorf("%s is not a cosmos network", network)
	}
	return f.cosmos, nil
}

func testExecutionContext(inputs map[string]any) *ExecutionContext {
	return &ExecutionContext{
		Inputs:      inputs,
		UserID:      testutil.TestUserID,
		WorkflowID:  "wf-1",
		ExecutionID: "exec-1",
		NodeID:      "node-1",
	}
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

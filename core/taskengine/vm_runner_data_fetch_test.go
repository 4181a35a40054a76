package taskengine

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/chainflow/core/chainio/rpc"
	"github.com/AvaProtocol/chainflow/core/taskengine/trigger"
	"github.com/AvaProtocol/chainflow/core/testutil"
	"github.com/AvaProtocol/chainflow/model"
)

var usdcAddress = common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")

var testTokenABI = mustParseABI(`[
	{"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"owner","type":"address"},{"name":"index","type":"uint256"}],"name":"tokenOfOwnerByIndex","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`)

func dataFetchNode() *model.WorkflowNode {
	return &model.WorkflowNode{ID: "fetch", Name: "fetch", Type: model.NodeTypeDataFetch}
}

func newTestDataFetch(t *testing.T, chains *fakeChains) *DataFetchProcessor {
	cache, err := rpc.NewCache(context.Background(), time.Minute)
	require.NoError(t, err)
	return NewDataFetchProcessor(chains, cache, nil)
}

func TestDataFetchNativeBalance(t *testing.T) {
	chains := newFakeChains()
	chains.evm.balances[common.HexToAddress(testutil.TestWallet)] = big.NewInt(1500000000000000000)
	p := newTestDataFetch(t, chains)

	res := p.Execute(context.Background(), dataFetchNode(), testExecutionContext(map[string]any{
		"network":  "ethereum-testnet",
		"dataType": "balance",
		"address":  testutil.TestWallet,
	}))

	require.True(t, res.Success, "unexpected failure: %v", res.Err)
	data := res.Output["data"].(map[string]any)
	assert.Equal(t, "1500000000000000000", data["balance"])
	assert.Equal(t, "1.5", data["balanceFormatted"])
	assert.Equal(t, "ETH", data["symbol"])
	assert.Equal(t, false, res.Output["cached"])
}

func TestDataFetchTokenBalanceWithMetadata(t *testing.T) {
	chains := newFakeChains()
	chains.evm.deploy(usdcAddress, &testTokenABI, map[string]func([]any) ([]any, error){
		"balanceOf": func(args []any) ([]any, error) { return []any{big.NewInt(2500000)}, nil },
		"symbol":    func(args []any) ([]any, error) { return []any{"USDC"}, nil },
		"decimals":  func(args []any) ([]any, error) { return []any{uint8(6)}, nil },
	})
	p := newTestDataFetch(t, chains)

	res := p.Execute(context.Background(), dataFetchNode(), testExecutionContext(map[string]any{
		"network":      "ethereum-testnet",
		"dataType":     "token_balance",
		"address":      testutil.TestWallet,
		"tokenAddress": usdcAddress.Hex(),
	}))

	require.True(t, res.Success, "unexpected failure: %v", res.Err)
	data := res.Output["data"].(map[string]any)
	assert.Equal(t, "2500000", data["balance"])
	assert.Equal(t, "2.5", data["balanceFormatted"])
	assert.Equal(t, "USDC", data["symbol"])
}

func TestDataFetchCacheHit(t *testing.T) {
	chains := newFakeChains()
	chains.evm.balances[common.HexToAddress(testutil.TestWallet)] = big.NewInt(42)
	p := newTestDataFetch(t, chains)

	inputs := map[string]any{
		"network":  "ethereum-testnet",
		"dataType": "balance",
		"address":  testutil.TestWallet,
		"cache":    true,
		"cacheTtl": "1m",
	}
	first := p.Execute(context.Background(), dataFetchNode(), testExecutionContext(inputs))
	require.True(t, first.Success)
	calls := chains.evm.calls()

	chains.evm.balances[common.HexToAddress(testutil.TestWallet)] = big.NewInt(43)
	second := p.Execute(context.Background(), dataFetchNode(), testExecutionContext(inputs))
	require.True(t, second.Success)
	assert.Equal(t, true, second.Output["cached"])
	assert.Equal(t, calls, chains.evm.calls(), "cache hit must not reach the chain")
	assert.Equal(t, first.Output["data"], second.Output["data"])

	inputs["cache"] = false
	third := p.Execute(context.Background(), dataFetchNode(), testExecutionContext(inputs))
	require.True(t, third.Success)
	assert.Equal(t, "43", third.Output["data"].(map[string]any)["balance"])
}

func TestDataFetchNFTs(t *testing.T) {
	chains := newFakeChains()
	nft := common.HexToAddress(nftContract)
	chains.evm.deploy(nft, &testTokenABI, map[string]func([]any) ([]any, error){
		"balanceOf": func(args []any) ([]any, error) { return []any{big.NewInt(3)}, nil },
		"tokenOfOwnerByIndex": func(args []any) ([]any, error) {
			idx := args[1].(*big.Int)
			return []any{new(big.Int).Add(idx, big.NewInt(100))}, nil
		},
		"symbol": func(args []any) ([]any, error) { return []any{"PUNK"}, nil },
	})
	p := newTestDataFetch(t, chains)

	res := p.Execute(context.Background(), dataFetchNode(), testExecutionContext(map[string]any{
		"network":         "ethereum-testnet",
		"dataType":        "nfts",
		"address":         testutil.TestWallet,
		"contractAddress": nft.Hex(),
		"limit":           2,
	}))

	require.True(t, res.Success, "unexpected failure: %v", res.Err)
	data := res.Output["data"].(map[string]any)
	assert.Equal(t, "3", data["count"])
	assert.Equal(t, []any{"100", "101"}, data["tokenIds"])
	assert.Equal(t, true, data["enumerable"])
}

func TestDataFetchContractState(t *testing.T) {
	chains := newFakeChains()
	counter := common.HexToAddress(counterAddress)
	parsed, err := ParseABI(counterABI)
	require.NoError(t, err)
	chains.evm.deploy(counter, parsed, map[string]func([]any) ([]any, error){
		"current": func(args []any) ([]any, error) { return []any{big.NewInt(7)}, nil },
	})
	p := newTestDataFetch(t, chains)

	res := p.Execute(context.Background(), dataFetchNode(), testExecutionContext(map[string]any{
		"network":         "ethereum-testnet",
		"dataType":        "contract_state",
		"contractAddress": counterAddress,
		"abi":             counterABI,
		"method":          "current",
	}))

	require.True(t, res.Success, "unexpected failure: %v", res.Err)
	data := res.Output["data"].(map[string]any)
	assert.Equal(t, "7", data["value"])
}

func TestDataFetchCosmos(t *testing.T) {
	chains := newFakeChains()
	chains.cosmos.balances = []rpc.Coin{{Denom: "uatom", Amount: "1000"}, {Denom: "uosmo", Amount: "5"}}
	chains.cosmos.delegations = []map[string]any{{"validator_address": "cosmosvaloper1xyz"}}
	p := newTestDataFetch(t, chains)
	addr := "cosmos1qypqxpq9qcrsszg2pvxq6rs0zqg3yyc5lzv7xu"

	res := p.Execute(context.Background(), dataFetchNode(), testExecutionContext(map[string]any{
		"network":  "cosmoshub",
		"dataType": "token_balance",
		"address":  addr,
		"denom":    "uatom",
	}))
	require.True(t, res.Success, "unexpected failure: %v", res.Err)
	assert.Equal(t, "1000", res.Output["data"].(map[string]any)["balance"])

	res = p.Execute(context.Background(), dataFetchNode(), testExecutionContext(map[string]any{
		"network":  "cosmoshub",
		"dataType": "delegations",
		"address":  addr,
	}))
	require.True(t, res.Success, "unexpected failure: %v", res.Err)
	assert.EqualValues(t, 1, res.Output["data"].(map[string]any)["count"])

	res = p.Execute(context.Background(), dataFetchNode(), testExecutionContext(map[string]any{
		"network":  "cosmoshub",
		"dataType": "rewards",
		"address":  addr,
	}))
	require.True(t, res.Success, "unexpected failure: %v", res.Err)
	assert.Contains(t, res.Output["data"], "total")
}

func transferLogFor(token, from, to common.Address, amount int64, block uint64, index uint) types.Log {
	return types.Log{
		Address:     token,
		Topics:      []common.Hash{trigger.TransferTopic, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:        common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(int64(block))),
		Index:       index,
	}
}

func TestDataFetchEVMTransferHistory(t *testing.T) {
	chains := newFakeChains()
	owner := common.HexToAddress(testutil.TestWallet)
	other := common.HexToAddress("0x000000000000000000000000000000000000cccc")
	chains.evm.logs = []types.Log{
		transferLogFor(usdcAddress, other, owner, 5, 90, 0),
		transferLogFor(usdcAddress, owner, other, 2, 95, 1),
		transferLogFor(usdcAddress, other, other, 7, 96, 0),
		transferLogFor(usdcAddress, other, owner, 1, 99, 3),
	}
	p := newTestDataFetch(t, chains)

	res := p.Execute(context.Background(), dataFetchNode(), testExecutionContext(map[string]any{
		"network":  "ethereum-testnet",
		"dataType": "tx_history",
		"address":  testutil.TestWallet,
		"limit":    2,
	}))

	require.True(t, res.Success, "unexpected failure: %v", res.Err)
	data := res.Output["data"].(map[string]any)
	assert.EqualValues(t, 2, data["count"])
	assert.EqualValues(t, 100, data["toBlock"])

	txs := data["transactions"].([]any)
	require.Len(t, txs, 2)
	newest := txs[0].(map[string]any)
	assert.EqualValues(t, 99, newest["blockNumber"])
	assert.Equal(t, "token_transfer_in", newest["eventType"])
	assert.Equal(t, "token_transfer_out", txs[1].(map[string]any)["eventType"])
}

func TestDataFetchUnsupportedCombinations(t *testing.T) {
	p := newTestDataFetch(t, newFakeChains())

	cases := map[string]map[string]any{
		"delegations on evm": {
			"network":  "ethereum-testnet",
			"dataType": "delegations",
			"address":  testutil.TestWallet,
		},
		"contract state on cosmos": {
			"network":         "cosmoshub",
			"dataType":        "contract_state",
			"contractAddress": counterAddress,
		},
		"unknown network": {
			"network":  "solana",
			"dataType": "balance",
			"address":  testutil.TestWallet,
		},
		"unknown data type": {
			"network":  "ethereum-testnet",
			"dataType": "prices",
			"address":  testutil.TestWallet,
		},
		"token balance without token": {
			"network":  "ethereum-testnet",
			"dataType": "token_balance",
			"address":  testutil.TestWallet,
		},
	}

	for name, inputs := range cases {
		t.Run(name, func(t *testing.T) {
			res := p.Execute(context.Background(), dataFetchNode(), testExecutionContext(inputs))
			require.False(t, res.Success)
			assert.Equal(t, ErrCodeInvalidNodeConfig, res.Err.Code, res.Err.Message)
		})
	}
}

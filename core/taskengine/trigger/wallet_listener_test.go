package trigger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	walletA = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	walletB = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
	other   = common.HexToAddress("0x000000000000000000000000000000000000cccc")
	usdc    = common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	punks   = common.HexToAddress("0x00000000000000000000000000000000000000fe")
)

func newTestListener(chain *fakeChain) *WalletListener {
	return NewWalletListener(chain.resolver(), nil, &ListenerOption{
		RetryInitial:     time.Millisecond,
		NativeScanWindow: 5,
	})
}

func tokenConfig(addrs ...common.Address) *WalletListenerConfig {
	cfg := &WalletListenerConfig{
		Networks:   []string{"sepolia"},
		EventTypes: []EventType{EventTokenTransferIn, EventTokenTransferOut, EventNFTMint, EventNFTTransferIn, EventNFTTransferOut},
	}
	for _, a := range addrs {
		cfg.Addresses = append(cfg.Addresses, a.Hex())
	}
	return cfg
}

func TestFirstPollStartsBehindHead(t *testing.T) {
	chain := newFakeChain(1000)
	l := newTestListener(chain)
	cfg := tokenConfig(walletA)
	cfg.BatchSize = 50

	res := l.Poll(context.Background(), cfg, nil)
	require.True(t, res.Success)

	// lookback 100 from head 1000 starts at 900, batch of 50
	assert.Equal(t, uint64(900), chain.filters[0].FromBlock)
	assert.Equal(t, uint64(949), chain.filters[0].ToBlock)
	assert.Equal(t, uint64(949), res.State.LastProcessedBlocks[CursorKey("sepolia", walletA.Hex())])

	// a configured start block later than the lookback wins
	chain2 := newFakeChain(1000)
	cfg.StartBlock = 980
	res = newTestListener(chain2).Poll(context.Background(), cfg, nil)
	require.True(t, res.Success)
	assert.Equal(t, uint64(980), chain2.filters[0].FromBlock)
	assert.Equal(t, uint64(1000), res.State.LastProcessedBlocks[CursorKey("sepolia", walletA.Hex())])
}

func TestFirstPollAndResumeAreContiguous(t *testing.T) {
	chain := newFakeChain(1000)
	l := newTestListener(chain)
	cfg := tokenConfig(walletA)
	cfg.BatchSize = 50

	res := l.Poll(context.Background(), cfg, nil)
	require.True(t, res.Success)
	res = l.Poll(context.Background(), cfg, res.State)
	require.True(t, res.Success)

	require.Len(t, chain.filters, 2)
	assert.Equal(t, chain.filters[0].ToBlock+1, chain.filters[1].FromBlock)

	// a start block past the head waits without storing a cursor
	chain2 := newFakeChain(1000)
	cfg.StartBlock = 1005
	res = newTestListener(chain2).Poll(context.Background(), cfg, nil)
	assert.Empty(t, chain2.filters)
	assert.NotContains(t, res.State.LastProcessedBlocks, CursorKey("sepolia", walletA.Hex()))
}

func TestCursorIsMonotonic(t *testing.T) {
	chain := newFakeChain(200)
	l := newTestListener(chain)
	cfg := tokenConfig(walletA)
	cfg.BatchSize = 30
	key := CursorKey("sepolia", walletA.Hex())

	heads := []uint64{200, 200, 250, 240, 180, 400, 401}
	state := NewState()
	var lastCursor uint64
	var lastTo uint64
	for i, head := range heads {
		chain.setHead(head)
		before := len(chain.filters)

		res := l.Poll(context.Background(), cfg, state)
		require.True(t, res.Success, "poll %d: %v", i, res.Errors)

		cursor := res.State.LastProcessedBlocks[key]
		if cursor < lastCursor {
			t.Errorf("poll %d: cursor went back from %d to %d", i, lastCursor, cursor)
		}
		if len(chain.filters) > before {
			to := chain.filters[len(chain.filters)-1].ToBlock
			if to < lastTo {
				t.Errorf("poll %d: toBlock went back from %d to %d", i, lastTo, to)
			}
			lastTo = to
		}
		lastCursor = cursor
		state = res.State
	}
	assert.Equal(t, uint64(279), lastCursor)
}

func TestNoEventsWhenHeadHasNotMoved(t *testing.T) {
	chain := newFakeChain(500)
	l := newTestListener(chain)
	cfg := tokenConfig(walletA)

	state := NewState()
	state.LastProcessedBlocks[CursorKey("sepolia", walletA.Hex())] = 500

	res := l.Poll(context.Background(), cfg, state)
	assert.True(t, res.Success)
	assert.Empty(t, res.Events)
	assert.Empty(t, chain.filters)
	assert.Equal(t, uint64(500), res.State.LastProcessedBlocks[CursorKey("sepolia", walletA.Hex())])
}

func TestTokenEventsAreEnriched(t *testing.T) {
	chain := newFakeChain(120)
	chain.tokens[usdc] = fakeToken{symbol: "USDC", decimals: 6}
	chain.tokens[punks] = fakeToken{symbol: "PUNK", nft: true}

	txIn := common.HexToHash("0x01")
	txOut := common.HexToHash("0x02")
	txMint := common.HexToHash("0x03")
	chain.logs = []types.Log{
		transferLog(usdc, other, walletA, 1_500_000, 110, txIn, 0),
		transferLog(usdc, walletA, other, 250_000, 111, txOut, 3),
		nftLog(punks, common.Address{}, walletA, 42, 112, txMint, 1),
		transferLog(usdc, other, walletB, 9, 110, common.HexToHash("0x04"), 1),
	}
	chain.receipts[txIn] = &types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 51000, EffectiveGasPrice: big.NewInt(3e9)}

	state := NewState()
	state.LastProcessedBlocks[CursorKey("sepolia", walletA.Hex())] = 100

	res := newTestListener(chain).Poll(context.Background(), tokenConfig(walletA), state)
	require.True(t, res.Success)
	require.Len(t, res.Events, 3)

	in := res.Events[0]
	assert.Equal(t, EventTokenTransferIn, in.EventType)
	assert.Equal(t, "1500000", in.Amount)
	assert.Equal(t, "1.5", in.FormattedAmount)
	assert.Equal(t, "USDC", in.TokenSymbol)
	require.NotNil(t, in.TokenDecimals)
	assert.Equal(t, uint8(6), *in.TokenDecimals)
	assert.Equal(t, uint64(51000), in.GasUsed)
	assert.Equal(t, "3000000000", in.GasPrice)
	assert.Equal(t, "success", in.Status)
	assert.Equal(t, uint64(10), in.Confirmations)
	assert.Equal(t, uint64(1700000110), in.Timestamp)
	assert.Equal(t, walletA.Hex(), in.WalletAddress)

	out := res.Events[1]
	assert.Equal(t, EventTokenTransferOut, out.EventType)
	// missing receipt degrades to empty fields, the event is kept
	assert.Empty(t, out.Status)

	mint := res.Events[2]
	assert.Equal(t, EventNFTMint, mint.EventType)
	assert.Equal(t, "42", mint.TokenID)
	assert.Equal(t, "PUNK", mint.TokenSymbol)
	assert.Nil(t, mint.TokenDecimals)

	assert.Equal(t, uint64(3), res.State.TotalEventsProcessed)
}

func TestParseIsIdempotent(t *testing.T) {
	tx := common.HexToHash("0xabc")
	logs := []types.Log{
		transferLog(usdc, other, walletA, 10, 5, tx, 0),
		transferLog(usdc, other, walletA, 10, 5, tx, 0),
		transferLog(usdc, walletA, walletA, 7, 5, tx, 1),
		transferLog(usdc, other, walletB, 10, 5, tx, 2),
	}

	first := ParseTransferLogs(logs, walletA, "sepolia")
	second := ParseTransferLogs(logs, walletA, "sepolia")
	merged := MergeEvents(first, second)

	require.Len(t, first, 2)
	assert.Len(t, merged, len(first))

	seen := map[string]bool{}
	for _, e := range merged {
		if seen[e.Key()] {
			t.Errorf("duplicate event %s", e.Key())
		}
		seen[e.Key()] = true
	}
	assert.Equal(t, first[0].ToMap(), second[0].ToMap())
}

func TestFilters(t *testing.T) {
	chain := newFakeChain(20)
	chain.tokens[usdc] = fakeToken{symbol: "USDC", decimals: 6}
	dai := common.HexToAddress("0x00000000000000000000000000000000000000da")
	chain.tokens[dai] = fakeToken{symbol: "DAI", decimals: 6}

	chain.logs = []types.Log{
		transferLog(usdc, other, walletA, 5_000_000, 11, common.HexToHash("0x11"), 0),   // 5 USDC
		transferLog(usdc, other, walletA, 100_000, 12, common.HexToHash("0x12"), 0),     // 0.1 USDC
		transferLog(usdc, walletB, walletA, 2_000_000, 13, common.HexToHash("0x13"), 0), // excluded sender
		transferLog(dai, other, walletA, 3_000_000, 14, common.HexToHash("0x14"), 0),    // not allowed
		transferLog(usdc, walletA, other, 3_000_000, 15, common.HexToHash("0x15"), 0),   // outgoing
	}

	cfg := tokenConfig(walletA)
	cfg.EventTypes = []EventType{EventTokenTransferIn}
	cfg.MinAmount = "1"
	cfg.MaxAmount = "10"
	cfg.Contracts = []string{usdc.Hex()}
	cfg.ExcludeAddresses = []string{walletB.Hex()}
	require.NoError(t, cfg.Validate())

	state := NewState()
	state.LastProcessedBlocks[CursorKey("sepolia", walletA.Hex())] = 10

	res := newTestListener(chain).Poll(context.Background(), cfg, state)
	require.True(t, res.Success)
	require.Len(t, res.Events, 1)
	assert.Equal(t, common.HexToHash("0x11").Hex(), res.Events[0].TxHash)

	cfg.MinAmount = ""
	cfg.Condition = `formattedAmount == "0.1"`
	res = newTestListener(chain).Poll(context.Background(), cfg, state)
	require.Len(t, res.Events, 1)
	assert.Equal(t, common.HexToHash("0x12").Hex(), res.Events[0].TxHash)
}

func TestFailingAddressDoesNotAbortOthers(t *testing.T) {
	chain := newFakeChain(50)
	chain.logs = []types.Log{
		transferLog(usdc, other, walletA, 1, 45, common.HexToHash("0x21"), 0),
	}
	chain.logsErr[addressTopic(walletB)] = errors.New("query returned more than 10000 results")

	state := NewState()
	keyA := CursorKey("sepolia", walletA.Hex())
	keyB := CursorKey("sepolia", walletB.Hex())
	state.LastProcessedBlocks[keyA] = 40
	state.LastProcessedBlocks[keyB] = 40
	state.RetryCounts[keyA] = 2

	res := newTestListener(chain).Poll(context.Background(), tokenConfig(walletB, walletA), state)

	assert.True(t, res.Success)
	require.Len(t, res.Events, 1)
	assert.Equal(t, walletA.Hex(), res.Events[0].WalletAddress)

	assert.Equal(t, uint64(50), res.State.LastProcessedBlocks[keyA])
	assert.Equal(t, uint64(40), res.State.LastProcessedBlocks[keyB])
	assert.Equal(t, 1, res.State.RetryCounts[keyB])
	assert.NotContains(t, res.State.RetryCounts, keyA)
	assert.Equal(t, NetworkStatusPartial, res.State.NetworkStatus["sepolia"])
	assert.Equal(t, 1, res.State.ConsecutiveFailures)
	assert.Contains(t, res.Errors, keyB)

	// the previous state is never modified in place
	assert.Equal(t, uint64(40), state.LastProcessedBlocks[keyA])
}

func TestHeadFailureKeepsCursor(t *testing.T) {
	chain := newFakeChain(50)
	chain.headErr = errors.New("connection refused")

	state := NewState()
	key := CursorKey("sepolia", walletA.Hex())
	state.LastProcessedBlocks[key] = 40
	state.ConsecutiveFailures = 2

	l := NewWalletListener(chain.resolver(), nil, &ListenerOption{MaxBlockRetries: 3, RetryInitial: time.Millisecond})
	res := l.Poll(context.Background(), tokenConfig(walletA), state)

	assert.False(t, res.Success)
	assert.Equal(t, 3, chain.headCalls)
	assert.Equal(t, uint64(40), res.State.LastProcessedBlocks[key])
	assert.Equal(t, 1, res.State.RetryCounts[key])
	assert.Equal(t, 3, res.State.ConsecutiveFailures)
	assert.Equal(t, NetworkStatusUnavailable, res.State.NetworkStatus["sepolia"])
}

func TestUnknownNetworkIsIsolated(t *testing.T) {
	chain := newFakeChain(10)
	cfg := tokenConfig(walletA)
	cfg.Networks = []string{"base", "sepolia"}

	res := newTestListener(chain).Poll(context.Background(), cfg, nil)
	assert.True(t, res.Success)
	assert.Equal(t, NetworkStatusUnavailable, res.State.NetworkStatus["base"])
	assert.Equal(t, NetworkStatusOK, res.State.NetworkStatus["sepolia"])
}

func TestNativeTransfersFromBlockBodies(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := crypto.PubkeyToAddress(key.PublicKey)
	signer := types.LatestSignerForChainID(big.NewInt(11155111))

	payment := types.MustSignNewTx(key, signer, &types.LegacyTx{Nonce: 0, To: &walletA, Value: big.NewInt(2e18), Gas: 21000, GasPrice: big.NewInt(1e9)})
	unrelated := types.MustSignNewTx(key, signer, &types.LegacyTx{Nonce: 1, To: &other, Value: big.NewInt(1), Gas: 21000, GasPrice: big.NewInt(1e9)})

	chain := newFakeChain(100)
	chain.blocks[93] = types.Transactions{payment, unrelated}
	// outside the scan window of this poll
	chain.blocks[97] = types.Transactions{types.MustSignNewTx(key, signer, &types.LegacyTx{Nonce: 2, To: &walletA, Value: big.NewInt(5), Gas: 21000, GasPrice: big.NewInt(1e9)})}

	cfg := &WalletListenerConfig{
		Networks:   []string{"sepolia"},
		Addresses:  []string{walletA.Hex()},
		EventTypes: []EventType{EventNativeTransferIn},
	}
	state := NewState()
	cursorKey := CursorKey("sepolia", walletA.Hex())
	state.LastProcessedBlocks[cursorKey] = 90

	l := NewWalletListener(chain.resolver(), nil, &ListenerOption{
		NativeScanWindow: 5,
		NativeCurrency: func(string) NativeCurrency {
			return NativeCurrency{Symbol: "SepoliaETH", Decimals: 18}
		},
	})
	res := l.Poll(context.Background(), cfg, state)
	require.True(t, res.Success)
	require.Len(t, res.Events, 1)

	ev := res.Events[0]
	assert.Equal(t, EventNativeTransferIn, ev.EventType)
	assert.Equal(t, sender.Hex(), ev.FromAddress)
	assert.Equal(t, "2", ev.FormattedAmount)
	assert.Equal(t, "SepoliaETH", ev.TokenSymbol)
	assert.Equal(t, payment.Hash().Hex(), ev.TxHash)
	assert.Equal(t, uint64(1700000093), ev.Timestamp)

	// only the scanned window is claimed
	assert.Equal(t, uint64(95), res.State.LastProcessedBlocks[cursorKey])
	assert.Empty(t, chain.filters)
}

func TestStateRoundTripThroughOutput(t *testing.T) {
	s := NewState()
	s.LastProcessedBlocks["sepolia:0xabc"] = 123
	s.RetryCounts["sepolia:0xdef"] = 2
	s.TotalEventsProcessed = 9

	restored := StateFromOutput(map[string]any{"state": s.ToMap()})
	assert.Equal(t, s, restored)

	stale := s.ToMap()
	stale["version"] = 0
	assert.Equal(t, NewState(), StateFromOutput(map[string]any{"state": stale}))
	assert.Equal(t, NewState(), StateFromOutput(nil))
}

func TestConfigValidate(t *testing.T) {
	cfg := tokenConfig(walletA)
	assert.NoError(t, cfg.Validate())

	bad := *cfg
	bad.EventTypes = []EventType{"airdrop"}
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.MinAmount = "5"
	bad.MaxAmount = "1"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Addresses = []string{"0x123"}
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Condition = "amount >"
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid condition")
}

func TestBadConditionIsConfigErrorAndKeepsCursor(t *testing.T) {
	chain := newFakeChain(120)
	chain.logs = []types.Log{
		transferLog(usdc, other, walletA, 1, 110, common.HexToHash("0x31"), 0),
	}
	cfg := tokenConfig(walletA)
	cfg.Condition = "amount >"

	state := NewState()
	key := CursorKey("sepolia", walletA.Hex())
	state.LastProcessedBlocks[key] = 100

	for i := 0; i < 3; i++ {
		res := newTestListener(chain).Poll(context.Background(), cfg, state)
		assert.False(t, res.Success)
		assert.True(t, res.IsConfigError())
		assert.Equal(t, uint64(100), res.State.LastProcessedBlocks[key])
		assert.NotContains(t, res.State.RetryCounts, key)
	}
	assert.Zero(t, chain.headCalls)
	assert.Empty(t, chain.filters)
}

func TestConditionRuntimeErrorIsNoMatch(t *testing.T) {
	chain := newFakeChain(20)
	chain.tokens[usdc] = fakeToken{symbol: "USDC", decimals: 6}
	chain.logs = []types.Log{
		transferLog(usdc, other, walletA, 5_000_000, 15, common.HexToHash("0x41"), 0),
	}
	cfg := tokenConfig(walletA)
	// compiles, but fails at run time on a string field
	cfg.Condition = `num(tokenSymbol) > 1`
	require.NoError(t, cfg.Validate())

	state := NewState()
	key := CursorKey("sepolia", walletA.Hex())
	state.LastProcessedBlocks[key] = 10

	res := newTestListener(chain).Poll(context.Background(), cfg, state)
	assert.True(t, res.Success)
	assert.Empty(t, res.Events)
	assert.Equal(t, uint64(20), res.State.LastProcessedBlocks[key])
}

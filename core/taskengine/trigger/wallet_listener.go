package trigger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/AvaProtocol/chainflow/core/chainio/rpc"
	"github.com/AvaProtocol/chainflow/core/taskengine/tokens"
	"github.com/AvaProtocol/chainflow/pkg/logger"
)

type ListenerOption struct {
	// blocks per poll and address when the node does not set batchSize
	BatchSize uint64
	// blocks per poll whose bodies are scanned for native transfers
	NativeScanWindow uint64
	// how far behind the head a first poll starts
	LookbackBlocks uint64
	// attempts at reading the head block before the poll gives up
	MaxBlockRetries int
	RetryInitial    time.Duration

	NativeCurrency func(network string) NativeCurrency
	Logger         sdklogging.Logger
}

// WalletListener polls wallet activity. It holds no state between polls:
// everything needed to resume travels in State.
type WalletListener struct {
	chains ChainResolver
	tokens *tokens.Service
	opts   ListenerOption
	logger sdklogging.Logger
}

func NewWalletListener(chains ChainResolver, tokenService *tokens.Service, opts *ListenerOption) *WalletListener {
	o := ListenerOption{
		BatchSize:        1000,
		NativeScanWindow: 10,
		LookbackBlocks:   100,
		MaxBlockRetries:  3,
		RetryInitial:     500 * time.Millisecond,
	}
	if opts != nil {
		if opts.BatchSize > 0 {
			o.BatchSize = opts.BatchSize
		}
		if opts.NativeScanWindow > 0 {
			o.NativeScanWindow = opts.NativeScanWindow
		}
		if opts.LookbackBlocks > 0 {
			o.LookbackBlocks = opts.LookbackBlocks
		}
		if opts.MaxBlockRetries > 0 {
			o.MaxBlockRetries = opts.MaxBlockRetries
		}
		if opts.RetryInitial > 0 {
			o.RetryInitial = opts.RetryInitial
		}
		o.NativeCurrency = opts.NativeCurrency
		o.Logger = opts.Logger
	}
	if tokenService == nil {
		tokenService = tokens.NewService(o.Logger)
	}

	return &WalletListener{
		chains: chains,
		tokens: tokenService,
		opts:   o,
		logger: logger.EnsureLogger(o.Logger),
	}
}

// PollResult of one invocation. State is always set, also on failure, so
// the next invocation resumes from the same cursors.
type PollResult struct {
	Events []*EnrichedEvent
	State  *State
	// failures by cursor key, or by network when the head could not be read
	Errors map[string]string
	// true when at least one address was processed
	Success bool
}

func (r *PollResult) ErrorSummary() string {
	parts := lo.MapToSlice(r.Errors, func(k, v string) string {
		return k + ": " + v
	})
	return strings.Join(parts, "; ")
}

// Poll processes every configured address on every configured network. A
// failing address or network is recorded and skipped; it never discards
// events already gathered for the others.
func (l *WalletListener) Poll(ctx context.Context, cfg *WalletListenerConfig, prev *State) *PollResult {
	state := prev.Clone()
	res := &PollResult{State: state, Errors: map[string]string{}}

	filter, err := newEventFilter(cfg)
	if err != nil {
		res.Errors["config"] = err.Error()
		return res
	}

	processed := 0
	for _, network := range cfg.Networks {
		if ctx.Err() != nil {
			res.Errors[network] = ctx.Err().Error()
			break
		}

		events, ok, failed := l.pollNetwork(ctx, cfg, filter, network, state, res.Errors)
		res.Events = append(res.Events, events...)
		processed += ok

		switch {
		case ok == 0 && failed > 0:
			state.NetworkStatus[network] = NetworkStatusUnavailable
		case failed > 0:
			state.NetworkStatus[network] = NetworkStatusPartial
		default:
			state.NetworkStatus[network] = NetworkStatusOK
		}
	}

	state.TotalEventsProcessed += uint64(len(res.Events))
	if len(res.Errors) > 0 {
		state.ConsecutiveFailures++
	} else {
		state.ConsecutiveFailures = 0
	}
	res.Success = processed > 0
	return res
}

func (l *WalletListener) currentBlock(ctx context.Context, network string, reader ChainReader) (uint64, error) {
	backoff := rpc.Backoff{
		Attempts: l.opts.MaxBlockRetries,
		Initial:  l.opts.RetryInitial,
		Max:      8 * l.opts.RetryInitial,
		OnRetry: func(attempt int, err error) {
			l.logger.Warn("cannot read head block, retrying", "network", network, "attempt", attempt, "error", err)
		},
	}

	var current uint64
	err := backoff.Do(ctx, func(ctx context.Context) error {
		var err error
		current, err = reader.GetLatestBlockNumber(ctx)
		return err
	})
	return current, err
}

func (l *WalletListener) pollNetwork(ctx context.Context, cfg *WalletListenerConfig, filter *eventFilter, network string, state *State, errs map[string]string) (events []*EnrichedEvent, ok, failed int) {
	reader, err := l.chains(ctx, network)
	if err != nil {
		errs[network] = err.Error()
		l.bumpRetries(cfg, network, state)
		return nil, 0, len(cfg.Addresses)
	}

	current, err := l.currentBlock(ctx, network, reader)
	if err != nil {
		errs[network] = err.Error()
		l.bumpRetries(cfg, network, state)
		return nil, 0, len(cfg.Addresses)
	}

	scan := &scanContext{
		reader:   reader,
		network:  network,
		current:  current,
		native:   l.nativeCurrency(network),
		receipts: map[common.Hash]*types.Receipt{},
		times:    map[uint64]uint64{},
	}

	for _, addr := range cfg.Addresses {
		key := CursorKey(network, addr)
		found, err := l.pollAddress(ctx, cfg, filter, scan, common.HexToAddress(addr), state)
		if err != nil {
			failed++
			state.RetryCounts[key]++
			errs[key] = err.Error()
			l.logger.Warn("wallet poll failed", "network", network, "address", addr, "retry_count", state.RetryCounts[key], "error", err)
			continue
		}
		ok++
		delete(state.RetryCounts, key)
		events = append(events, found...)
	}
	return events, ok, failed
}

func (l *WalletListener) bumpRetries(cfg *WalletListenerConfig, network string, state *State) {
	for _, addr := range cfg.Addresses {
		state.RetryCounts[CursorKey(network, addr)]++
	}
}

func (l *WalletListener) nativeCurrency(network string) NativeCurrency {
	if l.opts.NativeCurrency != nil {
		return l.opts.NativeCurrency(network)
	}
	return NativeCurrency{Symbol: "ETH", Decimals: 18}
}

// scanContext caches per network lookups for the length of one poll
type scanContext struct {
	reader  ChainReader
	network string
	current uint64
	native  NativeCurrency

	receipts map[common.Hash]*types.Receipt
	times    map[uint64]uint64
}

// nextBlock is the first block an address still has to scan. With a cursor
// it is cursor+1. Without one the listener acts as if it had processed
// everything up to LookbackBlocks behind the head, or up to the block
// before StartBlock when that is later, so a new listener never replays
// history older than the lookback.
func (l *WalletListener) nextBlock(cfg *WalletListenerConfig, state *State, key string, current uint64) uint64 {
	if cursor, seen := state.LastProcessedBlocks[key]; seen {
		return cursor + 1
	}
	next := cfg.StartBlock
	if current > l.opts.LookbackBlocks && current-l.opts.LookbackBlocks > next {
		next = current - l.opts.LookbackBlocks
	}
	return next
}

// blockRange computes [from, to] for one address. ok is false when the
// head has not reached the next block to scan.
func (l *WalletListener) blockRange(cfg *WalletListenerConfig, state *State, key string, current uint64) (from, to uint64, ok bool) {
	from = l.nextBlock(cfg, state, key, current)
	if from > current {
		return 0, 0, false
	}

	batch := cfg.BatchSize
	if batch == 0 {
		batch = l.opts.BatchSize
	}
	to = from + batch - 1
	if to > current {
		to = current
	}
	// block bodies are expensive, so a poll that needs them covers a
	// smaller window
	if cfg.wantsBlockScan() && to-from+1 > l.opts.NativeScanWindow {
		to = from + l.opts.NativeScanWindow - 1
	}
	return from, to, true
}

func (l *WalletListener) pollAddress(ctx context.Context, cfg *WalletListenerConfig, filter *eventFilter, scan *scanContext, wallet common.Address, state *State) ([]*EnrichedEvent, error) {
	key := CursorKey(scan.network, wallet.Hex())
	from, to, ok := l.blockRange(cfg, state, key, scan.current)
	if !ok {
		return nil, nil
	}

	var found []*EnrichedEvent

	if cfg.wantsLogs() {
		var contracts []common.Address
		for _, c := range cfg.Contracts {
			contracts = append(contracts, common.HexToAddress(c))
		}
		topic := addressTopic(wallet)

		for _, topics := range [][][]common.Hash{
			{{TransferTopic}, nil, {topic}},
			{{TransferTopic}, {topic}},
		} {
			logs, err := scan.reader.GetLogs(ctx, rpc.LogFilter{
				FromBlock: from,
				ToBlock:   to,
				Addresses: contracts,
				Topics:    topics,
			})
			if err != nil {
				return nil, fmt.Errorf("get logs %d-%d: %w", from, to, err)
			}
			found = append(found, ParseTransferLogs(logs, wallet, scan.network)...)
		}
	}

	if cfg.wantsBlockScan() {
		for n := from; n <= to; n++ {
			ts, txs, err := scan.reader.BlockTransactions(ctx, n)
			if err != nil {
				return nil, fmt.Errorf("get block %d: %w", n, err)
			}
			scan.times[n] = ts
			found = append(found, ParseBlockTransactions(n, ts, txs, wallet, scan.network, senderOf)...)
		}
	}

	found = DedupEvents(found)

	matched := make([]*EnrichedEvent, 0, len(found))
	for _, ev := range found {
		l.enrich(ctx, scan, ev)
		ok, err := filter.match(ev)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, ev)
		}
	}

	state.advance(key, to)
	return matched, nil
}

func senderOf(tx *types.Transaction) (common.Address, error) {
	return types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
}

// enrich fills gas, status, confirmations, timestamp and token metadata.
// Every step is best effort: a failed lookup leaves the field empty.
func (l *WalletListener) enrich(ctx context.Context, scan *scanContext, ev *EnrichedEvent) {
	if scan.current >= ev.BlockNumber {
		ev.Confirmations = scan.current - ev.BlockNumber
	}

	hash := common.HexToHash(ev.TxHash)
	receipt, cached := scan.receipts[hash]
	if !cached {
		r, err := scan.reader.GetTransactionReceipt(ctx, hash)
		if err != nil {
			l.logger.Debug("receipt unavailable", "network", scan.network, "tx_hash", ev.TxHash, "error", err)
		}
		receipt = r
		scan.receipts[hash] = r
	}
	if receipt != nil {
		ev.GasUsed = receipt.GasUsed
		if receipt.EffectiveGasPrice != nil {
			ev.GasPrice = receipt.EffectiveGasPrice.String()
		}
		ev.Status = "success"
		if receipt.Status != types.ReceiptStatusSuccessful {
			ev.Status = "failed"
		}
	}

	if ev.Timestamp == 0 {
		if ts, ok := scan.times[ev.BlockNumber]; ok {
			ev.Timestamp = ts
		} else if header, err := scan.reader.HeaderByNumber(ctx, new(big.Int).SetUint64(ev.BlockNumber)); err == nil && header != nil {
			scan.times[ev.BlockNumber] = header.Time
			ev.Timestamp = header.Time
		}
	}

	switch ev.EventType {
	case EventNativeTransferIn, EventNativeTransferOut, EventContractInteraction:
		ev.TokenSymbol = scan.native.Symbol
		ev.FormattedAmount = formatAmount(ev.Amount, scan.native.Decimals)
	case EventTokenTransferIn, EventTokenTransferOut, EventNFTTransferIn, EventNFTTransferOut, EventNFTMint:
		meta, err := l.tokens.Lookup(ctx, scan.reader, scan.network, common.HexToAddress(ev.ContractAddress))
		if err != nil {
			return
		}
		ev.TokenSymbol = meta.Symbol
		if meta.HasDecimals && ev.TokenID == "" {
			d := meta.Decimals
			ev.TokenDecimals = &d
			ev.FormattedAmount = formatAmount(ev.Amount, int32(d))
		}
	}
}

func formatAmount(raw string, decimals int32) string {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return ""
	}
	return d.Shift(-decimals).String()
}

// IsConfigError reports whether the poll failed before touching any chain
func (r *PollResult) IsConfigError() bool {
	_, ok := r.Errors["config"]
	return ok
}

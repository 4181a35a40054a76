package taskengine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/AvaProtocol/chainflow/core/chainio/rpc"
	"github.com/AvaProtocol/chainflow/core/config"
	"github.com/AvaProtocol/chainflow/core/taskengine/tokens"
	"github.com/AvaProtocol/chainflow/core/taskengine/trigger"
	"github.com/AvaProtocol/chainflow/model"
)

const (
	DataTypeBalance         = "balance"
	DataTypeTokenBalance    = "token_balance"
	DataTypeNFTs            = "nfts"
	DataTypeTxHistory       = "tx_history"
	DataTypeContractState   = "contract_state"
	DataTypeDelegations     = "delegations"
	DataTypeRewards         = "rewards"
	DataTypeGovernanceVotes = "governance_votes"

	defaultFetchLimit = 20

	// blocks scanned for tx_history on EVM networks
	txHistoryBlockWindow = 5000
)

// DataFetchConfig reads chain state without any wallet session. Address is
// a hex address on EVM networks and a bech32 address on cosmos networks.
type DataFetchConfig struct {
	Network  string `json:"network" validate:"required"`
	DataType string `json:"dataType" validate:"required,oneof=balance token_balance nfts tx_history contract_state delegations rewards governance_votes"`
	Address  string `json:"address" validate:"required_unless=DataType contract_state"`

	TokenAddress    string `json:"tokenAddress" validate:"evm_addr"`
	Denom           string `json:"denom"`
	ContractAddress string `json:"contractAddress" validate:"evm_addr"`
	ABI             any    `json:"abi"`
	Method          string `json:"method"`
	Params          []any  `json:"params"`
	Limit           int    `json:"limit" validate:"gte=0,lte=100"`

	Cache    bool          `json:"cache"`
	CacheTTL time.Duration `json:"cacheTtl"`
}

type DataFetchProcessor struct {
	chains ChainProvider
	cache  *rpc.Cache
	tokens *tokens.Service
}

// NewDataFetchProcessor works without a cache, lookups then always hit
// the chain
func NewDataFetchProcessor(chains ChainProvider, cache *rpc.Cache, tokenService *tokens.Service) *DataFetchProcessor {
	if tokenService == nil {
		tokenService = tokens.NewService(nil)
	}
	return &DataFetchProcessor{chains: chains, cache: cache, tokens: tokenService}
}

func (p *DataFetchProcessor) Execute(ctx context.Context, node *model.WorkflowNode, ec *ExecutionContext) *NodeResult {
	cfg := &DataFetchConfig{}
	if err := decodeNodeConfig(ec.Inputs, cfg); err != nil {
		return newResultBuilder("").fail(err)
	}
	rb := newResultBuilder(cfg.Network)

	network, err := p.chains.Network(cfg.Network)
	if err != nil {
		return rb.fail(NewConfigurationError(err.Error()))
	}
	if err := checkDataType(cfg, network.Kind); err != nil {
		return rb.fail(err)
	}

	cacheAddr := cacheAddress(cfg)
	output := map[string]any{
		"dataType": cfg.DataType,
		"address":  cfg.Address,
	}

	if cfg.Cache && p.cache != nil {
		var cached any
		if p.cache.Get(cfg.Network, cfg.DataType, cacheAddr, &cached) {
			ec.log().Debugf("%s for %s served from cache", cfg.DataType, cfg.Address)
			output["data"] = cached
			output["cached"] = true
			return rb.ok(output)
		}
	}

	var data any
	if network.Kind == config.NetworkCosmos {
		data, err = p.fetchCosmos(ctx, cfg)
	} else {
		data, err = p.fetchEVM(ctx, cfg, network)
	}
	if err == nil {
		data, err = plainData(data)
	}
	if err != nil {
		return rb.fail(err)
	}

	if cfg.Cache && p.cache != nil {
		if err := p.cache.Set(cfg.Network, cfg.DataType, cacheAddr, data, cfg.CacheTTL); err != nil {
			ec.log().Warnf("cannot cache %s: %v", cfg.DataType, err)
		}
	}

	output["data"] = data
	output["cached"] = false
	return rb.ok(output)
}

var (
	evmDataTypes    = []string{DataTypeBalance, DataTypeTokenBalance, DataTypeNFTs, DataTypeTxHistory, DataTypeContractState}
	cosmosDataTypes = []string{DataTypeBalance, DataTypeTokenBalance, DataTypeTxHistory, DataTypeDelegations, DataTypeRewards, DataTypeGovernanceVotes}
)

func checkDataType(cfg *DataFetchConfig, kind config.NetworkKind) *StructuredError {
	supported := evmDataTypes
	if kind == config.NetworkCosmos {
		supported = cosmosDataTypes
	}
	if !lo.Contains(supported, cfg.DataType) {
		return NewConfigurationError(fmt.Sprintf("%s is not available on %s networks", cfg.DataType, kind))
	}

	if kind == config.NetworkEVM {
		if cfg.Address != "" && !common.IsHexAddress(cfg.Address) {
			return NewConfigurationError(fmt.Sprintf("address %q is not a valid address", cfg.Address))
		}
		switch cfg.DataType {
		case DataTypeTokenBalance:
			if cfg.TokenAddress == "" {
				return NewConfigurationError("tokenAddress is required")
			}
		case DataTypeNFTs:
			if cfg.ContractAddress == "" {
				return NewConfigurationError("contractAddress is required")
			}
		case DataTypeContractState:
			if cfg.ContractAddress == "" || cfg.Method == "" || cfg.ABI == nil {
				return NewConfigurationError("contractAddress, abi and method are required")
			}
		}
	}
	if kind == config.NetworkCosmos && cfg.DataType == DataTypeTokenBalance && cfg.Denom == "" {
		return NewConfigurationError("denom is required")
	}
	return nil
}

// cacheAddress folds everything that changes the answer into the
// address part of the cache key
func cacheAddress(cfg *DataFetchConfig) string {
	switch cfg.DataType {
	case DataTypeTokenBalance:
		return cfg.Address + "|" + cfg.TokenAddress + cfg.Denom
	case DataTypeNFTs:
		return fmt.Sprintf("%s|%s|%d", cfg.Address, cfg.ContractAddress, cfg.Limit)
	case DataTypeTxHistory:
		return fmt.Sprintf("%s|%d", cfg.Address, cfg.Limit)
	case DataTypeContractState:
		return fmt.Sprintf("%s|%s|%v", cfg.ContractAddress, cfg.Method, cfg.Params)
	}
	return cfg.Address
}

// plainData converts typed responses into the map/slice shape that a
// cache hit produces, so templates see the same structure either way
func plainData(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultFetchLimit
	}
	return limit
}

func formatUnits(v *big.Int, decimals int32) string {
	return decimal.NewFromBigInt(v, -decimals).String()
}

func (p *DataFetchProcessor) fetchEVM(ctx context.Context, cfg *DataFetchConfig, network *config.NetworkConfig) (any, error) {
	chain, err := p.chains.EVM(ctx, cfg.Network)
	if err != nil {
		return nil, err
	}
	owner := common.HexToAddress(cfg.Address)

	switch cfg.DataType {
	case DataTypeBalance:
		balance, err := chain.GetBalance(ctx, owner)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"balance":          balance.String(),
			"balanceFormatted": formatUnits(balance, network.NativeDecimals),
			"symbol":           network.NativeSymbol,
			"decimals":         network.NativeDecimals,
		}, nil

	case DataTypeTokenBalance:
		token := common.HexToAddress(cfg.TokenAddress)
		balance, err := callUint(ctx, chain, &erc20ABI, token, "balanceOf", owner)
		if err != nil {
			return nil, err
		}
		out := map[string]any{
			"balance":      balance.String(),
			"tokenAddress": token.Hex(),
		}
		if meta, err := p.tokens.Lookup(ctx, chain, cfg.Network, token); err == nil {
			out["symbol"] = meta.Symbol
			if meta.HasDecimals {
				out["decimals"] = meta.Decimals
				out["balanceFormatted"] = formatUnits(balance, int32(meta.Decimals))
			}
		}
		return out, nil

	case DataTypeNFTs:
		return p.fetchNFTs(ctx, chain, cfg, owner)

	case DataTypeTxHistory:
		return p.fetchTransferHistory(ctx, chain, cfg, owner)

	case DataTypeContractState:
		parsed, err := ParseABI(cfg.ABI)
		if err != nil {
			return nil, NewConfigurationError(err.Error())
		}
		data, err := PackMethodCall(parsed, cfg.Method, cfg.Params)
		if err != nil {
			return nil, NewConfigurationError(err.Error())
		}
		contract := common.HexToAddress(cfg.ContractAddress)
		raw, err := chain.Call(ctx, ethereum.CallMsg{To: &contract, Data: data})
		if err != nil {
			return nil, err
		}
		return UnpackMethodOutputs(parsed, cfg.Method, raw)
	}
	return nil, NewConfigurationError("unsupported data type " + cfg.DataType)
}

func callUint(ctx context.Context, chain ChainReader, parsed *abi.ABI, contract common.Address, method string, args ...any) (*big.Int, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	raw, err := chain.Call(ctx, ethereum.CallMsg{To: &contract, Data: data})
	if err != nil {
		return nil, err
	}
	values, err := parsed.Unpack(method, raw)
	if err != nil || len(values) != 1 {
		return nil, fmt.Errorf("cannot decode %s result: %v", method, err)
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", method, values[0])
	}
	return n, nil
}

// fetchNFTs enumerates owned ids through ERC721Enumerable. Contracts
// without enumeration still report the count.
func (p *DataFetchProcessor) fetchNFTs(ctx context.Context, chain ChainReader, cfg *DataFetchConfig, owner common.Address) (any, error) {
	contract := common.HexToAddress(cfg.ContractAddress)
	count, err := callUint(ctx, chain, &erc721ABI, contract, "balanceOf", owner)
	if err != nil {
		return nil, err
	}

	limit := limitOrDefault(cfg.Limit)
	ids := []string{}
	enumerable := true
	for i := 0; i < limit && int64(i) < count.Int64(); i++ {
		id, err := callUint(ctx, chain, &erc721ABI, contract, "tokenOfOwnerByIndex", owner, big.NewInt(int64(i)))
		if err != nil {
			enumerable = false
			break
		}
		ids = append(ids, id.String())
	}

	out := map[string]any{
		"contractAddress": contract.Hex(),
		"count":           count.String(),
		"tokenIds":        ids,
		"enumerable":      enumerable,
	}
	if meta, err := p.tokens.Lookup(ctx, chain, cfg.Network, contract); err == nil {
		out["symbol"] = meta.Symbol
		out["name"] = meta.Name
	}
	return out, nil
}

// fetchTransferHistory lists the ERC20 and ERC721 transfers of owner in the
// last txHistoryBlockWindow blocks, newest first. Native transfers leave no
// log, so they are not part of the history.
func (p *DataFetchProcessor) fetchTransferHistory(ctx context.Context, chain ChainReader, cfg *DataFetchConfig, owner common.Address) (any, error) {
	head, err := chain.GetLatestBlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	var from uint64
	if head >= txHistoryBlockWindow {
		from = head - txHistoryBlockWindow + 1
	}

	topic := common.BytesToHash(owner.Bytes())
	var events []*trigger.EnrichedEvent
	for _, topics := range [][][]common.Hash{
		{{trigger.TransferTopic}, nil, {topic}},
		{{trigger.TransferTopic}, {topic}},
	} {
		logs, err := chain.GetLogs(ctx, rpc.LogFilter{FromBlock: from, ToBlock: head, Topics: topics})
		if err != nil {
			return nil, fmt.Errorf("get logs %d-%d: %w", from, head, err)
		}
		events = append(events, trigger.ParseTransferLogs(logs, owner, cfg.Network)...)
	}

	events = lo.Reverse(trigger.DedupEvents(events))
	if limit := limitOrDefault(cfg.Limit); len(events) > limit {
		events = events[:limit]
	}
	txs := lo.Map(events, func(e *trigger.EnrichedEvent, _ int) map[string]any {
		return e.ToMap()
	})
	return map[string]any{
		"transactions": txs,
		"count":        len(txs),
		"fromBlock":    from,
		"toBlock":      head,
	}, nil
}

func (p *DataFetchProcessor) fetchCosmos(ctx context.Context, cfg *DataFetchConfig) (any, error) {
	rest, err := p.chains.REST(cfg.Network)
	if err != nil {
		return nil, err
	}

	switch cfg.DataType {
	case DataTypeBalance:
		coins, err := rest.GetAllBalances(ctx, cfg.Address)
		if err != nil {
			return nil, err
		}
		return map[string]any{"balances": coins}, nil
	case DataTypeTokenBalance:
		coins, err := rest.GetAllBalances(ctx, cfg.Address)
		if err != nil {
			return nil, err
		}
		coin, found := lo.Find(coins, func(c rpc.Coin) bool {
			return strings.EqualFold(c.Denom, cfg.Denom)
		})
		if !found {
			coin = rpc.Coin{Denom: cfg.Denom, Amount: "0"}
		}
		return map[string]any{"denom": coin.Denom, "balance": coin.Amount}, nil
	case DataTypeTxHistory:
		txs, err := rest.GetTxHistory(ctx, cfg.Address, limitOrDefault(cfg.Limit))
		if err != nil {
			return nil, err
		}
		return map[string]any{"transactions": txs, "count": len(txs)}, nil
	case DataTypeDelegations:
		delegations, err := rest.GetDelegations(ctx, cfg.Address)
		if err != nil {
			return nil, err
		}
		return map[string]any{"delegations": delegations, "count": len(delegations)}, nil
	case DataTypeRewards:
		rewards, err := rest.GetRewards(ctx, cfg.Address)
		if err != nil {
			return nil, err
		}
		return rewards, nil
	case DataTypeGovernanceVotes:
		votes, err := rest.GetGovernanceVotes(ctx, cfg.Address)
		if err != nil {
			return nil, err
		}
		return map[string]any{"votes": votes, "count": len(votes)}, nil
	}
	return nil, NewConfigurationError("unsupported data type " + cfg.DataType)
}

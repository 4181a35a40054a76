package trigger

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/AvaProtocol/chainflow/core/taskengine/macros"
)

// EnrichedEvent is a raw log or transaction seen from the point of view of
// one watched wallet. Events are immutable once emitted.
type EnrichedEvent struct {
	EventType       EventType `json:"eventType"`
	TxHash          string    `json:"txHash"`
	LogIndex        uint      `json:"logIndex"`
	BlockNumber     uint64    `json:"blockNumber"`
	Timestamp       uint64    `json:"timestamp,omitempty"`
	FromAddress     string    `json:"fromAddress"`
	ToAddress       string    `json:"toAddress"`
	Amount          string    `json:"amount"`
	FormattedAmount string    `json:"formattedAmount,omitempty"`
	TokenID         string    `json:"tokenId,omitempty"`
	TokenSymbol     string    `json:"tokenSymbol,omitempty"`
	TokenDecimals   *uint8    `json:"tokenDecimals,omitempty"`
	ContractAddress string    `json:"contractAddress,omitempty"`
	GasUsed         uint64    `json:"gasUsed,omitempty"`
	GasPrice        string    `json:"gasPrice,omitempty"`
	Status          string    `json:"status,omitempty"`
	Confirmations   uint64    `json:"confirmations"`
	Network         string    `json:"network"`
	WalletAddress   string    `json:"walletAddress"`

	// dedup key, txHash#logIndex or txHash#native / txHash#call for
	// transactions rebuilt from block bodies
	key string
}

func (e *EnrichedEvent) Key() string {
	return e.key
}

// ToMap is the event as seen by conditions and node outputs
func (e *EnrichedEvent) ToMap() map[string]any {
	b, _ := json.Marshal(e)
	out := map[string]any{}
	_ = json.Unmarshal(b, &out)
	return out
}

func logKey(txHash common.Hash, index uint) string {
	return fmt.Sprintf("%s#%d", strings.ToLower(txHash.Hex()), index)
}

// ParseTransferLogs turns Transfer logs into events for wallet. ERC721
// transfers carry the token id as a fourth topic; a transfer from the zero
// address is a mint. Logs that do not involve wallet are ignored.
func ParseTransferLogs(logs []types.Log, wallet common.Address, network string) []*EnrichedEvent {
	events := make([]*EnrichedEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed || len(l.Topics) < 3 || l.Topics[0] != TransferTopic {
			continue
		}

		from := topicAddress(l.Topics[1])
		to := topicAddress(l.Topics[2])
		incoming := to == wallet
		outgoing := from == wallet
		if !incoming && !outgoing {
			continue
		}

		ev := &EnrichedEvent{
			TxHash:          l.TxHash.Hex(),
			LogIndex:        l.Index,
			BlockNumber:     l.BlockNumber,
			FromAddress:     from.Hex(),
			ToAddress:       to.Hex(),
			ContractAddress: l.Address.Hex(),
			Network:         network,
			WalletAddress:   wallet.Hex(),
			key:             logKey(l.TxHash, l.Index),
		}

		if len(l.Topics) == 4 {
			ev.TokenID = new(big.Int).SetBytes(l.Topics[3].Bytes()).String()
			ev.Amount = "1"
			switch {
			case from == (common.Address{}) && incoming:
				ev.EventType = EventNFTMint
			case incoming:
				ev.EventType = EventNFTTransferIn
			default:
				ev.EventType = EventNFTTransferOut
			}
		} else {
			ev.Amount = new(big.Int).SetBytes(l.Data).String()
			if incoming {
				ev.EventType = EventTokenTransferIn
			} else {
				ev.EventType = EventTokenTransferOut
			}
		}

		events = append(events, ev)
	}
	return DedupEvents(events)
}

// ParseBlockTransactions rebuilds native transfers and contract calls made
// by wallet from the transactions of one block. sender recovers the signer
// of a transaction.
func ParseBlockTransactions(number, timestamp uint64, txs types.Transactions, wallet common.Address, network string, sender func(*types.Transaction) (common.Address, error)) []*EnrichedEvent {
	var events []*EnrichedEvent
	for _, tx := range txs {
		from, err := sender(tx)
		if err != nil {
			continue
		}
		to := tx.To()

		base := EnrichedEvent{
			TxHash:        tx.Hash().Hex(),
			BlockNumber:   number,
			Timestamp:     timestamp,
			FromAddress:   from.Hex(),
			Amount:        tx.Value().String(),
			Network:       network,
			WalletAddress: wallet.Hex(),
		}
		if to != nil {
			base.ToAddress = to.Hex()
		}

		if tx.Value().Cmp(zero) > 0 && to != nil && (*to == wallet || from == wallet) {
			ev := base
			ev.key = strings.ToLower(tx.Hash().Hex()) + "#native"
			if *to == wallet {
				ev.EventType = EventNativeTransferIn
			} else {
				ev.EventType = EventNativeTransferOut
			}
			events = append(events, &ev)
		}

		if from == wallet && to != nil && len(tx.Data()) > 0 {
			ev := base
			ev.EventType = EventContractInteraction
			ev.ContractAddress = to.Hex()
			ev.key = strings.ToLower(tx.Hash().Hex()) + "#call"
			events = append(events, &ev)
		}
	}
	return events
}

// DedupEvents keeps the first event per key and orders the result by
// block then log index.
func DedupEvents(events []*EnrichedEvent) []*EnrichedEvent {
	out := lo.UniqBy(events, func(e *EnrichedEvent) string {
		return e.key
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out
}

// MergeEvents merges event sets without duplicating a key
func MergeEvents(sets ...[]*EnrichedEvent) []*EnrichedEvent {
	return DedupEvents(lo.Flatten(sets))
}

// eventFilter is applied after enrichment. Failing events are dropped.
type eventFilter struct {
	cfg       *WalletListenerConfig
	min, max  *decimal.Decimal
	contracts map[string]bool
	excluded  map[string]bool
}

func newEventFilter(cfg *WalletListenerConfig) (*eventFilter, error) {
	min, err := parseAmountBound("minAmount", cfg.MinAmount)
	if err != nil {
		return nil, err
	}
	max, err := parseAmountBound("maxAmount", cfg.MaxAmount)
	if err != nil {
		return nil, err
	}
	if cfg.Condition != "" {
		if err := macros.CompileExpression(cfg.Condition); err != nil {
			return nil, fmt.Errorf("invalid condition: %w", err)
		}
	}

	lower := func(items []string) map[string]bool {
		return lo.SliceToMap(items, func(a string) (string, bool) {
			return strings.ToLower(a), true
		})
	}

	return &eventFilter{
		cfg:       cfg,
		min:       min,
		max:       max,
		contracts: lower(cfg.Contracts),
		excluded:  lower(cfg.ExcludeAddresses),
	}, nil
}

// displayAmount is the amount in whole units when decimals are known,
// otherwise the raw integer amount
func (e *EnrichedEvent) displayAmount() decimal.Decimal {
	if e.FormattedAmount != "" {
		if d, err := decimal.NewFromString(e.FormattedAmount); err == nil {
			return d
		}
	}
	d, err := decimal.NewFromString(e.Amount)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (f *eventFilter) match(ev *EnrichedEvent) (bool, error) {
	if !f.cfg.wants(ev.EventType) {
		return false, nil
	}

	// the allow list only constrains events emitted by a contract
	if len(f.contracts) > 0 && ev.ContractAddress != "" && !f.contracts[strings.ToLower(ev.ContractAddress)] {
		return false, nil
	}

	counterparty := ev.ToAddress
	if strings.EqualFold(ev.ToAddress, ev.WalletAddress) {
		counterparty = ev.FromAddress
	}
	if f.excluded[strings.ToLower(counterparty)] {
		return false, nil
	}

	amount := ev.displayAmount()
	if f.min != nil && amount.LessThan(*f.min) {
		return false, nil
	}
	if f.max != nil && amount.GreaterThan(*f.max) {
		return false, nil
	}

	if f.cfg.Condition != "" {
		ok, err := macros.EvalCondition(f.cfg.Condition, ev.ToMap())
		if err != nil {
			// the condition compiled, so this is a runtime error on this event's fields
			return false, nil
		}
		return ok, nil
	}
	return true, nil
}

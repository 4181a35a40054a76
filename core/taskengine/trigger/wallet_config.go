package trigger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/AvaProtocol/chainflow/core/taskengine/macros"
)

type EventType string

const (
	EventTokenTransferIn     EventType = "token_transfer_in"
	EventTokenTransferOut    EventType = "token_transfer_out"
	EventNFTTransferIn       EventType = "nft_transfer_in"
	EventNFTTransferOut      EventType = "nft_transfer_out"
	EventNFTMint             EventType = "nft_mint"
	EventNativeTransferIn    EventType = "native_transfer_in"
	EventNativeTransferOut   EventType = "native_transfer_out"
	EventContractInteraction EventType = "contract_interaction"
)

var AllEventTypes = []EventType{
	EventTokenTransferIn,
	EventTokenTransferOut,
	EventNFTTransferIn,
	EventNFTTransferOut,
	EventNFTMint,
	EventNativeTransferIn,
	EventNativeTransferOut,
	EventContractInteraction,
}

// event types that can only be found by scanning block bodies
var blockScanEventTypes = []EventType{EventNativeTransferIn, EventNativeTransferOut, EventContractInteraction}

// WalletListenerConfig is the node config of a wallet listener. Amount
// bounds are in whole token units, e.g. "0.5" for half a token.
type WalletListenerConfig struct {
	Networks         []string    `json:"networks" validate:"required,min=1,dive,required"`
	Addresses        []string    `json:"addresses" validate:"required,min=1,dive,eth_addr"`
	EventTypes       []EventType `json:"eventTypes" validate:"dive,oneof=token_transfer_in token_transfer_out nft_transfer_in nft_transfer_out nft_mint native_transfer_in native_transfer_out contract_interaction"`
	StartBlock       uint64      `json:"startBlock"`
	BatchSize        uint64      `json:"batchSize"`
	MinAmount        string      `json:"minAmount"`
	MaxAmount        string      `json:"maxAmount"`
	Contracts        []string    `json:"contracts" validate:"dive,eth_addr"`
	ExcludeAddresses []string    `json:"excludeAddresses" validate:"dive,eth_addr"`

	// optional expr condition evaluated against each event
	Condition string `json:"condition"`
}

func (c *WalletListenerConfig) Validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("at least one network is required")
	}
	if len(c.Addresses) == 0 {
		return fmt.Errorf("at least one address is required")
	}
	for _, a := range append(append(append([]string{}, c.Addresses...), c.Contracts...), c.ExcludeAddresses...) {
		if !common.IsHexAddress(a) {
			return fmt.Errorf("invalid address %q", a)
		}
	}
	for _, t := range c.EventTypes {
		if !lo.Contains(AllEventTypes, t) {
			return fmt.Errorf("unknown event type %q", t)
		}
	}

	min, err := parseAmountBound("minAmount", c.MinAmount)
	if err != nil {
		return err
	}
	max, err := parseAmountBound("maxAmount", c.MaxAmount)
	if err != nil {
		return err
	}
	if min != nil && max != nil && min.GreaterThan(*max) {
		return fmt.Errorf("minAmount cannot exceed maxAmount")
	}
	if c.Condition != "" {
		if err := macros.CompileExpression(c.Condition); err != nil {
			return fmt.Errorf("invalid condition: %w", err)
		}
	}
	return nil
}

func parseAmountBound(field, v string) (*decimal.Decimal, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return nil, fmt.Errorf("%s is not a number: %w", field, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%s cannot be negative", field)
	}
	return &d, nil
}

// requestedTypes defaults to every event type when none is configured
func (c *WalletListenerConfig) requestedTypes() []EventType {
	if len(c.EventTypes) == 0 {
		return AllEventTypes
	}
	return c.EventTypes
}

func (c *WalletListenerConfig) wants(t EventType) bool {
	return lo.Contains(c.requestedTypes(), t)
}

func (c *WalletListenerConfig) wantsLogs() bool {
	return lo.SomeBy(c.requestedTypes(), func(t EventType) bool {
		return !lo.Contains(blockScanEventTypes, t)
	})
}

func (c *WalletListenerConfig) wantsBlockScan() bool {
	return lo.Some(c.requestedTypes(), blockScanEventTypes)
}

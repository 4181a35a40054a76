package wallet

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// Transaction is an unsigned request handed to the external signer. Amounts
// and gas fields are decimal strings in wei.
type Transaction struct {
	To    string `json:"to"`
	Value string `json:"value"`
	Data  string `json:"data,omitempty"`

	GasLimit             uint64 `json:"gasLimit,omitempty"`
	GasPrice             string `json:"gasPrice,omitempty"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
}

type GasEstimate struct {
	GasLimit      uint64   `json:"gasLimit"`
	GasPrice      *big.Int `json:"gasPrice"`
	EstimatedCost *big.Int `json:"estimatedCost"`
}

type TxResult struct {
	TxHash string   `json:"txHash"`
	Status TxStatus `json:"status"`
}

type TxReceipt struct {
	TxHash            string   `json:"txHash"`
	Status            TxStatus `json:"status"`
	BlockNumber       uint64   `json:"blockNumber"`
	GasUsed           uint64   `json:"gasUsed"`
	EffectiveGasPrice string   `json:"effectiveGasPrice,omitempty"`
	Confirmations     uint64   `json:"confirmations"`
}

func parseWei(field, v string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
	if !ok {
		return nil, fmt.Errorf("%s must be an integer amount in wei, got %q", field, v)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("%s cannot be negative", field)
	}
	return n, nil
}

// ValueWei parses Value, an empty value is zero
func (tx *Transaction) ValueWei() (*big.Int, error) {
	if tx.Value == "" {
		return new(big.Int), nil
	}
	return parseWei("value", tx.Value)
}

func (tx *Transaction) Calldata() ([]byte, error) {
	if tx.Data == "" || tx.Data == "0x" {
		return nil, nil
	}
	return hexutil.Decode(tx.Data)
}

// selectors of the ERC20 calls that move or expose a token amount
var (
	selectorTransfer     = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	selectorTransferFrom = crypto.Keccak256([]byte("transferFrom(address,address,uint256)"))[:4]
	selectorApprove      = crypto.Keccak256([]byte("approve(address,uint256)"))[:4]
)

// TokenAmount decodes the amount of an ERC20 transfer, transferFrom or
// approve call. ok is false for any other calldata.
func (tx *Transaction) TokenAmount() (*big.Int, bool) {
	data, err := tx.Calldata()
	if err != nil || len(data) < 4 {
		return nil, false
	}

	var words int
	switch {
	case bytes.Equal(data[:4], selectorTransfer), bytes.Equal(data[:4], selectorApprove):
		words = 2
	case bytes.Equal(data[:4], selectorTransferFrom):
		words = 3
	default:
		return nil, false
	}
	if len(data) != 4+32*words {
		return nil, false
	}
	return new(big.Int).SetBytes(data[4+32*(words-1):]), true
}

// Validate checks the shape of the transaction before it is delegated:
// a well formed recipient, a non negative value and either legacy or
// dynamic fee fields but not both.
func (tx *Transaction) Validate() error {
	if tx == nil {
		return fmt.Errorf("transaction is empty")
	}
	if tx.To == "" {
		return fmt.Errorf("recipient address is required")
	}
	if !common.IsHexAddress(tx.To) {
		return fmt.Errorf("recipient %q is not a valid address", tx.To)
	}
	if _, err := tx.ValueWei(); err != nil {
		return err
	}
	if _, err := tx.Calldata(); err != nil {
		return fmt.Errorf("data is not valid hex: %w", err)
	}

	legacy := tx.GasPrice != ""
	dynamic := tx.MaxFeePerGas != "" || tx.MaxPriorityFeePerGas != ""
	if legacy && dynamic {
		return fmt.Errorf("gasPrice cannot be combined with maxFeePerGas/maxPriorityFeePerGas")
	}
	if legacy {
		if _, err := parseWei("gasPrice", tx.GasPrice); err != nil {
			return err
		}
	}
	if dynamic {
		if tx.MaxFeePerGas == "" || tx.MaxPriorityFeePerGas == "" {
			return fmt.Errorf("maxFeePerGas and maxPriorityFeePerGas must be set together")
		}
		maxFee, err := parseWei("maxFeePerGas", tx.MaxFeePerGas)
		if err != nil {
			return err
		}
		tip, err := parseWei("maxPriorityFeePerGas", tx.MaxPriorityFeePerGas)
		if err != nil {
			return err
		}
		if tip.Cmp(maxFee) > 0 {
			return fmt.Errorf("maxPriorityFeePerGas cannot exceed maxFeePerGas")
		}
	}
	return nil
}

// fingerprint identifies a transaction request for approval bookkeeping
func (tx *Transaction) fingerprint(userID string) string {
	value, _ := tx.ValueWei()
	h := crypto.Keccak256([]byte(strings.Join([]string{
		userID,
		strings.ToLower(tx.To),
		value.String(),
		strings.ToLower(tx.Data),
	}, "|")))
	return hexutil.Encode(h)
}

package taskengine

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/AvaProtocol/chainflow/core/wallet"
	"github.com/AvaProtocol/chainflow/model"
	"github.com/AvaProtocol/chainflow/pkg/byte4"
)

// ContractCallConfig encodes Method with Params against ABI and delegates
// the resulting transaction. Value is in wei.
type ContractCallConfig struct {
	Network         string `json:"network" validate:"required"`
	ContractAddress string `json:"contractAddress" validate:"required,evm_addr"`
	ABI             any    `json:"abi" validate:"required"`
	Method          string `json:"method" validate:"required"`
	Params          []any  `json:"params"`
	Value           string `json:"value" validate:"wei"`
	GasLimit        uint64 `json:"gasLimit"`

	WaitOptions `json:",squash"`
}

type ContractCallProcessor struct {
	transactor
}

func NewContractCallProcessor(gw WalletGateway) *ContractCallProcessor {
	return &ContractCallProcessor{transactor{wallet: gw}}
}

func (p *ContractCallProcessor) Execute(ctx context.Context, node *model.WorkflowNode, ec *ExecutionContext) *NodeResult {
	cfg := &ContractCallConfig{}
	if err := decodeNodeConfig(ec.Inputs, cfg); err != nil {
		return newResultBuilder("").fail(err)
	}
	rb := newResultBuilder(cfg.Network)

	parsed, err := ParseABI(cfg.ABI)
	if err != nil {
		return rb.fail(NewConfigurationError(err.Error()))
	}
	calldata, err := PackMethodCall(parsed, cfg.Method, cfg.Params)
	if err != nil {
		return rb.fail(NewConfigurationError(err.Error()))
	}

	value := new(big.Int)
	if cfg.Value != "" {
		value, _ = new(big.Int).SetString(strings.TrimSpace(cfg.Value), 10)
	}

	contract := common.HexToAddress(cfg.ContractAddress)
	tx := &wallet.Transaction{
		To:       contract.Hex(),
		Value:    value.String(),
		Data:     hexutil.Encode(calldata),
		GasLimit: cfg.GasLimit,
	}

	method, _ := byte4.GetMethodFromCalldata(*parsed, calldata)
	ec.log().Infof("calling %s on %s (%s)", cfg.Method, contract.Hex(), cfg.Network)

	output, err := p.run(ctx, ec, &txRequest{
		network:  cfg.Network,
		tx:       tx,
		reason:   fmt.Sprintf("call %s on %s", cfg.Method, contract.Hex()),
		required: value,
		wait:     cfg.WaitOptions,
	})

	if output != nil {
		output["contractAddress"] = contract.Hex()
		output["method"] = cfg.Method
		if method != nil {
			output["methodSignature"] = method.Sig
		}
		output["callData"] = tx.Data
	}
	if err != nil {
		return rb.failWith(err, output)
	}
	return rb.ok(output)
}

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
)

// PaymentConfig moves native currency, or an ERC20 token when Token is set.
// Amount is in the smallest unit.
type PaymentConfig struct {
	Network          string `json:"network" validate:"required"`
	RecipientAddress string `json:"recipientAddress" validate:"required,evm_addr"`
	Amount           string `json:"amount" validate:"required,wei"`
	Token            string `json:"token" validate:"evm_addr"`
	GasLimit         uint64 `json:"gasLimit"`
	GasPrice         string `json:"gasPrice" validate:"wei"`

	WaitOptions `json:",squash"`
}

type PaymentProcessor struct {
	transactor
}

func NewPaymentProcessor(gw WalletGateway) *PaymentProcessor {
	return &PaymentProcessor{transactor{wallet: gw}}
}

func (p *PaymentProcessor) Execute(ctx context.Context, node *model.WorkflowNode, ec *ExecutionContext) *NodeResult {
	cfg := &PaymentConfig{}
	if err := decodeNodeConfig(ec.Inputs, cfg); err != nil {
		return newResultBuilder("").fail(err)
	}
	rb := newResultBuilder(cfg.Network)

	amount, ok := new(big.Int).SetString(strings.TrimSpace(cfg.Amount), 10)
	if !ok || amount.Sign() == 0 {
		return rb.fail(NewConfigurationError("amount must be greater than zero"))
	}

	tx, err := buildPaymentTx(cfg, amount)
	if err != nil {
		return rb.fail(NewConfigurationError(err.Error()))
	}

	ec.log().Infof("paying %s to %s on %s", amount, cfg.RecipientAddress, cfg.Network)
	output, err := p.run(ctx, ec, &txRequest{
		network:  cfg.Network,
		tx:       tx,
		reason:   fmt.Sprintf("payment of %s to %s", amount, cfg.RecipientAddress),
		required: amount,
		token:    cfg.Token,
		wait:     cfg.WaitOptions,
	})

	if output != nil {
		output["recipient"] = common.HexToAddress(cfg.RecipientAddress).Hex()
		output["amount"] = amount.String()
		if cfg.Token != "" {
			output["token"] = common.HexToAddress(cfg.Token).Hex()
		}
	}
	if err != nil {
		return rb.failWith(err, output)
	}
	return rb.ok(output)
}

func buildPaymentTx(cfg *PaymentConfig, amount *big.Int) (*wallet.Transaction, error) {
	recipient := common.HexToAddress(cfg.RecipientAddress)
	tx := &wallet.Transaction{
		GasLimit: cfg.GasLimit,
		GasPrice: cfg.GasPrice,
	}

	if cfg.Token == "" {
		tx.To = recipient.Hex()
		tx.Value = amount.String()
		return tx, nil
	}

	data, err := erc20ABI.Pack("transfer", recipient, amount)
	if err != nil {
		return nil, err
	}
	tx.To = common.HexToAddress(cfg.Token).Hex()
	tx.Value = "0"
	tx.Data = hexutil.Encode(data)
	return tx, nil
}

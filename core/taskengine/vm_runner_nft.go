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

const (
	NFTOperationMint     = "mint"
	NFTOperationTransfer = "transfer"
)

// NFTConfig mints to or transfers an ERC721 token to Recipient. A mint
// without TokenID calls safeMint(to) and lets the contract pick the id.
type NFTConfig struct {
	Network         string `json:"network" validate:"required"`
	Operation       string `json:"operation" validate:"required,oneof=mint transfer"`
	ContractAddress string `json:"contractAddress" validate:"required,evm_addr"`
	Recipient       string `json:"recipient" validate:"required,evm_addr"`
	TokenID         string `json:"tokenId" validate:"required_if=Operation transfer,wei"`
	MintPrice       string `json:"mintPrice" validate:"wei"`
	GasLimit        uint64 `json:"gasLimit"`

	WaitOptions `json:",squash"`
}

type NFTProcessor struct {
	transactor
}

func NewNFTProcessor(gw WalletGateway) *NFTProcessor {
	return &NFTProcessor{transactor{wallet: gw}}
}

func (p *NFTProcessor) Execute(ctx context.Context, node *model.WorkflowNode, ec *ExecutionContext) *NodeResult {
	cfg := &NFTConfig{}
	if err := decodeNodeConfig(ec.Inputs, cfg); err != nil {
		return newResultBuilder("").fail(err)
	}
	rb := newResultBuilder(cfg.Network)

	contract := common.HexToAddress(cfg.ContractAddress)
	recipient := common.HexToAddress(cfg.Recipient)

	var tokenID *big.Int
	if cfg.TokenID != "" {
		tokenID, _ = new(big.Int).SetString(strings.TrimSpace(cfg.TokenID), 10)
	}
	value := new(big.Int)
	if cfg.MintPrice != "" && cfg.Operation == NFTOperationMint {
		value, _ = new(big.Int).SetString(strings.TrimSpace(cfg.MintPrice), 10)
	}

	var (
		calldata []byte
		err      error
	)
	switch cfg.Operation {
	case NFTOperationMint:
		if tokenID != nil {
			calldata, err = erc721ABI.Pack("mint", recipient, tokenID)
		} else {
			calldata, err = erc721ABI.Pack("safeMint", recipient)
		}
	case NFTOperationTransfer:
		owner, addrErr := p.wallet.GetAddress(ctx, ec.UserID)
		if addrErr != nil {
			return rb.fail(addrErr)
		}
		calldata, err = erc721ABI.Pack("safeTransferFrom", owner, recipient, tokenID)
	}
	if err != nil {
		return rb.fail(NewConfigurationError(err.Error()))
	}

	tx := &wallet.Transaction{
		To:       contract.Hex(),
		Value:    value.String(),
		Data:     hexutil.Encode(calldata),
		GasLimit: cfg.GasLimit,
	}

	ec.log().Infof("nft %s on %s to %s", cfg.Operation, contract.Hex(), recipient.Hex())
	output, err := p.run(ctx, ec, &txRequest{
		network:  cfg.Network,
		tx:       tx,
		reason:   fmt.Sprintf("nft %s on %s", cfg.Operation, contract.Hex()),
		required: value,
		wait:     cfg.WaitOptions,
	})

	if output != nil {
		output["operation"] = cfg.Operation
		output["contractAddress"] = contract.Hex()
		output["recipient"] = recipient.Hex()
		if tokenID != nil {
			output["tokenId"] = tokenID.String()
		}
	}
	if err != nil {
		return rb.failWith(err, output)
	}
	return rb.ok(output)
}

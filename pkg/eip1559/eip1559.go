package eip1559

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// FeeSource is the subset of ethclient.Client needed to suggest fees
type FeeSource interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

var (
	minTip    = big.NewInt(1_000_000_000) // 1 gwei
	tipBuffer = big.NewInt(13)            // percent
)

// SuggestFee returns maxFeePerGas and maxPriorityFeePerGas for the next block.
// On chains without a base fee it falls back to the legacy gas price for both.
func SuggestFee(ctx context.Context, client FeeSource) (*big.Int, *big.Int, error) {
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, err
	}

	if header.BaseFee == nil {
		gasPrice, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, nil, err
		}
		return gasPrice, new(big.Int).Set(gasPrice), nil
	}

	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, err
	}

	buffer := new(big.Int).Div(new(big.Int).Mul(tipCap, tipBuffer), big.NewInt(100))
	maxPriorityFeePerGas := new(big.Int).Add(tipCap, buffer)
	if maxPriorityFeePerGas.Cmp(minTip) < 0 {
		maxPriorityFeePerGas = new(big.Int).Set(minTip)
	}

	// 2x base fee leaves headroom for base fee growth between blocks
	maxFeePerGas := new(big.Int).Add(
		new(big.Int).Mul(header.BaseFee, big.NewInt(2)),
		maxPriorityFeePerGas,
	)

	return maxFeePerGas, maxPriorityFeePerGas, nil
}

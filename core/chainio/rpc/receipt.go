package rpc

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ReceiptSource is what confirmation waiting needs from a chain client
type ReceiptSource interface {
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
}

// Confirmations counts the receipt block itself, so a receipt mined in the
// current head has one confirmation.
func Confirmations(current, receiptBlock uint64) uint64 {
	if current < receiptBlock {
		return 0
	}
	return current - receiptBlock + 1
}

// WaitForReceipt polls every interval until the receipt of hash has at
// least confirmations confirmations. It fails with a *TimeoutError once
// timeout elapses and returns ctx.Err() if the caller gives up first.
func WaitForReceipt(ctx context.Context, src ReceiptSource, hash common.Hash, confirmations uint64, timeout, interval time.Duration) (*types.Receipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}

	start := time.Now()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var reached uint64
	for {
		receipt, err := src.GetTransactionReceipt(ctx, hash)
		if err == nil && receipt != nil && receipt.BlockNumber != nil {
			current, err := src.GetLatestBlockNumber(ctx)
			if err == nil {
				reached = Confirmations(current, receipt.BlockNumber.Uint64())
				if reached >= confirmations {
					return receipt, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, &TimeoutError{
				Hash:          hash.Hex(),
				Confirmations: confirmations,
				Reached:       reached,
				Waited:        time.Since(start),
			}
		case <-ticker.C:
		}
	}
}

package taskengine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/AvaProtocol/chainflow/core/wallet"
)

const (
	defaultConfirmations = 1
	defaultWaitTimeout   = 2 * time.Minute
)

// WaitOptions is shared by every node that delegates a transaction
type WaitOptions struct {
	WaitForConfirmation bool          `json:"waitForConfirmation"`
	Confirmations       uint64        `json:"confirmations"`
	Timeout             time.Duration `json:"timeout"`
}

func (w WaitOptions) confirmations() uint64 {
	if w.Confirmations == 0 {
		return defaultConfirmations
	}
	return w.Confirmations
}

func (w WaitOptions) timeout() time.Duration {
	if w.Timeout <= 0 {
		return defaultWaitTimeout
	}
	return w.Timeout
}

// txRequest describes a transaction a handler wants delegated
type txRequest struct {
	network string
	tx      *wallet.Transaction
	reason  string

	// balance needed before delegating, in token units when token is set
	required *big.Int
	token    string

	wait WaitOptions
}

// transactor runs the delegation sequence that payment, contract call and
// NFT nodes share: session, balance, approval gate, gas, delegate, wait.
type transactor struct {
	wallet WalletGateway
}

func (t *transactor) run(ctx context.Context, ec *ExecutionContext, req *txRequest) (map[string]any, error) {
	log := ec.log()

	valid, err := t.wallet.ValidateSession(ctx, ec.UserID)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, NewInvalidSessionError(ec.UserID)
	}

	from, err := t.wallet.GetAddress(ctx, ec.UserID)
	if err != nil {
		return nil, err
	}

	if req.required != nil && req.required.Sign() > 0 {
		balance, err := t.wallet.GetBalance(ctx, ec.UserID, req.network, req.token)
		if err != nil {
			return nil, err
		}
		if balance.Cmp(req.required) < 0 {
			log.Warnf("insufficient balance: have %s, need %s", balance, req.required)
			return nil, NewInsufficientBalanceError(balance, req.required, req.token)
		}
	}

	// the gate runs before gas estimation so an estimation failure can
	// never skip it
	if t.wallet.RequiresApproval(req.tx) {
		value, _ := req.tx.ValueWei()
		if amount, ok := req.tx.TokenAmount(); ok {
			log.Infof("token amount %s of %s requires approval", amount, req.tx.To)
		} else {
			log.Infof("value %s requires approval", value)
		}
		approved, err := t.wallet.RequestApproval(ctx, ec.UserID, req.tx, req.reason)
		if err != nil {
			return nil, err
		}
		if !approved {
			return nil, NewApprovalDeniedError(req.reason)
		}
	}

	output := map[string]any{
		"from": from.Hex(),
		"to":   req.tx.To,
	}

	if req.tx.GasLimit == 0 {
		estimate, err := t.wallet.EstimateGas(ctx, ec.UserID, req.network, req.tx)
		if err != nil {
			return nil, err
		}
		req.tx.GasLimit = estimate.GasLimit
		output["gasLimit"] = estimate.GasLimit
		output["gasPrice"] = estimate.GasPrice.String()
		output["estimatedCost"] = estimate.EstimatedCost.String()
		log.Debugf("estimated gas %d at %s wei", estimate.GasLimit, estimate.GasPrice)
	} else {
		output["gasLimit"] = req.tx.GasLimit
	}

	result, err := t.wallet.DelegateTransaction(ctx, ec.UserID, req.network, req.tx)
	if err != nil {
		return nil, err
	}
	log.Infof("transaction %s delegated on %s", result.TxHash, req.network)

	output["txHash"] = result.TxHash
	output["status"] = string(result.Status)

	if !req.wait.WaitForConfirmation {
		return output, nil
	}

	receipt, err := t.wallet.WaitForTransaction(ctx, req.network, result.TxHash, req.wait.confirmations(), req.wait.timeout())
	if err != nil {
		// the transaction is already broadcast, keep its hash in the output
		return output, err
	}
	for k, v := range receiptFields(receipt) {
		output[k] = v
	}
	if receipt.Status == wallet.TxFailed {
		return output, NewExecutionError(fmt.Errorf("transaction %s reverted in block %d", result.TxHash, receipt.BlockNumber))
	}
	log.Infof("transaction %s confirmed in block %d", result.TxHash, receipt.BlockNumber)
	return output, nil
}

package rpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/AvaProtocol/chainflow/pkg/logger"
)

// LogFilter selects logs in [FromBlock, ToBlock]. Callers chunk large ranges
// themselves, the client never paginates.
type LogFilter struct {
	FromBlock uint64
	ToBlock   uint64
	Addresses []common.Address
	Topics    [][]common.Hash
}

// Client is a JSON-RPC client bound to one EVM network
type Client struct {
	network string
	eth     *ethclient.Client
	raw     *gethrpc.Client

	backoff      Backoff
	pollInterval time.Duration
	onRetry      func(network string)
	logger       sdklogging.Logger
}

type ClientOption struct {
	Backoff      *Backoff
	PollInterval time.Duration
	// OnRetry is told about every retried call, e.g. to count them
	OnRetry func(network string)
	Logger  sdklogging.Logger
}

func Dial(ctx context.Context, network, url string, opts *ClientOption) (*Client, error) {
	raw, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("cannot dial %s rpc: %w", network, err)
	}

	c := &Client{
		network:      network,
		eth:          ethclient.NewClient(raw),
		raw:          raw,
		backoff:      DefaultBackoff,
		pollInterval: 3 * time.Second,
		logger:       logger.NewNoOpLogger(),
	}
	if opts != nil {
		if opts.Backoff != nil {
			c.backoff = *opts.Backoff
		}
		if opts.PollInterval > 0 {
			c.pollInterval = opts.PollInterval
		}
		c.onRetry = opts.OnRetry
		c.logger = logger.EnsureLogger(opts.Logger)
	}
	return c, nil
}

func (c *Client) Network() string {
	return c.network
}

// Eth exposes the underlying client for bound contracts
func (c *Client) Eth() *ethclient.Client {
	return c.eth
}

// retry wraps transient read failures. A missing object is a valid answer
// and is not retried.
func (c *Client) retry(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	b := c.backoff
	prev := b.OnRetry
	b.OnRetry = func(attempt int, err error) {
		c.logger.Debug("retrying rpc call", "network", c.network, "method", method, "attempt", attempt, "error", err)
		if c.onRetry != nil {
			c.onRetry(c.network)
		}
		if prev != nil {
			prev(attempt, err)
		}
	}
	return b.Do(ctx, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && IsNotFound(err) {
			return Permanent(err)
		}
		return err
	})
}

func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.retry(ctx, "eth_blockNumber", func(ctx context.Context) error {
		var err error
		n, err = c.eth.BlockNumber(ctx)
		return err
	})
	return n, err
}

func (c *Client) GetBlock(ctx context.Context, number uint64) (*types.Block, error) {
	var block *types.Block
	err := c.retry(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		var err error
		block, err = c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		return err
	})
	return block, err
}

// BlockTransactions returns the timestamp and the transactions of a block
func (c *Client) BlockTransactions(ctx context.Context, number uint64) (uint64, types.Transactions, error) {
	block, err := c.GetBlock(ctx, number)
	if err != nil {
		return 0, nil, err
	}
	return block.Time(), block.Transactions(), nil
}

func (c *Client) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.retry(ctx, "eth_getTransactionReceipt", func(ctx context.Context) error {
		var err error
		receipt, err = c.eth.TransactionReceipt(ctx, hash)
		return err
	})
	return receipt, err
}

func (c *Client) GetLogs(ctx context.Context, filter LogFilter) ([]types.Log, error) {
	if filter.ToBlock < filter.FromBlock {
		return nil, fmt.Errorf("invalid log range %d-%d", filter.FromBlock, filter.ToBlock)
	}

	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(filter.FromBlock),
		ToBlock:   new(big.Int).SetUint64(filter.ToBlock),
		Addresses: filter.Addresses,
		Topics:    filter.Topics,
	}

	var logs []types.Log
	err := c.retry(ctx, "eth_getLogs", func(ctx context.Context) error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, q)
		return err
	})
	return logs, err
}

func (c *Client) GetBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var balance *big.Int
	err := c.retry(ctx, "eth_getBalance", func(ctx context.Context) error {
		var err error
		balance, err = c.eth.BalanceAt(ctx, addr, nil)
		return err
	})
	return balance, err
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.eth.EstimateGas(ctx, msg)
}

func (c *Client) Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, nil)
}

// SendRawTransaction broadcasts an already signed transaction. It is never
// retried here; resubmission is the signer's call.
func (c *Client) SendRawTransaction(ctx context.Context, signed []byte) (common.Hash, error) {
	var hash common.Hash
	err := c.raw.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(signed))
	return hash, err
}

// bind.ContractCaller so token metadata lookups can use bound contracts

func (c *Client) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return c.eth.CodeAt(ctx, contract, blockNumber)
}

func (c *Client) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.eth.CallContract(ctx, call, blockNumber)
}

// eip1559.FeeSource

func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasTipCap(ctx)
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasPrice(ctx)
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.eth.HeaderByNumber(ctx, number)
}

// WaitForTransaction blocks until hash has the requested confirmations
func (c *Client) WaitForTransaction(ctx context.Context, hash common.Hash, confirmations uint64, timeout time.Duration) (*types.Receipt, error) {
	c.logger.Info("waiting for transaction", "network", c.network, "tx_hash", hash.Hex(), "confirmations", confirmations, "timeout", timeout)
	return WaitForReceipt(ctx, c, hash, confirmations, timeout, c.pollInterval)
}

// HealthCheck checks that the endpoint can serve the head block
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := c.eth.BlockNumber(ctx); err != nil {
		return fmt.Errorf("%s rpc is unhealthy: %w", c.network, err)
	}
	return nil
}

func (c *Client) Close() {
	c.eth.Close()
}

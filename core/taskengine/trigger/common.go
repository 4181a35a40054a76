package trigger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AvaProtocol/chainflow/core/chainio/rpc"
)

var (
	zero = big.NewInt(0)

	// Transfer(address,address,uint256), shared by ERC20 and ERC721
	TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

// ChainReader is the read only chain surface the listener polls
type ChainReader interface {
	bind.ContractCaller

	GetLatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTransactions(ctx context.Context, number uint64) (uint64, types.Transactions, error)
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	GetLogs(ctx context.Context, filter rpc.LogFilter) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

type ChainResolver func(ctx context.Context, network string) (ChainReader, error)

// NativeCurrency describes the gas token of a network
type NativeCurrency struct {
	Symbol   string
	Decimals int32
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

func topicAddress(h common.Hash) common.Address {
	return common.BytesToAddress(h.Bytes()[12:])
}

package trigger

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AvaProtocol/chainflow/core/chainio/rpc"
)

var tokenABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(`[
		{"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
		{"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
	]`))
	if err != nil {
		panic(err)
	}
	return parsed
}()

type fakeToken struct {
	symbol   string
	decimals uint8
	nft      bool
}

type fakeChain struct {
	mu sync.Mutex

	head      uint64
	headErr   error
	headCalls int

	logs     []types.Log
	logsErr  map[common.Hash]error // by wallet topic
	filters  []rpc.LogFilter
	blocks   map[uint64]types.Transactions
	receipts map[common.Hash]*types.Receipt
	tokens   map[common.Address]fakeToken
}

func newFakeChain(head uint64) *fakeChain {
	return &fakeChain{
		head:     head,
		logsErr:  map[common.Hash]error{},
		blocks:   map[uint64]types.Transactions{},
		receipts: map[common.Hash]*types.Receipt{},
		tokens:   map[common.Address]fakeToken{},
	}
}

func (f *fakeChain) resolver() ChainResolver {
	return func(ctx context.Context, network string) (ChainReader, error) {
		if network != "sepolia" {
			return nil, errors.New("unknown network " + network)
		}
		return f, nil
	}
}

func (f *fakeChain) setHead(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = n
}

func (f *fakeChain) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headCalls++
	if f.headErr != nil {
		return 0, f.headErr
	}
	return f.head, nil
}

func (f *fakeChain) BlockTransactions(ctx context.Context, number uint64) (uint64, types.Transactions, error) {
	return 1700000000 + number, f.blocks[number], nil
}

func (f *fakeChain) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func topicMatches(group []common.Hash, topic common.Hash) bool {
	if len(group) == 0 {
		return true
	}
	for _, t := range group {
		if t == topic {
			return true
		}
	}
	return false
}

func (f *fakeChain) GetLogs(ctx context.Context, filter rpc.LogFilter) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)

	for _, group := range filter.Topics {
		for _, t := range group {
			if err, ok := f.logsErr[t]; ok {
				return nil, err
			}
		}
	}

	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber < filter.FromBlock || l.BlockNumber > filter.ToBlock {
			continue
		}
		if len(filter.Addresses) > 0 {
			found := false
			for _, a := range filter.Addresses {
				found = found || a == l.Address
			}
			if !found {
				continue
			}
		}
		match := true
		for i, group := range filter.Topics {
			if i >= len(l.Topics) || !topicMatches(group, l.Topics[i]) {
				match = false
				break
			}
		}
		if match {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: number, Time: 1700000000 + number.Uint64()}, nil
}

func (f *fakeChain) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeChain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	token, ok := f.tokens[*call.To]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	method, err := tokenABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "symbol":
		return method.Outputs.Pack(token.symbol)
	case "decimals":
		if token.nft {
			return nil, errors.New("execution reverted")
		}
		return method.Outputs.Pack(token.decimals)
	}
	return nil, errors.New("execution reverted")
}

func transferLog(token, from, to common.Address, amount int64, block uint64, tx common.Hash, index uint) types.Log {
	return types.Log{
		Address:     token,
		Topics:      []common.Hash{TransferTopic, addressTopic(from), addressTopic(to)},
		Data:        common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
		BlockNumber: block,
		TxHash:      tx,
		Index:       index,
	}
}

func nftLog(token, from, to common.Address, tokenID int64, block uint64, tx common.Hash, index uint) types.Log {
	return types.Log{
		Address:     token,
		Topics:      []common.Hash{TransferTopic, addressTopic(from), addressTopic(to), common.BigToHash(big.NewInt(tokenID))},
		BlockNumber: block,
		TxHash:      tx,
		Index:       index,
	}
}

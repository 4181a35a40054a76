package tokens

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/chainflow/pkg/logger"
)

// Metadata of an ERC20 or ERC721 contract. NFT contracts have no
// decimals, so HasDecimals is false for them.
type Metadata struct {
	Address     string `json:"address"`
	Name        string `json:"name,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
	Decimals    uint8  `json:"decimals"`
	HasDecimals bool   `json:"hasDecimals"`
}

const erc20MetadataABI = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

var metadataABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20MetadataABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// Service looks token metadata up with contract reads and keeps the answers
// for the life of the process. Metadata of a deployed token does not change.
type Service struct {
	cacheMu sync.RWMutex
	cache   map[string]*Metadata

	callTimeout time.Duration
	logger      sdklogging.Logger
}

func NewService(log sdklogging.Logger) *Service {
	return &Service{
		cache:       make(map[string]*Metadata),
		callTimeout: 5 * time.Second,
		logger:      logger.EnsureLogger(log),
	}
}

func cacheKey(network string, token common.Address) string {
	return network + ":" + strings.ToLower(token.Hex())
}

// Lookup reads name, symbol and decimals. Each field is best effort; an
// error is returned only if the contract answered none of them.
func (s *Service) Lookup(ctx context.Context, caller bind.ContractCaller, network string, token common.Address) (*Metadata, error) {
	key := cacheKey(network, token)

	s.cacheMu.RLock()
	cached, ok := s.cache[key]
	s.cacheMu.RUnlock()
	if ok {
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	contract := bind.NewBoundContract(token, metadataABI, caller, nil, nil)
	opts := &bind.CallOpts{Context: ctx}

	meta := &Metadata{Address: token.Hex()}
	answered := 0

	if v, err := callString(contract, opts, "name"); err == nil {
		meta.Name = v
		answered++
	}
	if v, err := callString(contract, opts, "symbol"); err == nil {
		meta.Symbol = v
		answered++
	}

	var out []interface{}
	if err := contract.Call(opts, &out, "decimals"); err == nil && len(out) == 1 {
		if d, ok := out[0].(uint8); ok {
			meta.Decimals = d
			meta.HasDecimals = true
			answered++
		}
	}

	if answered == 0 {
		s.logger.Debug("token metadata unavailable", "network", network, "token", token.Hex())
		return nil, fmt.Errorf("no metadata for token %s on %s", token.Hex(), network)
	}

	s.cacheMu.Lock()
	s.cache[key] = meta
	s.cacheMu.Unlock()
	return meta, nil
}

func callString(contract *bind.BoundContract, opts *bind.CallOpts, method string) (string, error) {
	var out []interface{}
	if err := contract.Call(opts, &out, method); err != nil {
		return "", err
	}
	if len(out) != 1 {
		return "", fmt.Errorf("%s returned %d values", method, len(out))
	}
	v, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("%s returned %T", method, out[0])
	}
	return v, nil
}

// Len is the number of cached tokens
func (s *Service) Len() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return len(s.cache)
}

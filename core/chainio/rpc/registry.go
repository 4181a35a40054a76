package rpc

import (
	"context"
	"fmt"
	"sync"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/AvaProtocol/chainflow/core/config"
)

// Registry lazily dials one client per configured network and shares it
// for the life of the process.
type Registry struct {
	cfg  *config.Config
	opts *ClientOption

	mu   sync.Mutex
	evm  map[string]*Client
	rest map[string]*RestClient

	logger sdklogging.Logger
}

func NewRegistry(cfg *config.Config, opts *ClientOption) *Registry {
	var log sdklogging.Logger
	if opts != nil {
		log = opts.Logger
	}
	return &Registry{
		cfg:    cfg,
		opts:   opts,
		evm:    make(map[string]*Client),
		rest:   make(map[string]*RestClient),
		logger: log,
	}
}

func (r *Registry) Network(name string) (*config.NetworkConfig, error) {
	return r.cfg.Network(name)
}

func (r *Registry) EVM(ctx context.Context, network string) (*Client, error) {
	n, err := r.cfg.Network(network)
	if err != nil {
		return nil, err
	}
	if n.Kind != config.NetworkEVM {
		return nil, fmt.Errorf("network %s is not an evm network", network)
	}

	key := config.NormalizeNetwork(network)

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.evm[key]; ok {
		return c, nil
	}

	c, err := Dial(ctx, key, n.RpcURL, r.opts)
	if err != nil {
		return nil, err
	}
	r.evm[key] = c
	if r.logger != nil {
		r.logger.Info("connected rpc client", "network", key)
	}
	return c, nil
}

func (r *Registry) REST(network string) (*RestClient, error) {
	n, err := r.cfg.Network(network)
	if err != nil {
		return nil, err
	}
	if n.RestURL == "" {
		return nil, fmt.Errorf("network %s has no rest endpoint", network)
	}

	key := config.NormalizeNetwork(network)

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.rest[key]; ok {
		return c, nil
	}
	c := NewRestClient(key, n.RestURL, r.cfg.Wallet.RequestTimeout)
	r.rest[key] = c
	return c, nil
}

func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.evm {
		c.Close()
	}
	r.evm = make(map[string]*Client)
}

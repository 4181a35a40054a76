package config

import (
	"fmt"
	"strings"
)

type NetworkKind string

const (
	NetworkEVM    NetworkKind = "evm"
	NetworkCosmos NetworkKind = "cosmos"
)

type NetworkConfig struct {
	Kind           NetworkKind `yaml:"kind"`
	RpcURL         string      `yaml:"rpc_url"`
	RestURL        string      `yaml:"rest_url"`
	ChainID        int64       `yaml:"chain_id"`
	NativeSymbol   string      `yaml:"native_symbol"`
	NativeDecimals int32       `yaml:"native_decimals"`
	// Denom used by the cosmos bank module, e.g. uatom
	Denom string `yaml:"denom"`
}

func (n *NetworkConfig) validate(name string) error {
	if n == nil {
		return fmt.Errorf("config: network %s is empty", name)
	}
	if n.Kind == "" {
		n.Kind = NetworkEVM
	}
	if n.NativeDecimals == 0 {
		n.NativeDecimals = 18
	}

	switch n.Kind {
	case NetworkEVM:
		if n.RpcURL == "" {
			return fmt.Errorf("config: network %s requires rpc_url", name)
		}
	case NetworkCosmos:
		if n.RestURL == "" {
			return fmt.Errorf("config: network %s requires rest_url", name)
		}
	default:
		return fmt.Errorf("config: network %s has unknown kind %q", name, n.Kind)
	}
	return nil
}

// IsTestnet reports whether a network name designates a test network
func IsTestnet(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), "-testnet")
}

// NormalizeNetwork maps a bare chain name to its mainnet entry so
// "ethereum" and "ethereum-mainnet" resolve to the same endpoints.
func NormalizeNetwork(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if strings.HasSuffix(n, "-mainnet") || strings.HasSuffix(n, "-testnet") {
		return n
	}
	return n + "-mainnet"
}

// Network resolves a network name to its endpoints
func (c *Config) Network(name string) (*NetworkConfig, error) {
	key := NormalizeNetwork(name)
	if n, ok := c.Networks[key]; ok {
		return n, nil
	}
	// allow a yaml key without the suffix
	if n, ok := c.Networks[strings.TrimSuffix(key, "-mainnet")]; ok {
		return n, nil
	}
	return nil, fmt.Errorf("network %q is not configured", name)
}

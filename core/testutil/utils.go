package testutil

import (
	"os"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/AvaProtocol/chainflow/core/config"
	"github.com/AvaProtocol/chainflow/storage"
)

const (
	TestUserID    = "user-1"
	TestWallet    = "0xD7050816337a3f8f690F8083B5Ff8019D50c0E50"
	TestRecipient = "0xe0f7D11FD714674722d325Cd86062A5F1882E13a"
)

func GetTestRPCURL() string {
	v := os.Getenv("RPC_URL")
	if v == "" {
		return "https://sepolia.drpc.org"
	}

	return v
}

// Shortcut to initialize a storage at the given path, panic if we cannot create db
func TestMustDB() storage.Storage {
	dir, err := os.MkdirTemp("", "cftest")
	if err != nil {
		panic(err)
	}

	db, err := storage.NewWithPath(dir)
	if err != nil {
		panic(err)
	}
	return db
}

func GetLogger() sdklogging.Logger {
	logger, err := sdklogging.NewZapLogger("development")
	if err != nil {
		panic(err)
	}
	return logger
}

// GetTestConfig returns a config with defaults applied, pointing at a
// single ethereum testnet network.
func GetTestConfig() *config.Config {
	c, err := config.Parse([]byte(`
networks:
  ethereum-testnet:
    rpc_url: ` + GetTestRPCURL() + `
    chain_id: 11155111
    native_symbol: ETH
queue:
  expiry_interval: 50ms
`))
	if err != nil {
		panic(err)
	}
	c.JobTimeout = 30 * time.Second
	return c
}

package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheLazyExpiry(t *testing.T) {
	c, err := NewCache(context.Background(), time.Minute)
	require.NoError(t, err)
	defer c.Close()

	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set("ethereum-mainnet", "balance", "0xABC", map[string]string{"balance": "42"}, 10*time.Second))

	var got map[string]string
	assert.True(t, c.Get("ethereum-mainnet", "balance", "0xabc", &got))
	assert.Equal(t, "42", got["balance"])

	// other data types and networks are separate keys
	assert.False(t, c.Get("ethereum-testnet", "balance", "0xabc", &got))
	assert.False(t, c.Get("ethereum-mainnet", "nfts", "0xabc", &got))

	// still there until someone looks it up after the ttl
	now = now.Add(11 * time.Second)
	assert.Equal(t, 1, c.Len())
	assert.False(t, c.Get("ethereum-mainnet", "balance", "0xabc", &got))
	assert.Equal(t, 0, c.Len())
}

func TestCacheDefaultTTLAndLastWriteWins(t *testing.T) {
	c, err := NewCache(context.Background(), time.Minute)
	require.NoError(t, err)
	defer c.Close()

	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set("base", "token_balance", "0x1", "first", 0))
	require.NoError(t, c.Set("base", "token_balance", "0x1", "second", 0))

	now = now.Add(59 * time.Second)
	var got string
	require.True(t, c.Get("base", "token_balance", "0x1", &got))
	assert.Equal(t, "second", got)
}

package taskengine

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenABIsPackEveryHandlerMethod(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	to := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	id := big.NewInt(7)

	tests := []struct {
		name     string
		parsed   abi.ABI
		method   string
		args     []any
		selector string
	}{
		{"erc20 transfer", erc20ABI, "transfer", []any{to, big.NewInt(100)}, "0xa9059cbb"},
		{"erc20 balanceOf", erc20ABI, "balanceOf", []any{owner}, "0x70a08231"},
		{"erc721 balanceOf", erc721ABI, "balanceOf", []any{owner}, "0x70a08231"},
		{"erc721 mint", erc721ABI, "mint", []any{to, id}, "0x40c10f19"},
		{"erc721 safeMint", erc721ABI, "safeMint", []any{to}, "0x40d097c3"},
		{"erc721 safeTransferFrom", erc721ABI, "safeTransferFrom", []any{owner, to, id}, "0x42842e0e"},
		{"erc721 tokenOfOwnerByIndex", erc721ABI, "tokenOfOwnerByIndex", []any{owner, big.NewInt(0)}, "0x2f745c59"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.parsed.Pack(tt.method, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.selector, hexutil.Encode(data[:4]))
			assert.Len(t, data, 4+32*len(tt.args))
		})
	}
}

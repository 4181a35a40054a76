package byte4

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// Selector returns the 4-byte function selector of a canonical signature
// such as "transfer(address,uint256)".
func Selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// GetMethodFromCalldata finds the ABI method whose selector prefixes calldata
func GetMethodFromCalldata(parsedABI abi.ABI, calldata []byte) (*abi.Method, error) {
	if len(calldata) < 4 {
		return nil, fmt.Errorf("invalid selector length: %d", len(calldata))
	}

	methodID := calldata[:4]
	for _, method := range parsedABI.Methods {
		if bytes.Equal(method.ID, methodID) {
			m := method
			return &m, nil
		}
	}

	return nil, fmt.Errorf("no matching method found for selector: 0x%x", methodID)
}

// DecodeCalldata resolves the method and unpacks its arguments by name
func DecodeCalldata(parsedABI abi.ABI, calldata []byte) (string, map[string]any, error) {
	method, err := GetMethodFromCalldata(parsedABI, calldata)
	if err != nil {
		return "", nil, err
	}

	args := map[string]any{}
	if err := method.Inputs.UnpackIntoMap(args, calldata[4:]); err != nil {
		return method.Name, nil, fmt.Errorf("cannot unpack %s arguments: %w", method.Name, err)
	}
	return method.Name, args, nil
}

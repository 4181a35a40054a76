package modules

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// NativeLoader exposes Go functions as a module object. Nothing in here
// touches the network or the filesystem.
type NativeLoader struct {
	exports map[string]any
}

func (l *NativeLoader) Load(runtime *goja.Runtime, name string) (goja.Value, error) {
	obj := runtime.NewObject()
	for k, fn := range l.exports {
		if err := obj.Set(k, fn); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func builtinModules() map[string]ModuleLoader {
	return map[string]ModuleLoader{
		"units":   &NativeLoader{exports: map[string]any{"formatUnits": FormatUnits, "parseUnits": ParseUnits}},
		"address": &NativeLoader{exports: map[string]any{"isAddress": IsAddress, "checksum": Checksum, "equal": AddressEqual}},
	}
}

// FormatUnits turns an integer amount into a decimal string with decimals
// places, e.g. formatUnits("1500000", 6) == "1.5"
func FormatUnits(value string, decimals int32) (string, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return "", fmt.Errorf("formatUnits: %w", err)
	}
	return d.Shift(-decimals).String(), nil
}

// ParseUnits is the inverse of FormatUnits. Fractions beyond decimals are
// rejected rather than rounded.
func ParseUnits(value string, decimals int32) (string, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return "", fmt.Errorf("parseUnits: %w", err)
	}
	shifted := d.Shift(decimals)
	if !shifted.IsInteger() {
		return "", fmt.Errorf("parseUnits: %s has more than %d decimals", value, decimals)
	}
	return shifted.BigInt().String(), nil
}

func IsAddress(s string) bool {
	return common.IsHexAddress(s)
}

func Checksum(s string) (string, error) {
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s).Hex(), nil
}

func AddressEqual(a, b string) bool {
	return common.IsHexAddress(a) && common.IsHexAddress(b) && common.HexToAddress(a) == common.HexToAddress(b)
}

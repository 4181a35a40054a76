package taskengine

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ParseABI accepts an ABI as a JSON string or as already decoded JSON
func ParseABI(def any) (*abi.ABI, error) {
	var raw string
	switch v := def.(type) {
	case string:
		raw = v
	case nil:
		return nil, fmt.Errorf("abi is required")
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cannot encode abi: %w", err)
		}
		raw = string(b)
	}

	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid abi: %w", err)
	}
	return &parsed, nil
}

// PackMethodCall encodes method with params given as JSON values
func PackMethodCall(parsed *abi.ABI, method string, params []any) ([]byte, error) {
	m, ok := parsed.Methods[method]
	if !ok {
		return nil, fmt.Errorf("method %s not found in abi", method)
	}
	if len(params) != len(m.Inputs) {
		return nil, fmt.Errorf("method %s takes %d parameters, got %d", method, len(m.Inputs), len(params))
	}

	args := make([]any, len(params))
	for i, input := range m.Inputs {
		v, err := convertABIArg(input.Type, params[i])
		if err != nil {
			name := input.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		args[i] = v
	}
	return parsed.Pack(method, args...)
}

func toBigInt(v any) (*big.Int, error) {
	switch t := v.(type) {
	case *big.Int:
		return t, nil
	case string:
		n, ok := new(big.Int).SetString(strings.TrimSpace(t), 0)
		if !ok {
			return nil, fmt.Errorf("%q is not an integer", t)
		}
		return n, nil
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("%v is not an integer", t)
		}
		n, _ := new(big.Float).SetFloat64(t).Int(nil)
		return n, nil
	case int:
		return big.NewInt(int64(t)), nil
	case int64:
		return big.NewInt(t), nil
	case uint64:
		return new(big.Int).SetUint64(t), nil
	case json.Number:
		return toBigInt(t.String())
	}
	return nil, fmt.Errorf("cannot use %T as an integer", v)
}

func toBytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		b, err := hexutil.Decode(t)
		if err != nil {
			return nil, fmt.Errorf("%q is not 0x prefixed hex: %w", t, err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("cannot use %T as bytes", v)
}

// convertABIArg turns a JSON value into the Go type abi.Pack expects for t
func convertABIArg(t abi.Type, v any) (any, error) {
	switch t.T {
	case abi.AddressTy:
		s, ok := v.(string)
		if !ok || !common.IsHexAddress(s) {
			return nil, fmt.Errorf("%v is not a valid address", v)
		}
		return common.HexToAddress(s), nil

	case abi.BoolTy:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			if b == "true" || b == "false" {
				return b == "true", nil
			}
		}
		return nil, fmt.Errorf("%v is not a boolean", v)

	case abi.StringTy:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%v is not a string", v)
		}
		return s, nil

	case abi.UintTy, abi.IntTy:
		n, err := toBigInt(v)
		if err != nil {
			return nil, err
		}
		if t.T == abi.UintTy && n.Sign() < 0 {
			return nil, fmt.Errorf("%s cannot be negative", t.String())
		}
		limit := t.Size
		if t.T == abi.IntTy {
			limit--
		}
		if n.BitLen() > limit {
			return nil, fmt.Errorf("%s overflows %s", n, t.String())
		}
		if t.Size > 64 {
			return n, nil
		}
		out := reflect.New(t.GetType()).Elem()
		if t.T == abi.UintTy {
			out.SetUint(n.Uint64())
		} else {
			out.SetInt(n.Int64())
		}
		return out.Interface(), nil

	case abi.BytesTy:
		return toBytes(v)

	case abi.FixedBytesTy:
		b, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		if len(b) > t.Size {
			return nil, fmt.Errorf("value is %d bytes, %s holds %d", len(b), t.String(), t.Size)
		}
		out := reflect.New(t.GetType()).Elem()
		reflect.Copy(out, reflect.ValueOf(b))
		return out.Interface(), nil

	case abi.SliceTy, abi.ArrayTy:
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%s expects an array", t.String())
		}
		if t.T == abi.ArrayTy && len(items) != t.Size {
			return nil, fmt.Errorf("%s expects %d items, got %d", t.String(), t.Size, len(items))
		}

		var out reflect.Value
		if t.T == abi.SliceTy {
			out = reflect.MakeSlice(t.GetType(), len(items), len(items))
		} else {
			out = reflect.New(t.GetType()).Elem()
		}
		for i, item := range items {
			converted, err := convertABIArg(*t.Elem, item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out.Index(i).Set(reflect.ValueOf(converted))
		}
		return out.Interface(), nil
	}

	return nil, fmt.Errorf("abi type %s is not supported", t.String())
}

// ConvertABIValue renders a decoded ABI value as JSON friendly data: big
// integers as decimal strings, addresses and bytes as hex.
func ConvertABIValue(value any) any {
	switch v := value.(type) {
	case *big.Int:
		return v.String()
	case common.Address:
		return v.Hex()
	case common.Hash:
		return v.Hex()
	case []byte:
		return hexutil.Encode(v)
	case string, bool:
		return v
	case uint8, uint16, uint32, uint64, int8, int16, int32, int64:
		return v
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return hexutil.Encode(b)
		}
		fallthrough
	case reflect.Slice:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = ConvertABIValue(rv.Index(i).Interface())
		}
		return out
	}
	return fmt.Sprintf("%v", value)
}

// UnpackMethodOutputs decodes return data into a map keyed by output name,
// unnamed outputs are keyed by position.
func UnpackMethodOutputs(parsed *abi.ABI, method string, data []byte) (map[string]any, error) {
	m, ok := parsed.Methods[method]
	if !ok {
		return nil, fmt.Errorf("method %s not found in abi", method)
	}
	values, err := m.Outputs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("cannot decode %s result: %w", method, err)
	}

	out := make(map[string]any, len(values))
	for i, v := range values {
		name := m.Outputs[i].Name
		if name == "" {
			name = fmt.Sprintf("%d", i)
		}
		out[name] = ConvertABIValue(v)
	}
	return out, nil
}

package macros

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"
)

// ProgramCacheSize bounds the compiled programs kept in memory. Conditions
// come from user workflows so the set of distinct expressions is unbounded.
const ProgramCacheSize = 512

var programs = mustProgramCache(ProgramCacheSize)

func mustProgramCache(size int) *lru.Cache {
	c, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	return c
}

// exprFunctions are the helpers available to every condition
var exprFunctions = []expr.Option{
	expr.Function("num", func(params ...any) (any, error) {
		d, err := ToDecimal(params[0])
		if err != nil {
			return nil, err
		}
		f, _ := d.Float64()
		return f, nil
	}, new(func(any) float64)),
	expr.Function("formatUnits", func(params ...any) (any, error) {
		d, err := ToDecimal(params[0])
		if err != nil {
			return nil, err
		}
		decimals, err := ToDecimal(params[1])
		if err != nil {
			return nil, err
		}
		return d.Shift(-int32(decimals.IntPart())).String(), nil
	}, new(func(any, any) string)),
	expr.Function("eqAddress", func(params ...any) (any, error) {
		a, _ := params[0].(string)
		b, _ := params[1].(string)
		return a != "" && strings.EqualFold(a, b), nil
	}, new(func(string, string) bool)),
}

func compile(expression string) (*vm.Program, error) {
	if p, ok := programs.Get(expression); ok {
		return p.(*vm.Program), nil
	}

	opts := append([]expr.Option{expr.AllowUndefinedVariables()}, exprFunctions...)
	program, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, err
	}
	programs.Add(expression, program)
	return program, nil
}

// CompileExpression reports whether expression parses, without running it
func CompileExpression(expression string) error {
	_, err := compile(expression)
	return err
}

// EvalExpression runs expression against env
func EvalExpression(expression string, env map[string]any) (any, error) {
	program, err := compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid expression: %w", err)
	}
	return expr.Run(program, env)
}

// EvalCondition runs expression and coerces the result to a boolean
func EvalCondition(expression string, env map[string]any) (bool, error) {
	v, err := EvalExpression(expression, env)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Truthy follows javascript truthiness: nil, false, 0, NaN and "" are
// false, everything else including empty collections is true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	case float32:
		return t != 0 && !math.IsNaN(float64(t))
	case *big.Int:
		return t != nil && t.Sign() != 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// ToDecimal converts numbers and numeric strings
func ToDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(t))
	case *big.Int:
		return decimal.NewFromBigInt(t, 0), nil
	case float64:
		return decimal.NewFromFloat(t), nil
	case float32:
		return decimal.NewFromFloat32(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int32:
		return decimal.NewFromInt32(t), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(t), 0), nil
	}
	return decimal.Zero, fmt.Errorf("cannot convert %T to a number", v)
}

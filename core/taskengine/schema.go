package taskengine

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// amounts travel as decimal strings in the smallest unit
	_ = v.RegisterValidation("wei", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
		return ok && n.Sign() >= 0
	})
	_ = v.RegisterValidation("evm_addr", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || common.IsHexAddress(s)
	})
	return v
}

// decodeNodeConfig decodes raw node inputs into out and validates it
// against the struct tags. Types are not coerced: a number where a string
// is expected is a configuration error.
func decodeNodeConfig(raw map[string]any, out any) *StructuredError {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     out,
		Squash:     true,
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return NewConfigurationError(err.Error())
	}
	if err := dec.Decode(raw); err != nil {
		return NewConfigurationError(err.Error())
	}

	if err := validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return NewConfigurationError(formatValidationErrors(verrs))
		}
		return NewConfigurationError(err.Error())
	}
	return nil
}

func formatValidationErrors(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", field))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		case "wei":
			parts = append(parts, fmt.Sprintf("%s must be a non negative integer amount", field))
		case "evm_addr", "eth_addr":
			parts = append(parts, fmt.Sprintf("%s is not a valid address", field))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

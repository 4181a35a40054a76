package taskengine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"

	"github.com/AvaProtocol/chainflow/core/chainio/rpc"
	"github.com/AvaProtocol/chainflow/core/taskengine/customcode"
	"github.com/AvaProtocol/chainflow/core/wallet"
)

const (
	WorkflowNotFoundError  = "workflow not found"
	ExecutionNotFoundError = "execution not found"

	StorageUnavailableError = "storage is not ready"
	StorageWriteError       = "cannot write to storage"

	WorkflowStorageCorruptedError = "workflow data storage is corrupted"
)

type ErrorCode string

const (
	ErrCodeInvalidNodeConfig     ErrorCode = "INVALID_NODE_CONFIG"
	ErrCodeInvalidSession        ErrorCode = "INVALID_SESSION"
	ErrCodeInsufficientBalance   ErrorCode = "INSUFFICIENT_BALANCE"
	ErrCodeApprovalDenied        ErrorCode = "APPROVAL_DENIED"
	ErrCodeExecutionError        ErrorCode = "EXECUTION_ERROR"
	ErrCodeMissingRequiredOutput ErrorCode = "MISSING_REQUIRED_OUTPUT"
	ErrCodeTimeout               ErrorCode = "TIMEOUT"
	ErrCodeRPCError              ErrorCode = "RPC_ERROR"
	ErrCodeGasEstimationFailed   ErrorCode = "GAS_ESTIMATION_FAILED"
)

// StructuredError provides consistent error handling with error codes
type StructuredError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Cause   error
}

func (e *StructuredError) Error() string {
	return e.Message
}

func (e *StructuredError) Unwrap() error {
	return e.Cause
}

func NewStructuredError(code ErrorCode, message string, details ...map[string]any) *StructuredError {
	var detailsMap map[string]any
	if len(details) > 0 {
		detailsMap = details[0]
	}

	return &StructuredError{
		Code:    code,
		Message: message,
		Details: detailsMap,
	}
}

// NewConfigurationError is returned when a node config or its inputs fail
// schema validation. It is never retried.
func NewConfigurationError(reason string) *StructuredError {
	return NewStructuredError(
		ErrCodeInvalidNodeConfig,
		fmt.Sprintf("invalid node configuration: %s", reason),
		map[string]any{"reason": reason},
	)
}

func NewInvalidSessionError(userID string) *StructuredError {
	return NewStructuredError(
		ErrCodeInvalidSession,
		"Invalid or expired wallet session",
		map[string]any{"userId": userID},
	)
}

func NewInsufficientBalanceError(balance, required *big.Int, token string) *StructuredError {
	asset := token
	if asset == "" {
		asset = "native"
	}
	return NewStructuredError(
		ErrCodeInsufficientBalance,
		fmt.Sprintf("Insufficient balance: have %s, need %s", balance, required),
		map[string]any{"balance": balance.String(), "required": required.String(), "token": asset},
	)
}

func NewApprovalDeniedError(reason string) *StructuredError {
	return NewStructuredError(
		ErrCodeApprovalDenied,
		"Transaction approval denied",
		map[string]any{"reason": reason},
	)
}

// NewExecutionError wraps an unexpected failure
func NewExecutionError(cause error) *StructuredError {
	e := NewStructuredError(ErrCodeExecutionError, fmt.Sprintf("execution failed: %v", cause))
	e.Cause = cause
	return e
}

func NewMissingRequiredOutputError(output string) *StructuredError {
	return NewStructuredError(
		ErrCodeMissingRequiredOutput,
		fmt.Sprintf("missing required output: %s", output),
		map[string]any{"output": output},
	)
}

func wrapStructured(code ErrorCode, prefix string, cause error) *StructuredError {
	e := NewStructuredError(code, fmt.Sprintf("%s: %v", prefix, cause))
	e.Cause = cause
	return e
}

// ToStructuredError maps errors from the wallet, rpc and interpreter layers
// onto the node error taxonomy.
func ToStructuredError(err error) *StructuredError {
	if err == nil {
		return nil
	}

	var se *StructuredError
	if errors.As(err, &se) {
		return se
	}

	var missing *customcode.MissingRequiredOutputError
	if errors.As(err, &missing) {
		e := NewMissingRequiredOutputError(missing.Output)
		e.Cause = err
		return e
	}

	var scriptErr *customcode.ScriptError
	if errors.As(err, &scriptErr) && scriptErr.Timeout {
		return wrapStructured(ErrCodeTimeout, "custom logic timed out", err)
	}

	switch {
	case errors.Is(err, wallet.ErrInvalidSession):
		e := NewInvalidSessionError("")
		e.Cause = err
		return e
	case errors.Is(err, wallet.ErrApprovalRequired):
		e := NewApprovalDeniedError(err.Error())
		e.Cause = err
		return e
	case errors.Is(err, wallet.ErrGasEstimation):
		return wrapStructured(ErrCodeGasEstimationFailed, "gas estimation failed", err)
	case errors.Is(err, wallet.ErrInvalidTx):
		e := NewConfigurationError(err.Error())
		e.Cause = err
		return e
	case rpc.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return wrapStructured(ErrCodeTimeout, "operation timed out", err)
	case isNetworkError(err):
		return wrapStructured(ErrCodeRPCError, "rpc request failed", err)
	}

	return NewExecutionError(err)
}

var terminalCodes = map[ErrorCode]bool{
	ErrCodeInvalidNodeConfig:     true,
	ErrCodeInvalidSession:        true,
	ErrCodeInsufficientBalance:   true,
	ErrCodeApprovalDenied:        true,
	ErrCodeMissingRequiredOutput: true,
}

// IsRetryable reports whether redriving the job could change the outcome.
// Business rule and configuration failures never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var se *StructuredError
	if errors.As(err, &se) {
		if terminalCodes[se.Code] {
			return false
		}
		if se.Code == ErrCodeTimeout || se.Code == ErrCodeRPCError {
			return true
		}
		if se.Cause == nil {
			return false
		}
		err = se.Cause
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || rpc.IsTimeout(err) {
		return true
	}
	return isNetworkError(err)
}

var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"timed out",
	"temporarily unavailable",
	"too many requests",
	"eof",
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

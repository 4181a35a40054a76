package rpc

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
)

// ErrNotFound is returned by REST queries for unknown accounts
var ErrNotFound = errors.New("not found")

// TimeoutError is returned when a transaction does not reach the requested
// number of confirmations before the deadline.
type TimeoutError struct {
	Hash          string
	Confirmations uint64
	Reached       uint64
	Waited        time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for %d confirmations of %s after %v (reached %d)", e.Confirmations, e.Hash, e.Waited, e.Reached)
}

func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ethereum.NotFound) || errors.Is(err, ErrNotFound)
}

package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a status update would move an
	// entity backwards in its lifecycle
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrFeeOverflow is returned when gas_limit * gas_price does not fit in uint64
	ErrFeeOverflow = errors.New("fee computation overflows uint64")
)

// InvalidTransactionError reports a transaction that failed structural validation
type InvalidTransactionError struct {
	Reason string
}

func (e *InvalidTransactionError) Error() string {
	return fmt.Sprintf("invalid transaction: %s", e.Reason)
}

// NewInvalidTransactionError builds an InvalidTransactionError with the given reason
func NewInvalidTransactionError(reason string) *InvalidTransactionError {
	return &InvalidTransactionError{Reason: reason}
}

// BlockValidationError reports a block that failed validation or chain linkage
type BlockValidationError struct {
	Reason string
}

func (e *BlockValidationError) Error() string {
	return fmt.Sprintf("block validation failed: %s", e.Reason)
}

// NewBlockValidationError builds a BlockValidationError with the given reason
func NewBlockValidationError(reason string) *BlockValidationError {
	return &BlockValidationError{Reason: reason}
}

package types

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/ledgerlabs/ledgercore/ledger"
)

// BatchStatus is the lifecycle stage of a validation batch
type BatchStatus string

const (
	// BatchStatusPending is the initial status of a created batch
	BatchStatusPending BatchStatus = "pending"
	// BatchStatusProcessing means a validator claimed the batch
	BatchStatusProcessing BatchStatus = "processing"
	// BatchStatusValidated means every transaction of the batch is valid
	BatchStatusValidated BatchStatus = "validated"
	// BatchStatusFailed means at least one transaction is invalid, or the
	// validation process itself failed
	BatchStatusFailed BatchStatus = "failed"
	// BatchStatusRejected means the batch was refused before any processing
	BatchStatusRejected BatchStatus = "rejected"
)

// ParseBatchStatus decodes a batch status from its stored text form
func ParseBatchStatus(s string) (BatchStatus, error) {
	switch BatchStatus(s) {
	case BatchStatusPending, BatchStatusProcessing, BatchStatusValidated,
		BatchStatusFailed, BatchStatusRejected:
		return BatchStatus(s), nil
	default:
		return "", fmt.Errorf("unknown batch status %q", s)
	}
}

// Validation failure codes recorded per transaction
const (
	// ErrCodeInvalidStructure marks a transaction failing structural validation
	ErrCodeInvalidStructure = "invalid_structure"
	// ErrCodeGasLimitTooLow marks an offered gas limit below the estimate
	ErrCodeGasLimitTooLow = "gas_limit_too_low"
	// ErrCodeInsufficientBalance marks a sender unable to cover amount plus fee
	ErrCodeInsufficientBalance = "insufficient_balance"
	// ErrCodeBadNonce marks a nonce that does not match the sender account
	ErrCodeBadNonce = "bad_nonce"
	// ErrCodeOverflow marks a required balance that overflows uint64
	ErrCodeOverflow = "overflow"
	// ErrCodeMissingTx marks a batched hash whose transaction could not be resolved
	ErrCodeMissingTx = "missing_transaction"
)

// FailedTransaction records why a single transaction failed validation.
// SuggestedGasLimit is only set for gas limit failures.
type FailedTransaction struct {
	TxHash            common.Hash `json:"tx_hash"`
	ErrorCode         string      `json:"error_code"`
	ErrorMessage      string      `json:"error_message"`
	SuggestedGasLimit uint64      `json:"suggested_gas_limit,omitempty"`
}

// BalanceChange records how validation would move an account, old and new
// values side by side
type BalanceChange struct {
	OldBalance uint64 `json:"old_balance"`
	NewBalance uint64 `json:"new_balance"`
	OldNonce   uint64 `json:"old_nonce"`
	NewNonce   uint64 `json:"new_nonce"`
}

// Result is the outcome of validating a batch. ErrorMessage is only set when
// the validation process itself failed.
type Result struct {
	FailedTxs      []FailedTransaction              `json:"failed_txs"`
	GasEstimates   map[common.Hash]uint64           `json:"gas_estimates"`
	BalanceChanges map[common.Address]BalanceChange `json:"balance_changes"`
	ElapsedMS      uint64                           `json:"elapsed_ms"`
	ErrorMessage   string                           `json:"error_message,omitempty"`
}

// HasFailures reports whether any transaction failed validation
func (r *Result) HasFailures() bool {
	return len(r.FailedTxs) > 0
}

// FailedHashes returns the hashes of the failed transactions
func (r *Result) FailedHashes() []common.Hash {
	hashes := make([]common.Hash, 0, len(r.FailedTxs))
	for _, failed := range r.FailedTxs {
		hashes = append(hashes, failed.TxHash)
	}

	return hashes
}

// ValidTxs filters the given transactions down to the ones that did not fail
// validation
func (r *Result) ValidTxs(txs []*ledger.Transaction) []*ledger.Transaction {
	failed := make(map[common.Hash]struct{}, len(r.FailedTxs))
	for _, f := range r.FailedTxs {
		failed[f.TxHash] = struct{}{}
	}
	valid := make([]*ledger.Transaction, 0, len(txs))
	for _, tx := range txs {
		if _, ok := failed[tx.Hash]; !ok {
			valid = append(valid, tx)
		}
	}

	return valid
}

// Batch is a group of transactions moving through the validation pipeline
// together. The batch references its transactions by hash only, the records
// themselves stay in the mempool until the batch settles.
type Batch struct {
	ID          uuid.UUID     `meddler:"id,uuid"`
	ValidatorID string        `meddler:"validator_id"`
	Status      BatchStatus   `meddler:"status"`
	TxHashes    []common.Hash `meddler:"tx_hashes,hashlist"`
	Result      *Result       `meddler:"result,json"`
	CreatedAt   time.Time     `meddler:"created_at,timestamp"`
	UpdatedAt   time.Time     `meddler:"updated_at,timestamp"`
	StartedAt   *time.Time    `meddler:"started_at,timestampPtr"`
	CompletedAt *time.Time    `meddler:"completed_at,timestampPtr"`
}

// NewBatch builds a pending batch over the given transaction hashes
func NewBatch(txHashes []common.Hash) *Batch {
	now := time.Now().UTC()

	return &Batch{
		ID:        uuid.New(),
		Status:    BatchStatusPending,
		TxHashes:  txHashes,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// StartProcessing moves the batch from pending to processing under the given
// validator and records when processing began
func (b *Batch) StartProcessing(validatorID string) error {
	if b.Status != BatchStatusPending {
		return fmt.Errorf("%w: batch %s is %s, cannot start processing",
			ledger.ErrInvalidTransition, b.ID, b.Status)
	}
	now := time.Now().UTC()
	b.Status = BatchStatusProcessing
	b.ValidatorID = validatorID
	b.StartedAt = &now
	b.UpdatedAt = now

	return nil
}

// MarkValidated moves the batch from processing to validated with its result
func (b *Batch) MarkValidated(result *Result) error {
	if b.Status != BatchStatusProcessing {
		return fmt.Errorf("%w: batch %s is %s, cannot mark validated",
			ledger.ErrInvalidTransition, b.ID, b.Status)
	}
	now := time.Now().UTC()
	b.Status = BatchStatusValidated
	b.Result = result
	b.CompletedAt = &now
	b.UpdatedAt = now

	return nil
}

// MarkFailed moves the batch from processing to failed
func (b *Batch) MarkFailed(result *Result) error {
	if b.Status != BatchStatusProcessing {
		return fmt.Errorf("%w: batch %s is %s, cannot mark failed",
			ledger.ErrInvalidTransition, b.ID, b.Status)
	}
	now := time.Now().UTC()
	b.Status = BatchStatusFailed
	b.Result = result
	b.CompletedAt = &now
	b.UpdatedAt = now

	return nil
}

// Reject refuses a batch that was never claimed. Rejection is only legal
// from pending.
func (b *Batch) Reject() error {
	if b.Status != BatchStatusPending {
		return fmt.Errorf("%w: batch %s is %s, cannot reject",
			ledger.ErrInvalidTransition, b.ID, b.Status)
	}
	now := time.Now().UTC()
	b.Status = BatchStatusRejected
	b.CompletedAt = &now
	b.UpdatedAt = now

	return nil
}

// IsTerminal reports whether the batch reached a final status
func (b *Batch) IsTerminal() bool {
	switch b.Status {
	case BatchStatusValidated, BatchStatusFailed, BatchStatusRejected:
		return true
	default:
		return false
	}
}

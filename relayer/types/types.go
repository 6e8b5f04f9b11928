package types

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/ledgerlabs/ledgercore/ledger"
)

// BatchStatus is the lifecycle stage of a relayer batch
type BatchStatus string

const (
	// BatchStatusQueued is the initial status of an enqueued batch
	BatchStatusQueued BatchStatus = "queued"
	// BatchStatusProcessing means a relayer claimed the batch
	BatchStatusProcessing BatchStatus = "processing"
	// BatchStatusCommitted means the commitment was anchored
	BatchStatusCommitted BatchStatus = "committed"
	// BatchStatusFailed means the last commit attempt failed
	BatchStatusFailed BatchStatus = "failed"
	// BatchStatusCancelled is the administrative terminal status
	BatchStatusCancelled BatchStatus = "cancelled"
)

// ParseBatchStatus decodes a relayer batch status from its stored text form
func ParseBatchStatus(s string) (BatchStatus, error) {
	switch BatchStatus(s) {
	case BatchStatusQueued, BatchStatusProcessing, BatchStatusCommitted,
		BatchStatusFailed, BatchStatusCancelled:
		return BatchStatus(s), nil
	default:
		return "", fmt.Errorf("unknown relayer batch status %q", s)
	}
}

// CommitmentData is what gets anchored for a block
type CommitmentData struct {
	MerkleRoot   common.Hash `json:"merkle_root"`
	BlockHeight  uint64      `json:"block_height"`
	BlockHash    common.Hash `json:"block_hash"`
	TxCount      uint64      `json:"tx_count"`
	TotalGas     uint64      `json:"total_gas"`
	TotalFees    uint64      `json:"total_fees"`
	Proof        []byte      `json:"proof"`
	AnchorTxHash common.Hash `json:"anchor_tx_hash,omitempty"`
}

// NewCommitmentData derives the commitment for a block. The proof binds the
// merkle root to the block identity.
func NewCommitmentData(block *ledger.Block) (*CommitmentData, error) {
	fees, err := block.TotalFees()
	if err != nil {
		return nil, err
	}
	var totalGas uint64
	for _, tx := range block.Transactions {
		totalGas += tx.GasLimit
	}
	proof := ledger.HashData(block.Header.MerkleRoot.Bytes(), block.Hash.Bytes())

	return &CommitmentData{
		MerkleRoot:  block.Header.MerkleRoot,
		BlockHeight: block.Header.Height,
		BlockHash:   block.Hash,
		TxCount:     uint64(len(block.Transactions)),
		TotalGas:    totalGas,
		TotalFees:   fees,
		Proof:       proof.Bytes(),
	}, nil
}

// Batch is a block commitment moving through the relaying pipeline. It
// carries the hashes of the block's transactions so the commitment can be
// checked against the stored block, and the anchor's target height as
// observed on the last attempt. LastAttempt is nil until a relayer claims
// the batch.
type Batch struct {
	ID           uuid.UUID       `meddler:"id,uuid"`
	RelayerID    string          `meddler:"relayer_id"`
	Status       BatchStatus     `meddler:"status"`
	BlockHeight  uint64          `meddler:"block_height"`
	BlockHash    common.Hash     `meddler:"block_hash,hash"`
	TxHashes     []common.Hash   `meddler:"tx_hashes,hashlist"`
	TargetHeight uint64          `meddler:"target_height"`
	RetryCount   uint32          `meddler:"retry_count"`
	MaxRetries   uint32          `meddler:"max_retries"`
	Commitment   *CommitmentData `meddler:"commitment,json"`
	LastError    string          `meddler:"last_error"`
	CreatedAt    time.Time       `meddler:"created_at,timestamp"`
	UpdatedAt    time.Time       `meddler:"updated_at,timestamp"`
	LastAttempt  *time.Time      `meddler:"last_attempt,timestampPtr"`
}

// NewBatch builds a queued batch for the given block
func NewBatch(block *ledger.Block, maxRetries uint32) *Batch {
	now := time.Now().UTC()
	txHashes := make([]common.Hash, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		txHashes = append(txHashes, tx.Hash)
	}

	return &Batch{
		ID:          uuid.New(),
		Status:      BatchStatusQueued,
		BlockHeight: block.Header.Height,
		BlockHash:   block.Hash,
		TxHashes:    txHashes,
		MaxRetries:  maxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// StartProcessing moves the batch from queued to processing under the given
// relayer and stamps the attempt
func (b *Batch) StartProcessing(relayerID string) error {
	if b.Status != BatchStatusQueued {
		return fmt.Errorf("%w: relayer batch %s is %s, cannot start processing",
			ledger.ErrInvalidTransition, b.ID, b.Status)
	}
	now := time.Now().UTC()
	b.Status = BatchStatusProcessing
	b.RelayerID = relayerID
	b.UpdatedAt = now
	b.LastAttempt = &now

	return nil
}

// MarkCommitted moves the batch from processing to committed with the
// anchored commitment
func (b *Batch) MarkCommitted(commitment *CommitmentData) error {
	if b.Status != BatchStatusProcessing {
		return fmt.Errorf("%w: relayer batch %s is %s, cannot mark committed",
			ledger.ErrInvalidTransition, b.ID, b.Status)
	}
	b.Status = BatchStatusCommitted
	b.Commitment = commitment
	b.LastError = ""
	b.UpdatedAt = time.Now().UTC()

	return nil
}

// MarkFailed moves the batch from processing to failed and burns one retry
func (b *Batch) MarkFailed(reason string) error {
	if b.Status != BatchStatusProcessing {
		return fmt.Errorf("%w: relayer batch %s is %s, cannot mark failed",
			ledger.ErrInvalidTransition, b.ID, b.Status)
	}
	b.Status = BatchStatusFailed
	b.RetryCount++
	b.LastError = reason
	b.UpdatedAt = time.Now().UTC()

	return nil
}

// CanRetry reports whether a failed batch still has retry budget
func (b *Batch) CanRetry() bool {
	return b.Status == BatchStatusFailed && b.RetryCount < b.MaxRetries
}

// Retry requeues a failed batch that still has retry budget
func (b *Batch) Retry() error {
	if !b.CanRetry() {
		return fmt.Errorf("%w: relayer batch %s is %s with %d of %d retries used",
			ledger.ErrInvalidTransition, b.ID, b.Status, b.RetryCount, b.MaxRetries)
	}
	b.Status = BatchStatusQueued
	b.UpdatedAt = time.Now().UTC()

	return nil
}

// Cancel administratively terminates a batch. Committed batches cannot be
// cancelled.
func (b *Batch) Cancel() error {
	if b.Status == BatchStatusCommitted || b.Status == BatchStatusCancelled {
		return fmt.Errorf("%w: relayer batch %s is %s, cannot cancel",
			ledger.ErrInvalidTransition, b.ID, b.Status)
	}
	b.Status = BatchStatusCancelled
	b.UpdatedAt = time.Now().UTC()

	return nil
}

// IsTerminal reports whether the batch can make no further progress
func (b *Batch) IsTerminal() bool {
	switch b.Status {
	case BatchStatusCommitted, BatchStatusCancelled:
		return true
	case BatchStatusFailed:
		return !b.CanRetry()
	default:
		return false
	}
}

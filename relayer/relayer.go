package relayer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgerlabs/ledgercore/anchor"
	"github.com/ledgerlabs/ledgercore/db"
	"github.com/ledgerlabs/ledgercore/ledger"
	"github.com/ledgerlabs/ledgercore/log"
	"github.com/ledgerlabs/ledgercore/relayer/types"
)

// BlockReader provides the blocks whose commitments get relayed
type BlockReader interface {
	GetBlockByHeight(ctx context.Context, height uint64) (*ledger.Block, error)
}

// RelayerStorage is the persistence used by the relaying pipeline
type RelayerStorage interface {
	ClaimQueuedBatch(ctx context.Context, relayerID string) (*types.Batch, error)
	UpdateBatch(ctx context.Context, batch *types.Batch) error
	RequeueRetryable(ctx context.Context, cutoff time.Time) (int64, error)
}

// Relayer drains the commitment queue, derives commitment data from stored
// blocks and anchors it
type Relayer struct {
	logger  *log.Logger
	cfg     Config
	storage RelayerStorage
	blocks  BlockReader
	sender  anchor.Sender
}

// New builds a Relayer
func New(
	logger *log.Logger,
	cfg Config,
	storage RelayerStorage,
	blocks BlockReader,
	sender anchor.Sender,
) *Relayer {
	return &Relayer{
		logger:  logger,
		cfg:     cfg,
		storage: storage,
		blocks:  blocks,
		sender:  sender,
	}
}

// Start runs the relaying loop until the context is cancelled
func (r *Relayer) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed, err := r.RunCycle(ctx)
		if err != nil {
			r.logger.Errorf("relay cycle failed: %v", err)
		}
		if !processed {
			time.Sleep(r.cfg.WaitOnEmptyQueue.Duration)
		}
	}
}

// RunCycle requeues retryable failures and processes one queued batch. Returns
// false when the queue was empty.
func (r *Relayer) RunCycle(ctx context.Context) (bool, error) {
	cutoff := time.Now().UTC().Add(-r.cfg.RetryInterval.Duration)
	if _, err := r.storage.RequeueRetryable(ctx, cutoff); err != nil {
		return false, fmt.Errorf("error requeueing retryable batches: %w", err)
	}

	batch, err := r.storage.ClaimQueuedBatch(ctx, r.cfg.RelayerID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("error claiming relayer batch: %w", err)
	}

	return true, r.ProcessBatch(ctx, batch)
}

// ProcessBatch anchors the commitment of a claimed batch. The anchor's
// current target height is recorded on the batch before submitting. Failures
// burn one retry and leave the batch to the requeue pass.
func (r *Relayer) ProcessBatch(ctx context.Context, batch *types.Batch) error {
	target, err := r.sender.TargetHeight(ctx)
	if err != nil {
		return r.fail(ctx, batch, fmt.Errorf("error fetching anchor target height: %w", err))
	}
	batch.TargetHeight = target

	commitment, err := r.buildCommitment(ctx, batch)
	if err != nil {
		return r.fail(ctx, batch, err)
	}

	anchorTx, err := r.sender.SubmitCommitment(ctx, commitment)
	if err != nil {
		return r.fail(ctx, batch, fmt.Errorf("error submitting commitment: %w", err))
	}
	commitment.AnchorTxHash = anchorTx

	if err := batch.MarkCommitted(commitment); err != nil {
		return err
	}
	if err := r.storage.UpdateBatch(ctx, batch); err != nil {
		return err
	}
	r.logger.Infof("committed block %d (merkle root %s) in anchor tx %s",
		batch.BlockHeight, commitment.MerkleRoot, anchorTx)

	return nil
}

func (r *Relayer) buildCommitment(ctx context.Context, batch *types.Batch) (*types.CommitmentData, error) {
	block, err := r.blocks.GetBlockByHeight(ctx, batch.BlockHeight)
	if err != nil {
		return nil, fmt.Errorf("error loading block %d: %w", batch.BlockHeight, err)
	}
	if block.Hash != batch.BlockHash {
		return nil, fmt.Errorf("block %d hash %s does not match batch %s",
			batch.BlockHeight, block.Hash, batch.BlockHash)
	}
	if len(block.Transactions) != len(batch.TxHashes) {
		return nil, fmt.Errorf("block %d carries %d transactions, batch expects %d",
			batch.BlockHeight, len(block.Transactions), len(batch.TxHashes))
	}
	inBlock := make(map[common.Hash]struct{}, len(block.Transactions))
	for _, tx := range block.Transactions {
		inBlock[tx.Hash] = struct{}{}
	}
	for _, hash := range batch.TxHashes {
		if _, ok := inBlock[hash]; !ok {
			return nil, fmt.Errorf("block %d does not contain transaction %s",
				batch.BlockHeight, hash)
		}
	}

	return types.NewCommitmentData(block)
}

// fail records a failed attempt. The batch stays failed until the requeue
// pass runs, or forever once the retry budget is exhausted.
func (r *Relayer) fail(ctx context.Context, batch *types.Batch, cause error) error {
	if err := batch.MarkFailed(cause.Error()); err != nil {
		return err
	}
	if err := r.storage.UpdateBatch(ctx, batch); err != nil {
		return err
	}
	if batch.CanRetry() {
		r.logger.Warnf("relayer batch %s failed (attempt %d of %d): %v",
			batch.ID, batch.RetryCount, batch.MaxRetries, cause)
	} else {
		r.logger.Errorf("relayer batch %s exhausted its retries: %v", batch.ID, cause)
	}

	return cause
}

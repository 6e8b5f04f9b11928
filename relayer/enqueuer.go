package relayer

import (
	"context"

	"github.com/ledgerlabs/ledgercore/ledger"
	"github.com/ledgerlabs/ledgercore/relayer/types"
)

// BatchSaver persists newly queued batches
type BatchSaver interface {
	SaveBatch(ctx context.Context, batch *types.Batch) error
}

// Enqueuer queues block commitments for relaying
type Enqueuer struct {
	storage    BatchSaver
	maxRetries uint32
}

// NewEnqueuer builds an Enqueuer whose batches carry the given retry budget
func NewEnqueuer(storage BatchSaver, maxRetries uint32) *Enqueuer {
	return &Enqueuer{
		storage:    storage,
		maxRetries: maxRetries,
	}
}

// EnqueueBlock queues a commitment batch for the given block
func (e *Enqueuer) EnqueueBlock(ctx context.Context, block *ledger.Block) error {
	return e.storage.SaveBatch(ctx, types.NewBatch(block, e.maxRetries))
}

package types

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgerlabs/ledgercore/ledger"
	"github.com/stretchr/testify/require"
)

func testBlock() *ledger.Block {
	sender := common.HexToAddress("0x01")
	recipient := common.HexToAddress("0x02")
	tx := ledger.NewTransfer(sender, recipient, 100, 0, 21000, 2)

	return ledger.NewBlock(7, common.HexToHash("0x06"), []*ledger.Transaction{tx}, 1)
}

func queuedBatch() *Batch {
	return NewBatch(testBlock(), 3)
}

func TestNewBatchFromBlock(t *testing.T) {
	block := testBlock()
	batch := NewBatch(block, 3)

	require.Equal(t, uint64(7), batch.BlockHeight)
	require.Equal(t, block.Hash, batch.BlockHash)
	require.Equal(t, []common.Hash{block.Transactions[0].Hash}, batch.TxHashes)
	require.Nil(t, batch.LastAttempt)
	require.Zero(t, batch.TargetHeight)
}

func TestNewCommitmentData(t *testing.T) {
	sender := common.HexToAddress("0x01")
	recipient := common.HexToAddress("0x02")
	tx1 := ledger.NewTransfer(sender, recipient, 100, 0, 21000, 2)
	tx2 := ledger.NewTransfer(sender, recipient, 50, 1, 30000, 1)
	block := ledger.NewBlock(7, common.HexToHash("0x06"), []*ledger.Transaction{tx1, tx2}, 1)

	commitment, err := NewCommitmentData(block)
	require.NoError(t, err)
	require.Equal(t, block.Header.MerkleRoot, commitment.MerkleRoot)
	require.Equal(t, uint64(7), commitment.BlockHeight)
	require.Equal(t, block.Hash, commitment.BlockHash)
	require.Equal(t, uint64(2), commitment.TxCount)
	require.Equal(t, uint64(21000+30000), commitment.TotalGas)
	require.Equal(t, uint64(21000*2+30000), commitment.TotalFees)
	require.Equal(t,
		ledger.HashData(block.Header.MerkleRoot.Bytes(), block.Hash.Bytes()).Bytes(),
		commitment.Proof)
}

func TestBatchLifecycle(t *testing.T) {
	batch := queuedBatch()
	require.Equal(t, BatchStatusQueued, batch.Status)
	require.False(t, batch.IsTerminal())

	require.NoError(t, batch.StartProcessing("relayer-1"))
	require.Equal(t, "relayer-1", batch.RelayerID)
	require.NotNil(t, batch.LastAttempt)

	require.NoError(t, batch.MarkCommitted(&CommitmentData{BlockHeight: 7}))
	require.Equal(t, BatchStatusCommitted, batch.Status)
	require.True(t, batch.IsTerminal())

	require.ErrorIs(t, batch.Cancel(), ledger.ErrInvalidTransition)
}

func TestBatchRetryBudget(t *testing.T) {
	batch := queuedBatch()

	for attempt := uint32(1); attempt <= batch.MaxRetries; attempt++ {
		require.NoError(t, batch.StartProcessing("relayer-1"))
		require.NoError(t, batch.MarkFailed("anchor unreachable"))
		require.Equal(t, attempt, batch.RetryCount)

		if attempt < batch.MaxRetries {
			require.True(t, batch.CanRetry())
			require.False(t, batch.IsTerminal())
			require.NoError(t, batch.Retry())
		}
	}

	// retry budget exhausted
	require.False(t, batch.CanRetry())
	require.True(t, batch.IsTerminal())
	require.ErrorIs(t, batch.Retry(), ledger.ErrInvalidTransition)
	require.Equal(t, "anchor unreachable", batch.LastError)
}

func TestBatchIllegalTransitions(t *testing.T) {
	batch := queuedBatch()

	require.ErrorIs(t, batch.MarkCommitted(&CommitmentData{}), ledger.ErrInvalidTransition)
	require.ErrorIs(t, batch.MarkFailed("x"), ledger.ErrInvalidTransition)
	require.ErrorIs(t, batch.Retry(), ledger.ErrInvalidTransition)

	require.NoError(t, batch.StartProcessing("relayer-1"))
	require.ErrorIs(t, batch.StartProcessing("relayer-2"), ledger.ErrInvalidTransition)
}

func TestBatchCancel(t *testing.T) {
	queued := queuedBatch()
	require.NoError(t, queued.Cancel())
	require.Equal(t, BatchStatusCancelled, queued.Status)
	require.True(t, queued.IsTerminal())
	require.ErrorIs(t, queued.Cancel(), ledger.ErrInvalidTransition)
	require.ErrorIs(t, queued.StartProcessing("relayer-1"), ledger.ErrInvalidTransition)

	failed := queuedBatch()
	require.NoError(t, failed.StartProcessing("relayer-1"))
	require.NoError(t, failed.MarkFailed("boom"))
	require.NoError(t, failed.Cancel())
	require.Equal(t, BatchStatusCancelled, failed.Status)
}

func TestParseBatchStatus(t *testing.T) {
	parsed, err := ParseBatchStatus("cancelled")
	require.NoError(t, err)
	require.Equal(t, BatchStatusCancelled, parsed)

	_, err = ParseBatchStatus("dropped")
	require.Error(t, err)
}

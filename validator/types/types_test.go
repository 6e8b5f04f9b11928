package types

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgerlabs/ledgercore/ledger"
	"github.com/stretchr/testify/require"
)

func testTxs() []*ledger.Transaction {
	sender := common.HexToAddress("0x01")
	recipient := common.HexToAddress("0x02")

	return []*ledger.Transaction{
		ledger.NewTransfer(sender, recipient, 10, 0, 21000, 1),
		ledger.NewTransfer(sender, recipient, 20, 1, 21000, 1),
	}
}

func hashesOf(txs []*ledger.Transaction) []common.Hash {
	hashes := make([]common.Hash, 0, len(txs))
	for _, tx := range txs {
		hashes = append(hashes, tx.Hash)
	}

	return hashes
}

func testBatch() *Batch {
	return NewBatch(hashesOf(testTxs()))
}

func TestNewBatch(t *testing.T) {
	batch := testBatch()
	require.Equal(t, BatchStatusPending, batch.Status)
	require.NotEqual(t, batch.ID.String(), "00000000-0000-0000-0000-000000000000")
	require.Len(t, batch.TxHashes, 2)
	require.Nil(t, batch.StartedAt)
	require.Nil(t, batch.CompletedAt)
	require.False(t, batch.IsTerminal())
}

func TestBatchLifecycle(t *testing.T) {
	batch := testBatch()

	require.NoError(t, batch.StartProcessing("validator-1"))
	require.Equal(t, BatchStatusProcessing, batch.Status)
	require.Equal(t, "validator-1", batch.ValidatorID)
	require.NotNil(t, batch.StartedAt)
	require.Nil(t, batch.CompletedAt)

	result := &Result{ElapsedMS: 3}
	require.NoError(t, batch.MarkValidated(result))
	require.Equal(t, BatchStatusValidated, batch.Status)
	require.Equal(t, result, batch.Result)
	require.NotNil(t, batch.CompletedAt)
	require.False(t, batch.CompletedAt.Before(*batch.StartedAt))
	require.True(t, batch.IsTerminal())
}

func TestBatchFailedRecordsCompletion(t *testing.T) {
	batch := testBatch()
	require.NoError(t, batch.StartProcessing("validator-1"))

	result := &Result{FailedTxs: []FailedTransaction{{
		TxHash:    batch.TxHashes[0],
		ErrorCode: ErrCodeInsufficientBalance,
	}}}
	require.NoError(t, batch.MarkFailed(result))
	require.Equal(t, BatchStatusFailed, batch.Status)
	require.True(t, batch.Result.HasFailures())
	require.NotNil(t, batch.CompletedAt)
	require.True(t, batch.IsTerminal())
}

func TestBatchIllegalTransitions(t *testing.T) {
	batch := testBatch()

	// not claimed yet
	require.ErrorIs(t, batch.MarkValidated(&Result{}), ledger.ErrInvalidTransition)
	require.ErrorIs(t, batch.MarkFailed(&Result{}), ledger.ErrInvalidTransition)

	require.NoError(t, batch.StartProcessing("validator-1"))
	// double claim
	require.ErrorIs(t, batch.StartProcessing("validator-2"), ledger.ErrInvalidTransition)
	// rejection is only legal before processing started
	require.ErrorIs(t, batch.Reject(), ledger.ErrInvalidTransition)

	require.NoError(t, batch.MarkFailed(&Result{}))
	// terminal
	require.ErrorIs(t, batch.StartProcessing("validator-1"), ledger.ErrInvalidTransition)
	require.ErrorIs(t, batch.MarkValidated(&Result{}), ledger.ErrInvalidTransition)
}

func TestBatchReject(t *testing.T) {
	batch := testBatch()
	require.NoError(t, batch.Reject())
	require.Equal(t, BatchStatusRejected, batch.Status)
	require.True(t, batch.IsTerminal())
	require.ErrorIs(t, batch.StartProcessing("validator-1"), ledger.ErrInvalidTransition)
}

func TestResultValidTxs(t *testing.T) {
	txs := testTxs()
	result := &Result{FailedTxs: []FailedTransaction{{
		TxHash:    txs[0].Hash,
		ErrorCode: ErrCodeBadNonce,
	}}}

	valid := result.ValidTxs(txs)
	require.Len(t, valid, 1)
	require.Equal(t, txs[1].Hash, valid[0].Hash)
	require.Equal(t, []common.Hash{txs[0].Hash}, result.FailedHashes())

	all := (&Result{}).ValidTxs(txs)
	require.Len(t, all, 2)
	require.False(t, (&Result{}).HasFailures())
}

func TestParseBatchStatus(t *testing.T) {
	parsed, err := ParseBatchStatus("processing")
	require.NoError(t, err)
	require.Equal(t, BatchStatusProcessing, parsed)

	_, err = ParseBatchStatus("done")
	require.Error(t, err)
}

package db

import (
	"context"
	"path"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/ledgerlabs/ledgercore/db"
	"github.com/ledgerlabs/ledgercore/ledger"
	"github.com/ledgerlabs/ledgercore/log"
	"github.com/ledgerlabs/ledgercore/validator/types"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *ValidatorSQLStorage {
	t.Helper()
	storage, err := NewValidatorSQLStorage(
		log.WithFields("test", t.Name()),
		path.Join(t.TempDir(), "validator.sqlite"),
	)
	require.NoError(t, err)

	return storage
}

func newBatch() *types.Batch {
	sender := common.HexToAddress("0x01")
	recipient := common.HexToAddress("0x02")
	tx := ledger.NewTransfer(sender, recipient, 10, 0, 21000, 1)

	return types.NewBatch([]common.Hash{tx.Hash})
}

func TestSaveAndGetBatch(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	batch := newBatch()
	require.NoError(t, storage.SaveBatch(ctx, batch))

	loaded, err := storage.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, batch.ID, loaded.ID)
	require.Equal(t, types.BatchStatusPending, loaded.Status)
	require.Equal(t, batch.TxHashes, loaded.TxHashes)
	require.Nil(t, loaded.Result)
	require.Nil(t, loaded.StartedAt)
	require.Nil(t, loaded.CompletedAt)

	_, err = storage.GetBatch(ctx, uuid.New())
	require.ErrorIs(t, err, db.ErrNotFound)
}

func TestClaimPendingBatch(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	older := newBatch()
	require.NoError(t, storage.SaveBatch(ctx, older))
	newer := newBatch()
	newer.CreatedAt = older.CreatedAt.Add(1)
	require.NoError(t, storage.SaveBatch(ctx, newer))

	claimed, err := storage.ClaimPendingBatch(ctx, "validator-1")
	require.NoError(t, err)
	require.Equal(t, older.ID, claimed.ID)
	require.Equal(t, types.BatchStatusProcessing, claimed.Status)
	require.Equal(t, "validator-1", claimed.ValidatorID)

	// the claim persists when processing began
	loaded, err := storage.GetBatch(ctx, older.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.StartedAt)

	// second claim must get the other batch, not the one already claimed
	claimed2, err := storage.ClaimPendingBatch(ctx, "validator-2")
	require.NoError(t, err)
	require.Equal(t, newer.ID, claimed2.ID)

	_, err = storage.ClaimPendingBatch(ctx, "validator-3")
	require.ErrorIs(t, err, db.ErrNotFound)
}

func TestUpdateBatch(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	batch := newBatch()
	require.NoError(t, storage.SaveBatch(ctx, batch))

	claimed, err := storage.ClaimPendingBatch(ctx, "validator-1")
	require.NoError(t, err)

	result := &types.Result{
		FailedTxs:    []types.FailedTransaction{},
		GasEstimates: map[common.Hash]uint64{claimed.TxHashes[0]: 21000},
		ElapsedMS:    7,
	}
	require.NoError(t, claimed.MarkValidated(result))
	require.NoError(t, storage.UpdateBatch(ctx, claimed))

	loaded, err := storage.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, types.BatchStatusValidated, loaded.Status)
	require.NotNil(t, loaded.Result)
	require.Equal(t, uint64(7), loaded.Result.ElapsedMS)
	require.Equal(t, uint64(21000), loaded.Result.GasEstimates[claimed.TxHashes[0]])
	require.NotNil(t, loaded.StartedAt)
	require.NotNil(t, loaded.CompletedAt)
	require.Equal(t, claimed.CompletedAt.UnixNano(), loaded.CompletedAt.UnixNano())
}

func TestUpdateBatchWithFailures(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	batch := newBatch()
	require.NoError(t, storage.SaveBatch(ctx, batch))
	claimed, err := storage.ClaimPendingBatch(ctx, "validator-1")
	require.NoError(t, err)

	result := &types.Result{FailedTxs: []types.FailedTransaction{{
		TxHash:            claimed.TxHashes[0],
		ErrorCode:         types.ErrCodeGasLimitTooLow,
		ErrorMessage:      "gas limit 21000 below estimate 53000",
		SuggestedGasLimit: 53000,
	}}}
	require.NoError(t, claimed.MarkFailed(result))
	require.NoError(t, storage.UpdateBatch(ctx, claimed))

	loaded, err := storage.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, types.BatchStatusFailed, loaded.Status)
	require.Len(t, loaded.Result.FailedTxs, 1)
	require.Equal(t, types.ErrCodeGasLimitTooLow, loaded.Result.FailedTxs[0].ErrorCode)
	require.Equal(t, uint64(53000), loaded.Result.FailedTxs[0].SuggestedGasLimit)
}

func TestUpdateBatchNotFound(t *testing.T) {
	storage := newTestStorage(t)

	batch := newBatch()
	err := storage.UpdateBatch(context.Background(), batch)
	require.ErrorIs(t, err, db.ErrNotFound)
}

func TestGetBatchesByStatus(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	first := newBatch()
	require.NoError(t, storage.SaveBatch(ctx, first))
	second := newBatch()
	second.CreatedAt = first.CreatedAt.Add(1)
	require.NoError(t, storage.SaveBatch(ctx, second))

	_, err := storage.ClaimPendingBatch(ctx, "validator-1")
	require.NoError(t, err)

	pending, err := storage.GetBatchesByStatus(ctx, types.BatchStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, second.ID, pending[0].ID)

	processing, err := storage.GetBatchesByStatus(ctx, types.BatchStatusProcessing)
	require.NoError(t, err)
	require.Len(t, processing, 1)
	require.Equal(t, first.ID, processing[0].ID)
}

package chain

import (
	"context"
	"path"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgerlabs/ledgercore/config/types"
	"github.com/ledgerlabs/ledgercore/ledger"
	"github.com/ledgerlabs/ledgercore/log"
	"github.com/ledgerlabs/ledgercore/mempool"
	"github.com/ledgerlabs/ledgercore/relayer"
	relayerdb "github.com/ledgerlabs/ledgercore/relayer/db"
	rtypes "github.com/ledgerlabs/ledgercore/relayer/types"
	"github.com/ledgerlabs/ledgercore/state"
	"github.com/ledgerlabs/ledgercore/validator"
	validatordb "github.com/ledgerlabs/ledgercore/validator/db"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	commitments []*rtypes.CommitmentData
}

func (r *recordingSender) SubmitCommitment(_ context.Context, commitment *rtypes.CommitmentData) (common.Hash, error) {
	r.commitments = append(r.commitments, commitment)
	return ledger.HashData(commitment.Proof), nil
}

func (r *recordingSender) TargetHeight(_ context.Context) (uint64, error) {
	if len(r.commitments) == 0 {
		return 0, nil
	}
	return r.commitments[len(r.commitments)-1].BlockHeight, nil
}

// TestSubmitToAnchorPipeline drives a transaction through the whole node:
// mempool admission, batch validation, block assembly and commitment
// relaying.
func TestSubmitToAnchorPipeline(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := log.WithFields("test", t.Name())

	stateStorage, err := state.NewStorage(logger, state.Config{DBPath: path.Join(dir, "state.sqlite")})
	require.NoError(t, err)
	pool, err := mempool.New(mempool.Config{DBPath: path.Join(dir, "mempool")})
	require.NoError(t, err)
	defer pool.Close()
	validatorStorage, err := validatordb.NewValidatorSQLStorage(logger, path.Join(dir, "validator.sqlite"))
	require.NoError(t, err)
	relayerStorage, err := relayerdb.NewRelayerSQLStorage(logger, path.Join(dir, "relayer.sqlite"))
	require.NoError(t, err)

	manager := New(logger, Config{BlockDifficulty: 1}, stateStorage, relayer.NewEnqueuer(relayerStorage, 3))
	require.NoError(t, manager.Bootstrap(ctx))
	fund(t, stateStorage, alice, 1_000_000)

	v := validator.New(logger, validator.Config{
		ValidatorID:        "validator-1",
		BatchSize:          16,
		BatchInterval:      types.NewDuration(time.Millisecond),
		WaitOnEmptyMempool: types.NewDuration(time.Millisecond),
	}, pool, validatorStorage, stateStorage, manager)

	sender := &recordingSender{}
	r := relayer.New(logger, relayer.Config{
		RelayerID:        "relayer-1",
		MaxRetries:       3,
		RetryInterval:    types.NewDuration(time.Millisecond),
		WaitOnEmptyQueue: types.NewDuration(time.Millisecond),
	}, relayerStorage, stateStorage, sender)

	// submit two transfers and one rubbish transfer from an unfunded sender,
	// equal gas prices keep the funded transfers in nonce order
	tx1 := ledger.NewTransfer(alice, bob, 100, 0, 21000, 1)
	tx2 := ledger.NewTransfer(alice, bob, 200, 1, 21000, 1)
	broke := common.HexToAddress("0x3333333333333333333333333333333333333333")
	tx3 := ledger.NewTransfer(broke, bob, 50, 0, 21000, 1)
	require.NoError(t, pool.Add(ctx, tx1))
	require.NoError(t, pool.Add(ctx, tx2))
	require.NoError(t, pool.Add(ctx, tx3))

	// the first pass batches all three, the unfunded transfer fails the
	// batch, gets dropped from the pool, and the funded ones go back
	empty, err := v.RunCycle(ctx)
	require.NoError(t, err)
	require.False(t, empty)

	head, err := manager.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), head.Header.Height)
	remaining, err := pool.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), remaining)

	// the second pass rebatches the released transfers into a block
	empty, err = v.RunCycle(ctx)
	require.NoError(t, err)
	require.False(t, empty)

	head, err = manager.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), head.Header.Height)
	require.Len(t, head.Transactions, 2)
	require.True(t, head.ContainsTransaction(tx1.Hash))
	require.True(t, head.ContainsTransaction(tx2.Hash))
	require.False(t, head.ContainsTransaction(tx3.Hash))

	// the pool is fully drained
	remaining, err = pool.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, remaining)

	// one relay pass anchors the commitment
	processed, err := r.RunCycle(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	require.Len(t, sender.commitments, 1)
	require.Equal(t, head.Header.MerkleRoot, sender.commitments[0].MerkleRoot)
	require.Equal(t, uint64(2), sender.commitments[0].TxCount)

	committed, err := relayerStorage.GetBatchesByStatus(ctx, rtypes.BatchStatusCommitted)
	require.NoError(t, err)
	require.Len(t, committed, 1)
	require.ElementsMatch(t, []common.Hash{tx1.Hash, tx2.Hash}, committed[0].TxHashes)
	require.NotNil(t, committed[0].LastAttempt)

	// balances settled
	account, err := stateStorage.GetAccount(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, uint64(300), account.Balance)
}

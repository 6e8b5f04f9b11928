package relayer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgerlabs/ledgercore/config/types"
	"github.com/ledgerlabs/ledgercore/db"
	"github.com/ledgerlabs/ledgercore/ledger"
	"github.com/ledgerlabs/ledgercore/log"
	rtypes "github.com/ledgerlabs/ledgercore/relayer/types"
	"github.com/stretchr/testify/require"
)

type fakeStorage struct {
	queued  []*rtypes.Batch
	updated []*rtypes.Batch
}

func (f *fakeStorage) SaveBatch(_ context.Context, batch *rtypes.Batch) error {
	f.queued = append(f.queued, batch)
	return nil
}

func (f *fakeStorage) ClaimQueuedBatch(_ context.Context, relayerID string) (*rtypes.Batch, error) {
	if len(f.queued) == 0 {
		return nil, db.ErrNotFound
	}
	batch := f.queued[0]
	f.queued = f.queued[1:]
	if err := batch.StartProcessing(relayerID); err != nil {
		return nil, err
	}
	return batch, nil
}

func (f *fakeStorage) UpdateBatch(_ context.Context, batch *rtypes.Batch) error {
	f.updated = append(f.updated, batch)
	return nil
}

func (f *fakeStorage) RequeueRetryable(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeBlocks struct {
	blocks map[uint64]*ledger.Block
}

func (f *fakeBlocks) GetBlockByHeight(_ context.Context, height uint64) (*ledger.Block, error) {
	block, ok := f.blocks[height]
	if !ok {
		return nil, db.ErrNotFound
	}
	return block, nil
}

type fakeSender struct {
	submitted []*rtypes.CommitmentData
	target    uint64
	err       error
	targetErr error
}

func (f *fakeSender) SubmitCommitment(_ context.Context, commitment *rtypes.CommitmentData) (common.Hash, error) {
	if f.err != nil {
		return common.Hash{}, f.err
	}
	f.submitted = append(f.submitted, commitment)
	return common.HexToHash("0xa11c04"), nil
}

func (f *fakeSender) TargetHeight(_ context.Context) (uint64, error) {
	if f.targetErr != nil {
		return 0, f.targetErr
	}
	return f.target, nil
}

func testConfig() Config {
	return Config{
		RelayerID:        "relayer-1",
		MaxRetries:       3,
		RetryInterval:    types.NewDuration(time.Millisecond),
		WaitOnEmptyQueue: types.NewDuration(time.Millisecond),
	}
}

func testBlock(t *testing.T) *ledger.Block {
	t.Helper()
	sender := common.HexToAddress("0x01")
	recipient := common.HexToAddress("0x02")
	tx := ledger.NewTransfer(sender, recipient, 100, 0, 21000, 2)

	return ledger.NewBlock(7, common.HexToHash("0x06"), []*ledger.Transaction{tx}, 1)
}

func TestProcessBatchCommits(t *testing.T) {
	block := testBlock(t)
	storage := &fakeStorage{}
	sender := &fakeSender{target: 6}
	r := New(log.WithFields("test", "relayer"), testConfig(), storage,
		&fakeBlocks{blocks: map[uint64]*ledger.Block{7: block}}, sender)

	batch := rtypes.NewBatch(block, 3)
	require.NoError(t, batch.StartProcessing("relayer-1"))

	require.NoError(t, r.ProcessBatch(context.Background(), batch))

	require.Equal(t, rtypes.BatchStatusCommitted, batch.Status)
	require.Equal(t, block.Header.MerkleRoot, batch.Commitment.MerkleRoot)
	require.Equal(t, common.HexToHash("0xa11c04"), batch.Commitment.AnchorTxHash)
	require.Equal(t, uint64(6), batch.TargetHeight)
	require.NotNil(t, batch.LastAttempt)
	require.Len(t, sender.submitted, 1)
	require.Len(t, storage.updated, 1)
}

func TestProcessBatchAnchorFailureBurnsRetry(t *testing.T) {
	block := testBlock(t)
	storage := &fakeStorage{}
	sender := &fakeSender{err: errors.New("anchor unreachable")}
	r := New(log.WithFields("test", "relayer"), testConfig(), storage,
		&fakeBlocks{blocks: map[uint64]*ledger.Block{7: block}}, sender)

	batch := rtypes.NewBatch(block, 3)
	require.NoError(t, batch.StartProcessing("relayer-1"))

	err := r.ProcessBatch(context.Background(), batch)
	require.Error(t, err)
	require.Equal(t, rtypes.BatchStatusFailed, batch.Status)
	require.Equal(t, uint32(1), batch.RetryCount)
	require.True(t, batch.CanRetry())
	require.Contains(t, batch.LastError, "anchor unreachable")
}

func TestProcessBatchTargetHeightFailureBurnsRetry(t *testing.T) {
	block := testBlock(t)
	storage := &fakeStorage{}
	sender := &fakeSender{targetErr: errors.New("anchor unreachable")}
	r := New(log.WithFields("test", "relayer"), testConfig(), storage,
		&fakeBlocks{blocks: map[uint64]*ledger.Block{7: block}}, sender)

	batch := rtypes.NewBatch(block, 3)
	require.NoError(t, batch.StartProcessing("relayer-1"))

	require.Error(t, r.ProcessBatch(context.Background(), batch))
	require.Equal(t, rtypes.BatchStatusFailed, batch.Status)
	require.Contains(t, batch.LastError, "target height")
	require.Empty(t, sender.submitted)
}

func TestProcessBatchMissingBlockFails(t *testing.T) {
	block := testBlock(t)
	storage := &fakeStorage{}
	r := New(log.WithFields("test", "relayer"), testConfig(), storage,
		&fakeBlocks{blocks: map[uint64]*ledger.Block{}}, &fakeSender{})

	batch := rtypes.NewBatch(block, 3)
	require.NoError(t, batch.StartProcessing("relayer-1"))

	require.Error(t, r.ProcessBatch(context.Background(), batch))
	require.Equal(t, rtypes.BatchStatusFailed, batch.Status)
}

func TestProcessBatchHashMismatchFails(t *testing.T) {
	block := testBlock(t)
	storage := &fakeStorage{}
	r := New(log.WithFields("test", "relayer"), testConfig(), storage,
		&fakeBlocks{blocks: map[uint64]*ledger.Block{7: block}}, &fakeSender{})

	batch := rtypes.NewBatch(block, 3)
	batch.BlockHash = common.HexToHash("0xffff")
	require.NoError(t, batch.StartProcessing("relayer-1"))

	require.Error(t, r.ProcessBatch(context.Background(), batch))
	require.Equal(t, rtypes.BatchStatusFailed, batch.Status)
	require.Contains(t, batch.LastError, "does not match")
}

func TestProcessBatchTxHashMismatchFails(t *testing.T) {
	block := testBlock(t)
	storage := &fakeStorage{}
	r := New(log.WithFields("test", "relayer"), testConfig(), storage,
		&fakeBlocks{blocks: map[uint64]*ledger.Block{7: block}}, &fakeSender{})

	batch := rtypes.NewBatch(block, 3)
	batch.TxHashes = []common.Hash{common.HexToHash("0xdead")}
	require.NoError(t, batch.StartProcessing("relayer-1"))

	require.Error(t, r.ProcessBatch(context.Background(), batch))
	require.Equal(t, rtypes.BatchStatusFailed, batch.Status)
	require.Contains(t, batch.LastError, "does not contain transaction")
}

func TestCycleEmptyQueue(t *testing.T) {
	r := New(log.WithFields("test", "relayer"), testConfig(), &fakeStorage{},
		&fakeBlocks{}, &fakeSender{})

	processed, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	require.False(t, processed)
}

func TestCycleProcessesQueuedBatch(t *testing.T) {
	block := testBlock(t)
	storage := &fakeStorage{queued: []*rtypes.Batch{rtypes.NewBatch(block, 3)}}
	sender := &fakeSender{target: 6}
	r := New(log.WithFields("test", "relayer"), testConfig(), storage,
		&fakeBlocks{blocks: map[uint64]*ledger.Block{7: block}}, sender)

	processed, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	require.Len(t, sender.submitted, 1)
}

func TestEnqueuerQueuesBlockWithTxHashes(t *testing.T) {
	block := testBlock(t)
	storage := &fakeStorage{}
	enqueuer := NewEnqueuer(storage, 5)

	require.NoError(t, enqueuer.EnqueueBlock(context.Background(), block))

	require.Len(t, storage.queued, 1)
	queued := storage.queued[0]
	require.Equal(t, rtypes.BatchStatusQueued, queued.Status)
	require.Equal(t, block.Header.Height, queued.BlockHeight)
	require.Equal(t, block.Hash, queued.BlockHash)
	require.Equal(t, []common.Hash{block.Transactions[0].Hash}, queued.TxHashes)
	require.Equal(t, uint32(5), queued.MaxRetries)
}

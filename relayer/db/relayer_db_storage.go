package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerlabs/ledgercore/db"
	"github.com/ledgerlabs/ledgercore/log"
	"github.com/ledgerlabs/ledgercore/relayer/db/migrations"
	"github.com/ledgerlabs/ledgercore/relayer/types"
	"github.com/russross/meddler"
)

const errWhileRollbackFormat = "error while rolling back tx: %w"

// RelayerStorage is the interface that defines the methods to interact with
// the relayer batch storage
type RelayerStorage interface {
	// SaveBatch inserts a new batch
	SaveBatch(ctx context.Context, batch *types.Batch) error
	// GetBatch returns a batch by its ID
	GetBatch(ctx context.Context, id uuid.UUID) (*types.Batch, error)
	// ClaimQueuedBatch atomically moves the oldest queued batch to
	// processing under the given relayer and returns it
	ClaimQueuedBatch(ctx context.Context, relayerID string) (*types.Batch, error)
	// UpdateBatch persists the current status and commitment of a batch
	UpdateBatch(ctx context.Context, batch *types.Batch) error
	// RequeueRetryable requeues failed batches with retry budget whose last
	// attempt is older than the cutoff, returning how many were requeued
	RequeueRetryable(ctx context.Context, cutoff time.Time) (int64, error)
	// GetBatchesByStatus returns all batches with the given status, oldest
	// first
	GetBatchesByStatus(ctx context.Context, status types.BatchStatus) ([]*types.Batch, error)
}

var _ RelayerStorage = (*RelayerSQLStorage)(nil)

// RelayerSQLStorage implements RelayerStorage on top of sqlite
type RelayerSQLStorage struct {
	logger *log.Logger
	db     *sql.DB
}

// NewRelayerSQLStorage creates a new RelayerSQLStorage
func NewRelayerSQLStorage(logger *log.Logger, dbPath string) (*RelayerSQLStorage, error) {
	if err := migrations.RunMigrations(dbPath); err != nil {
		return nil, err
	}

	database, err := db.NewSQLiteDB(dbPath)
	if err != nil {
		return nil, err
	}

	return &RelayerSQLStorage{
		logger: logger,
		db:     database,
	}, nil
}

// SaveBatch inserts a new batch
func (r *RelayerSQLStorage) SaveBatch(ctx context.Context, batch *types.Batch) error {
	if err := meddler.Insert(r.db, "relayer_batch", batch); err != nil {
		return fmt.Errorf("error inserting relayer batch %s: %w", batch.ID, err)
	}
	r.logger.Debugf("queued relayer batch %s for block %d", batch.ID, batch.BlockHeight)

	return nil
}

// GetBatch returns a batch by its ID
func (r *RelayerSQLStorage) GetBatch(ctx context.Context, id uuid.UUID) (*types.Batch, error) {
	batch := &types.Batch{}
	err := meddler.QueryRow(r.db, batch,
		"SELECT * FROM relayer_batch WHERE id = $1;", id.String())
	if err != nil {
		return nil, db.ReturnErrNotFound(err)
	}

	return batch, nil
}

// ClaimQueuedBatch atomically claims the oldest queued batch. Returns
// db.ErrNotFound when the queue is empty.
func (r *RelayerSQLStorage) ClaimQueuedBatch(
	ctx context.Context, relayerID string,
) (*types.Batch, error) {
	tx, err := db.NewTx(ctx, r.db)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if errRllbck := tx.Rollback(); errRllbck != nil {
				r.logger.Errorf(errWhileRollbackFormat, errRllbck)
			}
		}
	}()

	batch := &types.Batch{}
	err = meddler.QueryRow(tx, batch,
		"SELECT * FROM relayer_batch WHERE status = $1 ORDER BY created_at ASC LIMIT 1;",
		string(types.BatchStatusQueued))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = db.ErrNotFound
		}
		return nil, err
	}

	if err = batch.StartProcessing(relayerID); err != nil {
		return nil, err
	}

	var res sql.Result
	res, err = tx.Exec(
		"UPDATE relayer_batch SET status = $1, relayer_id = $2, updated_at = $3, last_attempt = $4 "+
			"WHERE id = $5 AND status = $6;",
		string(types.BatchStatusProcessing), relayerID, batch.UpdatedAt.UnixNano(),
		db.UnixNanoOrNil(batch.LastAttempt), batch.ID.String(), string(types.BatchStatusQueued),
	)
	if err != nil {
		return nil, err
	}
	var affected int64
	affected, err = res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		err = db.ErrNotFound
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return batch, nil
}

// UpdateBatch persists the current status and commitment of a batch
func (r *RelayerSQLStorage) UpdateBatch(ctx context.Context, batch *types.Batch) error {
	batch.UpdatedAt = time.Now().UTC()
	commitmentJSON, err := marshalCommitment(batch)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE relayer_batch
		SET status = $1, relayer_id = $2, target_height = $3, retry_count = $4,
			commitment = $5, last_error = $6, updated_at = $7, last_attempt = $8
		WHERE id = $9;`,
		string(batch.Status), batch.RelayerID, batch.TargetHeight, batch.RetryCount,
		commitmentJSON, batch.LastError, batch.UpdatedAt.UnixNano(),
		db.UnixNanoOrNil(batch.LastAttempt), batch.ID.String(),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: relayer batch %s", db.ErrNotFound, batch.ID)
	}

	return nil
}

func marshalCommitment(batch *types.Batch) ([]byte, error) {
	// meddler decodes this column as JSON, so a missing commitment must be
	// the JSON null literal rather than SQL NULL
	if batch.Commitment == nil {
		return []byte("null"), nil
	}

	return json.Marshal(batch.Commitment)
}

// RequeueRetryable requeues failed batches that still have retry budget and
// whose last attempt is older than the cutoff
func (r *RelayerSQLStorage) RequeueRetryable(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE relayer_batch
		SET status = $1, updated_at = $2
		WHERE status = $3 AND retry_count < max_retries
			AND last_attempt IS NOT NULL AND last_attempt <= $4;`,
		string(types.BatchStatusQueued), time.Now().UTC().UnixNano(),
		string(types.BatchStatusFailed), cutoff.UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	requeued, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if requeued > 0 {
		r.logger.Infof("requeued %d relayer batches for retry", requeued)
	}

	return requeued, nil
}

// GetBatchesByStatus returns all batches with the given status, oldest first
func (r *RelayerSQLStorage) GetBatchesByStatus(
	ctx context.Context, status types.BatchStatus,
) ([]*types.Batch, error) {
	var batches []*types.Batch
	err := meddler.QueryAll(r.db, &batches,
		"SELECT * FROM relayer_batch WHERE status = $1 ORDER BY created_at ASC;",
		string(status))
	if err != nil {
		return nil, err
	}

	return batches, nil
}

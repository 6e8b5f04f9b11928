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
	"github.com/ledgerlabs/ledgercore/validator/db/migrations"
	"github.com/ledgerlabs/ledgercore/validator/types"
	"github.com/russross/meddler"
)

const errWhileRollbackFormat = "error while rolling back tx: %w"

// ValidatorStorage is the interface that defines the methods to interact
// with the validation batch storage
type ValidatorStorage interface {
	// SaveBatch inserts a new batch
	SaveBatch(ctx context.Context, batch *types.Batch) error
	// GetBatch returns a batch by its ID
	GetBatch(ctx context.Context, id uuid.UUID) (*types.Batch, error)
	// ClaimPendingBatch atomically moves the oldest pending batch to
	// processing under the given validator and returns it
	ClaimPendingBatch(ctx context.Context, validatorID string) (*types.Batch, error)
	// UpdateBatch persists the current status and result of a batch
	UpdateBatch(ctx context.Context, batch *types.Batch) error
	// GetBatchesByStatus returns all batches with the given status, oldest
	// first
	GetBatchesByStatus(ctx context.Context, status types.BatchStatus) ([]*types.Batch, error)
}

var _ ValidatorStorage = (*ValidatorSQLStorage)(nil)

// ValidatorSQLStorage implements ValidatorStorage on top of sqlite
type ValidatorSQLStorage struct {
	logger *log.Logger
	db     *sql.DB
}

// NewValidatorSQLStorage creates a new ValidatorSQLStorage
func NewValidatorSQLStorage(logger *log.Logger, dbPath string) (*ValidatorSQLStorage, error) {
	if err := migrations.RunMigrations(dbPath); err != nil {
		return nil, err
	}

	database, err := db.NewSQLiteDB(dbPath)
	if err != nil {
		return nil, err
	}

	return &ValidatorSQLStorage{
		logger: logger,
		db:     database,
	}, nil
}

// SaveBatch inserts a new batch
func (v *ValidatorSQLStorage) SaveBatch(ctx context.Context, batch *types.Batch) error {
	if err := meddler.Insert(v.db, "validation_batch", batch); err != nil {
		return fmt.Errorf("error inserting batch %s: %w", batch.ID, err)
	}
	v.logger.Debugf("saved batch %s with %d transactions", batch.ID, len(batch.TxHashes))

	return nil
}

// GetBatch returns a batch by its ID
func (v *ValidatorSQLStorage) GetBatch(ctx context.Context, id uuid.UUID) (*types.Batch, error) {
	batch := &types.Batch{}
	err := meddler.QueryRow(v.db, batch,
		"SELECT * FROM validation_batch WHERE id = $1;", id.String())
	if err != nil {
		return nil, db.ReturnErrNotFound(err)
	}

	return batch, nil
}

// ClaimPendingBatch atomically claims the oldest pending batch. The
// conditional update guarantees that two validators never claim the same
// batch. Returns db.ErrNotFound when there is nothing to claim.
func (v *ValidatorSQLStorage) ClaimPendingBatch(
	ctx context.Context, validatorID string,
) (*types.Batch, error) {
	tx, err := db.NewTx(ctx, v.db)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if errRllbck := tx.Rollback(); errRllbck != nil {
				v.logger.Errorf(errWhileRollbackFormat, errRllbck)
			}
		}
	}()

	batch := &types.Batch{}
	err = meddler.QueryRow(tx, batch,
		"SELECT * FROM validation_batch WHERE status = $1 ORDER BY created_at ASC LIMIT 1;",
		string(types.BatchStatusPending))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = db.ErrNotFound
		}
		return nil, err
	}

	if err = batch.StartProcessing(validatorID); err != nil {
		return nil, err
	}

	var res sql.Result
	res, err = tx.Exec(
		"UPDATE validation_batch SET status = $1, validator_id = $2, updated_at = $3, started_at = $4 WHERE id = $5 AND status = $6;",
		string(types.BatchStatusProcessing), validatorID, batch.UpdatedAt.UnixNano(),
		db.UnixNanoOrNil(batch.StartedAt), batch.ID.String(), string(types.BatchStatusPending),
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
		// someone else won the claim between the select and the update
		err = db.ErrNotFound
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return batch, nil
}

// UpdateBatch persists the current status and result of a batch
func (v *ValidatorSQLStorage) UpdateBatch(ctx context.Context, batch *types.Batch) error {
	batch.UpdatedAt = time.Now().UTC()
	resultJSON, err := marshalResult(batch)
	if err != nil {
		return err
	}
	res, err := v.db.ExecContext(ctx, `
		UPDATE validation_batch
		SET status = $1, validator_id = $2, result = $3, updated_at = $4,
			started_at = $5, completed_at = $6
		WHERE id = $7;`,
		string(batch.Status), batch.ValidatorID, resultJSON, batch.UpdatedAt.UnixNano(),
		db.UnixNanoOrNil(batch.StartedAt), db.UnixNanoOrNil(batch.CompletedAt),
		batch.ID.String(),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: batch %s", db.ErrNotFound, batch.ID)
	}

	return nil
}

func marshalResult(batch *types.Batch) ([]byte, error) {
	// meddler decodes this column as JSON, so a missing result must be the
	// JSON null literal rather than SQL NULL
	if batch.Result == nil {
		return []byte("null"), nil
	}

	return json.Marshal(batch.Result)
}

// GetBatchesByStatus returns all batches with the given status, oldest first
func (v *ValidatorSQLStorage) GetBatchesByStatus(
	ctx context.Context, status types.BatchStatus,
) ([]*types.Batch, error) {
	var batches []*types.Batch
	err := meddler.QueryAll(v.db, &batches,
		"SELECT * FROM validation_batch WHERE status = $1 ORDER BY created_at ASC;",
		string(status))
	if err != nil {
		return nil, err
	}

	return batches, nil
}

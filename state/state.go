package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgerlabs/ledgercore/db"
	"github.com/ledgerlabs/ledgercore/ledger"
	"github.com/ledgerlabs/ledgercore/log"
	"github.com/ledgerlabs/ledgercore/state/migrations"
	"github.com/russross/meddler"
)

const errWhileRollbackFormat = "error while rolling back tx: %w"

// Storage is the interface that defines the methods to interact with the
// persisted chain state
type Storage interface {
	// AddBlock persists a block together with its transactions and the
	// address history entries they produce
	AddBlock(ctx context.Context, block *ledger.Block) error
	// GetBlockByHeight returns the block stored at the given height
	GetBlockByHeight(ctx context.Context, height uint64) (*ledger.Block, error)
	// GetBlockByHash returns the block with the given hash
	GetBlockByHash(ctx context.Context, hash common.Hash) (*ledger.Block, error)
	// GetLastBlock returns the highest stored block
	GetLastBlock(ctx context.Context) (*ledger.Block, error)
	// GetTransaction returns a stored transaction by its hash
	GetTransaction(ctx context.Context, hash common.Hash) (*ledger.Transaction, error)
	// GetAccount returns the account stored for the given address
	GetAccount(ctx context.Context, address common.Address) (*Account, error)
	// UpsertAccount inserts or replaces the account for its address
	UpsertAccount(ctx context.Context, account *Account) error
	// GetAddressHistory returns the most recent history entries of an address
	GetAddressHistory(ctx context.Context, address common.Address, limit int) ([]*HistoryEntry, error)
	// ReconcileHistoryHeights realigns history entries whose recorded height
	// diverged from the canonical transaction record, returning how many
	// rows were fixed
	ReconcileHistoryHeights(ctx context.Context) (int64, error)
	// GetChainStats returns aggregate chain statistics
	GetChainStats(ctx context.Context) (*ChainStats, error)
}

var _ Storage = (*SQLStorage)(nil)

// SQLStorage implements Storage on top of sqlite
type SQLStorage struct {
	logger *log.Logger
	db     *sql.DB
}

// NewStorage opens the state database, runs migrations and returns the
// storage handle
func NewStorage(logger *log.Logger, cfg Config) (*SQLStorage, error) {
	if err := migrations.RunMigrations(cfg.DBPath); err != nil {
		return nil, err
	}

	database, err := db.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	return &SQLStorage{
		logger: logger,
		db:     database,
	}, nil
}

// AddBlock persists a block, its transactions and their history entries in a
// single transaction
func (s *SQLStorage) AddBlock(ctx context.Context, block *ledger.Block) error {
	tx, err := db.NewTx(ctx, s.db)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if errRllbck := tx.Rollback(); errRllbck != nil {
				s.logger.Errorf(errWhileRollbackFormat, errRllbck)
			}
		}
	}()

	if err = meddler.Insert(tx, "block", blockToRow(block)); err != nil {
		return fmt.Errorf("error inserting block %d: %w", block.Header.Height, err)
	}
	for i, transaction := range block.Transactions {
		if err = meddler.Insert(tx, "ledger_tx", txToRow(transaction, uint32(i))); err != nil {
			return fmt.Errorf("error inserting transaction %s: %w", transaction.Hash, err)
		}
		if err = insertHistory(tx, transaction); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	s.logger.Debugf("stored block %d with %d transactions, hash %s",
		block.Header.Height, len(block.Transactions), block.Hash)

	return nil
}

func insertHistory(tx db.Querier, transaction *ledger.Transaction) error {
	entries := []*HistoryEntry{
		{
			Address:     transaction.From,
			TxHash:      transaction.Hash,
			BlockHeight: transaction.Status.BlockHeight,
			Role:        HistoryRoleSender,
			Timestamp:   transaction.Timestamp,
		},
	}
	if recipient, ok := transaction.Recipient(); ok {
		entries = append(entries, &HistoryEntry{
			Address:     recipient,
			TxHash:      transaction.Hash,
			BlockHeight: transaction.Status.BlockHeight,
			Role:        HistoryRoleRecipient,
			Timestamp:   transaction.Timestamp,
		})
	}
	for _, entry := range entries {
		if err := meddler.Insert(tx, "address_history", entry); err != nil {
			return fmt.Errorf("error inserting history for %s: %w", entry.Address, err)
		}
	}

	return nil
}

// GetBlockByHeight returns the block stored at the given height
func (s *SQLStorage) GetBlockByHeight(ctx context.Context, height uint64) (*ledger.Block, error) {
	row := &blockRow{}
	err := meddler.QueryRow(s.db, row, "SELECT * FROM block WHERE height = $1;", height)
	if err != nil {
		return nil, db.ReturnErrNotFound(err)
	}

	return s.loadBlockTxs(row)
}

// GetBlockByHash returns the block with the given hash
func (s *SQLStorage) GetBlockByHash(ctx context.Context, hash common.Hash) (*ledger.Block, error) {
	row := &blockRow{}
	err := meddler.QueryRow(s.db, row, "SELECT * FROM block WHERE hash = $1;", hash.Hex())
	if err != nil {
		return nil, db.ReturnErrNotFound(err)
	}

	return s.loadBlockTxs(row)
}

// GetLastBlock returns the highest stored block
func (s *SQLStorage) GetLastBlock(ctx context.Context) (*ledger.Block, error) {
	row := &blockRow{}
	err := meddler.QueryRow(s.db, row, "SELECT * FROM block ORDER BY height DESC LIMIT 1;")
	if err != nil {
		return nil, db.ReturnErrNotFound(err)
	}

	return s.loadBlockTxs(row)
}

func (s *SQLStorage) loadBlockTxs(row *blockRow) (*ledger.Block, error) {
	var txRows []*txRow
	err := meddler.QueryAll(s.db, &txRows,
		"SELECT * FROM ledger_tx WHERE block_height = $1 ORDER BY tx_index ASC;", row.Height)
	if err != nil {
		return nil, err
	}
	txs := make([]*ledger.Transaction, 0, len(txRows))
	for _, r := range txRows {
		transaction, err := rowToTx(r)
		if err != nil {
			return nil, err
		}
		txs = append(txs, transaction)
	}

	return rowToBlock(row, txs), nil
}

// GetTransaction returns a stored transaction by its hash
func (s *SQLStorage) GetTransaction(ctx context.Context, hash common.Hash) (*ledger.Transaction, error) {
	row := &txRow{}
	err := meddler.QueryRow(s.db, row, "SELECT * FROM ledger_tx WHERE hash = $1;", hash.Hex())
	if err != nil {
		return nil, db.ReturnErrNotFound(err)
	}

	return rowToTx(row)
}

// GetAccount returns the account stored for the given address
func (s *SQLStorage) GetAccount(ctx context.Context, address common.Address) (*Account, error) {
	account := &Account{}
	err := meddler.QueryRow(s.db, account, "SELECT * FROM account WHERE address = $1;", address.Hex())
	if err != nil {
		return nil, db.ReturnErrNotFound(err)
	}

	return account, nil
}

// UpsertAccount inserts or replaces the account for its address
func (s *SQLStorage) UpsertAccount(ctx context.Context, account *Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account (address, balance, nonce, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET
			balance = excluded.balance,
			nonce = excluded.nonce,
			updated_at = excluded.updated_at;`,
		account.Address.Hex(), account.Balance, account.Nonce, account.UpdatedAt.UnixNano(),
	)

	return err
}

// GetAddressHistory returns the most recent history entries of an address
func (s *SQLStorage) GetAddressHistory(
	ctx context.Context, address common.Address, limit int,
) ([]*HistoryEntry, error) {
	var entries []*HistoryEntry
	err := meddler.QueryAll(s.db, &entries, `
		SELECT * FROM address_history
		WHERE address = $1
		ORDER BY block_height DESC, timestamp DESC
		LIMIT $2;`,
		address.Hex(), limit,
	)
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// ReconcileHistoryHeights realigns history rows whose height no longer
// matches the canonical transaction record
func (s *SQLStorage) ReconcileHistoryHeights(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE address_history
		SET block_height = (
			SELECT lt.block_height FROM ledger_tx lt WHERE lt.hash = address_history.tx_hash
		)
		WHERE EXISTS (
			SELECT 1 FROM ledger_tx lt
			WHERE lt.hash = address_history.tx_hash
			AND lt.block_height <> address_history.block_height
		);`)
	if err != nil {
		return 0, err
	}
	fixed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if fixed > 0 {
		s.logger.Infof("reconciled %d address history entries", fixed)
	}

	return fixed, nil
}

// GetChainStats returns aggregate chain statistics
func (s *SQLStorage) GetChainStats(ctx context.Context) (*ChainStats, error) {
	stats := &ChainStats{}

	last := &blockRow{}
	err := meddler.QueryRow(s.db, last, "SELECT * FROM block ORDER BY height DESC LIMIT 1;")
	if err != nil {
		if errors.Is(db.ReturnErrNotFound(err), db.ErrNotFound) {
			return stats, nil
		}
		return nil, err
	}
	stats.Height = last.Height
	stats.LastBlockHash = last.Hash
	stats.LastBlockTime = last.Timestamp

	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM block),
			(SELECT COUNT(*) FROM ledger_tx),
			(SELECT COUNT(*) FROM account),
			(SELECT COUNT(DISTINCT address) FROM address_history),
			(SELECT MIN(timestamp) FROM block);`)
	var firstBlockNano int64
	err = row.Scan(&stats.TotalBlocks, &stats.TotalTransactions, &stats.TotalAccounts,
		&stats.ActiveAddresses, &firstBlockNano)
	if err != nil {
		return nil, err
	}
	if stats.TotalBlocks > 1 {
		span := last.Timestamp.Sub(time.Unix(0, firstBlockNano).UTC())
		stats.AvgBlockTime = span / time.Duration(stats.TotalBlocks-1)
	}

	return stats, nil
}

package mempool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ledgercommon "github.com/ledgerlabs/ledgercore/common"
	"github.com/ledgerlabs/ledgercore/ledger"
	"github.com/ledgerwatch/erigon-lib/kv"
	"github.com/ledgerwatch/erigon-lib/kv/mdbx"
)

const (
	pendingTable  = "mempool-pending"
	reservedTable = "mempool-reserved"
	indexTable    = "mempool-index"
)

var (
	// ErrAlreadyAdmitted is returned when a transaction hash is already in the pool
	ErrAlreadyAdmitted = errors.New("transaction already admitted")
	// ErrAlreadyReserved is returned when a reservation hits a transaction
	// that another batch already holds
	ErrAlreadyReserved = errors.New("transaction already reserved")
	// ErrNotPending is returned when a transaction is offered with a non pending status
	ErrNotPending = errors.New("transaction status is not pending")
	// ErrNotFound is returned when a transaction hash is not in the pool
	ErrNotFound = errors.New("not found")
)

// Mempool is a persistent priority pool of pending transactions. Ordering is
// by fee score (gas price times gas limit) descending, with earlier arrival
// winning ties.
type Mempool struct {
	db kv.RwDB
}

// New opens (or creates) the mempool database at cfg.DBPath
func New(cfg Config) (*Mempool, error) {
	tableCfgFunc := func(defaultBuckets kv.TableCfg) kv.TableCfg {
		return kv.TableCfg{
			pendingTable:  {},
			reservedTable: {},
			indexTable:    {},
		}
	}
	db, err := mdbx.NewMDBX(nil).
		Path(cfg.DBPath).
		WithTableCfg(tableCfgFunc).
		Open()
	if err != nil {
		return nil, err
	}

	return &Mempool{db: db}, nil
}

// Close releases the underlying database
func (m *Mempool) Close() {
	m.db.Close()
}

// priorityKey builds the pending table key. The score is bit inverted so an
// ascending scan visits the highest score first, then the arrival timestamp
// breaks ties in favour of the earlier transaction, and the hash makes the
// key unique.
func priorityKey(score uint64, timestampNano uint64, hash common.Hash) []byte {
	key := make([]byte, 0, 8+8+common.HashLength)
	key = append(key, ledgercommon.Uint64ToBytes(^score)...)
	key = append(key, ledgercommon.Uint64ToBytes(timestampNano)...)
	key = append(key, hash.Bytes()...)

	return key
}

// Add admits a structurally valid pending transaction into the pool
func (m *Mempool) Add(ctx context.Context, transaction *ledger.Transaction) error {
	if transaction.Status.Code != ledger.TxStatusPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, transaction.Hash, transaction.Status.Code)
	}
	if err := transaction.ValidateStructure(); err != nil {
		return err
	}
	score, err := transaction.TotalFee()
	if err != nil {
		return err
	}

	tx, err := m.db.BeginRw(ctx)
	if err != nil {
		return err
	}

	existing, err := tx.GetOne(indexTable, transaction.Hash.Bytes())
	if err != nil {
		tx.Rollback()

		return err
	}
	if existing != nil {
		tx.Rollback()

		return fmt.Errorf("%w: %s", ErrAlreadyAdmitted, transaction.Hash)
	}

	value, err := json.Marshal(transaction)
	if err != nil {
		tx.Rollback()

		return err
	}
	key := priorityKey(score, uint64(transaction.Timestamp.UnixNano()), transaction.Hash)
	if err := tx.Put(pendingTable, key, value); err != nil {
		tx.Rollback()

		return err
	}
	if err := tx.Put(indexTable, transaction.Hash.Bytes(), key); err != nil {
		tx.Rollback()

		return err
	}

	return tx.Commit()
}

// Remove drops a transaction from the pool, whether pending or reserved.
// Removing an absent hash is a no-op.
func (m *Mempool) Remove(ctx context.Context, hash common.Hash) error {
	tx, err := m.db.BeginRw(ctx)
	if err != nil {
		return err
	}

	key, err := tx.GetOne(indexTable, hash.Bytes())
	if err != nil {
		tx.Rollback()

		return err
	}
	if key == nil {
		tx.Rollback()

		return nil
	}
	if err := tx.Delete(pendingTable, key); err != nil {
		tx.Rollback()

		return err
	}
	if err := tx.Delete(reservedTable, key); err != nil {
		tx.Rollback()

		return err
	}
	if err := tx.Delete(indexTable, hash.Bytes()); err != nil {
		tx.Rollback()

		return err
	}

	return tx.Commit()
}

// Reserve moves the given transactions from pending to reserved so that no
// other batch can take them. Reserving fails if any hash is absent or
// already held by another reservation.
func (m *Mempool) Reserve(ctx context.Context, hashes []common.Hash) error {
	tx, err := m.db.BeginRw(ctx)
	if err != nil {
		return err
	}

	for _, hash := range hashes {
		key, err := tx.GetOne(indexTable, hash.Bytes())
		if err != nil {
			tx.Rollback()

			return err
		}
		if key == nil {
			tx.Rollback()

			return fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		value, err := tx.GetOne(pendingTable, key)
		if err != nil {
			tx.Rollback()

			return err
		}
		if value == nil {
			tx.Rollback()

			return fmt.Errorf("%w: %s", ErrAlreadyReserved, hash)
		}
		if err := tx.Delete(pendingTable, key); err != nil {
			tx.Rollback()

			return err
		}
		if err := tx.Put(reservedTable, key, value); err != nil {
			tx.Rollback()

			return err
		}
	}

	return tx.Commit()
}

// Release moves reserved transactions back to pending, restoring their
// priority position. Hashes that are not reserved are skipped.
func (m *Mempool) Release(ctx context.Context, hashes []common.Hash) error {
	tx, err := m.db.BeginRw(ctx)
	if err != nil {
		return err
	}

	for _, hash := range hashes {
		key, err := tx.GetOne(indexTable, hash.Bytes())
		if err != nil {
			tx.Rollback()

			return err
		}
		if key == nil {
			continue
		}
		value, err := tx.GetOne(reservedTable, key)
		if err != nil {
			tx.Rollback()

			return err
		}
		if value == nil {
			continue
		}
		if err := tx.Delete(reservedTable, key); err != nil {
			tx.Rollback()

			return err
		}
		if err := tx.Put(pendingTable, key, value); err != nil {
			tx.Rollback()

			return err
		}
	}

	return tx.Commit()
}

// Take returns up to limit unreserved transactions in priority order without
// removing them from the pool
func (m *Mempool) Take(ctx context.Context, limit int) ([]*ledger.Transaction, error) {
	tx, err := m.db.BeginRo(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	it, err := tx.RangeAscend(pendingTable, nil, nil, limit)
	if err != nil {
		return nil, err
	}

	txs := make([]*ledger.Transaction, 0, limit)
	for it.HasNext() {
		_, value, err := it.Next()
		if err != nil {
			return nil, err
		}
		transaction := &ledger.Transaction{}
		if err := json.Unmarshal(value, transaction); err != nil {
			return nil, err
		}
		txs = append(txs, transaction)
	}

	return txs, nil
}

// Get returns the pooled transaction with the given hash, pending or
// reserved
func (m *Mempool) Get(ctx context.Context, hash common.Hash) (*ledger.Transaction, error) {
	tx, err := m.db.BeginRo(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	key, err := tx.GetOne(indexTable, hash.Bytes())
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	value, err := tx.GetOne(pendingTable, key)
	if err != nil {
		return nil, err
	}
	if value == nil {
		value, err = tx.GetOne(reservedTable, key)
		if err != nil {
			return nil, err
		}
	}
	if value == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	transaction := &ledger.Transaction{}
	err = json.Unmarshal(value, transaction)

	return transaction, err
}

// Len returns how many transactions are pooled, reserved ones included
func (m *Mempool) Len(ctx context.Context) (uint64, error) {
	tx, err := m.db.BeginRo(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var count uint64
	err = tx.ForEach(indexTable, nil, func(_, _ []byte) error {
		count++
		return nil
	})

	return count, err
}

package chain

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgerlabs/ledgercore/db"
	"github.com/ledgerlabs/ledgercore/ledger"
	"github.com/ledgerlabs/ledgercore/log"
	"github.com/ledgerlabs/ledgercore/state"
	vtypes "github.com/ledgerlabs/ledgercore/validator/types"
)

// CommitmentQueue receives every appended block for relaying. A nil queue
// disables relaying.
type CommitmentQueue interface {
	EnqueueBlock(ctx context.Context, block *ledger.Block) error
}

// Manager owns the canonical chain: it bootstraps genesis, turns validated
// batches into blocks and keeps accounts and history consistent with the
// stored blocks.
type Manager struct {
	logger  *log.Logger
	cfg     Config
	storage state.Storage
	queue   CommitmentQueue
}

// New builds a Manager
func New(logger *log.Logger, cfg Config, storage state.Storage, queue CommitmentQueue) *Manager {
	return &Manager{
		logger:  logger,
		cfg:     cfg,
		storage: storage,
		queue:   queue,
	}
}

// Bootstrap stores the genesis block if the chain is empty
func (m *Manager) Bootstrap(ctx context.Context) error {
	_, err := m.storage.GetLastBlock(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return err
	}

	genesis := ledger.Genesis(m.cfg.BlockDifficulty)
	if err := m.storage.AddBlock(ctx, genesis); err != nil {
		return fmt.Errorf("error storing genesis: %w", err)
	}
	m.logger.Infof("bootstrapped chain with genesis block %s", genesis.Hash)

	return nil
}

// Head returns the current chain head
func (m *Manager) Head(ctx context.Context) (*ledger.Block, error) {
	return m.storage.GetLastBlock(ctx)
}

// Stats returns aggregate statistics over the stored chain
func (m *Manager) Stats(ctx context.Context) (*state.ChainStats, error) {
	return m.storage.GetChainStats(ctx)
}

// AddBlock appends a block to the chain. The block is validated, checked
// against the head and settled against the current accounts before anything
// is written, so a block that cannot settle leaves no trace. Only then is the
// block persisted with its transactions confirmed, the settled accounts
// written back, history heights reconciled and the block queued for relaying.
func (m *Manager) AddBlock(ctx context.Context, block *ledger.Block) error {
	if err := block.Validate(); err != nil {
		return err
	}
	head, err := m.storage.GetLastBlock(ctx)
	if err != nil {
		return fmt.Errorf("error loading chain head: %w", err)
	}
	if err := block.CanFollow(head); err != nil {
		return err
	}

	settled, err := m.settleAccounts(ctx, block)
	if err != nil {
		return fmt.Errorf("block %d does not settle: %w", block.Header.Height, err)
	}

	for _, tx := range block.Transactions {
		if err := tx.UpdateStatus(ledger.StatusConfirmed(block.Header.Height, block.Hash)); err != nil {
			return err
		}
	}

	if err := m.storage.AddBlock(ctx, block); err != nil {
		return fmt.Errorf("error storing block %d: %w", block.Header.Height, err)
	}
	for _, account := range settled {
		if err := m.storage.UpsertAccount(ctx, account); err != nil {
			return fmt.Errorf("error storing account %s: %w", account.Address, err)
		}
	}
	if _, err := m.storage.ReconcileHistoryHeights(ctx); err != nil {
		return fmt.Errorf("error reconciling history heights: %w", err)
	}

	if m.queue != nil {
		if err := m.queue.EnqueueBlock(ctx, block); err != nil {
			return fmt.Errorf("error queueing block %d for relaying: %w", block.Header.Height, err)
		}
	}

	m.logger.Infof("appended block %d with %d transactions, hash %s",
		block.Header.Height, len(block.Transactions), block.Hash)

	return nil
}

// CommitValidatedBatch assembles the valid transactions of a validated batch
// into the next block and appends it. Implements the committer side of the
// validation pipeline.
func (m *Manager) CommitValidatedBatch(
	ctx context.Context, batch *vtypes.Batch, txs []*ledger.Transaction,
) error {
	if batch.Status != vtypes.BatchStatusValidated || batch.Result == nil {
		return fmt.Errorf("batch %s is not validated", batch.ID)
	}
	valid := batch.Result.ValidTxs(txs)
	if len(valid) == 0 {
		return fmt.Errorf("batch %s has no valid transactions to commit", batch.ID)
	}

	head, err := m.storage.GetLastBlock(ctx)
	if err != nil {
		return fmt.Errorf("error loading chain head: %w", err)
	}

	block := ledger.NewBlock(head.Header.Height+1, head.Hash, valid, m.cfg.BlockDifficulty)
	// successors need a strictly later timestamp, protect against clock
	// resolution collapsing two blocks onto the same instant
	if !block.Header.Timestamp.After(head.Header.Timestamp) {
		block.Header.Timestamp = head.Header.Timestamp.Add(time.Nanosecond)
		block.SetNonce(block.Header.Nonce)
	}

	return m.AddBlock(ctx, block)
}

// settleAccounts computes the account set a block leaves behind without
// touching storage. Balances are checked arithmetic, nonces must strictly
// increment per sender. Any violation fails the whole block.
func (m *Manager) settleAccounts(ctx context.Context, block *ledger.Block) (map[common.Address]*state.Account, error) {
	settled := map[common.Address]*state.Account{}
	load := func(address common.Address) (*state.Account, error) {
		if account, ok := settled[address]; ok {
			return account, nil
		}
		account, err := m.loadAccount(ctx, address)
		if err != nil {
			return nil, err
		}
		settled[address] = account

		return account, nil
	}

	now := time.Now().UTC()
	for _, tx := range block.Transactions {
		fee, err := tx.TotalFee()
		if err != nil {
			return nil, err
		}
		need, carry := bits.Add64(tx.MovedAmount(), fee, 0)
		if carry != 0 {
			return nil, fmt.Errorf("transaction %s: required balance overflows", tx.Hash)
		}

		sender, err := load(tx.From)
		if err != nil {
			return nil, err
		}
		if tx.Nonce != sender.Nonce {
			return nil, fmt.Errorf("transaction %s: nonce %d does not match expected %d",
				tx.Hash, tx.Nonce, sender.Nonce)
		}
		if sender.Balance < need {
			return nil, fmt.Errorf("transaction %s: sender %s has %d, needs %d",
				tx.Hash, tx.From, sender.Balance, need)
		}
		sender.Balance -= need
		sender.Nonce = tx.Nonce + 1
		sender.UpdatedAt = now

		recipient, ok := tx.Recipient()
		if !ok || tx.MovedAmount() == 0 {
			continue
		}
		account, err := load(recipient)
		if err != nil {
			return nil, err
		}
		balance, carry := bits.Add64(account.Balance, tx.MovedAmount(), 0)
		if carry != 0 {
			return nil, fmt.Errorf("transaction %s: recipient %s balance overflows", tx.Hash, recipient)
		}
		account.Balance = balance
		account.UpdatedAt = now
	}

	return settled, nil
}

// loadAccount returns the stored account or a fresh zero balance one
func (m *Manager) loadAccount(ctx context.Context, address common.Address) (*state.Account, error) {
	account, err := m.storage.GetAccount(ctx, address)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return &state.Account{Address: address}, nil
		}
		return nil, err
	}

	return account, nil
}

package validator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgerlabs/ledgercore/db"
	"github.com/ledgerlabs/ledgercore/ledger"
	"github.com/ledgerlabs/ledgercore/log"
	"github.com/ledgerlabs/ledgercore/mempool"
	"github.com/ledgerlabs/ledgercore/state"
	"github.com/ledgerlabs/ledgercore/validator/types"
)

// Gas estimation model. Every transaction pays the base cost, deploys add a
// creation surcharge plus a per byte cost for the published code, calls pay
// per byte of calldata.
const (
	gasBase        = 21000
	gasDeployBase  = 32000
	gasPerCodeByte = 200
	gasPerDataByte = 16
)

// TxPool is the subset of the mempool the validator draws from. Batches hold
// their transactions through reservations so two validators never batch the
// same transaction.
type TxPool interface {
	Take(ctx context.Context, limit int) ([]*ledger.Transaction, error)
	Reserve(ctx context.Context, hashes []common.Hash) error
	Release(ctx context.Context, hashes []common.Hash) error
	Get(ctx context.Context, hash common.Hash) (*ledger.Transaction, error)
	Remove(ctx context.Context, hash common.Hash) error
}

// AccountReader provides the balances and nonces consulted during semantic
// validation
type AccountReader interface {
	GetAccount(ctx context.Context, address common.Address) (*state.Account, error)
}

// BatchCommitter receives validated batches, together with their resolved
// transactions, to turn into blocks
type BatchCommitter interface {
	CommitValidatedBatch(ctx context.Context, batch *types.Batch, txs []*ledger.Transaction) error
}

// ValidatorStorage is the persistence used by the validation pipeline
type ValidatorStorage interface {
	SaveBatch(ctx context.Context, batch *types.Batch) error
	ClaimPendingBatch(ctx context.Context, validatorID string) (*types.Batch, error)
	UpdateBatch(ctx context.Context, batch *types.Batch) error
}

// Validator drains the mempool into batches, validates them and hands the
// validated batches to the committer
type Validator struct {
	logger    *log.Logger
	cfg       Config
	pool      TxPool
	storage   ValidatorStorage
	accounts  AccountReader
	committer BatchCommitter
}

// New builds a Validator
func New(
	logger *log.Logger,
	cfg Config,
	pool TxPool,
	storage ValidatorStorage,
	accounts AccountReader,
	committer BatchCommitter,
) *Validator {
	return &Validator{
		logger:    logger,
		cfg:       cfg,
		pool:      pool,
		storage:   storage,
		accounts:  accounts,
		committer: committer,
	}
}

// Start runs the validation loop until the context is cancelled
func (v *Validator) Start(ctx context.Context) {
	ticker := time.NewTicker(v.cfg.BatchInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			empty, err := v.RunCycle(ctx)
			if err != nil {
				v.logger.Errorf("validation cycle failed: %v", err)
				continue
			}
			if empty {
				time.Sleep(v.cfg.WaitOnEmptyMempool.Duration)
			}
		}
	}
}

// RunCycle forms a batch from the unreserved mempool transactions if there
// are any, then claims and processes one batch. Returns true when there was
// no work.
func (v *Validator) RunCycle(ctx context.Context) (bool, error) {
	txs, err := v.pool.Take(ctx, int(v.cfg.BatchSize))
	if err != nil {
		return false, fmt.Errorf("error taking transactions from the pool: %w", err)
	}
	if len(txs) > 0 {
		hashes := make([]common.Hash, 0, len(txs))
		for _, tx := range txs {
			hashes = append(hashes, tx.Hash)
		}
		if err := v.pool.Reserve(ctx, hashes); err != nil {
			return false, fmt.Errorf("error reserving transactions: %w", err)
		}
		batch := types.NewBatch(hashes)
		if err := v.storage.SaveBatch(ctx, batch); err != nil {
			if relErr := v.pool.Release(ctx, hashes); relErr != nil {
				v.logger.Errorf("error releasing reservation of batch %s: %v", batch.ID, relErr)
			}
			return false, fmt.Errorf("error saving batch: %w", err)
		}
		v.logger.Infof("created batch %s with %d transactions", batch.ID, len(batch.TxHashes))
	}

	batch, err := v.storage.ClaimPendingBatch(ctx, v.cfg.ValidatorID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("error claiming batch: %w", err)
	}

	return false, v.ProcessBatch(ctx, batch)
}

// ProcessBatch validates a claimed batch and persists the outcome. A batch
// with only valid transactions is committed and its transactions leave the
// pool. A batch with any invalid transaction fails: the invalid transactions
// are dropped from the pool and the valid remainder is released so the next
// cycle batches it again.
func (v *Validator) ProcessBatch(ctx context.Context, batch *types.Batch) error {
	result, txs, err := v.validate(ctx, batch)
	if err != nil {
		result.ErrorMessage = err.Error()
		if failErr := batch.MarkFailed(result); failErr != nil {
			return failErr
		}
		if updErr := v.storage.UpdateBatch(ctx, batch); updErr != nil {
			return updErr
		}
		if relErr := v.pool.Release(ctx, batch.TxHashes); relErr != nil {
			v.logger.Errorf("error releasing reservation of batch %s: %v", batch.ID, relErr)
		}
		return fmt.Errorf("batch %s failed: %w", batch.ID, err)
	}

	if result.HasFailures() {
		if err := batch.MarkFailed(result); err != nil {
			return err
		}
		if err := v.storage.UpdateBatch(ctx, batch); err != nil {
			return err
		}
		for _, hash := range result.FailedHashes() {
			if err := v.pool.Remove(ctx, hash); err != nil {
				return fmt.Errorf("error removing %s from the pool: %w", hash, err)
			}
		}
		valid := result.ValidTxs(txs)
		validHashes := make([]common.Hash, 0, len(valid))
		for _, tx := range valid {
			validHashes = append(validHashes, tx.Hash)
		}
		if err := v.pool.Release(ctx, validHashes); err != nil {
			return fmt.Errorf("error releasing valid transactions of batch %s: %w", batch.ID, err)
		}
		v.logger.Warnf("batch %s failed in %dms, %d of %d transactions invalid, %d released for rebatching",
			batch.ID, result.ElapsedMS, len(result.FailedTxs), len(batch.TxHashes), len(validHashes))

		return nil
	}

	if err := batch.MarkValidated(result); err != nil {
		return err
	}
	if err := v.storage.UpdateBatch(ctx, batch); err != nil {
		return err
	}
	v.logger.Infof("batch %s validated %d transactions in %dms",
		batch.ID, len(batch.TxHashes), result.ElapsedMS)

	if err := v.committer.CommitValidatedBatch(ctx, batch, txs); err != nil {
		return fmt.Errorf("error committing batch %s: %w", batch.ID, err)
	}

	for _, hash := range batch.TxHashes {
		if err := v.pool.Remove(ctx, hash); err != nil {
			return fmt.Errorf("error removing %s from the pool: %w", hash, err)
		}
	}

	return nil
}

// accountState is the working balance and expected nonce of an address while
// a batch validates. The values at first sight are kept so the result can
// report old and new side by side.
type accountState struct {
	balance    uint64
	nonce      uint64
	oldBalance uint64
	oldNonce   uint64
}

func (a *accountState) change() types.BalanceChange {
	return types.BalanceChange{
		OldBalance: a.oldBalance,
		NewBalance: a.balance,
		OldNonce:   a.oldNonce,
		NewNonce:   a.nonce,
	}
}

// validate resolves the batch transactions from the pool and runs semantic
// validation over each of them. Individual transactions failing is a normal
// outcome recorded in the result, only infrastructure errors fail the batch
// itself. The returned transactions are the resolved ones, in batch order.
func (v *Validator) validate(
	ctx context.Context, batch *types.Batch,
) (*types.Result, []*ledger.Transaction, error) {
	start := time.Now()
	result := &types.Result{
		FailedTxs:      []types.FailedTransaction{},
		GasEstimates:   map[common.Hash]uint64{},
		BalanceChanges: map[common.Address]types.BalanceChange{},
	}
	accounts := map[common.Address]*accountState{}

	fail := func(hash common.Hash, code, message string) {
		result.FailedTxs = append(result.FailedTxs, types.FailedTransaction{
			TxHash:       hash,
			ErrorCode:    code,
			ErrorMessage: message,
		})
	}

	txs := make([]*ledger.Transaction, 0, len(batch.TxHashes))
	for _, hash := range batch.TxHashes {
		tx, err := v.pool.Get(ctx, hash)
		if err != nil {
			if errors.Is(err, mempool.ErrNotFound) {
				fail(hash, types.ErrCodeMissingTx, fmt.Sprintf("transaction %s is not pooled", hash))
				continue
			}
			result.ElapsedMS = uint64(time.Since(start).Milliseconds())
			return result, txs, err
		}
		txs = append(txs, tx)

		if err := tx.ValidateStructure(); err != nil {
			fail(tx.Hash, types.ErrCodeInvalidStructure, err.Error())
			continue
		}
		estimate := EstimateGas(tx)
		result.GasEstimates[tx.Hash] = estimate
		if estimate > tx.GasLimit {
			result.FailedTxs = append(result.FailedTxs, types.FailedTransaction{
				TxHash:            tx.Hash,
				ErrorCode:         types.ErrCodeGasLimitTooLow,
				ErrorMessage:      fmt.Sprintf("gas limit %d below estimate %d", tx.GasLimit, estimate),
				SuggestedGasLimit: estimate,
			})
			continue
		}
		fee, err := tx.TotalFee()
		if err != nil {
			fail(tx.Hash, types.ErrCodeOverflow, err.Error())
			continue
		}
		need, carry := bits.Add64(tx.MovedAmount(), fee, 0)
		if carry != 0 || need > math.MaxInt64 {
			fail(tx.Hash, types.ErrCodeOverflow, "required balance overflows")
			continue
		}

		sender, err := v.loadAccountState(ctx, accounts, tx.From)
		if err != nil {
			result.ElapsedMS = uint64(time.Since(start).Milliseconds())
			return result, txs, err
		}
		if tx.Nonce != sender.nonce {
			fail(tx.Hash, types.ErrCodeBadNonce,
				fmt.Sprintf("nonce %d does not match expected %d", tx.Nonce, sender.nonce))
			continue
		}
		if sender.balance < need {
			fail(tx.Hash, types.ErrCodeInsufficientBalance,
				fmt.Sprintf("insufficient balance: have %d, need %d", sender.balance, need))
			continue
		}

		sender.balance -= need
		sender.nonce = tx.Nonce + 1
		result.BalanceChanges[tx.From] = sender.change()
		if recipient, ok := tx.Recipient(); ok && tx.MovedAmount() > 0 {
			account, err := v.loadAccountState(ctx, accounts, recipient)
			if err != nil {
				result.ElapsedMS = uint64(time.Since(start).Milliseconds())
				return result, txs, err
			}
			account.balance += tx.MovedAmount()
			result.BalanceChanges[recipient] = account.change()
		}
	}

	result.ElapsedMS = uint64(time.Since(start).Milliseconds())

	return result, txs, nil
}

// loadAccountState resolves the working state of an address, seeding the
// cache from storage on first sight. Unknown addresses have balance and
// nonce zero.
func (v *Validator) loadAccountState(
	ctx context.Context, cache map[common.Address]*accountState, address common.Address,
) (*accountState, error) {
	if account, ok := cache[address]; ok {
		return account, nil
	}
	account, err := v.accounts.GetAccount(ctx, address)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			fresh := &accountState{}
			cache[address] = fresh
			return fresh, nil
		}
		return nil, err
	}
	loaded := &accountState{
		balance:    account.Balance,
		nonce:      account.Nonce,
		oldBalance: account.Balance,
		oldNonce:   account.Nonce,
	}
	cache[address] = loaded

	return loaded, nil
}

// EstimateGas returns the gas estimate for a transaction under the fixed
// cost model
func EstimateGas(tx *ledger.Transaction) uint64 {
	switch tx.Type {
	case ledger.TxTypeDeploy:
		return gasBase + gasDeployBase +
			uint64(len(tx.Code))*gasPerCodeByte +
			uint64(len(tx.InitData))*gasPerDataByte
	case ledger.TxTypeCall:
		return gasBase + uint64(len(tx.Data))*gasPerDataByte
	default:
		return gasBase
	}
}

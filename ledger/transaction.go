package ledger

import (
	"fmt"
	"math/bits"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TxType discriminates the payload shape of a transaction
type TxType string

const (
	// TxTypeTransfer moves an amount between two accounts
	TxTypeTransfer TxType = "transfer"
	// TxTypeDeploy publishes contract code
	TxTypeDeploy TxType = "deploy"
	// TxTypeCall invokes a deployed contract, optionally attaching value
	TxTypeCall TxType = "call"
)

// Canonical encoding tags. Each payload shape hashes under its own tag so
// that two transactions of different types can never collide.
const (
	tagTransfer byte = 0x01
	tagDeploy   byte = 0x02
	tagCall     byte = 0x03
)

// ParseTxType decodes a transaction type from its stored text form
func ParseTxType(s string) (TxType, error) {
	switch TxType(s) {
	case TxTypeTransfer, TxTypeDeploy, TxTypeCall:
		return TxType(s), nil
	default:
		return "", fmt.Errorf("unknown transaction type %q", s)
	}
}

// Transaction is a ledger transaction. The payload fields used depend on
// Type: transfers use To and Amount, deploys use Code and InitData, calls
// use To, Data and Amount.
type Transaction struct {
	Hash      common.Hash    `json:"hash"`
	Type      TxType         `json:"type"`
	From      common.Address `json:"from"`
	To        common.Address `json:"to,omitempty"`
	Amount    uint64         `json:"amount,omitempty"`
	Code      []byte         `json:"code,omitempty"`
	InitData  []byte         `json:"init_data,omitempty"`
	Data      []byte         `json:"data,omitempty"`
	Nonce     uint64         `json:"nonce"`
	GasLimit  uint64         `json:"gas_limit"`
	GasPrice  uint64         `json:"gas_price"`
	Timestamp time.Time      `json:"timestamp"`
	Signature []byte         `json:"signature,omitempty"`
	Status    TxStatus       `json:"status"`
}

// NewTransfer builds a transfer transaction with a fresh timestamp, pending
// status and its identity hash already computed.
func NewTransfer(from, to common.Address, amount, nonce, gasLimit, gasPrice uint64) *Transaction {
	tx := &Transaction{
		Type:      TxTypeTransfer,
		From:      from,
		To:        to,
		Amount:    amount,
		Nonce:     nonce,
		GasLimit:  gasLimit,
		GasPrice:  gasPrice,
		Timestamp: time.Now().UTC(),
		Status:    StatusPending(),
	}
	tx.Hash = tx.CalculateHash()
	return tx
}

// NewDeploy builds a contract deployment transaction
func NewDeploy(from common.Address, code, initData []byte, nonce, gasLimit, gasPrice uint64) *Transaction {
	tx := &Transaction{
		Type:      TxTypeDeploy,
		From:      from,
		Code:      code,
		InitData:  initData,
		Nonce:     nonce,
		GasLimit:  gasLimit,
		GasPrice:  gasPrice,
		Timestamp: time.Now().UTC(),
		Status:    StatusPending(),
	}
	tx.Hash = tx.CalculateHash()
	return tx
}

// NewCall builds a contract call transaction
func NewCall(from, to common.Address, data []byte, amount, nonce, gasLimit, gasPrice uint64) *Transaction {
	tx := &Transaction{
		Type:      TxTypeCall,
		From:      from,
		To:        to,
		Data:      data,
		Amount:    amount,
		Nonce:     nonce,
		GasLimit:  gasLimit,
		GasPrice:  gasPrice,
		Timestamp: time.Now().UTC(),
		Status:    StatusPending(),
	}
	tx.Hash = tx.CalculateHash()
	return tx
}

// CalculateHash returns the identity hash of the transaction. It covers the
// payload, nonce, gas fields and timestamp. Signature and status are
// excluded so that signing or confirming a transaction never changes its
// identity.
func (tx *Transaction) CalculateHash() common.Hash {
	e := &encoder{}
	switch tx.Type {
	case TxTypeTransfer:
		e.writeTag(tagTransfer)
		e.writeAddress(tx.From)
		e.writeAddress(tx.To)
		e.writeUint64(tx.Amount)
	case TxTypeDeploy:
		e.writeTag(tagDeploy)
		e.writeAddress(tx.From)
		e.writeBytes(tx.Code)
		e.writeBytes(tx.InitData)
	case TxTypeCall:
		e.writeTag(tagCall)
		e.writeAddress(tx.From)
		e.writeAddress(tx.To)
		e.writeBytes(tx.Data)
		e.writeUint64(tx.Amount)
	}
	e.writeUint64(tx.Nonce)
	e.writeUint64(tx.GasLimit)
	e.writeUint64(tx.GasPrice)
	e.writeUint64(uint64(tx.Timestamp.UnixNano()))
	return e.sum()
}

// Sender returns the originating address
func (tx *Transaction) Sender() common.Address {
	return tx.From
}

// Recipient returns the destination address of a transfer or call. Deploys
// have no recipient.
func (tx *Transaction) Recipient() (common.Address, bool) {
	switch tx.Type {
	case TxTypeTransfer, TxTypeCall:
		return tx.To, true
	default:
		return common.Address{}, false
	}
}

// MovedAmount returns the value moved by the transaction. Deploys move
// nothing.
func (tx *Transaction) MovedAmount() uint64 {
	if tx.Type == TxTypeDeploy {
		return 0
	}
	return tx.Amount
}

// TotalFee returns gas_limit * gas_price, failing on uint64 overflow instead
// of wrapping
func (tx *Transaction) TotalFee() (uint64, error) {
	hi, lo := bits.Mul64(tx.GasLimit, tx.GasPrice)
	if hi != 0 {
		return 0, fmt.Errorf("%w: gas limit %d, gas price %d", ErrFeeOverflow, tx.GasLimit, tx.GasPrice)
	}
	return lo, nil
}

// ValidateStructure checks the internal consistency of the transaction
// without consulting any external state
func (tx *Transaction) ValidateStructure() error {
	if !ValidAddress(tx.From) {
		return NewInvalidTransactionError("sender address is zero")
	}
	switch tx.Type {
	case TxTypeTransfer:
		if !ValidAddress(tx.To) {
			return NewInvalidTransactionError("transfer recipient address is zero")
		}
		if tx.Amount == 0 {
			return NewInvalidTransactionError("transfer amount is zero")
		}
		if tx.From == tx.To {
			return NewInvalidTransactionError("self-transfer is not allowed")
		}
	case TxTypeDeploy:
		if len(tx.Code) == 0 {
			return NewInvalidTransactionError("deploy code is empty")
		}
	case TxTypeCall:
		if !ValidAddress(tx.To) {
			return NewInvalidTransactionError("call target address is zero")
		}
	default:
		return NewInvalidTransactionError(fmt.Sprintf("unknown transaction type %q", tx.Type))
	}
	if tx.GasLimit == 0 {
		return NewInvalidTransactionError("gas limit is zero")
	}
	if tx.GasPrice == 0 {
		return NewInvalidTransactionError("gas price is zero")
	}
	if _, err := tx.TotalFee(); err != nil {
		return NewInvalidTransactionError(err.Error())
	}
	if tx.Hash != tx.CalculateHash() {
		return NewInvalidTransactionError("hash does not match transaction contents")
	}
	return nil
}

// UpdateStatus moves the transaction to a new lifecycle status. Only pending
// transactions can transition, and pending is never a destination.
func (tx *Transaction) UpdateStatus(status TxStatus) error {
	if tx.Status.IsTerminal() {
		return fmt.Errorf("%w: transaction %s is already %s", ErrInvalidTransition, tx.Hash, tx.Status.Code)
	}
	if status.Code == TxStatusPending {
		return fmt.Errorf("%w: transaction %s cannot return to pending", ErrInvalidTransition, tx.Hash)
	}
	tx.Status = status
	return nil
}

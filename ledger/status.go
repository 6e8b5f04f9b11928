package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// TxStatusCode identifies the lifecycle stage of a transaction
type TxStatusCode string

const (
	// TxStatusPending is the initial status of every transaction
	TxStatusPending TxStatusCode = "pending"
	// TxStatusConfirmed means the transaction was included in a block
	TxStatusConfirmed TxStatusCode = "confirmed"
	// TxStatusFailed means the transaction failed semantic validation
	TxStatusFailed TxStatusCode = "failed"
	// TxStatusRejected means the transaction was refused before validation
	TxStatusRejected TxStatusCode = "rejected"
)

// TxStatus is the lifecycle state of a transaction. Confirmed carries the
// inclusion coordinates, Failed and Rejected carry a reason.
type TxStatus struct {
	Code        TxStatusCode `json:"code"`
	BlockHeight uint64       `json:"block_height,omitempty"`
	BlockHash   common.Hash  `json:"block_hash,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}

// StatusPending returns the initial transaction status
func StatusPending() TxStatus {
	return TxStatus{Code: TxStatusPending}
}

// StatusConfirmed returns a confirmed status pointing at the including block
func StatusConfirmed(height uint64, blockHash common.Hash) TxStatus {
	return TxStatus{Code: TxStatusConfirmed, BlockHeight: height, BlockHash: blockHash}
}

// StatusFailed returns a failed status with the given reason
func StatusFailed(reason string) TxStatus {
	return TxStatus{Code: TxStatusFailed, Reason: reason}
}

// StatusRejected returns a rejected status with the given reason
func StatusRejected(reason string) TxStatus {
	return TxStatus{Code: TxStatusRejected, Reason: reason}
}

// IsTerminal reports whether no further transition is allowed from s
func (s TxStatus) IsTerminal() bool {
	return s.Code != TxStatusPending
}

// ParseTxStatusCode decodes a status code from its stored text form. Unknown
// codes are an error, the caller must not default them.
func ParseTxStatusCode(s string) (TxStatusCode, error) {
	switch TxStatusCode(s) {
	case TxStatusPending, TxStatusConfirmed, TxStatusFailed, TxStatusRejected:
		return TxStatusCode(s), nil
	default:
		return "", fmt.Errorf("unknown transaction status code %q", s)
	}
}

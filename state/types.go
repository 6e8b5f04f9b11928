package state

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgerlabs/ledgercore/ledger"
)

// HistoryRole says on which side of a transaction an address appears
type HistoryRole string

const (
	// HistoryRoleSender marks the originating side
	HistoryRoleSender HistoryRole = "sender"
	// HistoryRoleRecipient marks the receiving side
	HistoryRoleRecipient HistoryRole = "recipient"
)

// Account is the persisted balance and nonce of an address
type Account struct {
	Address   common.Address `meddler:"address,address"`
	Balance   uint64         `meddler:"balance"`
	Nonce     uint64         `meddler:"nonce"`
	UpdatedAt time.Time      `meddler:"updated_at,timestamp"`
}

// HistoryEntry is one appearance of an address in a confirmed transaction
type HistoryEntry struct {
	Address     common.Address `meddler:"address,address"`
	TxHash      common.Hash    `meddler:"tx_hash,hash"`
	BlockHeight uint64         `meddler:"block_height"`
	Role        HistoryRole    `meddler:"role"`
	Timestamp   time.Time      `meddler:"timestamp,timestamp"`
}

// ChainStats is an aggregate view over the stored chain. AvgBlockTime is the
// mean spacing between consecutive blocks and stays zero until the chain has
// at least two blocks. ActiveAddresses counts addresses that appear in at
// least one confirmed transaction.
type ChainStats struct {
	Height            uint64
	TotalBlocks       uint64
	TotalTransactions uint64
	TotalAccounts     uint64
	ActiveAddresses   uint64
	AvgBlockTime      time.Duration
	LastBlockHash     common.Hash
	LastBlockTime     time.Time
}

type blockRow struct {
	Height     uint64      `meddler:"height"`
	Hash       common.Hash `meddler:"hash,hash"`
	PrevHash   common.Hash `meddler:"prev_hash,hash"`
	MerkleRoot common.Hash `meddler:"merkle_root,hash"`
	Timestamp  time.Time   `meddler:"timestamp,timestamp"`
	Nonce      uint64      `meddler:"nonce"`
	Difficulty uint32      `meddler:"difficulty"`
	Version    uint32      `meddler:"version"`
	Size       uint64      `meddler:"size"`
	TxCount    uint64      `meddler:"tx_count"`
}

type txRow struct {
	Hash         common.Hash    `meddler:"hash,hash"`
	BlockHeight  uint64         `meddler:"block_height"`
	BlockHash    common.Hash    `meddler:"block_hash,hash"`
	TxIndex      uint32         `meddler:"tx_index"`
	Type         string         `meddler:"tx_type"`
	Sender       common.Address `meddler:"sender,address"`
	Recipient    common.Address `meddler:"recipient,address"`
	Amount       uint64         `meddler:"amount"`
	Code         []byte         `meddler:"code"`
	InitData     []byte         `meddler:"init_data"`
	Data         []byte         `meddler:"data"`
	Nonce        uint64         `meddler:"nonce"`
	GasLimit     uint64         `meddler:"gas_limit"`
	GasPrice     uint64         `meddler:"gas_price"`
	Timestamp    time.Time      `meddler:"timestamp,timestamp"`
	Signature    []byte         `meddler:"signature"`
	Status       string         `meddler:"status"`
	StatusReason string         `meddler:"status_reason"`
}

func blockToRow(b *ledger.Block) *blockRow {
	return &blockRow{
		Height:     b.Header.Height,
		Hash:       b.Hash,
		PrevHash:   b.Header.PrevHash,
		MerkleRoot: b.Header.MerkleRoot,
		Timestamp:  b.Header.Timestamp,
		Nonce:      b.Header.Nonce,
		Difficulty: b.Header.Difficulty,
		Version:    b.Header.Version,
		Size:       b.Size,
		TxCount:    uint64(len(b.Transactions)),
	}
}

func rowToBlock(row *blockRow, txs []*ledger.Transaction) *ledger.Block {
	return &ledger.Block{
		Header: ledger.BlockHeader{
			Height:     row.Height,
			PrevHash:   row.PrevHash,
			MerkleRoot: row.MerkleRoot,
			Timestamp:  row.Timestamp,
			Nonce:      row.Nonce,
			Difficulty: row.Difficulty,
			Version:    row.Version,
		},
		Hash:         row.Hash,
		Transactions: txs,
		TxCount:      row.TxCount,
		Size:         row.Size,
	}
}

func txToRow(tx *ledger.Transaction, index uint32) *txRow {
	return &txRow{
		Hash:         tx.Hash,
		BlockHeight:  tx.Status.BlockHeight,
		BlockHash:    tx.Status.BlockHash,
		TxIndex:      index,
		Type:         string(tx.Type),
		Sender:       tx.From,
		Recipient:    tx.To,
		Amount:       tx.Amount,
		Code:         tx.Code,
		InitData:     tx.InitData,
		Data:         tx.Data,
		Nonce:        tx.Nonce,
		GasLimit:     tx.GasLimit,
		GasPrice:     tx.GasPrice,
		Timestamp:    tx.Timestamp,
		Signature:    tx.Signature,
		Status:       string(tx.Status.Code),
		StatusReason: tx.Status.Reason,
	}
}

// rowToTx decodes a stored transaction. Unknown type or status codes fail
// loudly instead of defaulting.
func rowToTx(row *txRow) (*ledger.Transaction, error) {
	txType, err := ledger.ParseTxType(row.Type)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", row.Hash, err)
	}
	statusCode, err := ledger.ParseTxStatusCode(row.Status)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", row.Hash, err)
	}
	status := ledger.TxStatus{Code: statusCode, Reason: row.StatusReason}
	if statusCode == ledger.TxStatusConfirmed {
		status.BlockHeight = row.BlockHeight
		status.BlockHash = row.BlockHash
	}

	return &ledger.Transaction{
		Hash:      row.Hash,
		Type:      txType,
		From:      row.Sender,
		To:        row.Recipient,
		Amount:    row.Amount,
		Code:      row.Code,
		InitData:  row.InitData,
		Data:      row.Data,
		Nonce:     row.Nonce,
		GasLimit:  row.GasLimit,
		GasPrice:  row.GasPrice,
		Timestamp: row.Timestamp,
		Signature: row.Signature,
		Status:    status,
	}, nil
}

package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BlockVersion is the current block format version
const BlockVersion uint32 = 1

// MaxClockSkew is how far in the future a block timestamp may be and still
// validate
const MaxClockSkew = 10 * time.Minute

// BlockHeader carries the consensus-relevant fields of a block. Its hash is
// the block's identity.
type BlockHeader struct {
	Height     uint64      `json:"height"`
	PrevHash   common.Hash `json:"prev_hash"`
	MerkleRoot common.Hash `json:"merkle_root"`
	Timestamp  time.Time   `json:"timestamp"`
	Nonce      uint64      `json:"nonce"`
	Difficulty uint32      `json:"difficulty"`
	Version    uint32      `json:"version"`
}

// CalculateHash returns the identity hash of the header
func (h *BlockHeader) CalculateHash() common.Hash {
	e := &encoder{}
	e.writeUint64(h.Height)
	e.writeHash(h.PrevHash)
	e.writeHash(h.MerkleRoot)
	e.writeUint64(uint64(h.Timestamp.UnixNano()))
	e.writeUint64(h.Nonce)
	e.writeUint32(h.Difficulty)
	e.writeUint32(h.Version)
	return e.sum()
}

// Block is a sealed set of transactions linked to its predecessor by hash.
// TxCount caches the transaction count so consumers of the stored block can
// read it without loading the transactions.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Hash         common.Hash    `json:"hash"`
	Transactions []*Transaction `json:"transactions"`
	TxCount      uint64         `json:"tx_count"`
	Size         uint64         `json:"size"`
}

// NewBlock assembles a block on top of the given predecessor hash. The
// merkle root, identity hash and serialized size are computed here.
func NewBlock(height uint64, prevHash common.Hash, txs []*Transaction, difficulty uint32) *Block {
	b := &Block{
		Header: BlockHeader{
			Height:     height,
			PrevHash:   prevHash,
			MerkleRoot: TransactionsRoot(txs),
			Timestamp:  time.Now().UTC(),
			Difficulty: difficulty,
			Version:    BlockVersion,
		},
		Transactions: txs,
		TxCount:      uint64(len(txs)),
	}
	b.Hash = b.Header.CalculateHash()
	b.Size = b.serializedSize()
	return b
}

// Genesis returns the height zero block with no transactions and a zero
// previous hash
func Genesis(difficulty uint32) *Block {
	return NewBlock(0, ZeroHash, nil, difficulty)
}

func (b *Block) serializedSize() uint64 {
	data, err := json.Marshal(b)
	if err != nil {
		return 0
	}
	return uint64(len(data))
}

// Validate checks the block in isolation: cached count, merkle root and hash
// consistency, structural validity of every transaction, and a timestamp no
// further than MaxClockSkew in the future.
func (b *Block) Validate() error {
	if got := TransactionsRoot(b.Transactions); got != b.Header.MerkleRoot {
		return NewBlockValidationError(fmt.Sprintf(
			"merkle root mismatch: header has %s, transactions yield %s", b.Header.MerkleRoot, got))
	}
	if got := b.Header.CalculateHash(); got != b.Hash {
		return NewBlockValidationError(fmt.Sprintf(
			"hash mismatch: block has %s, header yields %s", b.Hash, got))
	}
	if b.TxCount != uint64(len(b.Transactions)) {
		return NewBlockValidationError(fmt.Sprintf(
			"transaction count mismatch: block says %d, carries %d", b.TxCount, len(b.Transactions)))
	}
	if b.Header.Timestamp.After(time.Now().UTC().Add(MaxClockSkew)) {
		return NewBlockValidationError(fmt.Sprintf(
			"timestamp %s is too far in the future", b.Header.Timestamp))
	}
	for _, tx := range b.Transactions {
		if err := tx.ValidateStructure(); err != nil {
			return NewBlockValidationError(fmt.Sprintf("transaction %s: %v", tx.Hash, err))
		}
	}
	return nil
}

// CanFollow checks that b is a legal successor of prev: consecutive height,
// hash linkage and a strictly increasing timestamp.
func (b *Block) CanFollow(prev *Block) error {
	if b.Header.Height != prev.Header.Height+1 {
		return NewBlockValidationError(fmt.Sprintf(
			"height %d does not follow %d", b.Header.Height, prev.Header.Height))
	}
	if b.Header.PrevHash != prev.Hash {
		return NewBlockValidationError(fmt.Sprintf(
			"previous hash %s does not match block %s", b.Header.PrevHash, prev.Hash))
	}
	if !b.Header.Timestamp.After(prev.Header.Timestamp) {
		return NewBlockValidationError(fmt.Sprintf(
			"timestamp %s is not after predecessor timestamp %s",
			b.Header.Timestamp, prev.Header.Timestamp))
	}
	return nil
}

// SetNonce updates the header nonce and recomputes the identity hash
func (b *Block) SetNonce(nonce uint64) {
	b.Header.Nonce = nonce
	b.Hash = b.Header.CalculateHash()
}

// TotalTransactionValue sums the amounts moved by all transactions
func (b *Block) TotalTransactionValue() uint64 {
	var total uint64
	for _, tx := range b.Transactions {
		total += tx.MovedAmount()
	}
	return total
}

// TotalFees sums the fees of all transactions, failing if any single fee
// overflows
func (b *Block) TotalFees() (uint64, error) {
	var total uint64
	for _, tx := range b.Transactions {
		fee, err := tx.TotalFee()
		if err != nil {
			return 0, err
		}
		total += fee
	}
	return total, nil
}

// ContainsTransaction reports whether a transaction with the given hash is
// in the block
func (b *Block) ContainsTransaction(hash common.Hash) bool {
	_, ok := b.GetTransaction(hash)
	return ok
}

// GetTransaction returns the transaction with the given hash, if present
func (b *Block) GetTransaction(hash common.Hash) (*Transaction, bool) {
	for _, tx := range b.Transactions {
		if tx.Hash == hash {
			return tx, true
		}
	}
	return nil, false
}

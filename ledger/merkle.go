package ledger

import (
	"github.com/ethereum/go-ethereum/common"
)

// MerkleRoot folds a list of leaf hashes into a single root. An empty list
// yields the zero hash and a single leaf is its own root. At each level an
// odd trailing hash is paired with itself.
func MerkleRoot(leaves []common.Hash) common.Hash {
	if len(leaves) == 0 {
		return ZeroHash
	}
	level := make([]common.Hash, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]common.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, HashData(level[i].Bytes(), level[i+1].Bytes()))
		}
		level = next
	}
	return level[0]
}

// TransactionsRoot returns the merkle root over the identity hashes of txs
func TransactionsRoot(txs []*Transaction) common.Hash {
	leaves := make([]common.Hash, 0, len(txs))
	for _, tx := range txs {
		leaves = append(leaves, tx.Hash)
	}
	return MerkleRoot(leaves)
}

package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	ledgercommon "github.com/ledgerlabs/ledgercore/common"
	"golang.org/x/crypto/sha3"
)

// ZeroHash is the reserved all-zero digest. It is the previous hash of the
// genesis block and the merkle root of an empty transaction list.
var ZeroHash = common.Hash{}

// HashData returns the Keccak-256 digest of the concatenation of the given
// byte slices.
func HashData(data ...[]byte) common.Hash {
	var hash common.Hash
	hasher := sha3.NewLegacyKeccak256()
	for _, d := range data {
		hasher.Write(d)
	}
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// ValidAddress reports whether addr is usable. The all-zero address is
// reserved and never valid.
func ValidAddress(addr common.Address) bool {
	return addr != (common.Address{})
}

// encoder builds the canonical byte encoding used for content addressing.
// The layout is injective over the encoded field set: integers are fixed
// width big-endian and variable length fields carry a length prefix, so no
// two distinct field combinations produce the same bytes.
type encoder struct {
	buf []byte
}

func (e *encoder) writeTag(tag byte) {
	e.buf = append(e.buf, tag)
}

func (e *encoder) writeUint64(v uint64) {
	e.buf = append(e.buf, ledgercommon.Uint64ToBytes(v)...)
}

func (e *encoder) writeUint32(v uint32) {
	e.buf = append(e.buf, ledgercommon.Uint32ToBytes(v)...)
}

func (e *encoder) writeAddress(addr common.Address) {
	e.buf = append(e.buf, addr.Bytes()...)
}

func (e *encoder) writeHash(h common.Hash) {
	e.buf = append(e.buf, h.Bytes()...)
}

func (e *encoder) writeBytes(b []byte) {
	e.writeUint64(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) sum() common.Hash {
	return HashData(e.buf)
}

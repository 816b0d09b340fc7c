// Package core implements the chain's data model and the Chain State
// component: blocks, transactions, outputs, the UTXO/escrow indices
// and the append-only state machine that owns them.
package core

import (
	"encoding/binary"
	"fmt"

	"github.com/pallaschain/pallas/internal/crypto"
)

// Hash is a content hash: a blake3-256 digest used to address blocks,
// transactions and outputs, never a pointer.
type Hash [crypto.HashSize]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

// Height is a block's (epoch, offset) coordinate. Offset 0 is the
// macro-block; offsets 1..BlocksInEpoch-1 are micro-blocks. The
// macro-block at (E+1, 0) follows epoch E's last micro-block and closes
// epoch E.
type Height struct {
	Epoch  uint64
	Offset uint32
}

func (h Height) Less(o Height) bool {
	if h.Epoch != o.Epoch {
		return h.Epoch < o.Epoch
	}
	return h.Offset < o.Offset
}

func (h Height) String() string { return fmt.Sprintf("%d.%d", h.Epoch, h.Offset) }

// Header is the portion of a block common to both variants. The hash
// of its Bytes() encoding alone is what a child's Previous field links
// to. A block's own Hash() is not header-only: it covers the header
// encoding plus the block's transaction hashes (and a macro-block's
// next validator set), and that body encoding is what leader and
// precommit signatures cover. Sealing signatures are excluded from it.
type Header struct {
	Version   uint32
	Previous  Hash
	Height    Height
	View      uint32
	Timestamp int64
	VRFSeed   [32]byte
	// VRFProof is the leader's VRF signature over (parent.VRFSeed, View)
	// whose hash is VRFSeed; carried so any node can check the seed was
	// honestly derived rather than chosen, via crypto.VerifyVRF.
	VRFProof []byte
}

// Bytes is the canonical encoding hashed/signed for this header.
func (h Header) Bytes() []byte {
	buf := make([]byte, 4+crypto.HashSize+8+4+4+8+32)
	off := 0
	binary.BigEndian.PutUint32(buf[off:], h.Version)
	off += 4
	copy(buf[off:], h.Previous[:])
	off += crypto.HashSize
	binary.BigEndian.PutUint64(buf[off:], h.Height.Epoch)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], h.Height.Offset)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], h.View)
	off += 4
	binary.BigEndian.PutUint64(buf[off:], uint64(h.Timestamp))
	off += 8
	copy(buf[off:], h.VRFSeed[:])
	proofLen := len(h.VRFProof)
	buf = append(buf, byte(proofLen>>8), byte(proofLen))
	buf = append(buf, h.VRFProof...)
	return buf
}

// MicroBlock is a fast, leader-signed block: revocable until sealed by
// the next macro-block. It commits an ordered set of already-balanced,
// already-signed transactions; the leader's own signature authorizes
// their inclusion and ordering, not their individual validity.
type MicroBlock struct {
	Header       Header
	Transactions []*Transaction
	LeaderPubKey []byte // serialized BLS public key of the proposer
	LeaderSig    []byte // serialized BLS signature over BodyBytes()
}

// BodyBytes is the canonical encoding the leader signs: the header
// plus the content hash of each included transaction, in order.
func (m *MicroBlock) BodyBytes() []byte {
	buf := append([]byte(nil), m.Header.Bytes()...)
	for _, tx := range m.Transactions {
		h := tx.Hash()
		buf = append(buf, h[:]...)
	}
	return buf
}

// Hash is this block's content address.
func (m *MicroBlock) Hash() Hash {
	return Hash(crypto.Hash256(m.BodyBytes()))
}

// TotalFee sums the fees of every included transaction, the leader's
// reward for this block.
func (m *MicroBlock) TotalFee() uint64 {
	var sum uint64
	for _, tx := range m.Transactions {
		sum += tx.Fee
	}
	return sum
}

// MacroBlock closes an epoch: it carries the quorum's aggregated
// precommit signature and bitmap instead of a single leader signature,
// and names the validator set for the next epoch. Its transaction list
// is typically empty or limited to epoch-boundary stake transactions.
type MacroBlock struct {
	Header         Header
	Transactions   []*Transaction
	NextValidators []Validator
	AggregateSig   []byte
	SignerBitmap   []bool
}

// BodyBytes is the canonical encoding the quorum precommits over.
func (m *MacroBlock) BodyBytes() []byte {
	buf := append([]byte(nil), m.Header.Bytes()...)
	for _, tx := range m.Transactions {
		h := tx.Hash()
		buf = append(buf, h[:]...)
	}
	for _, v := range m.NextValidators {
		buf = append(buf, v.Bytes()...)
	}
	return buf
}

// Hash is this block's content address.
func (m *MacroBlock) Hash() Hash {
	return Hash(crypto.Hash256(m.BodyBytes()))
}

// Block is either variant, addressed uniformly by the Chain State.
type Block struct {
	Micro *MicroBlock
	Macro *MacroBlock
}

func (b Block) Header() Header {
	if b.Macro != nil {
		return b.Macro.Header
	}
	return b.Micro.Header
}

func (b Block) Hash() Hash {
	if b.Macro != nil {
		return b.Macro.Hash()
	}
	return b.Micro.Hash()
}

func (b Block) IsMacro() bool { return b.Macro != nil }

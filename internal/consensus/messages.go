// Package consensus implements the three-phase BFT state machine that
// drives block production across a rotating validator set: the
// consensus engine, the timeout-driven view-change path and the
// lagging-follower auto-commit path.
package consensus

import (
	"encoding/binary"

	"github.com/pallaschain/pallas/internal/core"
)

// MessageKind tags the three consensus messages, which share one wire
// shape: the same (epoch, offset, view, header_hash) envelope with
// different bodies.
type MessageKind uint8

const (
	KindProposal MessageKind = iota
	KindPrevote
	KindPrecommit
)

func (k MessageKind) String() string {
	switch k {
	case KindProposal:
		return "proposal"
	case KindPrevote:
		return "prevote"
	case KindPrecommit:
		return "precommit"
	default:
		return "unknown"
	}
}

// Message is the single wire type for all three phases: one envelope,
// a kind tag, and a body that's only partially populated depending on
// Kind.
type Message struct {
	Kind       MessageKind
	Height     core.Height
	View       uint32
	HeaderHash core.Hash

	// Proposal-only: the full block body under consideration.
	Block core.Block

	// Prevote/Precommit: the sender's identity and signature over
	// SignBytes().
	ValidatorKey []byte
	Sig          []byte
}

// SignBytes is the canonical encoding a validator signs for a vote. A
// Precommit signs the bare header hash, so the precommit signatures of
// a quorum aggregate into exactly the seal a macro-block carries and
// verifies against its own hash. A Prevote signs the full envelope,
// deliberately excluding any block body: the signature authenticates
// "I vote for this hash at this height and view", not the block's
// contents a second time.
func (m Message) SignBytes() []byte {
	if m.Kind == KindPrecommit {
		return append([]byte(nil), m.HeaderHash[:]...)
	}
	buf := make([]byte, 0, 8+4+4+len(m.HeaderHash)+1)
	var tmp8 [8]byte
	binary.BigEndian.PutUint64(tmp8[:], m.Height.Epoch)
	buf = append(buf, tmp8[:]...)
	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], m.Height.Offset)
	buf = append(buf, tmp4[:]...)
	binary.BigEndian.PutUint32(tmp4[:], m.View)
	buf = append(buf, tmp4[:]...)
	buf = append(buf, m.HeaderHash[:]...)
	buf = append(buf, byte(m.Kind))
	return buf
}

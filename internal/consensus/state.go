package consensus

import (
	"github.com/pallaschain/pallas/internal/core"
	"github.com/pallaschain/pallas/internal/validator"
)

// Phase is this node's progress through the three-phase commit for a
// single (epoch, offset).
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseProposed
	PhasePrevoted
	PhasePrecommitted
	PhaseCommitted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseProposed:
		return "proposed"
	case PhasePrevoted:
		return "prevoted"
	case PhasePrecommitted:
		return "precommitted"
	case PhaseCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// Role is whether this node is the current view's leader or a follower.
type Role int

const (
	RoleFollower Role = iota
	RoleLeader
)

// heightState is the per-(epoch,offset) consensus state: created on
// entry to that height, mutated only by message ingress and timer
// ticks, discarded on commit.
type heightState struct {
	height   core.Height
	registry *validator.Registry
	view     uint32
	role     Role
	phase    Phase

	// proposal is the one proposal this node has accepted for the
	// current view; a later proposal at the same (height, view) is
	// dropped silently.
	proposal     *Message
	proposalHash core.Hash

	prevotes   *voteSet
	precommits *voteSet

	// buffered holds prevotes/precommits that referenced a header hash
	// this node hasn't seen a proposal for yet; replayed once the
	// proposal arrives. On a view change only the messages already
	// tagged with the new view are kept.
	buffered []Message

	sealed bool // true once this height has produced a sealed block
}

func newHeightState(height core.Height, reg *validator.Registry) *heightState {
	hs := &heightState{height: height, registry: reg}
	hs.resetForView(0)
	return hs
}

// resetForView clears phase and vote tallies for a fresh view while
// keeping the height fixed; entered both on first arrival at a height
// (view 0) and after a view-change timeout.
func (hs *heightState) resetForView(view uint32) {
	hs.view = view
	hs.phase = PhaseIdle
	hs.proposal = nil
	hs.proposalHash = core.Hash{}
	hs.prevotes = newVoteSet(hs.registry)
	hs.precommits = newVoteSet(hs.registry)
	buffered := hs.buffered
	hs.buffered = nil
	for _, msg := range buffered {
		if msg.View == view {
			hs.buffered = append(hs.buffered, msg)
		}
	}
}

package consensus

import (
	"github.com/pallaschain/pallas/internal/core"
	"github.com/pallaschain/pallas/internal/crypto"
	"github.com/pallaschain/pallas/internal/validator"
)

// Evidence records an equivocation: two distinct votes from the same
// validator at the same phase and (height, view). Policy (slashing,
// peer bans) is deferred to a later layer; the core only surfaces
// evidence, never acts on it.
type Evidence struct {
	Validator []byte
	First     Message
	Second    Message
}

// voteSet tallies stake-weighted prevotes or precommits for a single
// (height, view). Duplicate votes from a validator are ignored;
// conflicting votes are recorded as evidence and do not count twice.
type voteSet struct {
	registry *validator.Registry
	votes    map[string]Message
	stakeFor map[core.Hash]uint64
	evidence []Evidence
}

func newVoteSet(reg *validator.Registry) *voteSet {
	return &voteSet{
		registry: reg,
		votes:    make(map[string]Message),
		stakeFor: make(map[core.Hash]uint64),
	}
}

// Add records msg's stake weight unless it's a duplicate (same
// validator, same header hash, ignored) or a conflict (same validator,
// different header hash: recorded as evidence, still not counted).
// A vote whose Sig doesn't verify against ValidatorKey and SignBytes()
// is dropped exactly like one from an unknown validator: an unsigned
// or forged vote must not be able to contribute stake toward quorum.
// ok reports whether this vote was newly counted toward quorum.
func (vs *voteSet) Add(msg Message) (ok bool, ev *Evidence) {
	idx, known := vs.registry.IndexOf(msg.ValidatorKey)
	if !known {
		return false, nil
	}
	pk, err := crypto.PublicKeyFromBytes(msg.ValidatorKey)
	if err != nil {
		return false, nil
	}
	sig, err := crypto.SignatureFromBytes(msg.Sig)
	if err != nil {
		return false, nil
	}
	if !crypto.Verify(pk, msg.SignBytes(), sig) {
		return false, nil
	}
	key := string(msg.ValidatorKey)
	if prior, exists := vs.votes[key]; exists {
		if prior.HeaderHash == msg.HeaderHash {
			return false, nil
		}
		e := Evidence{Validator: msg.ValidatorKey, First: prior, Second: msg}
		vs.evidence = append(vs.evidence, e)
		return false, &e
	}
	vs.votes[key] = msg
	vs.stakeFor[msg.HeaderHash] += vs.registry.Validators()[idx].Stake
	return true, nil
}

// StakeFor returns the accumulated stake voting for h.
func (vs *voteSet) StakeFor(h core.Hash) uint64 { return vs.stakeFor[h] }

// HasQuorum reports whether h has reached the registry's stake quorum.
func (vs *voteSet) HasQuorum(h core.Hash) bool {
	return vs.stakeFor[h] >= vs.registry.QuorumThreshold()
}

// Evidence returns every equivocation observed by this vote set so far.
func (vs *voteSet) Evidence() []Evidence { return vs.evidence }

// Signers returns the signer bitmap (indexed the same way the
// registry's validator list is ordered) and the matching signatures
// for every validator whose counted vote is for h: exactly the shape
// a macro-block's SignerBitmap/AggregateSig needs.
func (vs *voteSet) Signers(h core.Hash) (bitmap []bool, sigs []*crypto.Signature, err error) {
	bitmap = make([]bool, vs.registry.Len())
	for _, msg := range vs.votes {
		if msg.HeaderHash != h {
			continue
		}
		idx, known := vs.registry.IndexOf(msg.ValidatorKey)
		if !known {
			continue
		}
		sig, err := crypto.SignatureFromBytes(msg.Sig)
		if err != nil {
			return nil, nil, err
		}
		bitmap[idx] = true
		sigs = append(sigs, sig)
	}
	return bitmap, sigs, nil
}

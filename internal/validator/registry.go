// Package validator implements the validator registry and leader
// election: a stake-sorted view of the active validator set and a
// deterministic, stake-weighted leader draw seeded by the previous
// macro-block's VRF output.
package validator

import (
	"bytes"
	"errors"
	"fmt"
	"math/bits"
	"sort"

	"github.com/pallaschain/pallas/internal/core"
	"github.com/pallaschain/pallas/internal/crypto"
)

var ErrEmptyValidatorSet = errors.New("validator set is empty")

// Registry holds the validator set active for the current epoch,
// sorted by (stake desc, network key asc) for deterministic leader
// selection and aggregate-signature bitmap indexing.
type Registry struct {
	validators []core.Validator
	totalStake uint64
}

// NewRegistry sorts and indexes an active validator set.
func NewRegistry(validators []core.Validator) *Registry {
	sorted := append([]core.Validator(nil), validators...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Stake != sorted[j].Stake {
			return sorted[i].Stake > sorted[j].Stake
		}
		return bytes.Compare(sorted[i].NetworkKey, sorted[j].NetworkKey) < 0
	})
	var total uint64
	for _, v := range sorted {
		total += v.Stake
	}
	return &Registry{validators: sorted, totalStake: total}
}

func (r *Registry) Validators() []core.Validator { return r.validators }
func (r *Registry) TotalStake() uint64            { return r.totalStake }
func (r *Registry) Len() int                      { return len(r.validators) }

// QuorumThreshold is ceil(2*total/3)+1 stake, the minimum weight a set
// of precommits must carry to seal a macro-block. The ceiling matters:
// rounding down instead would admit quorums one stake-unit short
// whenever the total is not divisible by three.
func (r *Registry) QuorumThreshold() uint64 {
	return (2*r.totalStake+2)/3 + 1
}

// Leader deterministically draws the validator responsible for
// (seed, view): every honest node computes the same answer from public
// information, so no additional VRF evaluation is needed at election
// time (the VRF only produced the unpredictable seed itself, at the
// point the previous macro-block was built).
func (r *Registry) Leader(seed [32]byte, view uint32) (core.Validator, error) {
	if len(r.validators) == 0 {
		return core.Validator{}, ErrEmptyValidatorSet
	}
	if r.totalStake == 0 {
		return r.validators[0], nil
	}
	digest := crypto.Hash256(seed[:], viewBytes(view))
	point := bigModStake(digest, r.totalStake)

	var cum uint64
	for _, v := range r.validators {
		cum += v.Stake
		if point < cum {
			return v, nil
		}
	}
	return r.validators[len(r.validators)-1], nil
}

// LeaderKey is a LeaderResolver-shaped wrapper for core.Validator,
// used to wire a Registry into core.Validator's leader check without
// core importing this package.
func (r *Registry) LeaderKey(seed [32]byte, view uint32) ([]byte, error) {
	v, err := r.Leader(seed, view)
	if err != nil {
		return nil, err
	}
	return v.NetworkKey, nil
}

// IndexOf returns the validator's position in the sorted set, used to
// build and check signer bitmaps for aggregate signatures.
func (r *Registry) IndexOf(networkKey []byte) (int, bool) {
	for i, v := range r.validators {
		if bytes.Equal(v.NetworkKey, networkKey) {
			return i, true
		}
	}
	return 0, false
}

// NewLeaderResolver binds a core.LeaderResolver to chain: the closure
// re-derives the epoch's Registry on every call rather than caching
// one, since the validator set is only fixed within an epoch and a new
// macro-block can supersede it at any time.
func NewLeaderResolver(chain *core.ChainState) core.LeaderResolver {
	return func(height core.Height, view uint32) ([]byte, error) {
		seed, err := chain.EpochSeed(height.Epoch)
		if err != nil {
			return nil, err
		}
		reg := NewRegistry(chain.Validators(height.Epoch))
		return reg.LeaderKey(seed, view)
	}
}

// NewQuorumVerifier binds a core.QuorumVerifier to chain: it checks
// both that the aggregate signature verifies against exactly the
// signers named by the bitmap, and that their combined stake meets the
// epoch's quorum threshold.
func NewQuorumVerifier(chain *core.ChainState) core.QuorumVerifier {
	return func(bodyHash core.Hash, agg []byte, bitmap []bool, epoch uint64) (bool, error) {
		reg := NewRegistry(chain.Validators(epoch))
		if len(bitmap) != reg.Len() {
			return false, fmt.Errorf("signer bitmap has %d bits, validator set has %d", len(bitmap), reg.Len())
		}
		vs := reg.Validators()
		pks := make([]*crypto.PublicKey, reg.Len())
		var stake uint64
		for i, v := range vs {
			pk, err := crypto.PublicKeyFromBytes(v.NetworkKey)
			if err != nil {
				return false, fmt.Errorf("validator %d public key: %w", i, err)
			}
			pks[i] = pk
			if bitmap[i] {
				stake += v.Stake
			}
		}
		if stake < reg.QuorumThreshold() {
			return false, nil
		}
		sig, err := crypto.SignatureFromBytes(agg)
		if err != nil {
			return false, err
		}
		return crypto.VerifyAggregate(sig, bitmap, bodyHash[:], pks)
	}
}

func viewBytes(view uint32) []byte {
	b := make([]byte, 4)
	b[0] = byte(view >> 24)
	b[1] = byte(view >> 16)
	b[2] = byte(view >> 8)
	b[3] = byte(view)
	return b
}

// bigModStake reduces a 32-byte digest modulo totalStake without
// pulling in math/big for a single reduction: treats the digest as a
// big-endian integer, folding 8 bytes at a time.
func bigModStake(digest [32]byte, totalStake uint64) uint64 {
	// wordWeight is 2^64 mod totalStake, the factor one 8-byte shift applies.
	wordWeight := (^uint64(0)%totalStake + 1) % totalStake
	var acc uint64
	for i := 0; i < 32; i += 8 {
		var chunk uint64
		for j := 0; j < 8; j++ {
			chunk = chunk<<8 | uint64(digest[i+j])
		}
		hi, lo := bits.Mul64(acc, wordWeight)
		_, acc = bits.Div64(hi, lo, totalStake)
		sum, carry := bits.Add64(acc, chunk%totalStake, 0)
		_, acc = bits.Div64(carry, sum, totalStake)
	}
	return acc
}

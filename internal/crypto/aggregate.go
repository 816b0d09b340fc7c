package crypto

import "fmt"

// Aggregate sums individual signatures into a single G2 point. This is
// the macro-block seal: one aggregate signature plus a signer bitmap
// stands in for N individual precommit signatures.
func Aggregate(sigs []*Signature) (*Signature, error) {
	if len(sigs) == 0 {
		return nil, ErrAggregateEmpty
	}
	acc := g2.New()
	for _, s := range sigs {
		g2.Add(acc, acc, s.point)
	}
	return &Signature{point: acc}, nil
}

// AggregatePublicKeys sums the public keys of a signer subset, used to
// check an aggregate signature against exactly the validators named by
// the signer bitmap rather than the whole validator set.
func AggregatePublicKeys(pks []*PublicKey) (*PublicKey, error) {
	if len(pks) == 0 {
		return nil, ErrAggregateEmpty
	}
	acc := g1.New()
	for _, pk := range pks {
		g1.Add(acc, acc, pk.point)
	}
	return &PublicKey{point: acc}, nil
}

// VerifyAggregate checks an aggregate precommit signature against a
// validator set and a signer bitmap: bit i set means validators[i]
// signed msg. All signers are assumed to have signed the identical
// message (the sealed header hash), which is the case for precommits.
func VerifyAggregate(agg *Signature, bitmap []bool, msg []byte, validators []*PublicKey) (bool, error) {
	if len(bitmap) != len(validators) {
		return false, fmt.Errorf("%w: bitmap has %d bits, %d validators", ErrSignerCountMismatch, len(bitmap), len(validators))
	}
	var signers []*PublicKey
	for i, signed := range bitmap {
		if signed {
			signers = append(signers, validators[i])
		}
	}
	if len(signers) == 0 {
		return false, ErrAggregateEmpty
	}
	combined, err := AggregatePublicKeys(signers)
	if err != nil {
		return false, err
	}
	return Verify(combined, msg, agg), nil
}

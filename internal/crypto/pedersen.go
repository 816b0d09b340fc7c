package crypto

import (
	"math/big"

	bls12381 "github.com/ethereum/go-ethereum/crypto/bls12381"
)

// pedersenH is a nothing-up-my-sleeve second generator, derived by
// mapping a fixed domain-separated string onto G1 so nobody knows its
// discrete log with respect to G.
var pedersenH = mustMapToCurve([]byte("pallas/pedersen/H"))

func mustMapToCurve(domain []byte) *bls12381.PointG1 {
	p, err := g1.MapToCurve(fpBytes(Hash256(domain)))
	if err != nil {
		panic("crypto: failed to derive Pedersen generator: " + err.Error())
	}
	return p
}

// Commitment is a Pedersen commitment gamma*G + fee*H over the same
// BLS12-381 G1 group used for validator public keys, so the node ships
// one curve library for both concerns.
type Commitment struct {
	point *bls12381.PointG1
}

// Commit builds gamma*G + fee*H.
func Commit(gamma, fee *big.Int) Commitment {
	gammaG := g1.New()
	g1.MulScalar(gammaG, g1.One(), gamma)

	feeH := g1.New()
	g1.MulScalar(feeH, pedersenH, fee)

	sum := g1.New()
	g1.Add(sum, gammaG, feeH)
	return Commitment{point: sum}
}

// Add folds c2 into an accumulator, exploiting additive homomorphism:
// Commit(g1,f1) + Commit(g2,f2) == Commit(g1+g2, f1+f2).
func (c Commitment) Add(other Commitment) Commitment {
	sum := g1.New()
	g1.Add(sum, c.point, other.point)
	return Commitment{point: sum}
}

// Neg returns the additive inverse, used to subtract commitments by
// adding a negation (the group has no direct Sub).
func (c Commitment) Neg() Commitment {
	n := g1.New()
	g1.Neg(n, c.point)
	return Commitment{point: n}
}

// Equal reports whether two commitments are the same curve point.
func (c Commitment) Equal(other Commitment) bool {
	return g1.Equal(c.point, other.point)
}

// IsZero reports whether the commitment is the group identity, which
// is what a balanced transaction's input/output/fee commitment total
// must reduce to.
func (c Commitment) IsZero() bool {
	return g1.IsZero(c.point)
}

// ZeroCommitment is the group identity element.
func ZeroCommitment() Commitment {
	return Commitment{point: g1.Zero()}
}

// Bytes serializes the commitment point for inclusion in a transaction.
func (c Commitment) Bytes() []byte {
	return g1.ToBytes(c.point)
}

// CommitmentFromBytes parses a serialized commitment point.
func CommitmentFromBytes(b []byte) (Commitment, error) {
	p, err := g1.FromBytes(b)
	if err != nil {
		return Commitment{}, err
	}
	return Commitment{point: p}, nil
}

// GobEncode sends the commitment across the gossip wire as its
// canonical point bytes; the struct itself has no exported fields for
// gob to see. A zero-value commitment (non-Payment outputs) encodes to
// no bytes at all.
func (c Commitment) GobEncode() ([]byte, error) {
	if c.point == nil {
		return nil, nil
	}
	return g1.ToBytes(c.point), nil
}

// GobDecode is the inverse of GobEncode.
func (c *Commitment) GobDecode(b []byte) error {
	if len(b) == 0 {
		c.point = nil
		return nil
	}
	p, err := g1.FromBytes(b)
	if err != nil {
		return err
	}
	c.point = p
	return nil
}

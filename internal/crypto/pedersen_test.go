package crypto

import (
	"math/big"
	"testing"
)

func TestCommitHomomorphism(t *testing.T) {
	g1v := big.NewInt(7)
	f1 := big.NewInt(3)
	g2v := big.NewInt(11)
	f2 := big.NewInt(5)

	sum := Commit(g1v, f1).Add(Commit(g2v, f2))
	direct := Commit(new(big.Int).Add(g1v, g2v), new(big.Int).Add(f1, f2))

	if !sum.Equal(direct) {
		t.Errorf("Commit(g1,f1)+Commit(g2,f2) != Commit(g1+g2,f1+f2); Pedersen additivity broken")
	}
}

func TestCommitNegCancelsOut(t *testing.T) {
	c := Commit(big.NewInt(42), big.NewInt(9))
	zero := c.Add(c.Neg())
	if !zero.IsZero() {
		t.Errorf("Commit(v,f) + Commit(v,f).Neg() is not the group identity")
	}
}

func TestZeroCommitmentIsIdentity(t *testing.T) {
	z := ZeroCommitment()
	if !z.IsZero() {
		t.Errorf("ZeroCommitment().IsZero() = false; want true")
	}
	c := Commit(big.NewInt(1), big.NewInt(1))
	if !z.Add(c).Equal(c) {
		t.Errorf("ZeroCommitment() + c != c")
	}
}

func TestCommitmentBytesRoundTrip(t *testing.T) {
	c := Commit(big.NewInt(123), big.NewInt(456))
	back, err := CommitmentFromBytes(c.Bytes())
	if err != nil {
		t.Fatalf("CommitmentFromBytes() error = %v", err)
	}
	if !c.Equal(back) {
		t.Errorf("commitment does not round-trip through Bytes()/CommitmentFromBytes()")
	}
}

func TestCommitDiffersForDifferentBlinding(t *testing.T) {
	a := Commit(big.NewInt(10), big.NewInt(5))
	b := Commit(big.NewInt(11), big.NewInt(5))
	if a.Equal(b) {
		t.Errorf("Commit() produced equal commitments for different gamma values")
	}
}

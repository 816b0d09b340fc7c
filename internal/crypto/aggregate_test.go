package crypto

import "testing"

func TestAggregateVerifyAggregateRoundTrip(t *testing.T) {
	msg := []byte("macro-block header hash")
	var sks []*SecretKey
	var pks []*PublicKey
	var sigs []*Signature
	for i := 0; i < 4; i++ {
		sk, err := GenerateSecretKey()
		if err != nil {
			t.Fatalf("GenerateSecretKey() error = %v", err)
		}
		sig, err := sk.Sign(msg)
		if err != nil {
			t.Fatalf("Sign() error = %v", err)
		}
		sks = append(sks, sk)
		pks = append(pks, sk.Public())
		sigs = append(sigs, sig)
	}

	// Only the first 3 of 4 validators sign.
	agg, err := Aggregate(sigs[:3])
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	bitmap := []bool{true, true, true, false}

	ok, err := VerifyAggregate(agg, bitmap, msg, pks)
	if err != nil {
		t.Fatalf("VerifyAggregate() error = %v", err)
	}
	if !ok {
		t.Errorf("VerifyAggregate() = false; want true for a correctly aggregated signer subset")
	}
}

func TestVerifyAggregateRejectsWrongBitmap(t *testing.T) {
	msg := []byte("header hash")
	var pks []*PublicKey
	var sigs []*Signature
	for i := 0; i < 3; i++ {
		sk, _ := GenerateSecretKey()
		sig, _ := sk.Sign(msg)
		pks = append(pks, sk.Public())
		sigs = append(sigs, sig)
	}
	agg, err := Aggregate(sigs[:2])
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	// Claim validator 2 signed too, though only 0 and 1 actually did.
	bitmap := []bool{true, true, true}
	ok, err := VerifyAggregate(agg, bitmap, msg, pks)
	if err != nil {
		t.Fatalf("VerifyAggregate() error = %v", err)
	}
	if ok {
		t.Errorf("VerifyAggregate() = true for a bitmap naming a non-signer; want false")
	}
}

func TestVerifyAggregateRejectsBitmapLengthMismatch(t *testing.T) {
	sk, _ := GenerateSecretKey()
	sig, _ := sk.Sign([]byte("m"))
	agg, _ := Aggregate([]*Signature{sig})
	_, err := VerifyAggregate(agg, []bool{true, false}, []byte("m"), []*PublicKey{sk.Public()})
	if err == nil {
		t.Errorf("VerifyAggregate() error = nil for a bitmap/validator-count mismatch; want error")
	}
}

func TestAggregateEmptyFails(t *testing.T) {
	if _, err := Aggregate(nil); err == nil {
		t.Errorf("Aggregate(nil) error = nil; want ErrAggregateEmpty")
	}
}

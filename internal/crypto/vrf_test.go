package crypto

import "testing"

func TestEvaluateVerifyVRFRoundTrip(t *testing.T) {
	sk, _ := GenerateSecretKey()
	seed := Hash256([]byte("parent macro-block vrf seed"))

	out, proof, err := Evaluate(sk, seed, 2)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !VerifyVRF(sk.Public(), seed, 2, out, proof) {
		t.Errorf("VerifyVRF() = false for a freshly evaluated output; want true")
	}
}

func TestVerifyVRFRejectsWrongView(t *testing.T) {
	sk, _ := GenerateSecretKey()
	seed := Hash256([]byte("seed"))
	out, proof, err := Evaluate(sk, seed, 0)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if VerifyVRF(sk.Public(), seed, 1, out, proof) {
		t.Errorf("VerifyVRF() = true when checked against the wrong view; want false")
	}
}

func TestVerifyVRFRejectsMismatchedOutput(t *testing.T) {
	sk, _ := GenerateSecretKey()
	seed := Hash256([]byte("seed"))
	_, proof, err := Evaluate(sk, seed, 0)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	var wrongOutput [32]byte
	if VerifyVRF(sk.Public(), seed, 0, wrongOutput, proof) {
		t.Errorf("VerifyVRF() = true for an output that doesn't hash from proof; want false")
	}
}

func TestEvaluateIsDeterministicPerKey(t *testing.T) {
	sk, _ := GenerateSecretKey()
	seed := Hash256([]byte("seed"))
	out1, _, _ := Evaluate(sk, seed, 5)
	out2, _, _ := Evaluate(sk, seed, 5)
	if out1 != out2 {
		t.Errorf("Evaluate() produced different outputs for the same (sk, seed, view)")
	}
}

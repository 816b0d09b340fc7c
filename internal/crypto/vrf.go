package crypto

import (
	"encoding/binary"
)

// Evaluate derives a verifiable pseudorandom output for (seed, view)
// under sk, by signing the seed-and-view message and hashing the
// resulting signature. No dedicated VRF primitive is available in the
// surrounding ecosystem, so the aggregate signature scheme doubles as
// the VRF: the signature itself is the proof, and VerifyVRF (below)
// checks it the same way a precommit signature is checked.
func Evaluate(sk *SecretKey, seed [32]byte, view uint32) ([32]byte, *Signature, error) {
	msg := vrfMessage(seed, view)
	sig, err := sk.Sign(msg)
	if err != nil {
		return [32]byte{}, nil, err
	}
	return Hash256(sig.Bytes()), sig, nil
}

// VerifyVRF checks that proof is a valid signature over (seed, view)
// under pk, and that output is its hash.
func VerifyVRF(pk *PublicKey, seed [32]byte, view uint32, output [32]byte, proof *Signature) bool {
	if Hash256(proof.Bytes()) != output {
		return false
	}
	return Verify(pk, vrfMessage(seed, view), proof)
}

func vrfMessage(seed [32]byte, view uint32) []byte {
	buf := make([]byte, 32+4)
	copy(buf, seed[:])
	binary.BigEndian.PutUint32(buf[32:], view)
	return buf
}

package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	bls12381 "github.com/ethereum/go-ethereum/crypto/bls12381"
)

// frOrder is the order of the BLS12-381 scalar field, used to reduce
// hash outputs into valid secret-key / blinding-factor scalars.
var frOrder, _ = new(big.Int).SetString("52435875175126190479447740508185965837690552500527637822603658699938581184513", 10)

var (
	ErrInvalidSignature  = errors.New("invalid bls signature")
	ErrInvalidPublicKey  = errors.New("invalid bls public key")
	ErrAggregateEmpty    = errors.New("cannot aggregate zero signatures")
	ErrSignerCountMismatch = errors.New("signer bitmap does not match validator count")
)

var (
	g1 = bls12381.NewG1()
	g2 = bls12381.NewG2()
)

// fpBytes widens a 32-byte digest into the 48-byte canonical field
// element bls12381's MapToCurve consumes; the zero high bytes keep the
// value far below the field modulus.
func fpBytes(d [32]byte) []byte {
	out := make([]byte, 48)
	copy(out[16:], d[:])
	return out
}

// hashToG2 maps msg onto G2 through two chained digests widened into
// the 96-byte fp2 element MapToCurve expects. Sign and Verify must
// agree on this mapping exactly.
func hashToG2(msg []byte) (*bls12381.PointG2, error) {
	c0 := Hash256(msg)
	c1 := Hash256(c0[:])
	buf := make([]byte, 96)
	copy(buf[16:48], c0[:])
	copy(buf[64:], c1[:])
	return g2.MapToCurve(buf)
}

// SecretKey is a validator's consensus signing key, a scalar in the
// BLS12-381 scalar field.
type SecretKey struct {
	scalar *big.Int
}

// PublicKey is a validator's consensus identity, a point on G1.
type PublicKey struct {
	point *bls12381.PointG1
}

// Signature is a precommit/proposal signature, a point on G2.
type Signature struct {
	point *bls12381.PointG2
}

// DeriveSecretKey deterministically derives a scalar from seed,
// used only for reproducible genesis validator keys (never for keys
// that guard real funds or consensus weight in production).
func DeriveSecretKey(seed []byte) *SecretKey {
	digest := Hash256(seed)
	k := new(big.Int).SetBytes(digest[:])
	k.Mod(k, frOrder)
	if k.Sign() == 0 {
		k.SetInt64(1)
	}
	return &SecretKey{scalar: k}
}

// GenerateSecretKey draws a fresh random scalar.
func GenerateSecretKey() (*SecretKey, error) {
	k, err := rand.Int(rand.Reader, frOrder)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	if k.Sign() == 0 {
		k.SetInt64(1)
	}
	return &SecretKey{scalar: k}, nil
}

// Public derives the public key sk*G1.
func (sk *SecretKey) Public() *PublicKey {
	p := g1.New()
	g1.MulScalar(p, g1.One(), sk.scalar)
	return &PublicKey{point: p}
}

// Sign produces a signature sk*H(msg) on G2, where H maps the message
// digest onto the curve.
func (sk *SecretKey) Sign(msg []byte) (*Signature, error) {
	pt, err := hashToG2(msg)
	if err != nil {
		return nil, fmt.Errorf("map to curve: %w", err)
	}
	out := g2.New()
	g2.MulScalar(out, pt, sk.scalar)
	return &Signature{point: out}, nil
}

// Bytes returns the secret scalar as fixed 32-byte big-endian.
func (sk *SecretKey) Bytes() []byte {
	b := sk.scalar.Bytes()
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// SecretKeyFromBytes reconstructs a scalar from its 32-byte encoding.
func SecretKeyFromBytes(b []byte) *SecretKey {
	return &SecretKey{scalar: new(big.Int).SetBytes(b)}
}

// Bytes serializes the public key point.
func (pk *PublicKey) Bytes() []byte {
	return g1.ToBytes(pk.point)
}

// PublicKeyFromBytes parses a serialized G1 point.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	p, err := g1.FromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return &PublicKey{point: p}, nil
}

// Bytes serializes the signature point.
func (s *Signature) Bytes() []byte {
	return g2.ToBytes(s.point)
}

// SignatureFromBytes parses a serialized G2 point.
func SignatureFromBytes(b []byte) (*Signature, error) {
	p, err := g2.FromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return &Signature{point: p}, nil
}

// Verify checks sig against msg for the given public key via a
// pairing check: e(pk, H(msg)) == e(G1.One(), sig).
func Verify(pk *PublicKey, msg []byte, sig *Signature) bool {
	hp, err := hashToG2(msg)
	if err != nil {
		return false
	}
	neg := g1.New()
	g1.Neg(neg, g1.One())

	engine := bls12381.NewPairingEngine()
	engine.AddPair(pk.point, hp)
	engine.AddPair(neg, sig.point)
	return engine.Check()
}

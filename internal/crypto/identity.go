// Package crypto implements the confidential primitives the node needs:
// network identity keys, BLS consensus keys, Pedersen commitments, range
// proofs and a signature-derived VRF.
package crypto

import (
	"bytes"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	dcecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multicodec"
	"github.com/multiformats/go-varint"
)

var (
	ErrInvalidKeyFormat    = errors.New("invalid key format")
	ErrKeyGeneration       = errors.New("key generation failed")
	ErrKeySerialization    = errors.New("key serialization failed")
	ErrKeyDeserialization  = errors.New("key deserialization failed")
	ErrPEMDecoding         = errors.New("pem decoding error")
	ErrUnsupportedPEMType  = errors.New("unsupported pem block type")
	ErrInvalidDIDKeyFormat = errors.New("invalid did:key string format")
	ErrMultibaseDecode     = errors.New("failed to decode multibase string")
	ErrUnexpectedEncoding  = errors.New("unexpected multibase encoding")
	ErrMulticodecType      = errors.New("unexpected multicodec type")
	ErrPubKeyLength        = errors.New("public key length mismatch")
)

// secp256k1-pub, per the multiformats multicodec table.
const CodecSecp256k1PubKeyUncompressed multicodec.Code = 0xe7

const secp256k1UncompressedLen = 65

// NodeIdentity is a validator's network-layer keypair, used to sign the
// gossip transport handshake. It is distinct from the BLS consensus key
// (a SecretKey): a peer can be authenticated on the wire without revealing
// whether it is also a validator.
type NodeIdentity struct {
	Priv *secp256k1.PrivateKey
	Pub  *secp256k1.PublicKey
}

// GenerateNodeIdentity creates a fresh secp256k1 network identity.
func GenerateNodeIdentity() (*NodeIdentity, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return &NodeIdentity{Priv: priv, Pub: priv.PubKey()}, nil
}

// Sign produces a DER-encoded ECDSA signature over digest.
func (n *NodeIdentity) Sign(digest [32]byte) []byte {
	sig := dcecdsa.Sign(n.Priv, digest[:])
	return sig.Serialize()
}

// VerifyNodeSignature checks a DER signature against an uncompressed
// public key and a digest.
func VerifyNodeSignature(pubKeyBytes []byte, digest [32]byte, sig []byte) (bool, error) {
	pub, err := DeserializeNodePublicKey(pubKeyBytes)
	if err != nil {
		return false, err
	}
	parsed, err := dcecdsa.ParseDERSignature(sig)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrKeyDeserialization, err)
	}
	return parsed.Verify(digest[:], pub), nil
}

// SerializeNodePublicKey returns the 65-byte uncompressed SEC1 encoding.
func SerializeNodePublicKey(pub *secp256k1.PublicKey) []byte {
	return pub.SerializeUncompressed()
}

// DeserializeNodePublicKey parses a 65-byte uncompressed SEC1 encoding.
func DeserializeNodePublicKey(b []byte) (*secp256k1.PublicKey, error) {
	if len(b) != secp256k1UncompressedLen || b[0] != 0x04 {
		return nil, fmt.Errorf("%w: expected %d uncompressed bytes, got %d", ErrInvalidKeyFormat, secp256k1UncompressedLen, len(b))
	}
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDeserialization, err)
	}
	return pub, nil
}

// Standard x509 ASN.1 key containers don't carry the secp256k1 curve
// OID, so private keys are stored as a custom PEM block wrapping the
// raw 32-byte scalar instead of PKCS8/SEC1 DER.
const (
	pemPrivateKeyType = "PALLAS SECP256K1 PRIVATE KEY"
	pemPublicKeyType  = "PALLAS SECP256K1 PUBLIC KEY"
)

// SaveIdentityPEM writes the private key to filePath (0600) and the
// public key to filePath+".pub" (0644).
func SaveIdentityPEM(n *NodeIdentity, filePath string) error {
	privBlock := pem.EncodeToMemory(&pem.Block{Type: pemPrivateKeyType, Bytes: n.Priv.Serialize()})
	if err := os.WriteFile(filePath, privBlock, 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	pubBlock := pem.EncodeToMemory(&pem.Block{Type: pemPublicKeyType, Bytes: SerializeNodePublicKey(n.Pub)})
	if err := os.WriteFile(filePath+".pub", pubBlock, 0644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

// LoadIdentityPEM reads a private key previously written by SaveIdentityPEM.
func LoadIdentityPEM(filePath string) (*NodeIdentity, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	block, rest := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrPEMDecoding)
	}
	if len(bytes.TrimSpace(rest)) > 0 {
		return nil, fmt.Errorf("%w: trailing data after PEM block", ErrPEMDecoding)
	}
	if block.Type != pemPrivateKeyType {
		return nil, fmt.Errorf("%w: got %q", ErrUnsupportedPEMType, block.Type)
	}
	priv := secp256k1.PrivKeyFromBytes(block.Bytes)
	return &NodeIdentity{Priv: priv, Pub: priv.PubKey()}, nil
}

// DID key encoding (did:key:<multibase(multicodec-prefix || pubkey)>)
// for secp256k1 public keys.

// GenerateDIDKey returns a did:key identifier for an uncompressed
// secp256k1 public key.
func GenerateDIDKey(pubKeyBytes []byte) (string, error) {
	if len(pubKeyBytes) != secp256k1UncompressedLen || pubKeyBytes[0] != 0x04 {
		return "", fmt.Errorf("%w: expected %d bytes starting with 0x04, got %d", ErrInvalidKeyFormat, secp256k1UncompressedLen, len(pubKeyBytes))
	}
	var buf bytes.Buffer
	buf.Write(varint.ToUvarint(uint64(CodecSecp256k1PubKeyUncompressed)))
	buf.Write(pubKeyBytes)
	encoded, err := multibase.Encode(multibase.Base58BTC, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMultibaseDecode, err)
	}
	return "did:key:" + encoded, nil
}

// ParseDIDKey parses a did:key identifier back to an uncompressed
// secp256k1 public key.
func ParseDIDKey(did string) ([]byte, error) {
	if !strings.HasPrefix(did, "did:key:") {
		return nil, ErrInvalidDIDKeyFormat
	}
	encoding, decoded, err := multibase.Decode(strings.TrimPrefix(did, "did:key:"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMultibaseDecode, err)
	}
	if encoding != multibase.Base58BTC {
		return nil, fmt.Errorf("%w: got %q", ErrUnexpectedEncoding, multibase.EncodingToStr[encoding])
	}
	codec, n, err := varint.FromUvarint(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to read multicodec header: %w", err)
	}
	rest := decoded[n:]
	if multicodec.Code(codec) != CodecSecp256k1PubKeyUncompressed {
		return nil, fmt.Errorf("%w: got %s", ErrMulticodecType, multicodec.Code(codec).String())
	}
	if len(rest) != secp256k1UncompressedLen {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrPubKeyLength, secp256k1UncompressedLen, len(rest))
	}
	return rest, nil
}

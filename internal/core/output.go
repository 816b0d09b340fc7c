package core

import (
	"encoding/binary"
	"errors"

	"github.com/pallaschain/pallas/internal/crypto"
)

// OutputKind tags the three output variants named in the data model.
type OutputKind uint8

const (
	KindPayment OutputKind = iota
	KindPublicPayment
	KindStake
)

var ErrUnknownOutputKind = errors.New("unknown output kind")

// Output is a tagged union over the three output variants. Exactly one
// of the kind-specific fields is meaningful for a given Kind: a single
// struct with a discriminant rather than a Go interface, since outputs
// are serialized as a flat wire record.
type Output struct {
	Kind OutputKind

	// Payment
	Commitment crypto.Commitment
	RangeProof *crypto.RangeProof
	Payload    []byte // encrypted recipient payload

	// PublicPayment
	Recipient []byte // recipient network key
	Amount    uint64

	// Stake
	ValidatorKey    []byte
	StakeAmount     uint64
	ActivationEpoch uint64
}

// Bytes is the canonical encoding hashed into a block body and used to
// derive this output's own content hash.
func (o Output) Bytes() []byte {
	var buf []byte
	buf = append(buf, byte(o.Kind))
	switch o.Kind {
	case KindPayment:
		buf = append(buf, o.Commitment.Bytes()...)
		buf = append(buf, o.Payload...)
	case KindPublicPayment:
		buf = append(buf, o.Recipient...)
		amt := make([]byte, 8)
		binary.BigEndian.PutUint64(amt, o.Amount)
		buf = append(buf, amt...)
	case KindStake:
		buf = append(buf, o.ValidatorKey...)
		amt := make([]byte, 16)
		binary.BigEndian.PutUint64(amt[:8], o.StakeAmount)
		binary.BigEndian.PutUint64(amt[8:], o.ActivationEpoch)
		buf = append(buf, amt...)
	}
	return buf
}

// Hash addresses this output for use as a future input reference.
func (o Output) Hash() Hash {
	return Hash(crypto.Hash256(o.Bytes()))
}

// PublicAmount returns the cleartext amount this output contributes to
// the visible (non-confidential) balance, used by PublicPayment and
// Stake outputs; Payment outputs contribute zero here and instead
// carry their amount inside Commitment.
func (o Output) PublicAmount() uint64 {
	switch o.Kind {
	case KindPublicPayment:
		return o.Amount
	case KindStake:
		return o.StakeAmount
	default:
		return 0
	}
}

// Validate checks output-kind-specific well-formedness: a Payment
// output must carry a range proof over its commitment, others must
// carry no dangling confidential fields.
func (o Output) Validate() error {
	switch o.Kind {
	case KindPayment:
		if o.RangeProof == nil {
			return ErrMissingRangeProof
		}
		ok, err := crypto.VerifyRange(o.RangeProof, o.Commitment)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidRangeProof
		}
	case KindPublicPayment:
		if len(o.Recipient) == 0 {
			return ErrMissingRecipient
		}
	case KindStake:
		if len(o.ValidatorKey) == 0 {
			return ErrMissingValidatorKey
		}
	default:
		return ErrUnknownOutputKind
	}
	return nil
}

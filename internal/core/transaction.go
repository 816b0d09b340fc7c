package core

import (
	"encoding/binary"
	"math/big"

	"github.com/pallaschain/pallas/internal/crypto"
)

// Transaction spends a set of existing outputs (named by hash) and
// creates a set of new ones. Gamma is the aggregate Pedersen blinding
// factor: for a balanced transaction, summing the input commitments,
// negating the output commitments and the explicit fee commitment
// collapses to the group identity.
type Transaction struct {
	Inputs    []Hash
	Outputs   []Output
	Gamma     []byte // big.Int bytes
	Fee       uint64
	SenderKey []byte // serialized BLS public key authorizing the spend
	Sig       []byte // serialized BLS signature over BodyBytes()
}

// BodyBytes is the canonical encoding signed by the sender.
func (t *Transaction) BodyBytes() []byte {
	var buf []byte
	for _, in := range t.Inputs {
		buf = append(buf, in[:]...)
	}
	for _, o := range t.Outputs {
		buf = append(buf, o.Bytes()...)
	}
	buf = append(buf, t.Gamma...)
	feeBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(feeBuf, t.Fee)
	buf = append(buf, feeBuf...)
	buf = append(buf, t.SenderKey...)
	return buf
}

// Hash is this transaction's content address, used as its mempool key
// and as the input reference future transactions spend against.
func (t *Transaction) Hash() Hash {
	return Hash(crypto.Hash256(t.BodyBytes()))
}

// Sign authorizes the transaction with sk, setting SenderKey and Sig.
func (t *Transaction) Sign(sk *crypto.SecretKey) error {
	t.SenderKey = sk.Public().Bytes()
	sig, err := sk.Sign(t.BodyBytes())
	if err != nil {
		return err
	}
	t.Sig = sig.Bytes()
	return nil
}

// VerifySignature checks Sig against SenderKey and BodyBytes().
func (t *Transaction) VerifySignature() (bool, error) {
	pk, err := crypto.PublicKeyFromBytes(t.SenderKey)
	if err != nil {
		return false, err
	}
	sig, err := crypto.SignatureFromBytes(t.Sig)
	if err != nil {
		return false, err
	}
	return crypto.Verify(pk, t.BodyBytes(), sig), nil
}

// TotalOutputAmount sums the cleartext contribution of this
// transaction's outputs (PublicPayment/Stake); Payment outputs are
// confidential and contribute only through their commitment.
func (t *Transaction) TotalOutputAmount() uint64 {
	var sum uint64
	for _, o := range t.Outputs {
		sum += o.PublicAmount()
	}
	return sum
}

// FeePerIO is the deterministic mempool ordering key: fee divided by
// the transaction's total input+output count, higher first.
func (t *Transaction) FeePerIO() float64 {
	io := len(t.Inputs) + len(t.Outputs)
	if io == 0 {
		return 0
	}
	return float64(t.Fee) / float64(io)
}

// GammaInt parses the stored blinding factor bytes into a scalar.
func (t *Transaction) GammaInt() *big.Int {
	return new(big.Int).SetBytes(t.Gamma)
}

package core

import (
	"bytes"
	"math/big"
	"time"

	"github.com/pallaschain/pallas/internal/crypto"
)

// LeaderResolver answers "who is the leader for this height and view"
// without core importing the validator registry package directly,
// keeping the dependency direction the other way (validator -> core).
type LeaderResolver func(height Height, view uint32) ([]byte, error)

// QuorumVerifier checks a macro-block's aggregate signature against
// the validator set active at the given epoch; ValidateMacroBlock
// passes the block's own height epoch (the one it opens). Passed in
// rather than imported to avoid a package cycle.
type QuorumVerifier func(bodyHash Hash, agg []byte, bitmap []bool, epoch uint64) (bool, error)

// BlockValidator is the pure block/transaction validator (Component 5).
// It never mutates state; ChainState.TryAppend and the consensus
// engine's Propose-phase check both call through it.
type BlockValidator struct {
	Leader LeaderResolver
	Quorum QuorumVerifier
}

func NewValidator(leader LeaderResolver, quorum QuorumVerifier) *BlockValidator {
	return &BlockValidator{Leader: leader, Quorum: quorum}
}

// ValidateTransaction checks input existence/uniqueness against utxos,
// balance, output well-formedness and the sender signature.
func (v *BlockValidator) ValidateTransaction(tx *Transaction, utxos *UTXOSet, maxInputs int) error {
	if len(tx.Inputs) == 0 && len(tx.Outputs) == 0 {
		return validationErr(ErrEmptyTransaction)
	}
	if len(tx.Inputs) > maxInputs {
		return validationErr(ErrTooManyInputs)
	}

	seen := make(map[Hash]struct{}, len(tx.Inputs))
	inputSum := crypto.ZeroCommitment()
	var inputPublic uint64
	for _, in := range tx.Inputs {
		if _, dup := seen[in]; dup {
			return validationErr(ErrInputAlreadySpent)
		}
		seen[in] = struct{}{}
		out, ok := utxos.Get(in)
		if !ok {
			return validationErr(ErrInputNotFound)
		}
		if out.Kind == KindPayment {
			inputSum = inputSum.Add(out.Commitment)
		} else {
			inputPublic += out.PublicAmount()
		}
	}

	outputSum := crypto.ZeroCommitment()
	for _, o := range tx.Outputs {
		if err := o.Validate(); err != nil {
			return validationErr(err)
		}
		if o.Kind == KindPayment {
			outputSum = outputSum.Add(o.Commitment)
		}
	}

	if ok, err := tx.VerifySignature(); err != nil || !ok {
		return validationErr(ErrBadLeaderSignature)
	}

	// Balance invariant: sum(input commitments) must equal sum(output
	// commitments) + fee-commitment, via the additively homomorphic
	// Pedersen scheme. Cleartext value (PublicPayment/Stake amounts,
	// which never went through a commitment in the first place) is
	// folded into both sides as a zero-blinded commitment so it is
	// conserved exactly like confidential value, instead of silently
	// dropping out of the equality check.
	feeCommitment := crypto.Commit(tx.GammaInt(), new(big.Int).SetUint64(tx.Fee))
	lhs := inputSum.Add(crypto.Commit(big.NewInt(0), new(big.Int).SetUint64(inputPublic)))
	rhs := outputSum.Add(feeCommitment).Add(crypto.Commit(big.NewInt(0), new(big.Int).SetUint64(tx.TotalOutputAmount())))
	if !lhs.Equal(rhs) {
		return validationErr(ErrUnbalancedTx)
	}

	return nil
}

// ValidateMicroBlock checks a micro-block's leader identity, leader
// signature, timestamp monotonicity and the block's UTXO footprint;
// individual transactions are checked separately by
// ValidateBlockTransactions so the same code path covers macro-blocks.
// maxUTXO bounds the input+output references the block may touch, the
// unit max_utxo_in_block is denominated in.
func (v *BlockValidator) ValidateMicroBlock(b *MicroBlock, parent Header, maxUTXO int) error {
	if b.Header.Previous != (Hash)(crypto.Hash256(parent.Bytes())) {
		return validationErr(ErrWrongParent)
	}
	if b.Header.Timestamp < parent.Timestamp {
		return validationErr(ErrNonMonotoneTimestamp)
	}
	if blockUTXORefs(b.Transactions) > maxUTXO {
		return validationErr(ErrBlockTooLarge)
	}

	expectedLeader, err := v.Leader(b.Header.Height, b.Header.View)
	if err != nil {
		return err
	}
	if !bytes.Equal(expectedLeader, b.LeaderPubKey) {
		return protocolErr(ErrWrongLeader)
	}

	pk, err := crypto.PublicKeyFromBytes(b.LeaderPubKey)
	if err != nil {
		return protocolErr(ErrBadLeaderSignature)
	}
	sig, err := crypto.SignatureFromBytes(b.LeaderSig)
	if err != nil {
		return protocolErr(ErrBadLeaderSignature)
	}
	if !crypto.Verify(pk, b.BodyBytes(), sig) {
		return protocolErr(ErrBadLeaderSignature)
	}

	proof, err := crypto.SignatureFromBytes(b.Header.VRFProof)
	if err != nil {
		return protocolErr(ErrBadVRFProof)
	}
	if !crypto.VerifyVRF(pk, parent.VRFSeed, b.Header.View, b.Header.VRFSeed, proof) {
		return protocolErr(ErrBadVRFProof)
	}
	return nil
}

// blockUTXORefs counts the input and output references a block's
// transactions touch between them.
func blockUTXORefs(txs []*Transaction) int {
	n := 0
	for _, tx := range txs {
		n += len(tx.Inputs) + len(tx.Outputs)
	}
	return n
}

// ValidateBlockTransactions checks every transaction in a committed
// block: individually (ValidateTransaction) and for cross-transaction
// double-spends within the same block, which ValidateTransaction alone
// cannot see since it only looks at the not-yet-mutated UTXO set.
func (v *BlockValidator) ValidateBlockTransactions(txs []*Transaction, utxos *UTXOSet, maxInputsPerTx int) error {
	spentInBlock := make(map[Hash]struct{})
	for _, tx := range txs {
		for _, in := range tx.Inputs {
			if _, dup := spentInBlock[in]; dup {
				return validationErr(ErrInputAlreadySpent)
			}
		}
		if err := v.ValidateTransaction(tx, utxos, maxInputsPerTx); err != nil {
			return err
		}
		for _, in := range tx.Inputs {
			spentInBlock[in] = struct{}{}
		}
	}
	return nil
}

// ValidateMacroBlockProposal checks an as-yet-unsealed macro-block the
// way a follower must before prevoting for it: parent hash, timestamp,
// the proposer's VRF seed under the leader elected for (height, view),
// and that the proposed next validator set is exactly this node's own
// escrow snapshot. The aggregate quorum signature is deliberately NOT
// checked here: the seal does not exist until the vote round this
// proposal is starting has finished (ValidateMacroBlock covers the
// sealed block at append time).
func (v *BlockValidator) ValidateMacroBlockProposal(b *MacroBlock, parent Header, localNext []Validator) error {
	if b.Header.Previous != (Hash)(crypto.Hash256(parent.Bytes())) {
		return validationErr(ErrWrongParent)
	}
	if b.Header.Timestamp < parent.Timestamp {
		return validationErr(ErrNonMonotoneTimestamp)
	}

	expectedLeader, err := v.Leader(b.Header.Height, b.Header.View)
	if err != nil {
		return err
	}
	pk, err := crypto.PublicKeyFromBytes(expectedLeader)
	if err != nil {
		return protocolErr(ErrWrongLeader)
	}
	proof, err := crypto.SignatureFromBytes(b.Header.VRFProof)
	if err != nil {
		return protocolErr(ErrBadVRFProof)
	}
	if !crypto.VerifyVRF(pk, parent.VRFSeed, b.Header.View, b.Header.VRFSeed, proof) {
		return protocolErr(ErrBadVRFProof)
	}

	if !sameValidatorSet(b.NextValidators, localNext) {
		return validationErr(ErrValidatorSetMismatch)
	}
	return nil
}

// sameValidatorSet compares two validator sets as sets, under the same
// (stake desc, key asc) order the registry sorts by, so two nodes whose
// escrow tables agree accept each other's macro proposals regardless of
// the order either enumerated its table in.
func sameValidatorSet(a, b []Validator) bool {
	if len(a) != len(b) {
		return false
	}
	as := sortedValidators(a)
	bs := sortedValidators(b)
	for i := range as {
		if !bytes.Equal(as[i].Bytes(), bs[i].Bytes()) {
			return false
		}
	}
	return true
}

// ValidateMacroBlock checks a macro-block's aggregate quorum signature
// and timestamp monotonicity; it does not re-verify individual
// micro-blocks, which were already validated as they committed.
func (v *BlockValidator) ValidateMacroBlock(b *MacroBlock, parent Header) error {
	if b.Header.Previous != (Hash)(crypto.Hash256(parent.Bytes())) {
		return validationErr(ErrWrongParent)
	}
	if b.Header.Timestamp < parent.Timestamp {
		return validationErr(ErrNonMonotoneTimestamp)
	}
	ok, err := v.Quorum(b.Hash(), b.AggregateSig, b.SignerBitmap, b.Header.Height.Epoch)
	if err != nil {
		return err
	}
	if !ok {
		return protocolErr(ErrBadQuorumSignature)
	}
	return nil
}

// Now is overridable in tests.
var Now = func() int64 { return time.Now().Unix() }

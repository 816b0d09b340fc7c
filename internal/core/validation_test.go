package core

import (
	"math/big"
	"testing"

	"github.com/pallaschain/pallas/internal/crypto"
)

func noopValidator() *BlockValidator {
	return NewValidator(
		func(Height, uint32) ([]byte, error) { return nil, nil },
		func(Hash, []byte, []bool, uint64) (bool, error) { return true, nil },
	)
}

// balancedPublicTx spends `in` (worth inAmount) into a PublicPayment
// output of outAmount, with Fee set to the difference so cleartext
// value is conserved: inAmount must equal outAmount+Fee for
// ValidateTransaction to accept it. PublicPayment amounts contribute
// nothing to the Pedersen commitment sums directly; they are folded
// into the balance check as zero-blinded commitments instead (see
// ValidateTransaction), the same way Fee already was.
func balancedPublicTx(t *testing.T, sk *crypto.SecretKey, in Hash, inAmount, outAmount uint64) *Transaction {
	t.Helper()
	if outAmount > inAmount {
		t.Fatalf("balancedPublicTx: outAmount %d exceeds inAmount %d", outAmount, inAmount)
	}
	tx := &Transaction{
		Inputs:  []Hash{in},
		Outputs: []Output{{Kind: KindPublicPayment, Recipient: []byte("recipient"), Amount: outAmount}},
		Gamma:   big.NewInt(0).Bytes(),
		Fee:     inAmount - outAmount,
	}
	if err := tx.Sign(sk); err != nil {
		t.Fatalf("tx.Sign() error = %v", err)
	}
	return tx
}

func TestValidateTransactionAcceptsBalancedSpend(t *testing.T) {
	sk, _ := crypto.GenerateSecretKey()
	utxos := NewUTXOSet()
	input := Output{Kind: KindPublicPayment, Recipient: []byte("payer"), Amount: 1000}
	inHash := input.Hash()
	utxos.Insert(inHash, input)

	tx := balancedPublicTx(t, sk, inHash, 1000, 990)
	v := noopValidator()
	if err := v.ValidateTransaction(tx, utxos, 16); err != nil {
		t.Errorf("ValidateTransaction() error = %v; want nil for a balanced, signed spend", err)
	}
}

// TestValidateTransactionRejectsValueDestroyingSpend is the direct
// regression test for the cleartext side of the balance invariant:
// a PublicPayment input worth 1000 into a
// PublicPayment output worth 990 with no fee destroys 10 units and
// must be rejected, not silently accepted as "balanced".
func TestValidateTransactionRejectsValueDestroyingSpend(t *testing.T) {
	sk, _ := crypto.GenerateSecretKey()
	utxos := NewUTXOSet()
	input := Output{Kind: KindPublicPayment, Recipient: []byte("payer"), Amount: 1000}
	inHash := input.Hash()
	utxos.Insert(inHash, input)

	tx := &Transaction{
		Inputs:  []Hash{inHash},
		Outputs: []Output{{Kind: KindPublicPayment, Recipient: []byte("recipient"), Amount: 990}},
		Gamma:   big.NewInt(0).Bytes(),
		Fee:     0,
	}
	if err := tx.Sign(sk); err != nil {
		t.Fatalf("tx.Sign() error = %v", err)
	}
	v := noopValidator()
	if err := v.ValidateTransaction(tx, utxos, 16); err == nil {
		t.Errorf("ValidateTransaction() accepted a spend that destroys 10 units of cleartext value; want ErrUnbalancedTx")
	}
}

// TestValidateTransactionRejectsValueCreatingStake is the Stake-output
// half of the same regression: a Stake output fabricated with no
// matching input instantly creates validator stake from nothing, which
// the balance check must also catch.
func TestValidateTransactionRejectsValueCreatingStake(t *testing.T) {
	sk, _ := crypto.GenerateSecretKey()
	utxos := NewUTXOSet()

	tx := &Transaction{
		Outputs: []Output{{Kind: KindStake, ValidatorKey: []byte("impostor"), StakeAmount: 1_000_000, ActivationEpoch: 1}},
		Gamma:   big.NewInt(0).Bytes(),
		Fee:     0,
	}
	if err := tx.Sign(sk); err != nil {
		t.Fatalf("tx.Sign() error = %v", err)
	}
	v := noopValidator()
	if err := v.ValidateTransaction(tx, utxos, 16); err == nil {
		t.Errorf("ValidateTransaction() accepted a Stake output fabricated with no backing input; want ErrUnbalancedTx")
	}
}

// TestValidateTransactionAcceptsConfidentialSpend walks a Payment
// output all the way through: the input hides 1000 under blinding 900,
// the output hides 990 under blinding 700 with a range proof bound to
// its commitment, and Gamma carries the blinding difference so the
// Pedersen sums collapse alongside the 10-unit cleartext fee.
func TestValidateTransactionAcceptsConfidentialSpend(t *testing.T) {
	sk, _ := crypto.GenerateSecretKey()
	utxos := NewUTXOSet()

	inBlind := big.NewInt(900)
	input := Output{
		Kind:       KindPayment,
		Commitment: crypto.Commit(inBlind, big.NewInt(1000)),
		Payload:    []byte("to payer"),
	}
	inHash := input.Hash()
	utxos.Insert(inHash, input)

	outBlind := big.NewInt(700)
	outCommit := crypto.Commit(outBlind, big.NewInt(990))
	proof, err := crypto.ProveRange(990, outBlind, outCommit)
	if err != nil {
		t.Fatalf("ProveRange() error = %v", err)
	}
	tx := &Transaction{
		Inputs: []Hash{inHash},
		Outputs: []Output{{
			Kind:       KindPayment,
			Commitment: outCommit,
			RangeProof: proof,
			Payload:    []byte("to recipient"),
		}},
		Gamma: new(big.Int).Sub(inBlind, outBlind).Bytes(),
		Fee:   10,
	}
	if err := tx.Sign(sk); err != nil {
		t.Fatalf("tx.Sign() error = %v", err)
	}

	v := noopValidator()
	if err := v.ValidateTransaction(tx, utxos, 16); err != nil {
		t.Errorf("ValidateTransaction() error = %v; want nil for a balanced confidential spend", err)
	}
}

// TestValidateTransactionRejectsForeignRangeProof pins the binding: a
// structurally valid range proof produced for a different commitment
// must not validate an output it was never bound to.
func TestValidateTransactionRejectsForeignRangeProof(t *testing.T) {
	sk, _ := crypto.GenerateSecretKey()
	utxos := NewUTXOSet()

	inBlind := big.NewInt(900)
	input := Output{
		Kind:       KindPayment,
		Commitment: crypto.Commit(inBlind, big.NewInt(1000)),
	}
	inHash := input.Hash()
	utxos.Insert(inHash, input)

	outBlind := big.NewInt(700)
	outCommit := crypto.Commit(outBlind, big.NewInt(990))
	otherCommit := crypto.Commit(outBlind, big.NewInt(5))
	foreign, err := crypto.ProveRange(5, outBlind, otherCommit)
	if err != nil {
		t.Fatalf("ProveRange() error = %v", err)
	}
	tx := &Transaction{
		Inputs: []Hash{inHash},
		Outputs: []Output{{
			Kind:       KindPayment,
			Commitment: outCommit,
			RangeProof: foreign,
		}},
		Gamma: new(big.Int).Sub(inBlind, outBlind).Bytes(),
		Fee:   10,
	}
	if err := tx.Sign(sk); err != nil {
		t.Fatalf("tx.Sign() error = %v", err)
	}

	v := noopValidator()
	if err := v.ValidateTransaction(tx, utxos, 16); err == nil {
		t.Errorf("ValidateTransaction() accepted an output carrying another commitment's range proof; want ErrInvalidRangeProof")
	}
}

func TestValidateTransactionRejectsMissingInput(t *testing.T) {
	sk, _ := crypto.GenerateSecretKey()
	utxos := NewUTXOSet()
	var missing Hash
	missing[0] = 1

	tx := balancedPublicTx(t, sk, missing, 1000, 990)
	v := noopValidator()
	if err := v.ValidateTransaction(tx, utxos, 16); err == nil {
		t.Errorf("ValidateTransaction() accepted a spend of a non-existent input; want ErrInputNotFound")
	}
}

func TestValidateTransactionRejectsPaymentOutputMissingRangeProof(t *testing.T) {
	sk, _ := crypto.GenerateSecretKey()
	utxos := NewUTXOSet()
	input := Output{Kind: KindPublicPayment, Recipient: []byte("payer"), Amount: 1000}
	inHash := input.Hash()
	utxos.Insert(inHash, input)

	// A Payment output with no range proof fails Output.Validate before
	// the balance equation is even reached.
	tx := &Transaction{
		Inputs:  []Hash{inHash},
		Outputs: []Output{{Kind: KindPublicPayment, Recipient: []byte("r"), Amount: 990}},
		Gamma:   big.NewInt(0).Bytes(),
		Fee:     0,
	}
	if err := tx.Sign(sk); err != nil {
		t.Fatalf("tx.Sign() error = %v", err)
	}
	payment := Output{
		Kind:       KindPayment,
		Commitment: crypto.Commit(big.NewInt(0), big.NewInt(1)),
	}
	tx.Outputs = append(tx.Outputs, payment)

	v := noopValidator()
	if err := v.ValidateTransaction(tx, utxos, 16); err == nil {
		t.Errorf("ValidateTransaction() accepted a tx with an unvalidatable Payment output; want an error")
	}
}

func TestValidateTransactionRejectsDuplicateInputWithinTx(t *testing.T) {
	sk, _ := crypto.GenerateSecretKey()
	utxos := NewUTXOSet()
	input := Output{Kind: KindPublicPayment, Recipient: []byte("payer"), Amount: 1000}
	inHash := input.Hash()
	utxos.Insert(inHash, input)

	tx := &Transaction{
		Inputs:  []Hash{inHash, inHash},
		Outputs: []Output{{Kind: KindPublicPayment, Recipient: []byte("r"), Amount: 990}},
		Gamma:   big.NewInt(0).Bytes(),
		Fee:     0,
	}
	if err := tx.Sign(sk); err != nil {
		t.Fatalf("tx.Sign() error = %v", err)
	}
	v := noopValidator()
	if err := v.ValidateTransaction(tx, utxos, 16); err == nil {
		t.Errorf("ValidateTransaction() accepted a tx spending the same input twice; want ErrInputAlreadySpent")
	}
}

func TestValidateBlockTransactionsRejectsCrossTxDoubleSpend(t *testing.T) {
	sk, _ := crypto.GenerateSecretKey()
	utxos := NewUTXOSet()
	input := Output{Kind: KindPublicPayment, Recipient: []byte("payer"), Amount: 1000}
	inHash := input.Hash()
	utxos.Insert(inHash, input)

	tx1 := balancedPublicTx(t, sk, inHash, 1000, 900)
	tx2 := balancedPublicTx(t, sk, inHash, 1000, 800)

	v := noopValidator()
	if err := v.ValidateBlockTransactions([]*Transaction{tx1, tx2}, utxos, 16); err == nil {
		t.Errorf("ValidateBlockTransactions() accepted two transactions spending the same input; want ErrInputAlreadySpent")
	}
}

func TestValidateMacroBlockRejectsWrongParent(t *testing.T) {
	v := noopValidator()
	parent := Header{Timestamp: 10}
	macro := &MacroBlock{Header: Header{Timestamp: 20, Previous: Hash{0xFF}}}
	if err := v.ValidateMacroBlock(macro, parent); err == nil {
		t.Errorf("ValidateMacroBlock() accepted a block with the wrong Previous hash; want ErrWrongParent")
	}
}

func TestValidateMacroBlockRejectsNonMonotoneTimestamp(t *testing.T) {
	v := noopValidator()
	parent := Header{Timestamp: 100}
	macro := &MacroBlock{Header: Header{
		Timestamp: 50,
		Previous:  Hash(crypto.Hash256(parent.Bytes())),
	}}
	if err := v.ValidateMacroBlock(macro, parent); err == nil {
		t.Errorf("ValidateMacroBlock() accepted a non-increasing timestamp; want ErrNonMonotoneTimestamp")
	}
}

package mempool

import (
	"math/big"
	"testing"

	"github.com/pallaschain/pallas/internal/core"
	"github.com/pallaschain/pallas/internal/crypto"
)

func signedTx(t *testing.T, sk *crypto.SecretKey, in core.Hash, outAmount, fee uint64) *core.Transaction {
	t.Helper()
	tx := &core.Transaction{
		Inputs:  []core.Hash{in},
		Outputs: []core.Output{{Kind: core.KindPublicPayment, Recipient: []byte("r"), Amount: outAmount}},
		Gamma:   big.NewInt(0).Bytes(),
		Fee:     fee,
	}
	if err := tx.Sign(sk); err != nil {
		t.Fatalf("tx.Sign() error = %v", err)
	}
	return tx
}

func utxoSetWithInputs(n int) (*core.UTXOSet, []core.Hash) {
	u := core.NewUTXOSet()
	hashes := make([]core.Hash, n)
	for i := 0; i < n; i++ {
		o := core.Output{Kind: core.KindPublicPayment, Recipient: []byte("payer"), Amount: uint64(1000 + i)}
		var salt core.Hash
		salt[0] = byte(i)
		o.Payload = salt[:]
		h := o.Hash()
		u.Insert(h, o)
		hashes[i] = h
	}
	return u, hashes
}

func TestInsertAcceptsNewTransaction(t *testing.T) {
	sk, _ := crypto.GenerateSecretKey()
	utxos, ins := utxoSetWithInputs(1)
	mp := New(10)

	tx := signedTx(t, sk, ins[0], 900, 0)
	if err := mp.Insert(tx, utxos); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if mp.Size() != 1 {
		t.Errorf("Size() = %d; want 1", mp.Size())
	}
	if !mp.Has(tx.Hash()) {
		t.Errorf("Has(tx.Hash()) = false after Insert")
	}
}

func TestInsertRejectsNil(t *testing.T) {
	mp := New(10)
	if err := mp.Insert(nil, core.NewUTXOSet()); err != ErrNilTransaction {
		t.Errorf("Insert(nil) error = %v; want ErrNilTransaction", err)
	}
}

func TestInsertRejectsDuplicate(t *testing.T) {
	sk, _ := crypto.GenerateSecretKey()
	utxos, ins := utxoSetWithInputs(1)
	mp := New(10)
	tx := signedTx(t, sk, ins[0], 900, 0)

	if err := mp.Insert(tx, utxos); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := mp.Insert(tx, utxos); err != ErrDuplicateTx {
		t.Errorf("second Insert() of the same tx error = %v; want ErrDuplicateTx", err)
	}
}

func TestInsertRejectsMissingInput(t *testing.T) {
	sk, _ := crypto.GenerateSecretKey()
	mp := New(10)
	var missing core.Hash
	missing[0] = 9
	tx := signedTx(t, sk, missing, 900, 0)
	if err := mp.Insert(tx, core.NewUTXOSet()); err != core.ErrInputNotFound {
		t.Errorf("Insert() with a non-existent input error = %v; want core.ErrInputNotFound", err)
	}
}

func TestInsertRejectsConflictingInput(t *testing.T) {
	sk, _ := crypto.GenerateSecretKey()
	utxos, ins := utxoSetWithInputs(1)
	mp := New(10)

	tx1 := signedTx(t, sk, ins[0], 900, 0)
	tx2 := signedTx(t, sk, ins[0], 800, 0)
	if err := mp.Insert(tx1, utxos); err != nil {
		t.Fatalf("Insert(tx1) error = %v", err)
	}
	if err := mp.Insert(tx2, utxos); err != ErrConflictingInput {
		t.Errorf("Insert(tx2) spending tx1's input error = %v; want ErrConflictingInput", err)
	}
}

func TestInsertRejectsAtCapacity(t *testing.T) {
	sk, _ := crypto.GenerateSecretKey()
	utxos, ins := utxoSetWithInputs(2)
	// Capacity counts input+output references: each fixture transaction
	// costs 2, so the pool holds exactly one of them.
	mp := New(2)

	if err := mp.Insert(signedTx(t, sk, ins[0], 900, 0), utxos); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	err := mp.Insert(signedTx(t, sk, ins[1], 900, 0), utxos)
	if err == nil {
		t.Errorf("Insert() beyond capacity returned nil error; want ErrMempoolFull")
	}
}

func TestTakeForBlockOrdersByFeePerIODescending(t *testing.T) {
	sk, _ := crypto.GenerateSecretKey()
	utxos, ins := utxoSetWithInputs(3)
	mp := New(10)

	low := signedTx(t, sk, ins[0], 990, 10)
	high := signedTx(t, sk, ins[1], 900, 100)
	mid := signedTx(t, sk, ins[2], 950, 50)

	for _, tx := range []*core.Transaction{low, high, mid} {
		if err := mp.Insert(tx, utxos); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	got := mp.TakeForBlock(10)
	if len(got) != 3 {
		t.Fatalf("TakeForBlock(10) returned %d transactions; want 3", len(got))
	}
	if got[0].Hash() != high.Hash() || got[1].Hash() != mid.Hash() || got[2].Hash() != low.Hash() {
		t.Errorf("TakeForBlock() order = [%s %s %s]; want highest fee_per_io first",
			got[0].Hash(), got[1].Hash(), got[2].Hash())
	}
}

func TestTakeForBlockRespectsLimitAndDoesNotRemove(t *testing.T) {
	sk, _ := crypto.GenerateSecretKey()
	utxos, ins := utxoSetWithInputs(2)
	mp := New(10)
	for _, h := range ins {
		if err := mp.Insert(signedTx(t, sk, h, 900, 10), utxos); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	// Each pooled transaction costs 2 references, so a budget of 2
	// admits exactly one of the two.
	if got := mp.TakeForBlock(2); len(got) != 1 {
		t.Errorf("TakeForBlock(2) returned %d transactions; want 1", len(got))
	}
	if mp.Size() != 2 {
		t.Errorf("Size() after TakeForBlock = %d; want 2 (TakeForBlock must not remove)", mp.Size())
	}
}

func TestPruneRemovesCommittedAndConflicting(t *testing.T) {
	sk, _ := crypto.GenerateSecretKey()
	utxos, ins := utxoSetWithInputs(3)
	mp := New(10)

	committedTx := signedTx(t, sk, ins[0], 900, 10)
	// staleConflict spends the same input (ins[1]) a differently-shaped
	// transaction in the committed block also spends, simulating a
	// pooled transaction invalidated by someone else's block winning
	// the race to spend that input.
	staleConflict := signedTx(t, sk, ins[1], 850, 10)
	conflictWinner := signedTx(t, sk, ins[1], 900, 10)
	unrelatedTx := signedTx(t, sk, ins[2], 900, 10)

	for _, tx := range []*core.Transaction{committedTx, staleConflict, unrelatedTx} {
		if err := mp.Insert(tx, utxos); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	block := core.Block{Micro: &core.MicroBlock{
		Transactions: []*core.Transaction{committedTx, conflictWinner},
	}}
	mp.Prune(block)

	if mp.Has(committedTx.Hash()) {
		t.Errorf("Prune() left the committed transaction in the pool")
	}
	if mp.Has(staleConflict.Hash()) {
		t.Errorf("Prune() left a pooled transaction whose input the committed block also spent")
	}
	if !mp.Has(unrelatedTx.Hash()) {
		t.Errorf("Prune() removed an unrelated transaction from the pool")
	}
	if mp.Size() != 1 {
		t.Errorf("Size() after Prune = %d; want 1 (only unrelatedTx)", mp.Size())
	}
}

package core

import "testing"

func TestUTXOSetInsertGetRemove(t *testing.T) {
	u := NewUTXOSet()
	o := Output{Kind: KindPublicPayment, Recipient: []byte("alice"), Amount: 50}
	h := o.Hash()

	if u.Has(h) {
		t.Fatalf("Has() = true before Insert; want false")
	}
	u.Insert(h, o)
	if !u.Has(h) {
		t.Errorf("Has() = false after Insert; want true")
	}
	got, ok := u.Get(h)
	if !ok || got.Amount != 50 {
		t.Errorf("Get() = %+v, %v; want the inserted output", got, ok)
	}
	u.Remove(h)
	if u.Has(h) {
		t.Errorf("Has() = true after Remove; want false")
	}
}

func TestUTXOSetApplyTransactionRemovesInputsAddsOutputs(t *testing.T) {
	u := NewUTXOSet()
	spent := Output{Kind: KindPublicPayment, Recipient: []byte("bob"), Amount: 100}
	spentHash := spent.Hash()
	u.Insert(spentHash, spent)

	created := Output{Kind: KindPublicPayment, Recipient: []byte("carol"), Amount: 40}
	tx := &Transaction{Inputs: []Hash{spentHash}, Outputs: []Output{created}}

	u.ApplyTransaction(tx)

	if u.Has(spentHash) {
		t.Errorf("spent input %s still present in UTXO set after ApplyTransaction", spentHash)
	}
	if !u.Has(created.Hash()) {
		t.Errorf("created output %s missing from UTXO set after ApplyTransaction", created.Hash())
	}
	if u.Len() != 1 {
		t.Errorf("UTXOSet.Len() = %d; want 1", u.Len())
	}
}

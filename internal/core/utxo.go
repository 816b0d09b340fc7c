package core

// UTXOSet tracks unspent outputs by hash. Not concurrency-safe on its
// own: it is owned exclusively by the Chain task and mutated only
// inside TryAppend, per the single-owner concurrency model.
type UTXOSet struct {
	outputs map[Hash]Output
}

func NewUTXOSet() *UTXOSet {
	return &UTXOSet{outputs: make(map[Hash]Output)}
}

func (u *UTXOSet) Has(h Hash) bool {
	_, ok := u.outputs[h]
	return ok
}

func (u *UTXOSet) Get(h Hash) (Output, bool) {
	o, ok := u.outputs[h]
	return o, ok
}

func (u *UTXOSet) Insert(h Hash, o Output) {
	u.outputs[h] = o
}

func (u *UTXOSet) Remove(h Hash) {
	delete(u.outputs, h)
}

func (u *UTXOSet) Len() int { return len(u.outputs) }

// ApplyTransaction removes spent inputs and inserts new outputs keyed
// by their own content hash. Callers must have already validated the
// transaction; this method performs no checks of its own.
func (u *UTXOSet) ApplyTransaction(tx *Transaction) {
	for _, in := range tx.Inputs {
		u.Remove(in)
	}
	for _, o := range tx.Outputs {
		u.Insert(o.Hash(), o)
	}
}

// Package mempool implements the bounded, non-authoritative pending
// transaction pool: a mutex-guarded map plus a maintained priority
// ordering sorted by fee-per-IO.
package mempool

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/pallaschain/pallas/internal/core"
)

var (
	ErrNilTransaction   = errors.New("nil transaction")
	ErrDuplicateTx      = errors.New("transaction already in mempool")
	ErrMempoolFull      = errors.New("mempool at capacity")
	ErrConflictingInput = errors.New("transaction conflicts with a pooled transaction")
)

// Mempool is the mempool task's backing store. It is rebuilt from
// gossip on restart and is never treated as the source of truth for
// what has been committed.
type Mempool struct {
	mu          sync.RWMutex
	byHash      map[core.Hash]*core.Transaction
	spentInputs map[core.Hash]core.Hash // input -> tx hash that spends it
	order       []core.Hash             // maintained sorted by (fee_per_io desc, hash asc)
	capacity    int                     // max input+output references across the pool
	utxoRefs    int                     // input+output references currently pooled
	logger      *log.Logger
}

func New(capacity int) *Mempool {
	return &Mempool{
		byHash:      make(map[core.Hash]*core.Transaction),
		spentInputs: make(map[core.Hash]core.Hash),
		capacity:    capacity,
		logger:      log.New(os.Stdout, "MEMPOOL: ", log.LstdFlags),
	}
}

// Insert admits tx if every input exists in the utxo set and isn't
// already claimed by a pooled transaction; first-seen wins on
// conflicting spends. Capacity is denominated in input+output
// references, not transactions, so a handful of wide transactions
// cannot hold more UTXO churn than the pool is budgeted for.
func (m *Mempool) Insert(tx *core.Transaction, utxos *core.UTXOSet) error {
	if tx == nil {
		return ErrNilTransaction
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	h := tx.Hash()
	if _, exists := m.byHash[h]; exists {
		return ErrDuplicateTx
	}
	refs := len(tx.Inputs) + len(tx.Outputs)
	if m.utxoRefs+refs > m.capacity {
		return fmt.Errorf("%w: capacity %d utxo references", ErrMempoolFull, m.capacity)
	}
	for _, in := range tx.Inputs {
		if !utxos.Has(in) {
			return core.ErrInputNotFound
		}
		if _, taken := m.spentInputs[in]; taken {
			return ErrConflictingInput
		}
	}

	m.byHash[h] = tx
	m.utxoRefs += refs
	for _, in := range tx.Inputs {
		m.spentInputs[in] = h
	}
	m.insertSorted(h, tx)
	m.logger.Printf("accepted tx %s (fee_per_io=%.4f)", h, tx.FeePerIO())
	return nil
}

func (m *Mempool) insertSorted(h core.Hash, tx *core.Transaction) {
	idx := sort.Search(len(m.order), func(i int) bool {
		return less(h, tx, m.order[i], m.byHash[m.order[i]])
	})
	m.order = append(m.order, core.Hash{})
	copy(m.order[idx+1:], m.order[idx:])
	m.order[idx] = h
}

// less implements the deterministic ordering: higher fee_per_io first,
// ties broken by ascending transaction hash.
func less(ha core.Hash, a *core.Transaction, hb core.Hash, b *core.Transaction) bool {
	fa, fb := a.FeePerIO(), b.FeePerIO()
	if fa != fb {
		return fa > fb
	}
	return string(ha[:]) < string(hb[:])
}

// TakeForBlock returns the highest-priority transactions whose
// combined input+output references fit within limit, in the
// deterministic order every honest leader would pick, without removing
// them: removal happens only once a block committing them lands, via
// Prune.
func (m *Mempool) TakeForBlock(limit int) []*core.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*core.Transaction
	budget := limit
	for _, h := range m.order {
		tx := m.byHash[h]
		cost := len(tx.Inputs) + len(tx.Outputs)
		if cost > budget {
			break
		}
		budget -= cost
		out = append(out, tx)
	}
	return out
}

// Prune drops every transaction committed in b and any transaction
// left in the pool that now conflicts with the inputs b just spent.
func (m *Mempool) Prune(b core.Block) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var txs []*core.Transaction
	if b.IsMacro() {
		txs = b.Macro.Transactions
	} else {
		txs = b.Micro.Transactions
	}

	spent := make(map[core.Hash]struct{})
	committed := make(map[core.Hash]struct{})
	for _, tx := range txs {
		committed[tx.Hash()] = struct{}{}
		for _, in := range tx.Inputs {
			spent[in] = struct{}{}
		}
	}

	for h, tx := range m.byHash {
		if _, ok := committed[h]; ok {
			m.remove(h, tx)
			continue
		}
		for _, in := range tx.Inputs {
			if _, ok := spent[in]; ok {
				m.remove(h, tx)
				break
			}
		}
	}
}

func (m *Mempool) remove(h core.Hash, tx *core.Transaction) {
	delete(m.byHash, h)
	m.utxoRefs -= len(tx.Inputs) + len(tx.Outputs)
	for _, in := range tx.Inputs {
		if m.spentInputs[in] == h {
			delete(m.spentInputs, in)
		}
	}
	for i, oh := range m.order {
		if oh == h {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byHash)
}

func (m *Mempool) Has(h core.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byHash[h]
	return ok
}

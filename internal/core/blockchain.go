package core

import (
	"fmt"
	"sync"
)

// Outcome reports what TryAppend did, so callers (the Chain task, the
// Loader) can react without re-deriving it from the new tip.
type Outcome struct {
	Hash     Hash
	Height   Height
	IsMacro  bool
	EpochEnd bool
}

// ChainState is the single source of truth for committed history: the
// sole mutator of the UTXO set, escrow table and validator cache. It
// is owned exclusively by the chain task; every other task observes it
// through TryAppend's return value and the commit callback.
type ChainState struct {
	mu sync.RWMutex

	store     BlockStore
	validator *BlockValidator
	utxos     *UTXOSet
	escrow    *Escrow

	tipHash   Hash
	tipHeader Header
	hasTip    bool

	// viewChange is the consensus view currently in progress at the
	// tip's successor, reported by the Consensus task as views advance
	// and reset to zero whenever a block commits.
	viewChange uint32

	blocksInEpoch  int
	maxUTXOInTx    int
	maxUTXOInBlock int

	// OnCommit fires synchronously inside TryAppend after a block is
	// durably applied, letting the Mempool task prune without ChainState
	// importing the mempool package.
	OnCommit func(Block)
}

func NewChainState(store BlockStore, validator *BlockValidator, blocksInEpoch, maxUTXOInTx, maxUTXOInBlock int, stakeEpochs uint64) *ChainState {
	return &ChainState{
		store:          store,
		validator:      validator,
		utxos:          NewUTXOSet(),
		escrow:         NewEscrow(stakeEpochs),
		blocksInEpoch:  blocksInEpoch,
		maxUTXOInTx:    maxUTXOInTx,
		maxUTXOInBlock: maxUTXOInBlock,
	}
}

// SetValidator installs the BlockValidator after construction, for
// callers whose validator closures need a reference to this very
// ChainState (e.g. the leader resolver and quorum verifier built from
// validator.Registry) and therefore cannot be built before it exists.
func (c *ChainState) SetValidator(v *BlockValidator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validator = v
}

// Bootstrap seeds the chain with a genesis macro-block, applying its
// outputs directly without going through TryAppend's parent checks.
func (c *ChainState) Bootstrap(genesis *MacroBlock) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasTip {
		return fmt.Errorf("chain already bootstrapped")
	}
	b := Block{Macro: genesis}
	c.applyCommittedLocked(b)
	if err := c.store.Put(b); err != nil {
		return err
	}
	h := b.Hash()
	if err := c.store.SetTip(h); err != nil {
		return err
	}
	c.tipHash = h
	c.tipHeader = genesis.Header
	c.hasTip = true
	return nil
}

// Restore rebuilds the UTXO set, escrow table and tip from a BlockStore
// that already holds a committed chain, e.g. a boltdb-backed store
// surviving a restart. Blocks read back from disk are trusted without
// re-validation, the same way Bootstrap trusts genesis: each was
// already validated the moment it was first appended.
func (c *ChainState) Restore() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasTip {
		return fmt.Errorf("chain already bootstrapped")
	}
	tipHash, ok, err := c.store.Tip()
	if err != nil {
		return err
	}
	if !ok {
		return nil // empty store: caller should Bootstrap from genesis instead
	}

	h := Height{Epoch: 0, Offset: 0}
	var last Block
	found := false
	for {
		b, ok, err := c.store.GetByHeight(h)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		c.applyCommittedLocked(b)
		last = b
		found = true
		h = c.nextHeightAfterLocked(h)
	}
	if !found {
		return fmt.Errorf("%w: block store has a tip but no block at genesis height", ErrChainCorrupt)
	}
	if last.Hash() != tipHash {
		return fmt.Errorf("%w: replayed chain ends at %s, store tip is %s", ErrChainCorrupt, last.Hash(), tipHash)
	}
	c.tipHash = tipHash
	c.tipHeader = last.Header()
	c.hasTip = true
	return nil
}

// applyCommittedLocked folds a trusted, already-validated block's
// effects into the UTXO set and escrow table. Callers hold c.mu.
func (c *ChainState) applyCommittedLocked(b Block) {
	var txs []*Transaction
	var nextValidators []Validator
	if b.IsMacro() {
		txs = b.Macro.Transactions
		nextValidators = b.Macro.NextValidators
	} else {
		txs = b.Micro.Transactions
	}
	for _, tx := range txs {
		for _, in := range tx.Inputs {
			// A spent Stake output's backing validator is no longer
			// escrowed: the escrow table is the set of stake outputs
			// minus those spent. Looked up before ApplyTransaction
			// removes it from utxos.
			if spent, ok := c.utxos.Get(in); ok && spent.Kind == KindStake {
				c.escrow.Remove(spent.ValidatorKey)
			}
		}
		c.utxos.ApplyTransaction(tx)
		for _, o := range tx.Outputs {
			c.escrow.ApplyOutput(o)
		}
	}
	for _, v := range nextValidators {
		c.escrow.Put(v)
	}
}

func (c *ChainState) Tip() (Hash, Height) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tipHash, c.tipHeader.Height
}

func (c *ChainState) LastBlockHash() Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tipHash
}

func (c *ChainState) Height() Height {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tipHeader.Height
}

// ViewChange is the view consensus is currently at for the tip's
// successor height.
func (c *ChainState) ViewChange() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewChange
}

// SetViewChange records the Consensus task's current view for the
// tip's successor.
func (c *ChainState) SetViewChange(view uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if view > c.viewChange {
		c.viewChange = view
	}
}

// TipHeader returns the full header of the current tip, the "parent"
// a new proposal and the block validator both need.
func (c *ChainState) TipHeader() Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tipHeader
}

// EpochSeed returns the VRF seed carried by the macro-block that
// opened epoch: the seed leader selection draws against for every view
// within that epoch.
func (c *ChainState) EpochSeed(epoch uint64) ([32]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok, err := c.store.GetByHeight(Height{Epoch: epoch, Offset: 0})
	if err != nil {
		return [32]byte{}, err
	}
	if !ok || !b.IsMacro() {
		return [32]byte{}, fmt.Errorf("no macro-block opening epoch %d", epoch)
	}
	return b.Macro.Header.VRFSeed, nil
}

func (c *ChainState) Epoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tipHeader.Height.Epoch
}

// Validators returns the validator set active for epoch.
func (c *ChainState) Validators(epoch uint64) []Validator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.escrow.ActiveAt(epoch)
}

// UTXOs exposes the live UTXO set for read-only consultation by
// components outside the Chain task's own append path, e.g. the
// Mempool task checking whether a candidate transaction's inputs still
// exist before admitting it.
func (c *ChainState) UTXOs() *UTXOSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.utxos
}

// NextHeight is the successor coordinate a new block must target.
func (c *ChainState) NextHeight() Height {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nextHeightAfterLocked(c.tipHeader.Height)
}

// NextHeightAfter is NextHeight generalized to an arbitrary starting
// point, used by the Chain Loader to walk forward from a height that
// isn't necessarily the local tip.
func (c *ChainState) NextHeightAfter(h Height) Height {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nextHeightAfterLocked(h)
}

func (c *ChainState) nextHeightAfterLocked(h Height) Height {
	h.Offset++
	if int(h.Offset) >= c.blocksInEpoch {
		h.Epoch++
		h.Offset = 0
	}
	return h
}

// BlockAt returns the committed block at height, if any, for the
// Chain Loader to serve to a peer that's catching up.
func (c *ChainState) BlockAt(h Height) (Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok, err := c.store.GetByHeight(h)
	if err != nil || !ok {
		return Block{}, false
	}
	return b, true
}

// TryAppend is the sole mutator of chain state. It validates the
// block against the current tip, applies every transaction's effect
// to the UTXO set and escrow table, advances the tip, and invokes
// OnCommit. Order: expected successor height, then the type-specific
// validator (parent-hash match and timestamp first).
func (c *ChainState) TryAppend(b Block) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasTip {
		return Outcome{}, fmt.Errorf("chain not bootstrapped")
	}

	expected := c.tipHeader.Height
	expected.Offset++
	if int(expected.Offset) >= c.blocksInEpoch {
		expected.Epoch++
		expected.Offset = 0
	}
	if b.Header().Height != expected {
		return Outcome{}, validationErr(ErrWrongHeight)
	}

	var txs []*Transaction
	if b.IsMacro() {
		if err := c.validator.ValidateMacroBlock(b.Macro, c.tipHeader); err != nil {
			return Outcome{}, err
		}
		txs = b.Macro.Transactions
	} else {
		if err := c.validator.ValidateMicroBlock(b.Micro, c.tipHeader, c.maxUTXOInBlock); err != nil {
			return Outcome{}, err
		}
		txs = b.Micro.Transactions
	}

	if err := c.validator.ValidateBlockTransactions(txs, c.utxos, c.maxUTXOInTx); err != nil {
		return Outcome{}, err
	}
	c.applyCommittedLocked(b)

	if err := c.store.Put(b); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrChainCorrupt, err)
	}
	h := b.Hash()
	if err := c.store.SetTip(h); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrChainCorrupt, err)
	}
	c.tipHash = h
	c.tipHeader = b.Header()
	c.viewChange = 0

	if c.OnCommit != nil {
		c.OnCommit(b)
	}

	return Outcome{Hash: h, Height: b.Header().Height, IsMacro: b.IsMacro(), EpochEnd: b.Header().Height.Offset == 0 && b.IsMacro()}, nil
}


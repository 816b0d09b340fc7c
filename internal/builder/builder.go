// Package builder implements leader-only block assembly: a component
// the consensus task drives on demand rather than a free-running
// production loop.
package builder

import (
	"fmt"
	"time"

	"github.com/pallaschain/pallas/internal/core"
	"github.com/pallaschain/pallas/internal/crypto"
	"github.com/pallaschain/pallas/internal/mempool"
)

// Builder assembles candidate blocks for a leader to propose.
// maxBlockUTXO bounds the input+output references a block may touch,
// the unit max_utxo_in_block is denominated in.
type Builder struct {
	mempool       *mempool.Mempool
	utxos         *core.UTXOSet
	maxBlockUTXO  int
	txWaitTimeout time.Duration
}

func New(mp *mempool.Mempool, utxos *core.UTXOSet, maxBlockUTXO int, txWaitTimeout time.Duration) *Builder {
	return &Builder{mempool: mp, utxos: utxos, maxBlockUTXO: maxBlockUTXO, txWaitTimeout: txWaitTimeout}
}

// BuildMicroBlock sleeps for the full TxWaitTimeout to let
// transactions accumulate in the mempool, then
// assembles and signs a micro-block at the given height/view. The
// block's VRF seed is drawn fresh from the leader's own key and the
// parent's seed, so it is unpredictable to anyone who doesn't hold sk.
func (b *Builder) BuildMicroBlock(sk *crypto.SecretKey, parent core.Header, height core.Height, view uint32) (*core.MicroBlock, error) {
	time.Sleep(b.txWaitTimeout)

	txs := b.mempool.TakeForBlock(b.maxBlockUTXO)

	seed, proof, err := crypto.Evaluate(sk, parent.VRFSeed, view)
	if err != nil {
		return nil, fmt.Errorf("derive vrf seed: %w", err)
	}

	mb := &core.MicroBlock{
		Header: core.Header{
			Version:   1,
			Previous:  Hash(parent),
			Height:    height,
			View:      view,
			Timestamp: core.Now(),
			VRFSeed:   seed,
			VRFProof:  proof.Bytes(),
		},
		Transactions: txs,
		LeaderPubKey: sk.Public().Bytes(),
	}
	sig, err := sk.Sign(mb.BodyBytes())
	if err != nil {
		return nil, fmt.Errorf("sign micro-block: %w", err)
	}
	mb.LeaderSig = sig.Bytes()
	return mb, nil
}

// BuildMacroBlockProposal assembles an unsigned macro-block proposal
// for an offset-0 height, the block that follows the previous epoch's
// last micro-block and closes that epoch; it is sealed later by the quorum's
// aggregated precommit signature, not a leader signature. The VRF seed
// is still drawn under the proposing leader's key: quorum precommits
// over the header attest the whole validator set accepted it.
func (b *Builder) BuildMacroBlockProposal(sk *crypto.SecretKey, parent core.Header, height core.Height, view uint32, nextValidators []core.Validator) (*core.MacroBlock, error) {
	txs := b.mempool.TakeForBlock(b.maxBlockUTXO)
	seed, proof, err := crypto.Evaluate(sk, parent.VRFSeed, view)
	if err != nil {
		return nil, fmt.Errorf("derive vrf seed: %w", err)
	}
	return &core.MacroBlock{
		Header: core.Header{
			Version:   1,
			Previous:  Hash(parent),
			Height:    height,
			View:      view,
			Timestamp: core.Now(),
			VRFSeed:   seed,
			VRFProof:  proof.Bytes(),
		},
		Transactions:   txs,
		NextValidators: nextValidators,
	}, nil
}

// Hash computes a parent header's content hash the way core.Header's
// own validation does, so the builder and validator always agree on
// what "previous" means.
func Hash(h core.Header) core.Hash {
	return core.Hash(crypto.Hash256(h.Bytes()))
}

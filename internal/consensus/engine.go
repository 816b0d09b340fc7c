package consensus

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pallaschain/pallas/internal/builder"
	"github.com/pallaschain/pallas/internal/config"
	"github.com/pallaschain/pallas/internal/core"
	"github.com/pallaschain/pallas/internal/crypto"
	"github.com/pallaschain/pallas/internal/mempool"
	"github.com/pallaschain/pallas/internal/validator"
)

var (
	ErrEngineAlreadyRunning = errors.New("consensus engine is already running")
	ErrEngineNotRunning     = errors.New("consensus engine is not running")
)

// Engine is the consensus task: a single-threaded, event-driven loop
// that owns the current height's consensus state and every timer armed
// for it, advancing the Propose/Prevote/Precommit/Commit state machine
// one inbound event at a time.
type Engine struct {
	cfg       *config.Config
	chain     *core.ChainState
	validator *core.BlockValidator
	mempool   *mempool.Mempool
	builder   *builder.Builder
	sk        *crypto.SecretKey
	pubKey    []byte

	// ConsensusOut/SealedOut are this node's outbound gossip: wired by
	// the composition root to the "consensus" and "sealed_block" gossip
	// topics respectively. ConsensusIn/SealedIn are their inbound
	// counterparts.
	ConsensusOut chan Message
	SealedOut    chan core.Block
	ConsensusIn  chan Message
	SealedIn     chan core.Block

	// Behind carries a height observed to be strictly ahead of this
	// node's successor: the signal that hands control to the chain
	// loader.
	Behind chan core.Height
	// EvidenceOut surfaces recorded equivocations; what to do with
	// them (slashing, peer bans) is left to a later layer.
	EvidenceOut chan Evidence
	// Fatal carries unrecoverable local-append failures: the node must
	// restart and resync on receipt.
	Fatal chan error

	logger *log.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once

	cur *heightState

	// pendingMsgs/pendingSealed hold traffic for heights this node has
	// not reached yet, replayed on entry. With fast rounds the leader's
	// next proposal routinely lands before a follower has processed the
	// previous sealed block; dropping it would force a pointless view
	// change at every height.
	pendingMsgs   map[core.Height][]Message
	pendingSealed map[core.Height][]core.Block

	resyncIn chan core.Height

	microTimer *time.Timer
	macroTimer *time.Timer
	autoTimer  *time.Timer

	proposalReady chan proposalResult
}

type proposalResult struct {
	height core.Height
	view   uint32
	micro  *core.MicroBlock
	macro  *core.MacroBlock
	err    error
}

// New builds an Engine ready to Start. bv must be the same
// BlockValidator instance the chain state validates committed blocks
// with, so the propose-phase check and the append-time check never
// disagree.
func New(cfg *config.Config, chain *core.ChainState, bv *core.BlockValidator, mp *mempool.Mempool, bld *builder.Builder, sk *crypto.SecretKey) *Engine {
	return &Engine{
		cfg:           cfg,
		chain:         chain,
		validator:     bv,
		mempool:       mp,
		builder:       bld,
		sk:            sk,
		pubKey:        sk.Public().Bytes(),
		ConsensusOut:  make(chan Message, 64),
		SealedOut:     make(chan core.Block, 16),
		ConsensusIn:   make(chan Message, 64),
		SealedIn:      make(chan core.Block, 16),
		Behind:        make(chan core.Height, 4),
		EvidenceOut:   make(chan Evidence, 16),
		Fatal:         make(chan error, 1),
		logger:        log.New(os.Stdout, "CONSENSUS: ", log.LstdFlags),
		pendingMsgs:   make(map[core.Height][]Message),
		pendingSealed: make(map[core.Height][]core.Block),
		resyncIn:      make(chan core.Height, 1),
		proposalReady: make(chan proposalResult, 1),
	}
}

// Start begins the event loop at the chain's current successor height.
func (e *Engine) Start() error {
	var err error
	e.startOnce.Do(func() {
		if e.isRunning.Load() {
			err = ErrEngineAlreadyRunning
			return
		}
		e.isRunning.Store(true)
		e.ctx, e.cancel = context.WithCancel(context.Background())
		e.wg.Add(1)
		go e.loop()
		e.logger.Println("started")
	})
	return err
}

// Stop cancels the event loop and waits for it to exit.
func (e *Engine) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		if !e.isRunning.Load() {
			err = ErrEngineNotRunning
			return
		}
		e.cancel()
		e.wg.Wait()
		e.isRunning.Store(false)
		e.logger.Println("stopped")
	})
	return err
}

func (e *Engine) loop() {
	defer e.wg.Done()

	if err := e.enterHeight(e.chain.NextHeight()); err != nil {
		e.logger.Printf("failed to enter starting height: %v", err)
	}

	for {
		var microC, macroC, autoC <-chan time.Time
		if e.microTimer != nil {
			microC = e.microTimer.C
		}
		if e.macroTimer != nil {
			macroC = e.macroTimer.C
		}
		if e.autoTimer != nil {
			autoC = e.autoTimer.C
		}

		select {
		case <-e.ctx.Done():
			return
		case msg := <-e.ConsensusIn:
			e.handleMessage(msg)
		case b := <-e.SealedIn:
			e.handleSealedBlock(b)
		case r := <-e.proposalReady:
			e.onProposalBuilt(r)
		case h := <-e.resyncIn:
			e.stopAllTimers()
			if err := e.enterHeight(h); err != nil {
				e.logger.Printf("failed to resume consensus at %s: %v", h, err)
			}
		case <-microC:
			e.onViewTimeout()
		case <-macroC:
			e.onViewTimeout()
		case <-autoC:
			e.onAutoCommitTimeout()
		}
	}
}

// enterHeight creates a fresh consensus state for height, starts it at
// view 0, and replays any traffic that arrived for this height before
// the node got here.
func (e *Engine) enterHeight(height core.Height) error {
	reg := validator.NewRegistry(e.chain.Validators(height.Epoch))
	e.cur = newHeightState(height, reg)
	if err := e.enterView(0); err != nil {
		return err
	}

	for h := range e.pendingMsgs {
		if h.Less(height) {
			delete(e.pendingMsgs, h)
		}
	}
	for h := range e.pendingSealed {
		if h.Less(height) {
			delete(e.pendingSealed, h)
		}
	}
	if sealed, ok := e.pendingSealed[height]; ok {
		delete(e.pendingSealed, height)
		for _, b := range sealed {
			e.handleSealedBlock(b)
		}
	}
	if e.cur.height != height {
		return nil // a replayed sealed block already advanced us
	}
	if msgs, ok := e.pendingMsgs[height]; ok {
		delete(e.pendingMsgs, height)
		for _, msg := range msgs {
			e.handleMessage(msg)
		}
	}
	return nil
}

const maxBufferedPerHeight = 64

// bufferFuture stashes a message addressed to a height this node hasn't
// reached. Traffic for the immediate successor is the fast-leader race
// and is expected; anything further ahead additionally means this node
// is missing at least one whole committed block, so the Chain Loader is
// signalled too.
func (e *Engine) bufferFuture(msg Message) {
	next := e.chain.NextHeightAfter(e.cur.height)
	if msg.Height != next {
		e.signalBehind(msg.Height)
	}
	if len(e.pendingMsgs[msg.Height]) < maxBufferedPerHeight {
		e.pendingMsgs[msg.Height] = append(e.pendingMsgs[msg.Height], msg)
	}
}

// enterView resets the phase/vote state for a new view within the
// current height, re-derives who leads it, and arms fresh timers.
func (e *Engine) enterView(view uint32) error {
	hs := e.cur
	hs.resetForView(view)

	seed, err := e.chain.EpochSeed(hs.height.Epoch)
	if err != nil {
		return err
	}
	leader, err := hs.registry.Leader(seed, view)
	if err != nil {
		return err
	}
	if bytes.Equal(leader.NetworkKey, e.pubKey) {
		hs.role = RoleLeader
	} else {
		hs.role = RoleFollower
	}
	e.chain.SetViewChange(view)

	e.armViewTimers()

	if hs.role == RoleLeader {
		e.startBuilding(view)
	}
	return nil
}

func (e *Engine) isMacroHeight(h core.Height) bool { return h.Offset == 0 }

func (e *Engine) armViewTimers() {
	e.stopTimer(&e.microTimer)
	e.stopTimer(&e.macroTimer)
	e.stopTimer(&e.autoTimer)
	if e.isMacroHeight(e.cur.height) {
		e.macroTimer = time.NewTimer(e.cfg.MacroBlockTimeout)
	} else {
		e.microTimer = time.NewTimer(e.cfg.MicroBlockTimeout)
	}
}

func (e *Engine) stopAllTimers() {
	e.stopTimer(&e.microTimer)
	e.stopTimer(&e.macroTimer)
	e.stopTimer(&e.autoTimer)
}

func (e *Engine) stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// startBuilding runs the leader-only block builder off the event
// loop's goroutine, since BuildMicroBlock blocks for tx_wait_timeout;
// the result is delivered back over proposalReady.
func (e *Engine) startBuilding(view uint32) {
	height := e.cur.height
	parent := e.chain.TipHeader()
	go func() {
		if e.isMacroHeight(height) {
			mb, err := e.builder.BuildMacroBlockProposal(e.sk, parent, height, view, e.chain.Validators(height.Epoch))
			e.proposalReady <- proposalResult{height: height, view: view, macro: mb, err: err}
			return
		}
		mb, err := e.builder.BuildMicroBlock(e.sk, parent, height, view)
		e.proposalReady <- proposalResult{height: height, view: view, micro: mb, err: err}
	}()
}

func (e *Engine) onProposalBuilt(r proposalResult) {
	if e.cur == nil || r.height != e.cur.height || r.view != e.cur.view {
		return // stale: height/view has already moved on
	}
	if r.err != nil {
		e.logger.Printf("failed to build proposal for %s view %d: %v", r.height, r.view, r.err)
		return
	}
	var block core.Block
	if r.macro != nil {
		block = core.Block{Macro: r.macro}
	} else {
		block = core.Block{Micro: r.micro}
	}
	msg := Message{Kind: KindProposal, Height: r.height, View: r.view, HeaderHash: block.Hash(), Block: block}
	e.handleProposal(msg, true)
}

// handleMessage routes an inbound Proposal/Prevote/Precommit. A
// message for a later height goes to bufferFuture, which buffers it if
// it is for the immediate successor height and otherwise signals that
// this node is behind and should switch to loader mode.
func (e *Engine) handleMessage(msg Message) {
	if e.cur == nil {
		return
	}
	if msg.Height != e.cur.height {
		if e.cur.height.Less(msg.Height) {
			e.bufferFuture(msg)
		}
		return
	}
	if msg.View < e.cur.view {
		return // stale view, drop silently
	}
	if msg.View > e.cur.view {
		if err := e.enterView(msg.View); err != nil {
			e.logger.Printf("failed to catch up to view %d: %v", msg.View, err)
			return
		}
	}
	switch msg.Kind {
	case KindProposal:
		e.handleProposal(msg, false)
	case KindPrevote:
		e.handlePrevote(msg)
	case KindPrecommit:
		e.handlePrecommit(msg)
	}
}

func (e *Engine) signalBehind(h core.Height) {
	select {
	case e.Behind <- h:
	default:
	}
}

// handleProposal admits the first proposal seen for (height, view);
// later ones are dropped silently. own is true for a proposal this
// node just built itself, which skips re-validation and is broadcast.
func (e *Engine) handleProposal(msg Message, own bool) {
	hs := e.cur
	if hs.proposal != nil {
		return
	}
	if !own {
		parent := e.chain.TipHeader()
		var err error
		var txs []*core.Transaction
		if msg.Block.IsMacro() {
			// The quorum seal doesn't exist yet: this vote round is what
			// will produce it. Everything else is checked now.
			err = e.validator.ValidateMacroBlockProposal(msg.Block.Macro, parent, e.chain.Validators(msg.Height.Epoch))
			txs = msg.Block.Macro.Transactions
		} else {
			err = e.validator.ValidateMicroBlock(msg.Block.Micro, parent, e.cfg.MaxUTXOInBlock)
			txs = msg.Block.Micro.Transactions
		}
		if err == nil {
			// Re-execute what the leader claims before prevoting, not
			// just at append time.
			err = e.validator.ValidateBlockTransactions(txs, e.chain.UTXOs(), e.cfg.MaxUTXOInTx)
		}
		if err != nil {
			e.logger.Printf("rejecting proposal at %s view %d: %v", msg.Height, msg.View, err)
			return // invalid proposal: drop, do not prevote, let the timer fire
		}
	}

	hs.proposal = &msg
	hs.proposalHash = msg.HeaderHash
	hs.phase = PhaseProposed

	if own {
		e.send(msg)
	}
	e.castPrevote(msg.HeaderHash)
	e.replayBuffered()
}

func (e *Engine) castPrevote(h core.Hash) {
	hs := e.cur
	vote := Message{Kind: KindPrevote, Height: hs.height, View: hs.view, HeaderHash: h, ValidatorKey: e.pubKey}
	sig, err := e.sk.Sign(vote.SignBytes())
	if err != nil {
		e.logger.Printf("failed to sign prevote: %v", err)
		return
	}
	vote.Sig = sig.Bytes()
	hs.phase = PhasePrevoted
	hs.prevotes.Add(vote)
	e.send(vote)
	e.checkPrevoteQuorum()
}

func (e *Engine) handlePrevote(msg Message) {
	hs := e.cur
	if hs.proposal == nil || hs.proposal.HeaderHash != msg.HeaderHash {
		hs.buffered = append(hs.buffered, msg)
		return
	}
	added, ev := hs.prevotes.Add(msg)
	if ev != nil {
		e.emitEvidence(*ev)
	}
	if added {
		e.checkPrevoteQuorum()
	}
}

func (e *Engine) checkPrevoteQuorum() {
	hs := e.cur
	if hs.phase != PhasePrevoted || hs.proposal == nil {
		return
	}
	if !hs.prevotes.HasQuorum(hs.proposalHash) {
		return
	}
	e.castPrecommit(hs.proposalHash)
}

func (e *Engine) castPrecommit(h core.Hash) {
	hs := e.cur
	vote := Message{Kind: KindPrecommit, Height: hs.height, View: hs.view, HeaderHash: h, ValidatorKey: e.pubKey}
	sig, err := e.sk.Sign(vote.SignBytes())
	if err != nil {
		e.logger.Printf("failed to sign precommit: %v", err)
		return
	}
	vote.Sig = sig.Bytes()
	hs.phase = PhasePrecommitted
	hs.precommits.Add(vote)
	e.send(vote)
	e.checkPrecommitQuorum()
}

func (e *Engine) handlePrecommit(msg Message) {
	hs := e.cur
	if hs.proposal == nil || hs.proposal.HeaderHash != msg.HeaderHash {
		hs.buffered = append(hs.buffered, msg)
		return
	}
	added, ev := hs.precommits.Add(msg)
	if ev != nil {
		e.emitEvidence(*ev)
	}
	if added {
		e.checkPrecommitQuorum()
	}
}

// checkPrecommitQuorum is the Precommitted-phase exit condition: the
// leader seals and broadcasts immediately, a follower arms the
// auto-commit timer and waits for the leader's own sealed-block
// broadcast first.
func (e *Engine) checkPrecommitQuorum() {
	hs := e.cur
	if hs.phase != PhasePrecommitted || hs.sealed || hs.proposal == nil {
		return
	}
	if !hs.precommits.HasQuorum(hs.proposalHash) {
		return
	}
	if hs.role == RoleLeader {
		e.seal()
	} else {
		e.armAutoCommit()
	}
}

func (e *Engine) handleSealedBlock(b core.Block) {
	hs := e.cur
	if hs == nil {
		return
	}
	height := b.Header().Height
	if height != hs.height {
		if hs.height.Less(height) {
			if height == e.chain.NextHeightAfter(hs.height) {
				if len(e.pendingSealed[height]) < maxBufferedPerHeight {
					e.pendingSealed[height] = append(e.pendingSealed[height], b)
				}
			} else {
				e.signalBehind(height)
			}
		}
		return
	}
	if hs.sealed {
		return
	}
	if b.Header().View > hs.view {
		// A block from a view this node hasn't timed out into yet: wait
		// for the view-change timer rather than jumping ahead of it.
		e.logger.Printf("ignoring sealed block at %s view %d, local view is %d", hs.height, b.Header().View, hs.view)
		return
	}
	outcome, err := e.chain.TryAppend(b)
	if err != nil {
		e.logger.Printf("rejecting sealed block at %s: %v", hs.height, err)
		return
	}
	hs.sealed = true
	hs.phase = PhaseCommitted
	e.advance(outcome)
}

func (e *Engine) seal() {
	hs := e.cur
	if hs.sealed {
		return
	}
	block, err := e.assembleSealedBlock()
	if err != nil {
		e.logger.Printf("failed to assemble sealed block at %s: %v", hs.height, err)
		return
	}
	outcome, err := e.chain.TryAppend(block)
	if err != nil {
		// Quorum was reached but the local append still failed: the
		// chain state can no longer be trusted, so the node must
		// restart and resync.
		e.logger.Printf("fatal: local append after quorum failed at %s: %v", hs.height, err)
		select {
		case e.Fatal <- err:
		default:
		}
		return
	}
	hs.sealed = true
	hs.phase = PhaseCommitted
	e.sendSealed(block)
	e.advance(outcome)
}

// assembleSealedBlock folds this node's collected precommit signatures
// into the aggregate quorum seal. Macro-blocks carry the aggregate and
// bitmap as part of their own content; micro-blocks are already
// leader-signed and fast-committed, so the accepted proposal is
// appended unchanged.
func (e *Engine) assembleSealedBlock() (core.Block, error) {
	hs := e.cur
	if !hs.proposal.Block.IsMacro() {
		return hs.proposal.Block, nil
	}
	bitmap, sigs, err := hs.precommits.Signers(hs.proposalHash)
	if err != nil {
		return core.Block{}, err
	}
	agg, err := crypto.Aggregate(sigs)
	if err != nil {
		return core.Block{}, err
	}
	sealed := *hs.proposal.Block.Macro
	sealed.AggregateSig = agg.Bytes()
	sealed.SignerBitmap = bitmap
	return core.Block{Macro: &sealed}, nil
}

// advance cancels this height's timers and opens the consensus state
// for the chain's new successor: a commit at the current height
// invalidates every timer armed for it.
func (e *Engine) advance(_ core.Outcome) {
	e.stopAllTimers()
	next := e.chain.NextHeight()
	if err := e.enterHeight(next); err != nil {
		e.logger.Printf("failed to enter height %s: %v", next, err)
	}
}

func (e *Engine) replayBuffered() {
	hs := e.cur
	pending := hs.buffered
	hs.buffered = nil
	for _, msg := range pending {
		switch msg.Kind {
		case KindPrevote:
			e.handlePrevote(msg)
		case KindPrecommit:
			e.handlePrecommit(msg)
		}
	}
}

func (e *Engine) send(msg Message) {
	select {
	case e.ConsensusOut <- msg:
	case <-e.ctx.Done():
	}
}

func (e *Engine) sendSealed(b core.Block) {
	select {
	case e.SealedOut <- b:
	case <-e.ctx.Done():
	}
}

func (e *Engine) emitEvidence(ev Evidence) {
	select {
	case e.EvidenceOut <- ev:
	default:
	}
}

// ResyncAt is called by the chain loader once it has caught the chain
// up to its real tip. It only enqueues the request: the event loop
// owns the consensus state and performs the re-entry itself, keeping
// the one-owner-per-datum rule intact even though the loader runs on
// its own goroutine.
func (e *Engine) ResyncAt(height core.Height) error {
	select {
	case e.resyncIn <- height:
		return nil
	case <-e.ctx.Done():
		return ErrEngineNotRunning
	}
}

package consensus

import "time"

// armAutoCommit starts a follower's self-sealing fallback once this
// node has seen precommit quorum but hasn't yet received the leader's
// sealed-block broadcast. The timer is the smaller of the micro- and
// macro-block timeouts for the current height, not a hard-coded
// macro_block_timeout: a follower should never wait longer than the
// height's own budget before sealing what it already has quorum for.
func (e *Engine) armAutoCommit() {
	hs := e.cur
	if hs.sealed {
		return
	}
	d := e.cfg.MicroBlockTimeout
	if e.cfg.MacroBlockTimeout < d {
		d = e.cfg.MacroBlockTimeout
	}
	e.stopTimer(&e.autoTimer)
	e.autoTimer = time.NewTimer(d)
}

// onAutoCommitTimeout fires when a follower reached precommit quorum
// but never observed the leader's sealed-block broadcast: it assembles
// and commits the block locally from its own tallied signatures, then
// re-broadcasts so the rest of the network converges too.
func (e *Engine) onAutoCommitTimeout() {
	hs := e.cur
	if hs == nil || hs.sealed || hs.phase != PhasePrecommitted {
		return
	}
	e.logger.Printf("auto-commit: sealing %s locally, leader's broadcast was not observed", hs.height)
	e.seal()
}

package core

// Escrow tracks staked validators, keyed by network key. A committed
// Stake output is inserted into the UTXO set like any other output and
// is also recorded here as a Validator. stakeEpochs is how many epochs
// past its ActivationEpoch a stake remains active.
type Escrow struct {
	byKey       map[string]Validator
	stakeEpochs uint64
}

func NewEscrow(stakeEpochs uint64) *Escrow {
	return &Escrow{byKey: make(map[string]Validator), stakeEpochs: stakeEpochs}
}

func (e *Escrow) Put(v Validator) {
	e.byKey[v.KeyString()] = v
}

func (e *Escrow) Get(networkKey []byte) (Validator, bool) {
	v, ok := e.byKey[string(networkKey)]
	return v, ok
}

func (e *Escrow) Remove(networkKey []byte) {
	delete(e.byKey, string(networkKey))
}

// ActiveAt returns every validator whose stake is active at epoch, in
// canonical (stake desc, key asc) order so two nodes with the same
// escrow table always enumerate it identically, e.g. when a leader
// folds the set into a macro-block body.
func (e *Escrow) ActiveAt(epoch uint64) []Validator {
	var out []Validator
	for _, v := range e.byKey {
		if v.ActiveUntil >= epoch {
			out = append(out, v)
		}
	}
	return sortedValidators(out)
}

// ApplyOutput admits a Stake output into escrow; called by
// ChainState.TryAppend for every Stake-kind output in a committed
// transaction. The stake counts from the block that admits it until
// ActivationEpoch+stakeEpochs; ActivationEpoch is not used as a lower
// bound, so ActiveAt includes the stake before that epoch too.
func (e *Escrow) ApplyOutput(o Output) {
	if o.Kind != KindStake {
		return
	}
	e.Put(Validator{
		NetworkKey:  o.ValidatorKey,
		Stake:       o.StakeAmount,
		ActiveUntil: o.ActivationEpoch + e.stakeEpochs,
	})
}

// Package genesis builds the embedded macro-block each chain identity
// starts from: one Stake output per bootstrap validator and a
// PublicPayment carrying the residual supply.
package genesis

import (
	"fmt"

	"github.com/pallaschain/pallas/internal/config"
	"github.com/pallaschain/pallas/internal/core"
	"github.com/pallaschain/pallas/internal/crypto"
)

// bootstrapValidatorCount is the number of deterministically derived
// validators seeded into dev/testnet genesis; mainnet's real set is
// expected to be supplied out of band before launch.
const bootstrapValidatorCount = 4

const bootstrapStake = 100_000

// residualSupply is the cleartext amount the genesis PublicPayment
// assigns to the chain's treasury address.
const residualSupply = 1_000_000_000

// treasuryKeySeed derives the chain's genesis treasury recipient key.
const treasuryKeySeed = "treasury"

// Block returns the genesis macro-block for the given chain identity.
// Validator keys are derived deterministically from the identity so
// every node that boots with the same identity agrees on genesis
// without needing to ship a serialized block on disk.
func Block(identity config.ChainIdentity) (*core.MacroBlock, error) {
	if err := identity.Valid(); err != nil {
		return nil, err
	}

	var validators []core.Validator
	var outputs []core.Output
	for i := 0; i < bootstrapValidatorCount; i++ {
		seed := fmt.Sprintf("%s/genesis/validator/%d", identity, i)
		sk := crypto.DeriveSecretKey([]byte(seed))
		pk := sk.Public().Bytes()
		validators = append(validators, core.Validator{
			NetworkKey:  pk,
			Stake:       bootstrapStake,
			ActiveUntil: ^uint64(0),
		})
		outputs = append(outputs, core.Output{
			Kind:            core.KindStake,
			ValidatorKey:    pk,
			StakeAmount:     bootstrapStake,
			ActivationEpoch: 0,
		})
	}

	treasurySk := crypto.DeriveSecretKey([]byte(string(identity) + "/" + treasuryKeySeed))
	outputs = append(outputs, core.Output{
		Kind:      core.KindPublicPayment,
		Recipient: treasurySk.Public().Bytes(),
		Amount:    residualSupply,
	})

	genesisTx := &core.Transaction{Outputs: outputs}

	seedDigest := crypto.Hash256([]byte(string(identity) + "/genesis/seed"))

	return &core.MacroBlock{
		Header: core.Header{
			Version:   1,
			Height:    core.Height{Epoch: 0, Offset: 0},
			Timestamp: 0,
			VRFSeed:   seedDigest,
		},
		Transactions:   []*core.Transaction{genesisTx},
		NextValidators: validators,
	}, nil
}

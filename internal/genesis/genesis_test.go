package genesis

import (
	"testing"

	"github.com/pallaschain/pallas/internal/config"
	"github.com/pallaschain/pallas/internal/core"
)

func TestBlockIsDeterministicForTheSameIdentity(t *testing.T) {
	a, err := Block(config.Dev)
	if err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	b, err := Block(config.Dev)
	if err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	if a.Hash() != b.Hash() {
		t.Errorf("Block(Dev) produced different hashes across calls; want a deterministic genesis")
	}
}

func TestBlockDiffersAcrossIdentities(t *testing.T) {
	dev, err := Block(config.Dev)
	if err != nil {
		t.Fatalf("Block(Dev) error = %v", err)
	}
	testnet, err := Block(config.Testnet)
	if err != nil {
		t.Fatalf("Block(Testnet) error = %v", err)
	}
	if dev.Hash() == testnet.Hash() {
		t.Errorf("Block(Dev) and Block(Testnet) produced the same hash; want distinct genesis per identity")
	}
}

func TestBlockRejectsUnknownIdentity(t *testing.T) {
	if _, err := Block(config.ChainIdentity("bogus")); err == nil {
		t.Errorf("Block() with an unknown identity returned nil error; want ErrUnknownChainIdentity")
	}
}

func TestBlockSeedsBootstrapValidatorsWithStake(t *testing.T) {
	g, err := Block(config.Dev)
	if err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	if len(g.NextValidators) != bootstrapValidatorCount {
		t.Fatalf("len(NextValidators) = %d; want %d", len(g.NextValidators), bootstrapValidatorCount)
	}
	for _, v := range g.NextValidators {
		if v.Stake != bootstrapStake {
			t.Errorf("validator stake = %d; want %d", v.Stake, bootstrapStake)
		}
		if v.ActiveUntil != ^uint64(0) {
			t.Errorf("validator ActiveUntil = %d; want unbounded", v.ActiveUntil)
		}
	}
}

func TestBlockOutputsMatchValidatorsPlusTreasury(t *testing.T) {
	g, err := Block(config.Dev)
	if err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	if len(g.Transactions) != 1 {
		t.Fatalf("len(Transactions) = %d; want 1", len(g.Transactions))
	}
	outs := g.Transactions[0].Outputs
	if len(outs) != bootstrapValidatorCount+1 {
		t.Fatalf("len(Outputs) = %d; want %d stake outputs plus one treasury payment", len(outs), bootstrapValidatorCount+1)
	}

	var stakeCount int
	var treasuryCount int
	for _, o := range outs {
		switch o.Kind {
		case core.KindStake:
			stakeCount++
			if o.StakeAmount != bootstrapStake {
				t.Errorf("stake output amount = %d; want %d", o.StakeAmount, bootstrapStake)
			}
		case core.KindPublicPayment:
			treasuryCount++
			if o.Amount != residualSupply {
				t.Errorf("treasury output amount = %d; want %d", o.Amount, residualSupply)
			}
		default:
			t.Errorf("unexpected output kind %v in genesis transaction", o.Kind)
		}
	}
	if stakeCount != bootstrapValidatorCount {
		t.Errorf("stake output count = %d; want %d", stakeCount, bootstrapValidatorCount)
	}
	if treasuryCount != 1 {
		t.Errorf("treasury output count = %d; want 1", treasuryCount)
	}
}

func TestBlockIsAtGenesisHeight(t *testing.T) {
	g, err := Block(config.Dev)
	if err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	if g.Header.Height != (core.Height{Epoch: 0, Offset: 0}) {
		t.Errorf("Header.Height = %v; want {0 0}", g.Header.Height)
	}
}

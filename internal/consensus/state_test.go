package consensus

import (
	"testing"

	"github.com/pallaschain/pallas/internal/core"
)

func TestNewHeightStateStartsIdleAtViewZero(t *testing.T) {
	reg, _ := testRegistry(t, 2)
	hs := newHeightState(core.Height{Epoch: 0, Offset: 1}, reg)

	if hs.view != 0 {
		t.Errorf("view = %d; want 0", hs.view)
	}
	if hs.phase != PhaseIdle {
		t.Errorf("phase = %v; want PhaseIdle", hs.phase)
	}
	if hs.proposal != nil {
		t.Errorf("proposal = %v; want nil", hs.proposal)
	}
}

func TestResetForViewClearsVotesAndProposal(t *testing.T) {
	reg, sks := testRegistry(t, 3)
	hs := newHeightState(core.Height{Epoch: 0, Offset: 1}, reg)

	var h core.Hash
	h[0] = 9
	hs.phase = PhasePrevoted
	hs.proposalHash = h
	p := &Message{Kind: KindProposal, HeaderHash: h}
	hs.proposal = p
	hs.prevotes.Add(voteFrom(t, sks[0], h))

	hs.resetForView(1)

	if hs.view != 1 {
		t.Errorf("view = %d; want 1", hs.view)
	}
	if hs.phase != PhaseIdle {
		t.Errorf("phase = %v; want PhaseIdle after resetForView", hs.phase)
	}
	if hs.proposal != nil {
		t.Errorf("proposal = %v; want nil after resetForView", hs.proposal)
	}
	if hs.proposalHash != (core.Hash{}) {
		t.Errorf("proposalHash = %v; want the zero hash after resetForView", hs.proposalHash)
	}
	if hs.prevotes.StakeFor(h) != 0 {
		t.Errorf("prevotes carried stake across resetForView; want a fresh vote set")
	}
}

func TestResetForViewKeepsOnlyBufferedMessagesForNewView(t *testing.T) {
	reg, _ := testRegistry(t, 2)
	hs := newHeightState(core.Height{Epoch: 0, Offset: 1}, reg)

	hs.buffered = []Message{
		{Kind: KindPrevote, View: 0},
		{Kind: KindPrevote, View: 1},
		{Kind: KindPrecommit, View: 1},
	}
	hs.resetForView(1)

	if len(hs.buffered) != 2 {
		t.Fatalf("len(buffered) = %d; want 2 (only view-1 messages retained)", len(hs.buffered))
	}
	for _, msg := range hs.buffered {
		if msg.View != 1 {
			t.Errorf("buffered message has View = %d; want 1", msg.View)
		}
	}
}

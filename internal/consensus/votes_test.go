package consensus

import (
	"testing"

	"github.com/pallaschain/pallas/internal/core"
	"github.com/pallaschain/pallas/internal/crypto"
	"github.com/pallaschain/pallas/internal/validator"
)

func testRegistry(t *testing.T, n int) (*validator.Registry, []*crypto.SecretKey) {
	t.Helper()
	var vs []core.Validator
	var sks []*crypto.SecretKey
	for i := 0; i < n; i++ {
		sk, err := crypto.GenerateSecretKey()
		if err != nil {
			t.Fatalf("GenerateSecretKey() error = %v", err)
		}
		sks = append(sks, sk)
		vs = append(vs, core.Validator{NetworkKey: sk.Public().Bytes(), Stake: 100, ActiveUntil: ^uint64(0)})
	}
	return validator.NewRegistry(vs), sks
}

func voteFrom(t *testing.T, sk *crypto.SecretKey, h core.Hash) Message {
	t.Helper()
	m := Message{Kind: KindPrecommit, HeaderHash: h, ValidatorKey: sk.Public().Bytes()}
	sig, err := sk.Sign(m.SignBytes())
	if err != nil {
		t.Fatalf("sk.Sign() error = %v", err)
	}
	m.Sig = sig.Bytes()
	return m
}

func TestVoteSetCountsDistinctValidatorsOnce(t *testing.T) {
	reg, sks := testRegistry(t, 3)
	vs := newVoteSet(reg)
	var h core.Hash
	h[0] = 1

	ok, ev := vs.Add(voteFrom(t, sks[0], h))
	if !ok || ev != nil {
		t.Fatalf("first Add() = (%v, %v); want (true, nil)", ok, ev)
	}
	ok, ev = vs.Add(voteFrom(t, sks[0], h))
	if ok || ev != nil {
		t.Errorf("duplicate Add() = (%v, %v); want (false, nil)", ok, ev)
	}
	if got := vs.StakeFor(h); got != 100 {
		t.Errorf("StakeFor() = %d after a duplicate vote; want 100 (counted once)", got)
	}
}

func TestVoteSetRecordsEquivocationEvidence(t *testing.T) {
	reg, sks := testRegistry(t, 3)
	vs := newVoteSet(reg)
	var h1, h2 core.Hash
	h1[0], h2[0] = 1, 2

	if ok, ev := vs.Add(voteFrom(t, sks[0], h1)); !ok || ev != nil {
		t.Fatalf("first Add() = (%v, %v); want (true, nil)", ok, ev)
	}
	ok, ev := vs.Add(voteFrom(t, sks[0], h2))
	if ok {
		t.Errorf("conflicting Add() ok = true; want false (must not count toward either hash)")
	}
	if ev == nil {
		t.Fatalf("conflicting Add() returned nil evidence; want an Evidence record")
	}
	if string(ev.Validator) != string(sks[0].Public().Bytes()) {
		t.Errorf("Evidence.Validator = %x; want the equivocating validator's key", ev.Validator)
	}
	if vs.StakeFor(h1) != 100 || vs.StakeFor(h2) != 0 {
		t.Errorf("StakeFor(h1)=%d StakeFor(h2)=%d; the conflicting vote must not add stake to h2", vs.StakeFor(h1), vs.StakeFor(h2))
	}
	if len(vs.Evidence()) != 1 {
		t.Errorf("len(Evidence()) = %d; want 1", len(vs.Evidence()))
	}
}

func TestVoteSetIgnoresUnknownValidator(t *testing.T) {
	reg, _ := testRegistry(t, 2)
	vs := newVoteSet(reg)
	stranger, _ := crypto.GenerateSecretKey()
	var h core.Hash
	h[0] = 7

	ok, ev := vs.Add(voteFrom(t, stranger, h))
	if ok || ev != nil {
		t.Errorf("Add() for a non-validator key = (%v, %v); want (false, nil)", ok, ev)
	}
	if vs.StakeFor(h) != 0 {
		t.Errorf("StakeFor() = %d; a non-validator's vote must not count", vs.StakeFor(h))
	}
}

func TestVoteSetHasQuorum(t *testing.T) {
	reg, sks := testRegistry(t, 3) // total stake 300, threshold ceil(200)+1 = 201
	vs := newVoteSet(reg)
	var h core.Hash
	h[0] = 3

	vs.Add(voteFrom(t, sks[0], h))
	vs.Add(voteFrom(t, sks[1], h))
	if vs.HasQuorum(h) {
		t.Errorf("HasQuorum() = true at 200/300 stake; want false (threshold is 201)")
	}
	vs.Add(voteFrom(t, sks[2], h))
	if !vs.HasQuorum(h) {
		t.Errorf("HasQuorum() = false at 300/300 stake; want true")
	}
}

func TestVoteSetSignersMatchesRegistryOrder(t *testing.T) {
	reg, sks := testRegistry(t, 3)
	vs := newVoteSet(reg)
	var h core.Hash
	h[0] = 5

	vs.Add(voteFrom(t, sks[0], h))
	vs.Add(voteFrom(t, sks[2], h))

	bitmap, sigs, err := vs.Signers(h)
	if err != nil {
		t.Fatalf("Signers() error = %v", err)
	}
	if len(bitmap) != reg.Len() {
		t.Fatalf("len(bitmap) = %d; want %d", len(bitmap), reg.Len())
	}
	if len(sigs) != 2 {
		t.Errorf("len(sigs) = %d; want 2", len(sigs))
	}
	idx0, _ := reg.IndexOf(sks[0].Public().Bytes())
	idx2, _ := reg.IndexOf(sks[2].Public().Bytes())
	if !bitmap[idx0] || !bitmap[idx2] {
		t.Errorf("bitmap = %v; want bits set at indices %d and %d", bitmap, idx0, idx2)
	}
	idx1, _ := reg.IndexOf(sks[1].Public().Bytes())
	if bitmap[idx1] {
		t.Errorf("bitmap[%d] = true for a validator that never voted", idx1)
	}
}

package core

import (
	"bytes"
	"encoding/binary"
	"sort"
)

// Validator is a consensus participant: its BLS network key, staked
// amount, and the epoch through which its stake remains active.
type Validator struct {
	NetworkKey    []byte // serialized BLS public key
	Stake         uint64
	ActiveUntil   uint64 // epoch
}

// Bytes is the canonical encoding used when a validator set is folded
// into a macro-block's signed body.
func (v Validator) Bytes() []byte {
	buf := make([]byte, len(v.NetworkKey)+8+8)
	copy(buf, v.NetworkKey)
	off := len(v.NetworkKey)
	binary.BigEndian.PutUint64(buf[off:], v.Stake)
	binary.BigEndian.PutUint64(buf[off+8:], v.ActiveUntil)
	return buf
}

// KeyString is a map-friendly identity for a validator, since
// []byte isn't comparable.
func (v Validator) KeyString() string { return string(v.NetworkKey) }

// sortedValidators copies and orders a validator set by
// (stake desc, network key asc), the same rule the registry's leader
// election sorts by, so every enumeration of a set is canonical.
func sortedValidators(vs []Validator) []Validator {
	out := append([]Validator(nil), vs...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stake != out[j].Stake {
			return out[i].Stake > out[j].Stake
		}
		return bytes.Compare(out[i].NetworkKey, out[j].NetworkKey) < 0
	})
	return out
}

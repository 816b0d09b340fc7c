package crypto

import "lukechampine.com/blake3"

// HashSize is the width of every content hash used for addressing
// blocks, transactions and outputs.
const HashSize = 32

// Hash256 returns the blake3-256 digest of data.
func Hash256(data ...[]byte) [HashSize]byte {
	h := blake3.New(HashSize, nil)
	for _, d := range data {
		h.Write(d)
	}
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Package store implements a disk-backed core.BlockStore over
// boltdb/bolt. The in-memory core.MemStore remains the default for
// tests and short-lived dev nodes; BoltStore is what a long-running
// node points its data_dir config at.
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	bolt "github.com/boltdb/bolt"

	"github.com/pallaschain/pallas/internal/core"
)

var (
	bucketBlocks  = []byte("blocks")
	bucketHeights = []byte("heights")
	bucketMeta    = []byte("meta")
	keyTip        = []byte("tip")
)

// BoltStore persists blocks keyed by content hash, a secondary
// height->hash index, and the current tip hash: one bucket per
// logical index, opened once at startup.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if absent) a bolt database at path and
// ensures its buckets exist.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlocks, bucketHeights, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func heightKey(h core.Height) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[:8], h.Epoch)
	binary.BigEndian.PutUint32(buf[8:], h.Offset)
	return buf
}

func encodeBlock(b core.Block) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, fmt.Errorf("store: encode block: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeBlock(raw []byte) (core.Block, error) {
	var b core.Block
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&b); err != nil {
		return core.Block{}, fmt.Errorf("store: decode block: %w", err)
	}
	return b, nil
}

// Put writes b under its content hash and indexes it by height.
func (s *BoltStore) Put(b core.Block) error {
	raw, err := encodeBlock(b)
	if err != nil {
		return err
	}
	h := b.Hash()
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketBlocks).Put(h[:], raw); err != nil {
			return err
		}
		return tx.Bucket(bucketHeights).Put(heightKey(b.Header().Height), h[:])
	})
}

// Get reads a block by its content hash.
func (s *BoltStore) Get(h core.Hash) (core.Block, bool, error) {
	var out core.Block
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBlocks).Get(h[:])
		if raw == nil {
			return nil
		}
		b, err := decodeBlock(raw)
		if err != nil {
			return err
		}
		out, found = b, true
		return nil
	})
	return out, found, err
}

// GetByHeight reads a block via the height->hash index.
func (s *BoltStore) GetByHeight(height core.Height) (core.Block, bool, error) {
	var hash core.Hash
	var hashFound bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketHeights).Get(heightKey(height))
		if raw == nil {
			return nil
		}
		copy(hash[:], raw)
		hashFound = true
		return nil
	})
	if err != nil || !hashFound {
		return core.Block{}, false, err
	}
	return s.Get(hash)
}

// Tip returns the current committed tip hash, if any.
func (s *BoltStore) Tip() (core.Hash, bool, error) {
	var hash core.Hash
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(keyTip)
		if raw == nil {
			return nil
		}
		copy(hash[:], raw)
		found = true
		return nil
	})
	return hash, found, err
}

// SetTip records h as the new tip hash.
func (s *BoltStore) SetTip(h core.Hash) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyTip, h[:])
	})
}

var _ core.BlockStore = (*BoltStore)(nil)

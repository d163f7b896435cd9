package block

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/hashmesh/hashmesh/pkg/digest"
)

var blocksBucket = []byte("blocks")

// BoltStore is a durable Store backed by a bbolt file. On Get, the stored
// bytes are re-hashed and compared to the key; a mismatch (on-disk
// corruption) is treated as a miss and the corrupt record is deleted.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (creating if necessary) a durable block store at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("block: open bolt store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blocksBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("block: init bolt store: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Put stores data under d. A write error is reported by returning false,
// not by an error value.
func (s *BoltStore) Put(_ context.Context, d digest.Digest, data []byte) (bool, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(blocksBucket).Put(d.Bytes(), data)
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

// Get retrieves bytes for d, verifying the digest on read-back.
func (s *BoltStore) Get(ctx context.Context, d digest.Digest) ([]byte, bool, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(blocksBucket).Get(d.Bytes())
		if v == nil {
			return nil
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("block: bolt get: %w", err)
	}
	if data == nil {
		return nil, false, nil
	}

	if digest.Sum(data) != d {
		// Corruption: the stored record no longer hashes to its own key.
		_, _ = s.Delete(ctx, d)
		return nil, false, nil
	}

	return data, true, nil
}

// Has reports whether d is present, without verifying its digest.
func (s *BoltStore) Has(_ context.Context, d digest.Digest) (bool, error) {
	var present bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		present = tx.Bucket(blocksBucket).Get(d.Bytes()) != nil
		return nil
	})
	return present, err
}

// Delete removes d if present.
func (s *BoltStore) Delete(_ context.Context, d digest.Digest) (bool, error) {
	var existed bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(blocksBucket)
		existed = b.Get(d.Bytes()) != nil
		return b.Delete(d.Bytes())
	})
	return existed, err
}

// Count returns the number of blocks held.
func (s *BoltStore) Count(_ context.Context) (uint64, error) {
	var n uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = uint64(tx.Bucket(blocksBucket).Stats().KeyN)
		return nil
	})
	return n, err
}

// TotalBytes returns the sum of stored block sizes.
func (s *BoltStore) TotalBytes(_ context.Context) (uint64, error) {
	var total uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(blocksBucket).ForEach(func(_, v []byte) error {
			total += uint64(len(v))
			return nil
		})
	})
	return total, err
}

package cache

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("retenify")

// BoltStorage implements Storage on a BoltDB file. Every key lives in a single bucket, and each
// operation runs in its own transaction.
type BoltStorage struct {
	db *bolt.DB
}

// NewBoltStorage opens (or creates with 0600 permissions) the BoltDB file at path and makes sure
// the bucket exists.
func NewBoltStorage(path string) (BoltStorage, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltStorage{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltStorage{}, fmt.Errorf("failed to create bucket: %w", err)
	}

	return BoltStorage{db: db}, nil
}

// Get returns the value stored under key, or nil if there is none.
func (b BoltStorage) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(boltBucket)
		if bk == nil {
			return nil
		}

		v := bk.Get([]byte(key))
		if v == nil {
			return nil
		}
		// Bolt values are only valid for the life of the transaction.
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return value, nil
}

// Put stores value under key, replacing any previous value.
func (b BoltStorage) Put(_ context.Context, key string, value []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bk, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		return bk.Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to put %q: %w", key, err)
	}
	return nil
}

// Delete removes key. If the key doesn't exist, the operation is silently ignored.
func (b BoltStorage) Delete(_ context.Context, key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(boltBucket)
		if bk == nil {
			return nil
		}
		return bk.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// Close releases the database file.
func (b BoltStorage) Close() error {
	return b.db.Close()
}

// Package bolt implements store.Store on bbolt (embedded B+ tree).
package bolt

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"cloudemu/internal/store"
)

// Store implements store.Store using a single bbolt database file.
type Store struct {
	db *bolt.DB
}

// Open creates or opens a bbolt database at the given path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Begin(writable bool) (store.Txn, error) {
	tx, err := s.db.Begin(writable)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &txn{tx: tx}, nil
}

func (s *Store) View(fn func(store.Txn) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&txn{tx: tx})
	})
}

func (s *Store) Update(fn func(store.Txn) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&txn{tx: tx})
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

// txn wraps a bbolt transaction.
type txn struct {
	tx *bolt.Tx
}

func (t *txn) Bucket(name []byte) (store.Bucket, error) {
	if t.tx.Writable() {
		b, err := t.tx.CreateBucketIfNotExists(name)
		if err != nil {
			return nil, fmt.Errorf("creating bucket %q: %w", name, err)
		}
		return &bucket{b: b}, nil
	}
	// Read-only: a missing bucket reads as empty.
	return &bucket{b: t.tx.Bucket(name)}, nil
}

func (t *txn) DeleteBucket(name []byte) error {
	err := t.tx.DeleteBucket(name)
	if err == bolt.ErrBucketNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting bucket %q: %w", name, err)
	}
	return nil
}

func (t *txn) Commit() error {
	return t.tx.Commit()
}

func (t *txn) Rollback() error {
	return t.tx.Rollback()
}

// bucket wraps a bbolt bucket. A nil inner bucket behaves as empty,
// which only happens in read-only transactions.
type bucket struct {
	b *bolt.Bucket
}

func (b *bucket) Get(key []byte) []byte {
	if b.b == nil {
		return nil
	}
	return b.b.Get(key)
}

func (b *bucket) Put(key, value []byte) error {
	return b.b.Put(key, value)
}

func (b *bucket) Delete(key []byte) error {
	return b.b.Delete(key)
}

func (b *bucket) NextSequence() (uint64, error) {
	return b.b.NextSequence()
}

func (b *bucket) ForEach(fn func(key, value []byte) error) error {
	if b.b == nil {
		return nil
	}
	return b.b.ForEach(fn)
}

func (b *bucket) Scan(start []byte, fn func(key, value []byte) (bool, error)) error {
	if b.b == nil {
		return nil
	}
	c := b.b.Cursor()
	var k, v []byte
	if start == nil {
		k, v = c.First()
	} else {
		k, v = c.Seek(start)
	}
	for ; k != nil; k, v = c.Next() {
		cont, err := fn(k, v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

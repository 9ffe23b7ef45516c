package store

import (
	bolt "go.etcd.io/bbolt"

	"github.com/ridgecache/ridge/ridgetype"
)

// RwTxn is a single read-write transaction handed to an Environment.Update
// callback.
type RwTxn struct {
	tx *bolt.Tx
}

// CreateBucketIfNotExists returns the named top-level bucket, creating it
// if absent.
func (t *RwTxn) CreateBucketIfNotExists(name []byte) (*Bucket, error) {
	b, err := t.tx.CreateBucketIfNotExists(name)
	if err != nil {
		return nil, err
	}
	return &Bucket{b: b}, nil
}

// Bucket returns the named top-level bucket, or nil if it does not
// exist.
func (t *RwTxn) Bucket(name []byte) *Bucket {
	b := t.tx.Bucket(name)
	if b == nil {
		return nil
	}
	return &Bucket{b: b}
}

// DeleteBucket removes a top-level bucket entirely.
func (t *RwTxn) DeleteBucket(name []byte) error {
	return t.tx.DeleteBucket(name)
}

// Size reports the transaction's current database size in bytes, the
// same measure Environment.Update compares against Options.MaxMapSize.
// Exposed so callers managing their own transaction lifetime (mainenv)
// can enforce the same ceiling.
func (t *RwTxn) Size() int64 { return t.tx.Size() }

// Commit finalizes the transaction.
func (t *RwTxn) Commit() error { return t.tx.Commit() }

// Rollback discards the transaction.
func (t *RwTxn) Rollback() error { return t.tx.Rollback() }

// RoTxn is a single read-only transaction handed to an Environment.View
// callback.
type RoTxn struct {
	tx *bolt.Tx
}

// Bucket returns the named top-level bucket, or nil if it does not
// exist.
func (t *RoTxn) Bucket(name []byte) *Bucket {
	b := t.tx.Bucket(name)
	if b == nil {
		return nil
	}
	return &Bucket{b: b}
}

// Rollback releases the read-only transaction. bbolt read transactions
// never commit; Rollback is always the correct way to end one.
func (t *RoTxn) Rollback() error { return t.tx.Rollback() }

// Bucket wraps a bbolt bucket (top-level or nested) with the get/put/
// delete/cursor operations the cache's storage layer needs. A Bucket
// obtained from an RoTxn must not be mutated; bbolt itself enforces this
// by returning bolt.ErrTxNotWritable from any write call on a read-only
// transaction's bucket, which this wrapper propagates unchanged.
type Bucket struct {
	b *bolt.Bucket
}

// Get returns the value stored for key, or nil if absent. The returned
// slice is only valid for the lifetime of the enclosing transaction;
// callers that need to retain it must copy.
func (b *Bucket) Get(key []byte) []byte {
	return b.b.Get(key)
}

// Put stores key/value, overwriting any existing value.
func (b *Bucket) Put(key, value []byte) error {
	return b.b.Put(key, value)
}

// PutNoOverwrite stores key/value only if key is not already present,
// returning ridgetype.ErrKeyExists otherwise. This backs primary-key
// insert's uniqueness check.
func (b *Bucket) PutNoOverwrite(key, value []byte) error {
	if b.b.Get(key) != nil {
		return ridgetype.ErrKeyExists
	}
	return b.b.Put(key, value)
}

// Delete removes key, a no-op if absent.
func (b *Bucket) Delete(key []byte) error {
	return b.b.Delete(key)
}

// NextSequence returns the bucket's auto-incrementing sequence, used for
// operation ids.
func (b *Bucket) NextSequence() (uint64, error) {
	return b.b.NextSequence()
}

// Sequence returns the bucket's current sequence value without
// advancing it.
func (b *Bucket) Sequence() uint64 {
	return b.b.Sequence()
}

// CreateBucketIfNotExists returns a nested bucket, creating it if
// absent. Nested buckets are how multimaps (duplicate keys) are
// emulated: see multimap.go.
func (b *Bucket) CreateBucketIfNotExists(name []byte) (*Bucket, error) {
	nested, err := b.b.CreateBucketIfNotExists(name)
	if err != nil {
		return nil, err
	}
	return &Bucket{b: nested}, nil
}

// Bucket returns a nested bucket, or nil if absent.
func (b *Bucket) Bucket(name []byte) *Bucket {
	nested := b.b.Bucket(name)
	if nested == nil {
		return nil
	}
	return &Bucket{b: nested}
}

// DeleteBucket removes a nested bucket entirely.
func (b *Bucket) DeleteBucket(name []byte) error {
	return b.b.DeleteBucket(name)
}

// ForEach iterates key/value pairs in key order. fn must not mutate the
// bucket.
func (b *Bucket) ForEach(fn func(k, v []byte) error) error {
	return b.b.ForEach(fn)
}

// Cursor returns a cursor over this bucket's direct entries.
func (b *Bucket) Cursor() *Cursor {
	return &Cursor{c: b.b.Cursor()}
}

package store

import bolt "go.etcd.io/bbolt"

// Cursor iterates a bucket's entries in byte-lexicographic key order,
// which, thanks to the encoding package's order-preserving layout, is
// also field-value order. This is the primitive SortedInverted range
// scans and primary-key prefix scans are built on.
type Cursor struct {
	c *bolt.Cursor
}

// First moves to and returns the first entry, or nil key if empty.
func (c *Cursor) First() (key, value []byte) { return c.c.First() }

// Last moves to and returns the last entry, or nil key if empty.
func (c *Cursor) Last() (key, value []byte) { return c.c.Last() }

// Next advances and returns the next entry, or nil key past the end.
func (c *Cursor) Next() (key, value []byte) { return c.c.Next() }

// Prev retreats and returns the previous entry, or nil key past the
// start.
func (c *Cursor) Prev() (key, value []byte) { return c.c.Prev() }

// Seek moves to the first key >= seek, or nil key if none.
func (c *Cursor) Seek(seek []byte) (key, value []byte) { return c.c.Seek(seek) }

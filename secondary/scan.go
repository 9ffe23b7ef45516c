package secondary

import (
	"bytes"
	"encoding/binary"

	"github.com/ridgecache/ridge/ridgetype"
	"github.com/ridgecache/ridge/store"
)

// Direction selects ascending or descending iteration for ScanRange.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// ScanEq returns every operation id whose index key starts with prefix,
// in ascending key order.
func (e *Environment) ScanEq(prefix []byte) ([]ridgetype.OperationID, error) {
	var ids []ridgetype.OperationID
	err := e.store.View(func(tx *store.RoTxn) error {
		b := tx.Bucket(indexBucketName)
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if err := store.ForEachMulti(b, k, func(v []byte) error {
				ids = append(ids, ridgetype.OperationID(binary.BigEndian.Uint64(v)))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return ids, err
}

// ScanRange returns every operation id whose index key falls in the
// half-open interval [lower, upper) (either bound nil means unbounded
// on that side), in the requested direction. SortedInverted only.
// Callers wanting an inclusive upper bound pass the smallest key past
// the boundary group (see query's prefixUpperBound).
func (e *Environment) ScanRange(lower, upper []byte, dir Direction) ([]ridgetype.OperationID, error) {
	var ids []ridgetype.OperationID
	err := e.store.View(func(tx *store.RoTxn) error {
		b := tx.Bucket(indexBucketName)
		c := b.Cursor()

		visit := func(k []byte) error {
			return store.ForEachMulti(b, k, func(v []byte) error {
				ids = append(ids, ridgetype.OperationID(binary.BigEndian.Uint64(v)))
				return nil
			})
		}

		if dir == Ascending {
			var k []byte
			if lower != nil {
				k, _ = c.Seek(lower)
			} else {
				k, _ = c.First()
			}
			for ; k != nil; k, _ = c.Next() {
				if upper != nil && bytes.Compare(k, upper) >= 0 {
					break
				}
				if err := visit(k); err != nil {
					return err
				}
			}
			return nil
		}

		var k []byte
		if upper != nil {
			k, _ = c.Seek(upper)
			if k == nil {
				k, _ = c.Last()
			} else {
				// Seek landed at or past the exclusive bound; step back.
				k, _ = c.Prev()
			}
		} else {
			k, _ = c.Last()
		}
		for ; k != nil; k, _ = c.Prev() {
			if lower != nil && bytes.Compare(k, lower) < 0 {
				break
			}
			if err := visit(k); err != nil {
				return err
			}
		}
		return nil
	})
	return ids, err
}

// Count returns the number of operation ids whose index key starts with
// prefix, without dereferencing any of them against the main
// environment.
func (e *Environment) Count(prefix []byte) (int, error) {
	count := 0
	err := e.store.View(func(tx *store.RoTxn) error {
		b := tx.Bucket(indexBucketName)
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			count += store.CountMulti(b, k)
		}
		return nil
	})
	return count, err
}

package store

import "bytes"

// Comparator orders two encoded keys. bbolt has no pluggable per-bucket
// comparator the way LMDB does, so every bucket iterates in plain byte
// order and the encoding layer is responsible for writing keys that
// byte-compare in their declared field order. A Comparator captures a
// database's declared order so tests can assert an encoding actually
// delivers it.
type Comparator func(a, b []byte) int

// BytewiseComparator is the order every bucket actually iterates in.
func BytewiseComparator(a, b []byte) int { return bytes.Compare(a, b) }

// Validate reports whether keys is sorted under c. Used by tests to
// check that an encoding's byte order matches the value order its
// schema promises.
func (c Comparator) Validate(keys [][]byte) bool {
	for i := 1; i < len(keys); i++ {
		if c(keys[i-1], keys[i]) > 0 {
			return false
		}
	}
	return true
}

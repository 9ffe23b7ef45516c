package store

// PutMulti adds value to the duplicate-set stored under key in a
// multimap bucket, emulating LMDB's MDB_DUPSORT by nesting a nested
// bucket per outer key whose entry keys are the member values (sorted
// by bbolt the same byte-lexicographic way a DUPSORT database would
// sort them, since the encoding package already makes "value order"
// and "byte order" coincide). A value already present is a no-op.
func PutMulti(b *Bucket, key, value []byte) error {
	nested, err := b.CreateBucketIfNotExists(key)
	if err != nil {
		return err
	}
	return nested.Put(value, []byte{})
}

// DeleteMulti removes value from the duplicate-set under key. If that
// was the set's last member, the now-empty nested bucket is removed so
// that CountMulti correctly reports key as absent.
func DeleteMulti(b *Bucket, key, value []byte) error {
	nested := b.Bucket(key)
	if nested == nil {
		return nil
	}
	if err := nested.Delete(value); err != nil {
		return err
	}
	if !multiHasAny(nested) {
		return b.DeleteBucket(key)
	}
	return nil
}

// CountMulti returns the number of values stored under key.
func CountMulti(b *Bucket, key []byte) int {
	nested := b.Bucket(key)
	if nested == nil {
		return 0
	}
	n := 0
	_ = nested.ForEach(func(_, _ []byte) error {
		n++
		return nil
	})
	return n
}

// ForEachMulti calls fn with every value stored under key, in byte
// order, stopping early if fn returns an error.
func ForEachMulti(b *Bucket, key []byte, fn func(value []byte) error) error {
	nested := b.Bucket(key)
	if nested == nil {
		return nil
	}
	return nested.ForEach(func(v, _ []byte) error {
		return fn(v)
	})
}

// MultiCursor returns a cursor over the duplicate-set under key, or nil
// if key has no entries.
func MultiCursor(b *Bucket, key []byte) *Cursor {
	nested := b.Bucket(key)
	if nested == nil {
		return nil
	}
	return nested.Cursor()
}

func multiHasAny(nested *Bucket) bool {
	k, _ := nested.Cursor().First()
	return k != nil
}

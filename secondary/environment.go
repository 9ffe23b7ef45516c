// Package secondary implements one secondary index's private storage
// environment: a multimap of encoded index key to the operation id
// of the introducing insert, a cursor tracking how far this index has
// caught up with the main environment's operation log, and the key
// extraction rules for the two supported IndexDefinition kinds.
package secondary

import (
	"encoding/binary"
	"fmt"

	"github.com/ridgecache/ridge/ridgetype"
	"github.com/ridgecache/ridge/store"
)

var (
	indexBucketName = []byte("index")
	metaBucketName  = []byte("metadata")
)

const (
	metaKeyNextOpID   = "next_operation_id"
	metaKeyDefinition = "definition"
)

// Environment is one secondary index's bbolt file.
type Environment struct {
	store *store.Environment
	def   ridgetype.IndexDefinition
}

// Open opens or creates a secondary index environment and restores its
// stored IndexDefinition, if any.
func Open(path string, opts store.Options) (*Environment, error) {
	st, err := store.Open(path, opts)
	if err != nil {
		return nil, err
	}
	env := &Environment{store: st}
	err = st.Update(func(tx *store.RwTxn) error {
		for _, name := range [][]byte{indexBucketName, metaBucketName} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		meta := tx.Bucket(metaBucketName)
		if stored := meta.Get([]byte(metaKeyDefinition)); stored != nil {
			def, err := RestoreDefinition(stored)
			if err != nil {
				return err
			}
			env.def = def
		}
		return nil
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("secondary: initialize %s: %w", path, err)
	}
	return env, nil
}

// Close releases the backing bbolt file.
func (e *Environment) Close() error { return e.store.Close() }

// MaxMapSize returns the configured map-size ceiling (0 means
// unbounded), surfaced so operators can report it alongside map-full
// errors.
func (e *Environment) MaxMapSize() int64 { return e.store.MaxMapSize() }

// Definition returns the stored index definition, or nil if none has
// been set yet.
func (e *Environment) Definition() ridgetype.IndexDefinition { return e.def }

// EnsureDefinition stores def on a brand-new environment, or validates a
// caller-supplied definition against the one already stored.
func (e *Environment) EnsureDefinition(def ridgetype.IndexDefinition) (ridgetype.IndexDefinition, error) {
	if e.def != nil {
		if def != nil && !e.def.Equal(def) {
			return nil, fmt.Errorf("secondary: %w: stored index definition does not match", ridgetype.ErrSchemaMismatch)
		}
		return e.def, nil
	}
	if def == nil {
		return nil, fmt.Errorf("secondary: no index definition stored and none supplied")
	}
	dumped, err := DumpDefinition(def)
	if err != nil {
		return nil, err
	}
	err = e.store.Update(func(tx *store.RwTxn) error {
		return tx.Bucket(metaBucketName).Put([]byte(metaKeyDefinition), dumped)
	})
	if err != nil {
		return nil, err
	}
	e.def = def
	return def, nil
}

// NextOperationID returns the operation id this secondary will apply
// next. After a pass that applied everything up to the main
// environment's commit_head it is commit_head+1; the secondary counts as
// caught up once it is greater than commit_head.
func (e *Environment) NextOperationID() (ridgetype.OperationID, error) {
	var next uint64
	err := e.store.View(func(tx *store.RoTxn) error {
		v := tx.Bucket(metaBucketName).Get([]byte(metaKeyNextOpID))
		if v != nil {
			next = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return ridgetype.OperationID(next), err
}

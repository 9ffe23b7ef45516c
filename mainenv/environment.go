// Package mainenv implements the cache's main environment: the
// writable source of truth for one cache's schema, operation log,
// present-record index and primary-key index, plus the commit-epoch
// metadata secondaries poll to know how far to catch up.
package mainenv

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/ridgecache/ridge/ridgetype"
	"github.com/ridgecache/ridge/store"
)

var (
	schemaBucketName  = []byte("schema")
	presentBucketName = []byte("present_records")
	pkBucketName      = []byte("primary_key_index")
	logBucketName     = []byte("operation_log")
	metaBucketName    = []byte("metadata")
)

const (
	metaKeyCommitHead = "commit_head"
	metaKeyEpoch      = "epoch"
	schemaKey         = "schema"
)

// Environment is one cache's main bbolt file, shared by every
// RwMainEnvironment/RoMainEnvironment opened against it. commitHead is
// an atomic so read-only snapshots and the indexing pool can poll it
// without taking a lock.
type Environment struct {
	store      *store.Environment
	commitHead atomic.Uint64
}

// Open opens or creates the main environment's backing file and
// restores commitHead from its metadata bucket, if present.
func Open(path string, opts store.Options) (*Environment, error) {
	st, err := store.Open(path, opts)
	if err != nil {
		return nil, err
	}
	env := &Environment{store: st}

	err = st.Update(func(tx *store.RwTxn) error {
		for _, name := range [][]byte{schemaBucketName, presentBucketName, pkBucketName, logBucketName, metaBucketName} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		meta := tx.Bucket(metaBucketName)
		if v := meta.Get([]byte(metaKeyCommitHead)); v != nil {
			env.commitHead.Store(binary.BigEndian.Uint64(v))
		}
		return nil
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("mainenv: initialize %s: %w", path, err)
	}
	return env, nil
}

// Close releases the backing bbolt file.
func (e *Environment) Close() error { return e.store.Close() }

// CommitHead returns the highest operation id durably committed so far.
func (e *Environment) CommitHead() uint64 { return e.commitHead.Load() }

// MaxMapSize returns the configured map-size ceiling (0 means
// unbounded), surfaced alongside commit_head for operator stat tooling.
func (e *Environment) MaxMapSize() int64 { return e.store.MaxMapSize() }

// EnsureSchema stores schema/indexes on a brand-new environment, or
// validates a caller-supplied non-empty schema against the one already
// stored, returning ridgetype.ErrSchemaMismatch on conflict. An empty
// schema argument means "load whatever is stored". A nil indexes
// argument takes schema.SecondaryIndexes; either way the schema stored and
// returned carries the index list in SecondaryIndexes. This backs
// cache.Manager's OpenRw/OpenRo reopen contract.
func (e *Environment) EnsureSchema(schema ridgetype.Schema, indexes []ridgetype.IndexDefinition) (ridgetype.Schema, []ridgetype.IndexDefinition, error) {
	var resultSchema ridgetype.Schema
	var resultIndexes []ridgetype.IndexDefinition

	if indexes == nil {
		indexes = schema.SecondaryIndexes
	}
	schema.SecondaryIndexes = indexes

	err := e.store.Update(func(tx *store.RwTxn) error {
		b := tx.Bucket(schemaBucketName)
		stored := b.Get([]byte(schemaKey))

		if stored == nil {
			if schema.IsEmpty() {
				return fmt.Errorf("mainenv: %w: no schema stored and none supplied", ridgetype.ErrSchemaMismatch)
			}
			enc, err := encodeSchema(schema, indexes)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(schemaKey), enc); err != nil {
				return err
			}
			resultSchema, resultIndexes = schema, indexes
			return nil
		}

		existingSchema, existingIndexes, err := decodeSchema(stored)
		if err != nil {
			return err
		}
		if !schema.IsEmpty() && !schema.Equal(existingSchema) {
			return ridgetype.ErrSchemaMismatch
		}
		resultSchema, resultIndexes = existingSchema, existingIndexes
		return nil
	})
	if err != nil {
		return ridgetype.Schema{}, nil, err
	}
	return resultSchema, resultIndexes, nil
}

// Schema loads the stored schema and index definitions without
// validating against a caller-supplied one.
func (e *Environment) Schema() (ridgetype.Schema, []ridgetype.IndexDefinition, error) {
	var schema ridgetype.Schema
	var indexes []ridgetype.IndexDefinition
	err := e.store.View(func(tx *store.RoTxn) error {
		b := tx.Bucket(schemaBucketName)
		stored := b.Get([]byte(schemaKey))
		if stored == nil {
			return fmt.Errorf("mainenv: %w: no schema stored", ridgetype.ErrNotFound)
		}
		s, idx, err := decodeSchema(stored)
		if err != nil {
			return err
		}
		schema, indexes = s, idx
		return nil
	})
	return schema, indexes, err
}

type fieldDefJSON struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type indexDefJSON struct {
	Kind   string `json:"kind"`
	Fields []int  `json:"fields,omitempty"`
	Field  int    `json:"field,omitempty"`
}

type schemaJSON struct {
	ID               uint64         `json:"id"`
	Fields           []fieldDefJSON `json:"fields"`
	PrimaryIndex     []int          `json:"primary_index"`
	SecondaryIndexes []indexDefJSON `json:"secondary_indexes"`
}

func encodeSchema(schema ridgetype.Schema, indexes []ridgetype.IndexDefinition) ([]byte, error) {
	sj := schemaJSON{ID: schema.ID, PrimaryIndex: schema.PrimaryIndex}
	for _, f := range schema.Fields {
		sj.Fields = append(sj.Fields, fieldDefJSON{Name: f.Name, Type: f.Type.String(), Nullable: f.Nullable})
	}
	for _, idx := range indexes {
		switch v := idx.(type) {
		case ridgetype.SortedInvertedIndex:
			sj.SecondaryIndexes = append(sj.SecondaryIndexes, indexDefJSON{Kind: "sorted_inverted", Fields: v.Fields})
		case ridgetype.FullTextIndex:
			sj.SecondaryIndexes = append(sj.SecondaryIndexes, indexDefJSON{Kind: "full_text", Field: v.Field})
		default:
			return nil, fmt.Errorf("mainenv: unsupported index definition %T", idx)
		}
	}
	return json.Marshal(sj)
}

func decodeSchema(data []byte) (ridgetype.Schema, []ridgetype.IndexDefinition, error) {
	var sj schemaJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return ridgetype.Schema{}, nil, fmt.Errorf("mainenv: decode schema: %w", err)
	}
	schema := ridgetype.Schema{ID: sj.ID, PrimaryIndex: sj.PrimaryIndex}
	for _, f := range sj.Fields {
		t, ok := ridgetype.ParseFieldType(f.Type)
		if !ok {
			return ridgetype.Schema{}, nil, fmt.Errorf("mainenv: unknown field type %q", f.Type)
		}
		schema.Fields = append(schema.Fields, ridgetype.FieldDefinition{Name: f.Name, Type: t, Nullable: f.Nullable})
	}
	var indexes []ridgetype.IndexDefinition
	for _, idx := range sj.SecondaryIndexes {
		switch idx.Kind {
		case "sorted_inverted":
			indexes = append(indexes, ridgetype.SortedInvertedIndex{Fields: idx.Fields})
		case "full_text":
			indexes = append(indexes, ridgetype.FullTextIndex{Field: idx.Field})
		default:
			return ridgetype.Schema{}, nil, fmt.Errorf("mainenv: unknown index kind %q", idx.Kind)
		}
	}
	schema.SecondaryIndexes = indexes
	return schema, indexes, nil
}

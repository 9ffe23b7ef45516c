package mainenv

import (
	"encoding/binary"
	"fmt"

	"github.com/ridgecache/ridge/encoding"
	"github.com/ridgecache/ridge/ridgetype"
	"github.com/ridgecache/ridge/store"
)

// RwMainEnvironment is one open write transaction against a main
// environment. Several insert/delete/update calls can be issued before
// a single Commit: SchemaMismatch and PrimaryKeyExists are reported
// without aborting, and the handle remains usable for further
// operations until Commit or Abort.
type RwMainEnvironment struct {
	env     *Environment
	tx      *store.RwTxn
	schema  ridgetype.Schema
	indexes []ridgetype.IndexDefinition

	schemaB  *store.Bucket
	presentB *store.Bucket
	pkB      *store.Bucket
	logB     *store.Bucket
	metaB    *store.Bucket

	done bool
}

// BeginRw opens a write transaction against the main environment for
// the given schema (already validated via EnsureSchema).
func (e *Environment) BeginRw(schema ridgetype.Schema, indexes []ridgetype.IndexDefinition) (*RwMainEnvironment, error) {
	tx, err := e.store.BeginRw()
	if err != nil {
		return nil, err
	}
	return &RwMainEnvironment{
		env:      e,
		tx:       tx,
		schema:   schema,
		indexes:  indexes,
		schemaB:  tx.Bucket(schemaBucketName),
		presentB: tx.Bucket(presentBucketName),
		pkB:      tx.Bucket(pkBucketName),
		logB:     tx.Bucket(logBucketName),
		metaB:    tx.Bucket(metaBucketName),
	}, nil
}

// Schema returns the schema and index definitions this transaction was
// opened with.
func (rw *RwMainEnvironment) Schema() (ridgetype.Schema, []ridgetype.IndexDefinition) {
	return rw.schema, rw.indexes
}

// Insert validates and appends a new record.
func (rw *RwMainEnvironment) Insert(record ridgetype.Record) (ridgetype.RecordID, error) {
	return rw.insertWithVersion(record, 1)
}

func (rw *RwMainEnvironment) insertWithVersion(record ridgetype.Record, version uint64) (ridgetype.RecordID, error) {
	if err := validateRecord(rw.schema, record); err != nil {
		return 0, err
	}

	var pk []byte
	if rw.schema.HasPrimaryIndex() {
		var err error
		pk, err = EncodePrimaryKey(rw.schema, record.Values)
		if err != nil {
			return 0, err
		}
		if rw.pkB.Get(pk) != nil {
			return 0, ridgetype.ErrPrimaryKeyExists
		}
	}

	seq, err := rw.logB.NextSequence()
	if err != nil {
		return 0, fmt.Errorf("mainenv: allocate operation id: %w", err)
	}
	id := ridgetype.RecordID(seq)

	recBytes, err := encoding.EncodeRecord(record)
	if err != nil {
		return 0, fmt.Errorf("mainenv: encode record: %w", err)
	}

	if pk != nil {
		if err := rw.pkB.Put(pk, recordIDKey(id)); err != nil {
			return 0, err
		}
	}
	if err := rw.presentB.Put(recordIDKey(id), encodePresentRecord(version, recBytes)); err != nil {
		return 0, err
	}
	if err := rw.logB.Put(opIDKey(id.AsOperationID()), encodeLogOp(ridgetype.InsertLogOp(id))); err != nil {
		return 0, err
	}
	return id, nil
}

// Delete removes the present record at primary key pk, returning the
// removed record's version.
func (rw *RwMainEnvironment) Delete(pk []byte) (uint64, error) {
	version, _, _, err := rw.deleteInternal(pk)
	return version, err
}

func (rw *RwMainEnvironment) deleteInternal(pk []byte) (version uint64, id ridgetype.RecordID, recBytes []byte, err error) {
	idBytes := rw.pkB.Get(pk)
	if idBytes == nil {
		return 0, 0, nil, ridgetype.ErrNotFound
	}
	id = ridgetype.RecordID(binary.BigEndian.Uint64(idBytes))

	stored := rw.presentB.Get(recordIDKey(id))
	if stored == nil {
		return 0, 0, nil, ridgetype.ErrNotFound
	}
	version, recBytes, err = decodePresentRecord(stored)
	if err != nil {
		return 0, 0, nil, err
	}

	if err := rw.presentB.Delete(recordIDKey(id)); err != nil {
		return 0, 0, nil, err
	}
	if err := rw.pkB.Delete(pk); err != nil {
		return 0, 0, nil, err
	}
	opID, err := rw.logB.NextSequence()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("mainenv: allocate operation id: %w", err)
	}
	if err := rw.logB.Put(opIDKey(ridgetype.OperationID(opID)), encodeLogOp(ridgetype.DeleteLogOp(id.AsOperationID(), recBytes))); err != nil {
		return 0, 0, nil, err
	}
	return version, id, recBytes, nil
}

// Update replaces the record at primary key pk with newRecord: delete
// then insert, consuming two consecutive operation ids. If the
// post-delete insert fails, the delete's bucket effects are undone so
// the handle is left exactly as it was before Update was called.
func (rw *RwMainEnvironment) Update(pk []byte, newRecord ridgetype.Record) (ridgetype.RecordID, uint64, error) {
	oldVersion, oldID, oldRecBytes, err := rw.deleteInternal(pk)
	if err != nil {
		return 0, 0, err
	}

	newID, err := rw.insertWithVersion(newRecord, oldVersion+1)
	if err != nil {
		if restoreErr := rw.restoreDeletedRecord(pk, oldID, oldVersion, oldRecBytes); restoreErr != nil {
			return 0, 0, fmt.Errorf("mainenv: update failed (%w) and rollback of delete failed: %v", err, restoreErr)
		}
		return 0, 0, err
	}
	return newID, oldVersion, nil
}

// restoreDeletedRecord undoes deleteInternal's bucket mutations, used
// when Update's post-delete insert fails. It does not undo the delete's
// log entry or reclaim its operation id: a consumed-but-unused operation
// id is harmless (see mainenv package doc), whereas a secondary that
// already observed the delete must still see a consistent key space, so
// the present/pk state is restored exactly.
func (rw *RwMainEnvironment) restoreDeletedRecord(pk []byte, id ridgetype.RecordID, version uint64, recBytes []byte) error {
	if err := rw.presentB.Put(recordIDKey(id), encodePresentRecord(version, recBytes)); err != nil {
		return err
	}
	return rw.pkB.Put(pk, recordIDKey(id))
}

// Get resolves a primary key to its record id, version and record.
func (rw *RwMainEnvironment) Get(pk []byte) (ridgetype.RecordID, uint64, ridgetype.Record, error) {
	idBytes := rw.pkB.Get(pk)
	if idBytes == nil {
		return 0, 0, ridgetype.Record{}, ridgetype.ErrNotFound
	}
	id := ridgetype.RecordID(binary.BigEndian.Uint64(idBytes))
	stored := rw.presentB.Get(recordIDKey(id))
	if stored == nil {
		return 0, 0, ridgetype.Record{}, ridgetype.ErrNotFound
	}
	version, recBytes, err := decodePresentRecord(stored)
	if err != nil {
		return 0, 0, ridgetype.Record{}, err
	}
	rec, err := encoding.DecodeRecord(recBytes, fieldTypes(rw.schema))
	if err != nil {
		return 0, 0, ridgetype.Record{}, err
	}
	return id, version, rec, nil
}

// Commit finalizes the transaction: it persists commit_head and epoch
// to the metadata bucket, enforces the map-size ceiling, and on
// success publishes the new head to the shared Environment so readers
// and the indexing pool observe it.
func (rw *RwMainEnvironment) Commit(epoch string) (err error) {
	if rw.done {
		return fmt.Errorf("mainenv: transaction already finished")
	}
	defer func() { rw.done = true }()

	head := rw.logB.Sequence()
	headBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(headBytes, head)
	if err := rw.metaB.Put([]byte(metaKeyCommitHead), headBytes); err != nil {
		_ = rw.tx.Rollback()
		return err
	}
	if err := rw.metaB.Put([]byte(metaKeyEpoch), []byte(epoch)); err != nil {
		_ = rw.tx.Rollback()
		return err
	}

	if max := rw.env.store.MaxMapSize(); max > 0 && rw.tx.Size() > max {
		_ = rw.tx.Rollback()
		return ridgetype.ErrMapFull
	}

	if err := rw.tx.Commit(); err != nil {
		return fmt.Errorf("mainenv: commit: %w", err)
	}
	rw.env.commitHead.Store(head)
	return nil
}

// Abort discards every operation since BeginRw without persisting
// anything.
func (rw *RwMainEnvironment) Abort() error {
	if rw.done {
		return nil
	}
	rw.done = true
	return rw.tx.Rollback()
}

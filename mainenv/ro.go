package mainenv

import (
	"encoding/binary"

	"github.com/ridgecache/ridge/encoding"
	"github.com/ridgecache/ridge/ridgetype"
	"github.com/ridgecache/ridge/store"
)

// RoMainEnvironment is a consistent point-in-time read snapshot of a
// main environment. Readers (query executors, the indexing pool) see a
// fixed view even as the writer continues to commit.
type RoMainEnvironment struct {
	schema  ridgetype.Schema
	indexes []ridgetype.IndexDefinition

	tx       *store.RoTxn
	presentB *store.Bucket
	pkB      *store.Bucket
	logB     *store.Bucket
	metaB    *store.Bucket
}

// BeginRo opens a read-only snapshot against the main environment.
func (e *Environment) BeginRo() (*RoMainEnvironment, error) {
	tx, err := e.store.BeginRo()
	if err != nil {
		return nil, err
	}
	ro := &RoMainEnvironment{
		tx:       tx,
		presentB: tx.Bucket(presentBucketName),
		pkB:      tx.Bucket(pkBucketName),
		logB:     tx.Bucket(logBucketName),
		metaB:    tx.Bucket(metaBucketName),
	}
	schemaB := tx.Bucket(schemaBucketName)
	if stored := schemaB.Get([]byte(schemaKey)); stored != nil {
		schema, indexes, err := decodeSchema(stored)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		ro.schema, ro.indexes = schema, indexes
	}
	return ro, nil
}

// Close releases the read-only snapshot.
func (ro *RoMainEnvironment) Close() error { return ro.tx.Rollback() }

// Schema returns this snapshot's schema and index definitions.
func (ro *RoMainEnvironment) Schema() (ridgetype.Schema, []ridgetype.IndexDefinition) {
	return ro.schema, ro.indexes
}

// CommitHead returns the commit_head durable as of this snapshot,
// which may lag the Environment's live value, since this is a fixed
// point-in-time view.
func (ro *RoMainEnvironment) CommitHead() uint64 {
	v := ro.metaB.Get([]byte(metaKeyCommitHead))
	if v == nil {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

// Get resolves a primary key to its record id, version and record.
func (ro *RoMainEnvironment) Get(pk []byte) (ridgetype.RecordID, uint64, ridgetype.Record, error) {
	idBytes := ro.pkB.Get(pk)
	if idBytes == nil {
		return 0, 0, ridgetype.Record{}, ridgetype.ErrNotFound
	}
	id := ridgetype.RecordID(binary.BigEndian.Uint64(idBytes))
	rec, version, ok, err := ro.GetByRecordID(id)
	if err != nil {
		return 0, 0, ridgetype.Record{}, err
	}
	if !ok {
		return 0, 0, ridgetype.Record{}, ridgetype.ErrNotFound
	}
	return id, version, rec, nil
}

// GetByRecordID loads a present record directly by its id, the
// operation secondary index builders perform when applying an Insert
// log entry.
func (ro *RoMainEnvironment) GetByRecordID(id ridgetype.RecordID) (ridgetype.Record, uint64, bool, error) {
	stored := ro.presentB.Get(recordIDKey(id))
	if stored == nil {
		return ridgetype.Record{}, 0, false, nil
	}
	version, recBytes, err := decodePresentRecord(stored)
	if err != nil {
		return ridgetype.Record{}, 0, false, err
	}
	rec, err := encoding.DecodeRecord(recBytes, fieldTypes(ro.schema))
	if err != nil {
		return ridgetype.Record{}, 0, false, err
	}
	return rec, version, true, nil
}

// LogEntry reads one operation log entry by id.
func (ro *RoMainEnvironment) LogEntry(id ridgetype.OperationID) (ridgetype.LogOperation, bool, error) {
	stored := ro.logB.Get(opIDKey(id))
	if stored == nil {
		return ridgetype.LogOperation{}, false, nil
	}
	op, err := decodeLogOp(stored)
	if err != nil {
		return ridgetype.LogOperation{}, false, err
	}
	return op, true, nil
}

// ForEachPresentRecord iterates every present record in record-id order,
// the primitive a full sequential scan (query.SeqScan) is built on. fn
// receiving an error stops iteration and that error propagates.
func (ro *RoMainEnvironment) ForEachPresentRecord(fn func(id ridgetype.RecordID, version uint64, rec ridgetype.Record) error) error {
	return ro.presentB.ForEach(func(k, v []byte) error {
		id := ridgetype.RecordID(binary.BigEndian.Uint64(k))
		version, recBytes, err := decodePresentRecord(v)
		if err != nil {
			return err
		}
		rec, err := encoding.DecodeRecord(recBytes, fieldTypes(ro.schema))
		if err != nil {
			return err
		}
		return fn(id, version, rec)
	})
}

// DecodeSnapshot decodes a LogOperation's RecordSnapshot using this
// snapshot's schema, the path a lagging secondary uses to resolve a
// deleted record's field values without a present_records entry.
func (ro *RoMainEnvironment) DecodeSnapshot(snapshot []byte) (ridgetype.Record, error) {
	return encoding.DecodeRecord(snapshot, fieldTypes(ro.schema))
}

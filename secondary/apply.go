package secondary

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ridgecache/ridge/mainenv"
	"github.com/ridgecache/ridge/ridgetype"
	"github.com/ridgecache/ridge/store"
)

func opIDBytes(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// Apply advances this secondary from its next_operation_id up to and
// including upTo, reading Insert/Delete log entries from ro (a snapshot
// of the main environment at or beyond upTo). Every entry in the batch
// is applied within a single bbolt write transaction, so the secondary
// is never left partially updated for one op-id.
//
// An Insert whose record can no longer be resolved in ro (because a
// later Delete in the same batch already removed it) contributes no
// keys; the matching Delete, which always carries its own record
// snapshot, then removes nothing for a key that was never added. Both
// outcomes land on the same net state: no index entry for a record that
// is, as of upTo, gone.
//
// ctx is polled between op-id applications; a cancelled context aborts
// the in-flight batch and returns ridgetype.ErrCancelled, leaving
// next_operation_id wherever it was before this call so the next Apply
// resumes from there.
func (e *Environment) Apply(ctx context.Context, ro *mainenv.RoMainEnvironment, upTo ridgetype.OperationID) error {
	if e.def == nil {
		return fmt.Errorf("secondary: no index definition set")
	}

	next, err := e.NextOperationID()
	if err != nil {
		return err
	}
	if next > upTo {
		return nil
	}

	tx, err := e.store.BeginRw()
	if err != nil {
		return err
	}

	indexB := tx.Bucket(indexBucketName)
	metaB := tx.Bucket(metaBucketName)

	// Operation ids start at 1 (the main environment's id allocator never
	// hands out 0), so a brand-new secondary's stored cursor of 0 begins
	// its first pass at 1.
	cursor := next
	if cursor == 0 {
		cursor = 1
	}

	for id := cursor; id <= upTo; id++ {
		if err := ctx.Err(); err != nil {
			_ = tx.Rollback()
			return ridgetype.ErrCancelled
		}

		op, ok, err := ro.LogEntry(id)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if !ok {
			break
		}
		cursor = id + 1

		switch op.Kind {
		case ridgetype.LogInsert:
			rec, _, found, err := ro.GetByRecordID(op.RecordID)
			if err != nil {
				_ = tx.Rollback()
				return err
			}
			if !found {
				continue
			}
			keys, err := ExtractKeys(e.def, rec)
			if err != nil {
				_ = tx.Rollback()
				return err
			}
			for _, k := range keys {
				if err := store.PutMulti(indexB, k, opIDBytes(uint64(op.RecordID))); err != nil {
					_ = tx.Rollback()
					return err
				}
			}

		case ridgetype.LogDelete:
			rec, err := ro.DecodeSnapshot(op.RecordSnapshot)
			if err != nil {
				_ = tx.Rollback()
				return err
			}
			keys, err := ExtractKeys(e.def, rec)
			if err != nil {
				_ = tx.Rollback()
				return err
			}
			for _, k := range keys {
				if err := store.DeleteMulti(indexB, k, opIDBytes(uint64(op.InsertOpID))); err != nil {
					_ = tx.Rollback()
					return err
				}
			}
		}
	}

	// Record how far this pass actually got, not upTo blindly: a log
	// entry missing mid-range stops the batch without claiming ids it
	// never applied.
	if err := metaB.Put([]byte(metaKeyNextOpID), opIDBytes(uint64(cursor))); err != nil {
		_ = tx.Rollback()
		return err
	}

	if max := e.store.MaxMapSize(); max > 0 && tx.Size() > max {
		_ = tx.Rollback()
		return ridgetype.ErrMapFull
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("secondary: commit: %w", err)
	}
	return nil
}

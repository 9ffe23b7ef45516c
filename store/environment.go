// Package store wraps go.etcd.io/bbolt with the primitives the cache
// engine needs on top of a plain key-value store: a fixed-ceiling
// "map full" error, nested-bucket multimaps (bbolt has no native
// duplicate-key support the way LMDB does), and explicit RwTxn/RoTxn
// transaction handles giving single-writer/multi-reader callers direct
// control over commit and rollback.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ridgecache/ridge/ridgetype"
)

// Options configures an Environment.
type Options struct {
	// MaxMapSize is the ceiling, in bytes, past which a write
	// transaction is rolled back with ridgetype.ErrMapFull instead of
	// committed. Zero means unbounded (bbolt's default growth behavior).
	MaxMapSize int64

	// ReadOnly opens the underlying file without taking the bbolt write
	// lock, for secondary readers that never write.
	ReadOnly bool

	// Timeout bounds how long Open waits to acquire the bbolt file lock.
	Timeout time.Duration
}

// Environment is one open bbolt database file: the storage backing for
// either the main environment or one secondary index's private
// environment.
type Environment struct {
	db   *bolt.DB
	path string
	opts Options
}

// Open opens or creates the bbolt file at path, creating parent
// directories as needed.
func Open(path string, opts Options) (*Environment, error) {
	if !opts.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", filepath.Dir(path), err)
		}
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 1 * time.Second
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout:  timeout,
		ReadOnly: opts.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &Environment{db: db, path: path, opts: opts}, nil
}

// Path returns the environment's backing file path.
func (e *Environment) Path() string { return e.path }

// Close releases the bbolt file lock and mmap.
func (e *Environment) Close() error {
	if err := e.db.Close(); err != nil {
		return fmt.Errorf("store: close %s: %w", e.path, err)
	}
	return nil
}

// Update runs fn inside a single read-write transaction. If fn returns
// an error the transaction is rolled back and that error is returned
// unchanged. If fn succeeds but the transaction's resulting size
// exceeds Options.MaxMapSize, the transaction is rolled back and
// ridgetype.ErrMapFull is returned instead of being committed: the
// single-writer equivalent of LMDB's MDB_MAP_FULL, since bbolt itself
// has no configurable map ceiling.
func (e *Environment) Update(fn func(*RwTxn) error) error {
	tx, err := e.db.Begin(true)
	if err != nil {
		return fmt.Errorf("store: begin rw txn: %w", err)
	}

	rw := &RwTxn{tx: tx}
	if err := fn(rw); err != nil {
		_ = tx.Rollback()
		return err
	}

	if e.opts.MaxMapSize > 0 && tx.Size() > e.opts.MaxMapSize {
		_ = tx.Rollback()
		return ridgetype.ErrMapFull
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// View runs fn inside a read-only transaction. The transaction is
// always rolled back (bbolt read transactions never commit) once fn
// returns; fn's error, if any, propagates unchanged.
func (e *Environment) View(fn func(*RoTxn) error) error {
	tx, err := e.db.Begin(false)
	if err != nil {
		return fmt.Errorf("store: begin ro txn: %w", err)
	}
	defer tx.Rollback()

	ro := &RoTxn{tx: tx}
	return fn(ro)
}

// Stats reports bbolt's cumulative page-allocation counter
// (TxStats.PageAlloc) in bytes. This is not the measure Update compares
// against Options.MaxMapSize; that is the transaction's Size.
func (e *Environment) Stats() (sizeBytes int64) {
	return e.db.Stats().TxStats.PageAlloc
}

// BeginRw opens a read-write transaction whose lifetime the caller
// controls directly, for callers (mainenv) that need to run several
// operations (insert, delete, update) before a single Commit, per the
// "SchemaMismatch and PrimaryKeyExists are reported without aborting;
// the transaction remains usable for further operations before commit"
// contract. Environment.Update is for the simpler one-shot case.
func (e *Environment) BeginRw() (*RwTxn, error) {
	tx, err := e.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("store: begin rw txn: %w", err)
	}
	return &RwTxn{tx: tx}, nil
}

// BeginRo opens a read-only transaction whose lifetime the caller
// controls directly.
func (e *Environment) BeginRo() (*RoTxn, error) {
	tx, err := e.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("store: begin ro txn: %w", err)
	}
	return &RoTxn{tx: tx}, nil
}

// MaxMapSize returns the configured map-size ceiling (0 means
// unbounded).
func (e *Environment) MaxMapSize() int64 { return e.opts.MaxMapSize }

// Package ridgetype holds the shared data model for the cache: field
// types, schemas, records, operation ids and the closed error taxonomy.
// It has no dependency on storage, indexing or query machinery so that
// every other package can depend on it without import cycles.
package ridgetype

import "errors"

// Sentinel errors returned by the cache. Callers should use errors.Is to
// classify a failure rather than matching on error strings.
var (
	// ErrSchemaMismatch means a record's shape or field types do not
	// match the stored schema. Not retriable without changing the record.
	ErrSchemaMismatch = errors.New("ridge: schema mismatch")

	// ErrPrimaryKeyExists means an insert collided with an existing
	// primary key. Not retriable until the conflicting row is updated or
	// deleted.
	ErrPrimaryKeyExists = errors.New("ridge: primary key exists")

	// ErrNotFound means a primary key or record id could not be resolved.
	ErrNotFound = errors.New("ridge: not found")

	// ErrInvalidQuery means a filter expression was malformed, used a
	// type-incompatible literal, or used an operator no available index
	// supports.
	ErrInvalidQuery = errors.New("ridge: invalid query")

	// ErrMatchingIndexNotFound means the planner could not satisfy a
	// query with the indexes currently defined on the schema.
	ErrMatchingIndexNotFound = errors.New("ridge: no matching index")

	// ErrRangeQueryLimit means more than one field in a query carried a
	// range operator or unresolved sort order.
	ErrRangeQueryLimit = errors.New("ridge: at most one range field allowed")

	// ErrMapFull means the storage environment's configured map size is
	// exhausted. The active write transaction is aborted; retry after
	// raising the environment's MaxMapSize.
	ErrMapFull = errors.New("ridge: map full")

	// ErrIO wraps an underlying storage I/O failure.
	ErrIO = errors.New("ridge: io error")

	// ErrCancelled means a cooperative cancellation token fired during a
	// long-running query or indexing pass.
	ErrCancelled = errors.New("ridge: cancelled")

	// ErrKeyExists is returned by the storage layer's NoOverwrite put
	// when the key is already present.
	ErrKeyExists = errors.New("ridge: key exists")

	// ErrBucketNotFound is returned when a named database/bucket has not
	// been created inside an environment.
	ErrBucketNotFound = errors.New("ridge: bucket not found")
)

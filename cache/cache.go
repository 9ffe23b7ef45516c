// Package cache is the public API tying the storage, indexing and query
// layers together: RoCache/RwCache capability interfaces and a Manager
// registry of named caches.
package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/ridgecache/ridge/indexer"
	"github.com/ridgecache/ridge/mainenv"
	"github.com/ridgecache/ridge/query"
	"github.com/ridgecache/ridge/ridgeconfig"
	"github.com/ridgecache/ridge/ridgetype"
	"github.com/ridgecache/ridge/secondary"
	"github.com/ridgecache/ridge/store"
)

// RoCache is the read-only capability set handed to callers that never
// write: the gRPC/REST serving layer and other external collaborators
// this module doesn't implement.
type RoCache interface {
	Name() string
	Get(pk []byte) (ridgetype.RecordWithID, error)
	Count(ctx context.Context, q query.Expression) (int, error)
	Query(ctx context.Context, q query.Expression) ([]ridgetype.RecordWithID, error)
	Schema() ridgetype.SchemaWithIndexes
	Stats() Stats
}

// Stats is a snapshot of operational counters for one open cache,
// surfaced for operator tooling (ridgectl's stat subcommand) rather
// than for query-path decisions.
type Stats struct {
	CommitHead     uint64
	NumSecondaries int
	MaxMapSize     int64
}

// RwCache embeds RoCache plus the mutating operations. A cache opened
// OpenRw is the single writer permitted against its main environment at
// a time.
type RwCache interface {
	RoCache
	Insert(r ridgetype.Record) (ridgetype.RecordID, error)
	Update(pk []byte, r ridgetype.Record) (version uint64, err error)
	Delete(pk []byte) (version uint64, err error)
	Commit(epoch string) error
}

// handle is the concrete type backing both RoCache and RwCache; it is
// never exported, so callers only ever hold the capability interface
// they opened with.
type handle struct {
	name    string
	cfg     ridgeconfig.CacheConfig
	main    *mainenv.Environment
	secs    []*secondary.Environment
	schema  ridgetype.Schema
	indexes []ridgetype.IndexDefinition
	pool    *indexer.Pool

	writeMu sync.Mutex // serializes Insert/Update/Delete/Commit against the single rw handle
	rw      *mainenv.RwMainEnvironment
}

func (h *handle) Name() string { return h.name }

func (h *handle) Schema() ridgetype.SchemaWithIndexes {
	return ridgetype.SchemaWithIndexes{Schema: h.schema, Indexes: h.indexes}
}

func (h *handle) Stats() Stats {
	return Stats{
		CommitHead:     h.main.CommitHead(),
		NumSecondaries: len(h.secs),
		MaxMapSize:     h.main.MaxMapSize(),
	}
}

func (h *handle) secondaryLookup() query.SecondaryLookup {
	return func(pos int) (*secondary.Environment, error) {
		if pos < 0 || pos >= len(h.secs) {
			return nil, fmt.Errorf("cache: index position %d out of range", pos)
		}
		return h.secs[pos], nil
	}
}

func (h *handle) Get(pk []byte) (ridgetype.RecordWithID, error) {
	ro, err := h.main.BeginRo()
	if err != nil {
		return ridgetype.RecordWithID{}, err
	}
	defer ro.Close()

	id, version, rec, err := ro.Get(pk)
	if err != nil {
		return ridgetype.RecordWithID{}, err
	}
	return ridgetype.RecordWithID{ID: id, Version: version, Record: rec}, nil
}

func (h *handle) newExecutor(ro *mainenv.RoMainEnvironment) *query.Executor {
	return query.NewExecutor(ro, h.secondaryLookup(), h.cfg.IntersectionChunkSize)
}

func (h *handle) Query(ctx context.Context, q query.Expression) ([]ridgetype.RecordWithID, error) {
	ro, err := h.main.BeginRo()
	if err != nil {
		return nil, err
	}
	defer ro.Close()

	plan, err := query.NewPlanner(h.schema).Plan(withAccess(q))
	if err != nil {
		return nil, err
	}
	return h.newExecutor(ro).Run(ctx, plan)
}

func (h *handle) Count(ctx context.Context, q query.Expression) (int, error) {
	ro, err := h.main.BeginRo()
	if err != nil {
		return 0, err
	}
	defer ro.Close()
	return h.newExecutor(ro).Count(ctx, withAccess(q))
}

// withAccess folds an Expression's Access overlay into its Filter as an
// additional conjunct, so row-level authorization narrows whatever the
// user filter matched.
func withAccess(q query.Expression) query.Expression {
	if q.Access == nil {
		return q
	}
	if q.Filter == nil {
		q.Filter = q.Access
		return q
	}
	q.Filter = query.And{Exprs: []query.FilterExpression{q.Filter, q.Access}}
	return q
}

func (h *handle) Insert(r ridgetype.Record) (ridgetype.RecordID, error) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := h.ensureRw(); err != nil {
		return 0, err
	}
	return h.rw.Insert(r)
}

func (h *handle) Update(pk []byte, r ridgetype.Record) (uint64, error) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := h.ensureRw(); err != nil {
		return 0, err
	}
	_, version, err := h.rw.Update(pk, r)
	return version, err
}

func (h *handle) Delete(pk []byte) (uint64, error) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := h.ensureRw(); err != nil {
		return 0, err
	}
	return h.rw.Delete(pk)
}

// Commit finalizes the in-flight write transaction started by the first
// Insert/Update/Delete since the last Commit, then wakes the indexing
// pool for this cache so its secondaries start catching up.
func (h *handle) Commit(epoch string) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.rw == nil {
		return nil
	}
	if epoch == "" {
		epoch = uuid.NewString()
	}
	err := h.rw.Commit(epoch)
	h.rw = nil
	if err != nil {
		return err
	}
	if h.pool != nil {
		h.pool.Wake(h.name)
	}
	return nil
}

func (h *handle) ensureRw() error {
	if h.rw != nil {
		return nil
	}
	rw, err := h.main.BeginRw(h.schema, h.indexes)
	if err != nil {
		return err
	}
	h.rw = rw
	return nil
}

// close releases every open environment this handle owns.
func (h *handle) close() error {
	var firstErr error
	for _, s := range h.secs {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := h.main.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Manager opens, tracks and closes named caches. A zero Manager is not
// usable; construct with NewManager.
type Manager struct {
	baseDir string
	pool    *indexer.Pool
	ownPool bool

	mu     sync.RWMutex
	caches map[string]*handle
}

// ManagerOption configures a Manager at construction time.
type ManagerOption func(*Manager)

// WithPool attaches an existing indexer.Pool instead of the Manager
// constructing and owning its own, for embedders that share one
// process-wide pool across managers and for tests that construct their
// own per test.
func WithPool(pool *indexer.Pool) ManagerOption {
	return func(m *Manager) { m.pool = pool }
}

// NewManager constructs a Manager rooted at baseDir; each cache lives
// under baseDir/<name>/. Without WithPool, the Manager constructs and
// owns its own indexer.Pool, stopped by Close.
func NewManager(baseDir string, opts ...ManagerOption) *Manager {
	m := &Manager{baseDir: baseDir, caches: make(map[string]*handle)}
	for _, o := range opts {
		o(m)
	}
	if m.pool == nil {
		m.pool = indexer.NewPool(0)
		m.ownPool = true
	}
	return m
}

// List returns the names of every cache currently open through this
// Manager.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.caches))
	for name := range m.caches {
		names = append(names, name)
	}
	return names
}

// Wake enqueues catch-up work for every secondary belonging to the named
// cache that isn't already queued or running. Opening a cache via
// OpenRo never implicitly wakes its secondaries (only a successful
// RwCache.Commit does), so a standalone reader process (ridgectl's
// catchup subcommand in particular) calls this explicitly to force a
// pass after reattaching to an already-committed cache.
func (m *Manager) Wake(name string) {
	m.pool.Wake(name)
}

// WaitUntilCatchup blocks until every secondary registered with this
// Manager's pool has applied its backlog up to the commit_head observed
// at call time. Intended for tests and shutdown only.
func (m *Manager) WaitUntilCatchup(ctx context.Context) error {
	return m.pool.WaitUntilCatchup(ctx)
}

// Close closes every cache this Manager opened and, if it owns its
// indexer.Pool, stops it.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for name, h := range m.caches {
		if err := h.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.caches, name)
	}
	if m.ownPool {
		m.pool.Stop()
	}
	return firstErr
}

func (m *Manager) cachePath(name string) string {
	return filepath.Join(m.baseDir, name)
}

// OpenRw opens or creates the named cache for read-write access, the
// one logical writer permitted per main environment. schema and indexes
// are required on first creation; on reopen, a non-empty schema must
// equal the one already stored, surfacing ridgetype.ErrSchemaMismatch
// otherwise. Passing an empty schema on reopen loads whatever is
// already stored.
func (m *Manager) OpenRw(name string, schema ridgetype.Schema, indexes []ridgetype.IndexDefinition, cfg ridgeconfig.CacheConfig) (RwCache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.caches[name]; exists {
		return nil, fmt.Errorf("cache: %q is already open", name)
	}

	h, err := m.open(name, schema, indexes, cfg)
	if err != nil {
		return nil, err
	}
	m.caches[name] = h
	return h, nil
}

// OpenRo opens the named cache for read-only access. The cache must
// already exist (have been created via OpenRw at some point, possibly
// in a prior process).
func (m *Manager) OpenRo(name string) (RoCache, error) {
	m.mu.RLock()
	if h, ok := m.caches[name]; ok {
		m.mu.RUnlock()
		return h, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.caches[name]; ok {
		return h, nil
	}
	h, err := m.open(name, ridgetype.Schema{}, nil, ridgeconfig.DefaultCacheConfig())
	if err != nil {
		return nil, err
	}
	m.caches[name] = h
	return h, nil
}

func (m *Manager) open(name string, schema ridgetype.Schema, indexes []ridgetype.IndexDefinition, cfg ridgeconfig.CacheConfig) (*handle, error) {
	base := m.cachePath(name)
	opts := store.Options{MaxMapSize: int64(cfg.MaxMapSize)}

	main, err := mainenv.Open(filepath.Join(base, "main"), opts)
	if err != nil {
		return nil, err
	}
	storedSchema, storedIndexes, err := main.EnsureSchema(schema, indexes)
	if err != nil {
		_ = main.Close()
		return nil, err
	}

	secs := make([]*secondary.Environment, len(storedIndexes))
	for i, def := range storedIndexes {
		secPath := filepath.Join(base, fmt.Sprintf("secondary_%d", i))
		sec, err := secondary.Open(secPath, opts)
		if err != nil {
			_ = main.Close()
			for _, s := range secs[:i] {
				_ = s.Close()
			}
			return nil, err
		}
		if _, err := sec.EnsureDefinition(def); err != nil {
			_ = sec.Close()
			_ = main.Close()
			for _, s := range secs[:i] {
				_ = s.Close()
			}
			return nil, err
		}
		secs[i] = sec
	}

	h := &handle{
		name:    name,
		cfg:     cfg,
		main:    main,
		secs:    secs,
		schema:  storedSchema,
		indexes: storedIndexes,
		pool:    m.pool,
	}
	for i, sec := range secs {
		m.pool.Register(name, fmt.Sprintf("secondary_%d", i), main, sec)
	}
	return h, nil
}

// Package indexer implements the asynchronous indexing pool: a bounded
// set of worker goroutines that advances each secondary environment
// from its last-applied operation id up to the main environment's
// commit head without blocking the writer.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ridgecache/ridge/mainenv"
	"github.com/ridgecache/ridge/ridgeconfig"
	"github.com/ridgecache/ridge/ridgelog"
	"github.com/ridgecache/ridge/ridgetype"
	"github.com/ridgecache/ridge/secondary"
)

// slotKey names one (cache, secondary) pair registered with the pool.
type slotKey struct {
	cache     string
	secondary string
}

type slot struct {
	mu      sync.Mutex
	queued  bool
	running bool

	cacheName string
	secName   string
	main      *mainenv.Environment
	sec       *secondary.Environment

	lastMapFullLog time.Time
}

// Pool is a fixed-size goroutine worker pool draining task slots as
// they're woken. One shared queue is enough because every secondary is
// a homogeneous catch-up task.
type Pool struct {
	log *logrus.Logger

	tasks    chan slotKey
	stopChan chan struct{}
	stopCtx  context.Context
	stopFn   context.CancelFunc
	wg       sync.WaitGroup

	slotsMu sync.RWMutex
	slots   map[slotKey]*slot

	completionMu sync.Mutex
	completion   *sync.Cond
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithLogger overrides the pool's logger; without it the pool logs to
// ridgelog.Logger.
func WithLogger(log *logrus.Logger) Option {
	return func(p *Pool) { p.log = log }
}

// NewPool constructs a pool with the given number of worker goroutines.
// A workers value <= 0 defaults to runtime.GOMAXPROCS(0).
func NewPool(workers int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	stopCtx, stopFn := context.WithCancel(context.Background())
	p := &Pool{
		log:      ridgelog.Logger,
		tasks:    make(chan slotKey, 1024),
		stopChan: make(chan struct{}),
		stopCtx:  stopCtx,
		stopFn:   stopFn,
		slots:    make(map[slotKey]*slot),
	}
	p.completion = sync.NewCond(&p.completionMu)
	for _, o := range opts {
		o(p)
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.runWorker(i)
	}
	return p
}

// Stop signals every worker goroutine to exit and waits for them to
// drain. Work in flight is cancelled (its Apply batch is rolled back);
// queued-but-not-started work is not run.
func (p *Pool) Stop() {
	close(p.stopChan)
	p.stopFn()
	p.wg.Wait()
}

// Register adds one task slot for a secondary index belonging to a
// cache. Calling Register again for the same (cacheName, secondaryName)
// replaces the slot's environments.
func (p *Pool) Register(cacheName, secondaryName string, main *mainenv.Environment, sec *secondary.Environment) {
	key := slotKey{cache: cacheName, secondary: secondaryName}
	p.slotsMu.Lock()
	defer p.slotsMu.Unlock()
	p.slots[key] = &slot{cacheName: cacheName, secName: secondaryName, main: main, sec: sec}
}

// Unregister removes a slot, e.g. when a cache is closed.
func (p *Pool) Unregister(cacheName, secondaryName string) {
	key := slotKey{cache: cacheName, secondary: secondaryName}
	p.slotsMu.Lock()
	delete(p.slots, key)
	p.slotsMu.Unlock()
}

// Wake enqueues every not-already-queued-or-running slot belonging to
// cacheName. Called by mainenv callers after a successful commit.
func (p *Pool) Wake(cacheName string) {
	p.slotsMu.RLock()
	defer p.slotsMu.RUnlock()
	for key, s := range p.slots {
		if key.cache != cacheName {
			continue
		}
		s.mu.Lock()
		if !s.queued && !s.running {
			s.queued = true
			select {
			case p.tasks <- key:
			default:
				// Task channel full: drop queued flag so a later Wake
				// retries; the channel only backs up under extreme
				// fan-out, and a dropped wake is harmless since the next
				// commit calls Wake again.
				s.queued = false
			}
		}
		s.mu.Unlock()
	}
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			return
		case key := <-p.tasks:
			p.process(key)
		}
	}
}

func (p *Pool) process(key slotKey) {
	p.slotsMu.RLock()
	s, ok := p.slots[key]
	p.slotsMu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.queued = false
	s.running = true
	s.mu.Unlock()

	err := p.catchUp(s)
	if err != nil {
		switch {
		case isMapFull(err):
			p.logMapFullRateLimited(s)
		case errors.Is(err, ridgetype.ErrCancelled):
			// Stop was called mid-batch; the slot resumes from wherever
			// Apply got to on the next Wake after restart.
		default:
			p.log.WithFields(logrus.Fields{"cache": key.cache, "secondary": key.secondary}).
				WithError(err).Error("indexer: catch-up failed")
		}
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	// A Wake that arrived while this task was running was a no-op (the
	// slot was already busy), so the completion check re-enqueues the
	// slot itself whenever the head moved past what this pass applied.
	// Map-full slots stay parked until an operator grows the map and
	// calls Wake again.
	if err == nil {
		p.requeueIfBehind(key, s)
	}

	p.completionMu.Lock()
	p.completion.Broadcast()
	p.completionMu.Unlock()
}

func (p *Pool) requeueIfBehind(key slotKey, s *slot) {
	next, err := s.sec.NextOperationID()
	if err != nil {
		return
	}
	head := s.main.CommitHead()
	if head == 0 || uint64(next) > head {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queued || s.running {
		return
	}
	s.queued = true
	select {
	case p.tasks <- key:
	default:
		s.queued = false
	}
}

func (p *Pool) catchUp(s *slot) error {
	ro, err := s.main.BeginRo()
	if err != nil {
		return fmt.Errorf("indexer: open snapshot: %w", err)
	}
	defer ro.Close()

	return s.sec.Apply(p.stopCtx, ro, ridgetype.OperationID(ro.CommitHead()))
}

func isMapFull(err error) bool {
	return errors.Is(err, ridgetype.ErrMapFull)
}

func (p *Pool) logMapFullRateLimited(s *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastMapFullLog) < time.Minute {
		return
	}
	s.lastMapFullLog = time.Now()
	p.log.WithFields(logrus.Fields{
		"cache":        s.cacheName,
		"secondary":    s.secName,
		"max_map_size": ridgeconfig.FormatMapSize(uint64(s.sec.MaxMapSize())),
	}).Error("indexer: secondary map full, indexing stalled until map size is increased and Wake is called again")
}

// WaitUntilCatchup blocks until every registered slot has applied its
// secondary up to the commit_head observed at call time, or ctx is
// done. Intended for tests and shutdown only.
func (p *Pool) WaitUntilCatchup(ctx context.Context) error {
	type target struct {
		s    *slot
		head ridgetype.OperationID
	}

	p.slotsMu.RLock()
	targets := make([]target, 0, len(p.slots))
	for _, s := range p.slots {
		targets = append(targets, target{s: s, head: ridgetype.OperationID(s.main.CommitHead())})
	}
	p.slotsMu.RUnlock()

	for {
		allCaught := true
		for _, t := range targets {
			next, err := t.s.sec.NextOperationID()
			if err != nil {
				return err
			}
			t.s.mu.Lock()
			busy := t.s.running || t.s.queued
			t.s.mu.Unlock()
			if busy || (t.head > 0 && next <= t.head) {
				allCaught = false
				break
			}
		}
		if allCaught {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

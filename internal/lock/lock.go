// Package lock provides the per-bundle exclusive section.
//
// Exactly one apply or rollback may run against a bundle directory at a
// time, and reloads must not observe an apply's write-through. The gate
// is keyed by the resolved bundle path so two handles opened through
// different spellings of the same directory share it.
package lock

import (
	"context"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// exclusive is the weight of a writer's hold: the whole semaphore.
const exclusive = 1 << 30

// Gate guards one bundle directory. Writers hold it exclusively; readers
// that touch disk hold it shared. Waiters are served in arrival order, so
// a queued writer is not starved by a stream of readers.
type Gate struct {
	path string
	sem  *semaphore.Weighted
}

func newGate(path string) *Gate {
	return &Gate{path: path, sem: semaphore.NewWeighted(exclusive)}
}

// Path returns the resolved bundle path the gate guards.
func (g *Gate) Path() string { return g.path }

// Lock acquires the gate exclusively, or returns ctx's error once ctx is
// done. A failed Lock holds nothing.
func (g *Gate) Lock(ctx context.Context) error { return g.sem.Acquire(ctx, exclusive) }

// Unlock releases an exclusive hold.
func (g *Gate) Unlock() { g.sem.Release(exclusive) }

// RLock acquires the gate shared, or returns ctx's error once ctx is done.
func (g *Gate) RLock(ctx context.Context) error { return g.sem.Acquire(ctx, 1) }

// RUnlock releases a shared hold.
func (g *Gate) RUnlock() { g.sem.Release(1) }

// Registry maps resolved bundle paths to gates.
type Registry struct {
	mu    sync.Mutex
	gates map[string]*Gate
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{gates: make(map[string]*Gate)}
}

// For returns the gate for path, creating it on first use.
func (r *Registry) For(path string) *Gate {
	key := Resolve(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gates[key]
	if !ok {
		g = newGate(key)
		r.gates[key] = g
	}
	return g
}

// Resolve returns the absolute, symlink-evaluated form of path. When the
// path cannot be evaluated the cleaned absolute path is used.
func Resolve(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

var defaultRegistry = NewRegistry()

// For returns the process-wide gate for path.
func For(path string) *Gate {
	return defaultRegistry.For(path)
}

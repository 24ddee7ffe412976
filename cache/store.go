// Package cache stores analyzed artifacts keyed by (path, fingerprint)
// with dependency-aware invalidation and LRU eviction. A hit requires
// the exact fingerprint the artifact was built from; a mismatch is a
// forced miss, never a stale hit. Mutation (Put/Invalidate) is
// serialized through one mutex, matching the engine's single-writer
// discipline; lookups are safe under concurrent readers.
package cache

import (
	"container/list"
	"sync"

	"go.uber.org/zap"

	"github.com/kilnlsp/kiln"
)

// invalidateDepthLimit bounds the BFS over dependents so a cyclic graph
// terminates. Cycles are tolerated, not rejected.
const invalidateDepthLimit = 64

// Stats reports store behavior counters.
type Stats struct {
	Size      int   `json:"size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

type entry struct {
	path     string
	fp       kiln.Fingerprint
	artifact any
	deps     []string
	elem     *list.Element // position in the recency list
}

// Store is the artifact cache.
type Store struct {
	logger *zap.Logger
	budget int

	mu      sync.RWMutex
	entries map[string]*entry            // (path, fingerprint) -> entry
	byPath  map[string]map[kiln.Fingerprint]*entry
	lru     *list.List // front = most recently used

	// Bidirectional dependency edges, reflecting the most recently
	// cached artifact per path.
	deps       map[string]map[string]struct{}
	dependents map[string]map[string]struct{}

	hits      int64
	misses    int64
	evictions int64
}

// New creates a store with the given entry budget.
func New(budget int, logger *zap.Logger) *Store {
	if budget <= 0 {
		budget = kiln.DefaultMaxEntries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		logger:     logger,
		budget:     budget,
		entries:    make(map[string]*entry),
		byPath:     make(map[string]map[kiln.Fingerprint]*entry),
		lru:        list.New(),
		deps:       make(map[string]map[string]struct{}),
		dependents: make(map[string]map[string]struct{}),
	}
}

func key(path string, fp kiln.Fingerprint) string {
	return path + "\x00" + string(fp)
}

// Get returns the artifact cached for the exact (path, fingerprint)
// pair, if any.
func (s *Store) Get(path string, fp kiln.Fingerprint) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key(path, fp)]
	if !ok {
		s.misses++

		return nil, false
	}

	s.hits++
	s.lru.MoveToFront(e.elem)

	return e.artifact, true
}

// Put stores an artifact under (path, fingerprint) and registers its
// dependency edges. Edges are installed before the artifact becomes
// visible so a concurrent invalidation of any dependency reaches it.
// Older fingerprints for the same path stay orphaned until evicted.
func (s *Store) Put(path string, fp kiln.Fingerprint, artifact any, deps []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setDepsLocked(path, deps)

	k := key(path, fp)
	if old, ok := s.entries[k]; ok {
		old.artifact = artifact
		old.deps = deps
		s.lru.MoveToFront(old.elem)

		return
	}

	e := &entry{path: path, fp: fp, artifact: artifact, deps: deps}
	e.elem = s.lru.PushFront(e)
	s.entries[k] = e

	fps := s.byPath[path]
	if fps == nil {
		fps = make(map[kiln.Fingerprint]*entry)
		s.byPath[path] = fps
	}
	fps[fp] = e

	for s.lru.Len() > s.budget {
		s.evictOldestLocked()
	}
}

// Invalidate removes every entry cached for path. With transitive set,
// it walks dependents breadth-first and removes their entries too.
// Invalidation is local: paths not reachable via dependency edges stay
// cached. Returns the number of entries removed.
func (s *Store) Invalidate(path string, transitive bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.removePathLocked(path)
	if !transitive {
		return removed
	}

	visited := map[string]struct{}{path: {}}
	frontier := []string{path}

	for depth := 0; depth < invalidateDepthLimit && len(frontier) > 0; depth++ {
		var next []string
		for _, p := range frontier {
			for dep := range s.dependents[p] {
				if _, seen := visited[dep]; seen {
					continue
				}
				visited[dep] = struct{}{}
				removed += s.removePathLocked(dep)
				next = append(next, dep)
			}
		}
		frontier = next
	}

	if removed > 0 {
		s.logger.Debug("cache invalidated",
			zap.String("path", path),
			zap.Bool("transitive", transitive),
			zap.Int("removed", removed))
	}

	return removed
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Size:      len(s.entries),
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
	}
}

// Dependencies returns the registered dependency set for path, for
// introspection and tests.
func (s *Store) Dependencies(path string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.deps[path]))
	for d := range s.deps[path] {
		out = append(out, d)
	}

	return out
}

// setDepsLocked replaces path's outgoing edges and maintains the
// reverse index.
func (s *Store) setDepsLocked(path string, deps []string) {
	for old := range s.deps[path] {
		delete(s.dependents[old], path)
		if len(s.dependents[old]) == 0 {
			delete(s.dependents, old)
		}
	}
	delete(s.deps, path)

	if len(deps) == 0 {
		return
	}

	set := make(map[string]struct{}, len(deps))
	for _, d := range deps {
		if d == path {
			continue
		}
		set[d] = struct{}{}

		rev := s.dependents[d]
		if rev == nil {
			rev = make(map[string]struct{})
			s.dependents[d] = rev
		}
		rev[path] = struct{}{}
	}
	s.deps[path] = set
}

// removePathLocked drops every fingerprint entry for path along with
// its outgoing edges.
func (s *Store) removePathLocked(path string) int {
	fps := s.byPath[path]
	if len(fps) == 0 {
		return 0
	}

	n := 0
	for fp, e := range fps {
		delete(s.entries, key(path, fp))
		s.lru.Remove(e.elem)
		n++
	}
	delete(s.byPath, path)
	s.setDepsLocked(path, nil)

	return n
}

// evictOldestLocked removes the least-recently-used entry.
func (s *Store) evictOldestLocked() {
	back := s.lru.Back()
	if back == nil {
		return
	}

	e := back.Value.(*entry)
	s.lru.Remove(back)
	delete(s.entries, key(e.path, e.fp))

	fps := s.byPath[e.path]
	delete(fps, e.fp)
	if len(fps) == 0 {
		delete(s.byPath, e.path)
		s.setDepsLocked(e.path, nil)
	}

	s.evictions++
}

// Package handle implements the per-path open-handle bookkeeping: the
// readonly/writable multisets that enforce POSIX-like exclusion on top of
// the remote's whole-object semantics, and the staged local files that
// back each open handle.
package handle

import "sync"

// PathMultiset is an unordered multiset of path strings: the same path may be
// present more than once (concurrent readers), and Remove drops exactly one
// occurrence. Grounded on the teacher's in-memory bookkeeping style (a plain
// map guarded by its own mutex) rather than a linear scan, since fan-out
// here can be in the thousands of concurrently open files.
type PathMultiset struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewPathMultiset returns an empty multiset.
func NewPathMultiset() *PathMultiset {
	return &PathMultiset{counts: make(map[string]int)}
}

// Add records one more occurrence of path.
func (s *PathMultiset) Add(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[path]++
}

// Remove drops one occurrence of path. It reports false if path had no
// occurrences to remove, which the caller treats as a fatal invariant
// violation (a release with no matching open).
func (s *PathMultiset) Remove(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.counts[path]
	if !ok || n == 0 {
		return false
	}
	if n == 1 {
		delete(s.counts, path)
	} else {
		s.counts[path] = n - 1
	}
	return true
}

// Count returns how many occurrences of path are currently recorded.
func (s *PathMultiset) Count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[path]
}

// Contains reports whether path has at least one occurrence.
func (s *PathMultiset) Contains(path string) bool {
	return s.Count(path) > 0
}

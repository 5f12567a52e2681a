// Package dedup reconciles the input URL list against durable output so a
// resumed run never re-enqueues a URL that already has a record.
package dedup

import "sync"

// Set is the in-memory record of URLs that already have, or are about to
// get, a durable result. It is loaded once per run and never re-read from
// storage mid-run.
type Set struct {
	mu     sync.Mutex
	done   map[string]struct{}
	queued map[string]struct{}
}

// NewSet builds a Set seeded with the URLs already in durable output. The map
// is copied.
func NewSet(done map[string]struct{}) *Set {
	s := &Set{
		done:   make(map[string]struct{}, len(done)),
		queued: make(map[string]struct{}),
	}
	for u := range done {
		s.done[u] = struct{}{}
	}
	return s
}

// Len returns the number of URLs seeded from durable output.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.done)
}

// Filter returns the candidates that are neither done nor already queued,
// preserving input order, and marks them queued. done counts candidates
// found in durable output; duplicates counts repeats of a queued URL.
func (s *Set) Filter(candidates []string) (fresh []string, done, duplicates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh = make([]string, 0, len(candidates))
	for _, u := range candidates {
		if _, ok := s.done[u]; ok {
			done++
			continue
		}
		if _, ok := s.queued[u]; ok {
			duplicates++
			continue
		}
		s.queued[u] = struct{}{}
		fresh = append(fresh, u)
	}
	return fresh, done, duplicates
}

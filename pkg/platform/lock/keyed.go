// Package lock provides a keyed mutex for per-aggregate serialization.
package lock

import "sync"

// Keyed hands out one mutex per key. It serializes the check lifecycle per
// identity: Attach, Generate and Evaluate must not interleave for the same
// identity, including the outbound API calls they make while holding the
// lock. Entries are reference counted and dropped once the last holder
// releases, so the map does not grow with the identity population.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[string]*entry)}
}

// Acquire blocks until the lock for key is held and returns the release
// function. Callers must release exactly once, typically via defer.
func (k *Keyed) Acquire(key string) (release func()) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.entries, key)
			}
			k.mu.Unlock()
		})
	}
}

// Package flow holds the per-thread flags woven code uses to suppress
// nested advice.
package flow

// Store is a thread-scoped flag store. A store belongs to exactly one
// executing thread and is never shared, so implementations need no locking.
type Store interface {
	Get(key string) bool
	Set(key string, v bool)
}

// MapStore is a Store backed by a map. The zero value is ready to use.
type MapStore struct {
	flags map[string]bool
}

// NewStore creates an empty store.
func NewStore() *MapStore {
	return &MapStore{}
}

// Get returns the flag, false when it was never set.
func (s *MapStore) Get(key string) bool {
	return s.flags[key]
}

// Set records the flag. Clearing a flag removes it.
func (s *MapStore) Set(key string, v bool) {
	if !v {
		delete(s.flags, key)
		return
	}
	if s.flags == nil {
		s.flags = make(map[string]bool)
	}
	s.flags[key] = true
}

// Active returns the number of flags currently set.
func (s *MapStore) Active() int {
	return len(s.flags)
}

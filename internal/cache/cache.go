package cache

import (
	"sync/atomic"
	"time"
)

// Snapshot is a lock-free, read-optimized container
// holding any immutable structure.
type Snapshot[T any] struct{ v atomic.Pointer[entry[T]] }

type entry[T any] struct {
	val      T
	storedAt time.Time
}

// Load returns the stored value. ok is false if nothing was stored yet.
func (s *Snapshot[T]) Load() (val T, ok bool) {
	e := s.v.Load()
	if e == nil {
		return val, false
	}
	return e.val, true
}

// Age reports how long ago the current value was stored.
func (s *Snapshot[T]) Age(now time.Time) (time.Duration, bool) {
	e := s.v.Load()
	if e == nil {
		return 0, false
	}
	return now.Sub(e.storedAt), true
}

// Store atomically swaps in the new value.
func (s *Snapshot[T]) Store(v T) {
	s.v.Store(&entry[T]{val: v, storedAt: time.Now()})
}

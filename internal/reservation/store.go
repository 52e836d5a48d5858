package reservation

import "sync/atomic"

// Store holds the single published Index snapshot, read lock-free by the
// v4 and v6 handler tasks and swapped atomically by the management/reload
// task, per spec.md §5.  The zero Store is not usable; use [NewStore].
type Store struct {
	current atomic.Pointer[Index]
}

// NewStore returns a Store published with the given initial index.
func NewStore(idx *Index) *Store {
	s := &Store{}
	s.current.Store(idx)

	return s
}

// Load returns the currently published snapshot.  The returned *Index is
// immutable and safe to use for any number of lookups even while a
// concurrent [Store.Swap] is in progress: callers that already hold a
// pointer always see either the whole old index or the whole new one,
// never a partial build.
func (s *Store) Load() *Index {
	return s.current.Load()
}

// Swap atomically publishes idx as the current snapshot and returns the
// one it replaced.
func (s *Store) Swap(idx *Index) (previous *Index) {
	return s.current.Swap(idx)
}

package dedup

// SeenSet is an append-only set of object identifiers bounded at a fixed
// capacity. Once full, inserts are refused: nothing is evicted and the set
// never grows past its capacity.
//
// SeenSet is not safe for concurrent use; Counter guards it with its lock.
type SeenSet struct {
	ids      map[uint64]struct{}
	capacity int
}

// NewSeenSet creates an empty set holding at most capacity identifiers.
func NewSeenSet(capacity int) *SeenSet {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SeenSet{
		ids:      make(map[uint64]struct{}),
		capacity: capacity,
	}
}

// Contains reports whether id has been stored.
func (s *SeenSet) Contains(id uint64) bool {
	_, ok := s.ids[id]
	return ok
}

// Insert stores id and reports whether it was stored.
// Returns false when the set is full and id is not already present.
func (s *SeenSet) Insert(id uint64) bool {
	if _, ok := s.ids[id]; ok {
		return true
	}
	if len(s.ids) >= s.capacity {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Len returns the number of stored identifiers.
func (s *SeenSet) Len() int {
	return len(s.ids)
}

// Cap returns the maximum number of identifiers the set can hold.
func (s *SeenSet) Cap() int {
	return s.capacity
}

// Full reports whether no further identifier can be stored.
func (s *SeenSet) Full() bool {
	return len(s.ids) >= s.capacity
}

// Clear removes every identifier, keeping the capacity.
func (s *SeenSet) Clear() {
	clear(s.ids)
}

// Package ring provides the capped, oldest-evicted history used for incident,
// protest, decision and radio logs.
package ring

// Buffer keeps at most limit items in arrival order. When full, pushing a new
// item evicts the oldest one.
//
// Thread-safety: NOT thread-safe. Owned by a single engine instance.
type Buffer[T any] struct {
	items []T
	limit int
}

// New creates a Buffer holding at most limit items. A non-positive limit is
// treated as 1 so the most recent entry is always retained.
func New[T any](limit int) *Buffer[T] {
	if limit <= 0 {
		limit = 1
	}
	return &Buffer[T]{
		items: make([]T, 0, min(limit, 64)),
		limit: limit,
	}
}

// Push appends item, evicting the oldest entry when the buffer is full.
func (b *Buffer[T]) Push(item T) {
	if len(b.items) == b.limit {
		copy(b.items, b.items[1:])
		b.items[len(b.items)-1] = item
		return
	}
	b.items = append(b.items, item)
}

// Len returns the number of retained items.
func (b *Buffer[T]) Len() int {
	return len(b.items)
}

// Recent returns a copy of the newest n items, oldest first.
// n <= 0 or n larger than Len returns everything retained.
func (b *Buffer[T]) Recent(n int) []T {
	if n <= 0 || n > len(b.items) {
		n = len(b.items)
	}
	out := make([]T, n)
	copy(out, b.items[len(b.items)-n:])
	return out
}

// Update applies fn to every retained item until fn returns true.
// Used to flip status fields (resolved, upheld) on an existing entry.
func (b *Buffer[T]) Update(fn func(*T) bool) bool {
	for i := range b.items {
		if fn(&b.items[i]) {
			return true
		}
	}
	return false
}

// Package resource implements the per-instance resource-handle table
// described in spec.md §4.8: a dense, integer-keyed arena that lets
// guest code hold an opaque handle to a host-owned object (a database
// client, a prepared query, a transaction) without ever seeing a
// pointer. No generation counters are needed — each Worker instance
// gets its own Table, so a handle from one instance can never collide
// with or be confused for a handle from another.
package resource

import "sync"

// Table is a generic resource-handle arena. The zero value is ready
// to use. A Table must not be shared between guest instances.
type Table[T any] struct {
	mu    sync.Mutex
	slots []*T
	free  []int
}

// Insert stores v and returns the handle the guest will see.
func (t *Table[T]) Insert(v T) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[idx] = &v
		return idx
	}

	t.slots = append(t.slots, &v)
	return len(t.slots) - 1
}

// Get returns the object at handle, or ok=false if the handle is out
// of range or has been dropped. A forged handle (out of range) is a
// bridge-level host bug per spec.md §4.5's "handle lookup miss", never
// a panic.
func (t *Table[T]) Get(handle int) (*T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if handle < 0 || handle >= len(t.slots) {
		return nil, false
	}
	v := t.slots[handle]
	if v == nil {
		return nil, false
	}
	return v, true
}

// Drop releases handle. It is a no-op if handle is already dropped or
// out of range, matching spec.md's "guest release drops the handle"
// without requiring the guest to track whether it already did.
func (t *Table[T]) Drop(handle int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if handle < 0 || handle >= len(t.slots) || t.slots[handle] == nil {
		return
	}
	t.slots[handle] = nil
	t.free = append(t.free, handle)
}

// Each calls fn for every live (non-dropped) entry, in handle order.
// Worker teardown uses this to release pooled connections held by
// still-open Query/Transaction handles.
func (t *Table[T]) Each(fn func(handle int, v *T)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for idx, v := range t.slots {
		if v != nil {
			fn(idx, v)
		}
	}
}

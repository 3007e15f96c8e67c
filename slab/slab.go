// Package slab implements a fixed-size object pool with explicit refill,
// the allocator that backs virtual-region and shadow-page-table nodes.
// Refill is never automatic inside Alloc/Free: callers consult FreeCount
// after consuming an object and drive Grow themselves once the count
// drops below Threshold, because refill itself may need to map memory
// and can therefore fault.
package slab

import "aos/defs"

// Threshold is the low-water mark: once the free count drops below
// this, the caller should refill.
const Threshold = 6

// Pool serves fixed-size objects of type T from an explicit free list of
// pre-carved slots. It is not safe for concurrent use; callers serialize
// access the same way the address space they belong to is serialized.
type Pool[T any] struct {
	free      []*T
	slabs     [][]T
	refilling bool
}

// New creates a pool with one initial slab of the given length: static
// storage installed at address-space construction time, one page worth
// of objects.
func New[T any](initialLen int) *Pool[T] {
	p := &Pool[T]{}
	if initialLen > 0 {
		p.Grow(initialLen)
	}
	return p
}

// FreeCount returns the number of unallocated slots.
func (p *Pool[T]) FreeCount() int {
	return len(p.free)
}

// Grow appends n fresh zero-valued objects to the pool,
// backed by one new slab. Callers hold BeginRefill's guard while calling
// this from a refill path; New calls it unguarded during construction.
func (p *Pool[T]) Grow(n int) {
	if n <= 0 {
		return
	}
	block := make([]T, n)
	p.slabs = append(p.slabs, block)
	for i := range block {
		p.free = append(p.free, &block[i])
	}
}

// Alloc removes one object from the free list. It returns defs.ENOSLAB if
// the pool is exhausted; the caller is expected to have refilled before
// this happens in the hot path.
func (p *Pool[T]) Alloc() (*T, defs.Err_t) {
	n := len(p.free)
	if n == 0 {
		return nil, defs.ENOSLAB
	}
	obj := p.free[n-1]
	p.free = p.free[:n-1]
	var zero T
	*obj = zero
	return obj, 0
}

// Free returns obj to the pool for reuse.
func (p *Pool[T]) Free(obj *T) {
	p.free = append(p.free, obj)
}

// BeginRefill sets the re-entry guard and reports whether the caller
// should proceed. It returns false (no-op) if a refill is already in
// progress, which is how the pool tolerates the fault handler re-entering
// while servicing the page fault that refill itself triggered.
func (p *Pool[T]) BeginRefill() bool {
	if p.refilling {
		return false
	}
	p.refilling = true
	return true
}

// EndRefill clears the re-entry guard. Must be paired with a BeginRefill
// that returned true.
func (p *Pool[T]) EndRefill() {
	p.refilling = false
}

// Refilling reports whether a refill is currently in progress.
func (p *Pool[T]) Refilling() bool {
	return p.refilling
}

// NeedsRefill reports whether FreeCount has dropped below Threshold.
func (p *Pool[T]) NeedsRefill() bool {
	return len(p.free) < Threshold
}

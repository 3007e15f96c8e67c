// Package vspace implements the VSpace manager: the two intrusive lists
// of virtual regions (allocated, free) that track the layout of one
// address space.
//
// The slab pool that backs VirtualRegion nodes is owned by the caller
// (the address space) and passed in by reference, never stored here, so
// Manager carries no back-pointer to its pool.
package vspace

import (
	"sort"

	"aos/defs"
	"aos/slab"
)

// PageSize is the base page size this manager rounds allocations to.
// ARMv7 base pages are 4 KiB; kept local (not imported from
// armmmu) so vspace has no dependency on MMU geometry beyond the size.
const PageSize = 4096

// VirtualRegion is one reserved or free range of virtual address space.
// Created on reserve, destroyed on release or coalesce.
type VirtualRegion struct {
	Base uintptr
	Size uintptr
	next *VirtualRegion
}

// Pool is the slab pool type VirtualRegion nodes are drawn from.
type Pool = slab.Pool[VirtualRegion]

// Manager tracks one address space's virtual layout: an unordered
// allocated list and a free list strictly sorted by base with no
// touching, overlapping neighbours.
type Manager struct {
	allocated *VirtualRegion
	free      *VirtualRegion
	// FreeBase is the low-water mark above which no region has ever been
	// registered.
	FreeBase uintptr
}

// NewManager creates a manager whose managed range starts one page above
// address zero; page zero is never handed out.
func NewManager() *Manager {
	return &Manager{FreeBase: PageSize}
}

func roundup(v, b uintptr) uintptr {
	return ((v + b - 1) / b) * b
}

// Alloc reserves size bytes, rounded up to a page, first-fit against the
// free list and falling back to extending the managed range by bumping
// FreeBase. The returned address is page-aligned.
func (m *Manager) Alloc(pool *Pool, size uintptr) (uintptr, defs.Err_t) {
	if size == 0 {
		return 0, defs.EINVAL
	}
	size = roundup(size, PageSize)

	var prev *VirtualRegion
	for cur := m.free; cur != nil; cur = cur.next {
		// uses >= rather than > so an exact-size free region is usable.
		if cur.Size >= size {
			addr := cur.Base
			if cur.Size == size {
				if prev == nil {
					m.free = cur.next
				} else {
					prev.next = cur.next
				}
				pool.Free(cur)
			} else {
				cur.Base += size
				cur.Size -= size
			}
			return m.appendAllocated(pool, addr, size)
		}
		prev = cur
	}

	addr := m.FreeBase
	m.FreeBase += size
	return m.appendAllocated(pool, addr, size)
}

func (m *Manager) appendAllocated(pool *Pool, addr, size uintptr) (uintptr, defs.Err_t) {
	node, err := pool.Alloc()
	if err != 0 {
		return 0, err
	}
	node.Base = addr
	node.Size = size
	node.next = m.allocated
	m.allocated = node
	return addr, 0
}

// AllocFixed registers a range whose address is dictated externally (e.g.
// ELF sections loaded during bootstrap). It is appended to the allocated
// list without touching the free list; CommitFixed reconciles the free
// list once every fixed region has been registered.
func (m *Manager) AllocFixed(pool *Pool, addr, size uintptr) defs.Err_t {
	if addr%PageSize != 0 {
		return defs.EINVAL
	}
	if size == 0 {
		return defs.EINVAL
	}
	size = roundup(size, PageSize)
	// assign the real size, not the field to itself.
	node, err := pool.Alloc()
	if err != 0 {
		return err
	}
	node.Base = addr
	node.Size = size
	node.next = m.allocated
	m.allocated = node
	return 0
}

// CommitFixed is the one-shot post-bootstrap step: it sweeps the
// allocated list to reconstruct the free list as the sorted set of gaps
// in [PageSize, highest_allocated_end), and moves FreeBase to the highest
// allocated end. It is idempotent: re-running it with no
// intervening Alloc leaves FreeBase and the free list unchanged, because
// both are recomputed purely from the allocated list each time.
func (m *Manager) CommitFixed(pool *Pool) {
	type span struct{ base, end uintptr }
	var spans []span
	for cur := m.allocated; cur != nil; cur = cur.next {
		spans = append(spans, span{cur.Base, cur.Base + cur.Size})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].base < spans[j].base })

	// return the old free list to the pool before rebuilding it
	for cur := m.free; cur != nil; {
		next := cur.next
		pool.Free(cur)
		cur = next
	}
	m.free = nil

	var tail *VirtualRegion
	push := func(base, size uintptr) {
		node, err := pool.Alloc()
		if err != 0 {
			// CommitFixed has no error return; exhaustion here means
			// the initial slab wasn't sized for bootstrap, which is a
			// configuration bug, not a runtime condition.
			panic("commit_fixed: slab exhausted")
		}
		node.Base = base
		node.Size = size
		node.next = nil
		if tail == nil {
			m.free = node
		} else {
			tail.next = node
		}
		tail = node
	}

	cursor := uintptr(PageSize)
	highest := cursor
	for _, s := range spans {
		if s.base > cursor {
			push(cursor, s.base-cursor)
		}
		if s.end > highest {
			highest = s.end
		}
		cursor = s.end
	}
	m.FreeBase = highest
}

// Release removes the allocated region starting at addr, coalescing it
// into the free list with its predecessor and/or successor, and returns
// its size so the caller can tear down the corresponding mapping. It
// returns defs.ENOENT if addr names no allocated region.
func (m *Manager) Release(pool *Pool, addr uintptr) (uintptr, defs.Err_t) {
	var prev *VirtualRegion
	cur := m.allocated
	for cur != nil && cur.Base != addr {
		prev = cur
		cur = cur.next // the walk pointer must advance here
	}
	if cur == nil {
		return 0, defs.ENOENT
	}
	if prev == nil {
		m.allocated = cur.next
	} else {
		prev.next = cur.next
	}
	size := cur.Size
	m.insertFree(pool, cur)
	return size, 0
}

// insertFree places node into the sorted free list, coalescing with its
// neighbours and returning any now-redundant nodes to pool.
func (m *Manager) insertFree(pool *Pool, node *VirtualRegion) {
	var prev *VirtualRegion
	cur := m.free
	for cur != nil && cur.Base < node.Base {
		prev = cur
		cur = cur.next
	}
	// splice node in between prev and cur
	node.next = cur
	if prev == nil {
		m.free = node
	} else {
		prev.next = node
	}

	// coalesce with successor
	if node.next != nil && node.Base+node.Size == node.next.Base {
		succ := node.next
		node.Size += succ.Size
		node.next = succ.next
		pool.Free(succ)
	}
	// coalesce with predecessor
	if prev != nil && prev.Base+prev.Size == node.Base {
		prev.Size += node.Size
		prev.next = node.next
		pool.Free(node)
	}
}

// Lookup reports whether va falls within an already-allocated region.
func (m *Manager) Lookup(va uintptr) (VirtualRegion, bool) {
	for cur := m.allocated; cur != nil; cur = cur.next {
		if va >= cur.Base && va < cur.Base+cur.Size {
			return *cur, true
		}
	}
	return VirtualRegion{}, false
}

// AllocatedList returns a snapshot of the allocated regions in list
// (unordered, insertion-reverse) order.
func (m *Manager) AllocatedList() []VirtualRegion {
	return snapshot(m.allocated)
}

// FreeList returns a snapshot of the free regions in ascending base
// order.
func (m *Manager) FreeList() []VirtualRegion {
	return snapshot(m.free)
}

func snapshot(head *VirtualRegion) []VirtualRegion {
	var out []VirtualRegion
	for cur := head; cur != nil; cur = cur.next {
		out = append(out, VirtualRegion{Base: cur.Base, Size: cur.Size})
	}
	return out
}

// Clear drops every list head, releasing all nodes back to pool. Used
// when tearing down an address space.
func (m *Manager) Clear(pool *Pool) {
	for cur := m.allocated; cur != nil; {
		next := cur.next
		pool.Free(cur)
		cur = next
	}
	for cur := m.free; cur != nil; {
		next := cur.next
		pool.Free(cur)
		cur = next
	}
	m.allocated = nil
	m.free = nil
}

// Package addrspace ties the slab pools, VSpace manager and shadow
// page-table manager into one per-process paging state, with the two
// construction lifecycles: the init process building its own state in
// static storage, versus every other process inheriting a pre-populated
// state handed off at a known bootstrap location.
package addrspace

import (
	"sync/atomic"

	"aos/capability"
	"aos/defs"
	"aos/shadowpt"
	"aos/slab"
	"aos/vspace"
)

// initialPoolLen is "one page worth of objects" installed at
// construction, before any refill has run.
const initialPoolLen = 64

// refillGrowth is how many objects a cooperative refill adds once a
// pool's free count drops below slab.Threshold.
const refillGrowth = 32

// AddressSpace is one process's paging state.
type AddressSpace struct {
	k  capability.Kernel
	l1 capability.Cap

	VRegionPool *vspace.Pool
	NodePool    *shadowpt.Pool
	VSpace      *vspace.Manager
	Shadow      *shadowpt.Manager

	// locked is the process-wide fault-service try-lock: a second thread
	// that faults while one is being serviced backs off immediately
	// rather than queueing.
	locked atomic.Bool
}

// Handoff is the pre-populated state a non-init process receives at a
// known bootstrap handle, in place of building its own.
type Handoff struct {
	Kernel      capability.Kernel
	L1          capability.Cap
	VRegionPool *vspace.Pool
	NodePool    *shadowpt.Pool
	VSpace      *vspace.Manager
	Shadow      *shadowpt.Manager
}

// NewBootstrap builds a fresh AddressSpace in static storage: the path
// the `init` process takes.
func NewBootstrap(k capability.Kernel, l1 capability.Cap) *AddressSpace {
	return &AddressSpace{
		k:           k,
		l1:          l1,
		VRegionPool: slab.New[vspace.VirtualRegion](initialPoolLen),
		NodePool:    slab.New[shadowpt.Node](initialPoolLen),
		VSpace:      vspace.NewManager(),
		Shadow:      &shadowpt.Manager{},
	}
}

// NewFromHandoff wraps an already-constructed paging state: the path
// every process other than `init` takes.
func NewFromHandoff(h Handoff) *AddressSpace {
	return &AddressSpace{
		k:           h.Kernel,
		l1:          h.L1,
		VRegionPool: h.VRegionPool,
		NodePool:    h.NodePool,
		VSpace:      h.VSpace,
		Shadow:      h.Shadow,
	}
}

// TryLock attempts to acquire the process-wide fault-service lock. It
// returns false immediately if already held; there is no queueing.
func (a *AddressSpace) TryLock() bool {
	return a.locked.CompareAndSwap(false, true)
}

// Unlock releases the fault-service lock.
func (a *AddressSpace) Unlock() {
	a.locked.Store(false)
}

func (a *AddressSpace) refillVRegions() {
	if !a.VRegionPool.NeedsRefill() {
		return
	}
	if !a.VRegionPool.BeginRefill() {
		return
	}
	a.VRegionPool.Grow(refillGrowth)
	a.VRegionPool.EndRefill()
}

func (a *AddressSpace) refillNodes() {
	if !a.NodePool.NeedsRefill() {
		return
	}
	if !a.NodePool.BeginRefill() {
		return
	}
	a.NodePool.Grow(refillGrowth)
	a.NodePool.EndRefill()
}

// Alloc reserves size bytes of virtual address space.
func (a *AddressSpace) Alloc(size uintptr) (uintptr, defs.Err_t) {
	addr, err := a.VSpace.Alloc(a.VRegionPool, size)
	a.refillVRegions()
	return addr, err
}

// AllocFixed registers an externally-dictated range during bootstrap.
func (a *AddressSpace) AllocFixed(addr, size uintptr) defs.Err_t {
	err := a.VSpace.AllocFixed(a.VRegionPool, addr, size)
	a.refillVRegions()
	return err
}

// CommitFixed reconciles the free list after every fixed allocation has
// been registered.
func (a *AddressSpace) CommitFixed() {
	a.VSpace.CommitFixed(a.VRegionPool)
}

// Release returns the virtual region starting at addr and tears down its
// mapping.
func (a *AddressSpace) Release(addr uintptr) (uintptr, defs.Err_t) {
	size, err := a.VSpace.Release(a.VRegionPool, addr)
	if err != 0 {
		return 0, err
	}
	a.refillVRegions()
	if uerr := a.Shadow.Unmap(a.k, a.NodePool, addr, int(size)); uerr != 0 {
		return 0, uerr
	}
	a.refillNodes()
	return size, 0
}

// Map installs frame at vaddr for size bytes.
func (a *AddressSpace) Map(vaddr uintptr, frame capability.Cap, size int, flags uint) defs.Err_t {
	err := a.Shadow.Map(a.k, a.NodePool, a.l1, vaddr, frame, size, flags)
	a.refillNodes()
	return err
}

// Unmap tears down the mapping covering [vaddr, vaddr+size).
func (a *AddressSpace) Unmap(vaddr uintptr, size int) defs.Err_t {
	err := a.Shadow.Unmap(a.k, a.NodePool, vaddr, size)
	a.refillNodes()
	return err
}

// MapAttr allocates size bytes of virtual address space and maps frame
// into it, returning the chosen address.
func (a *AddressSpace) MapAttr(size int, frame capability.Cap, flags uint) (uintptr, defs.Err_t) {
	addr, err := a.Alloc(uintptr(size))
	if err != 0 {
		return 0, err
	}
	if err := a.Map(addr, frame, size, flags); err != 0 {
		a.VSpace.Release(a.VRegionPool, addr)
		return 0, err
	}
	return addr, 0
}

// Reserved reports whether va falls within an already-reserved virtual
// region, the question the fault handler asks before materializing a
// page.
func (a *AddressSpace) Reserved(va uintptr) bool {
	_, ok := a.VSpace.Lookup(va)
	return ok
}

// Package pagefault implements the per-thread page-fault handler: lazy
// materialisation of backing memory for reserved-but-unmapped virtual
// regions. A second fault arriving while one is in service backs off
// immediately rather than queueing, because the only realistic reentry
// is the handler faulting on its own slab refill, which the slab
// package's guard flag already tolerates.
package pagefault

import (
	"errors"
	"fmt"

	"aos/addrspace"
	"aos/armmmu"
	"aos/capability"
	"aos/defs"
)

// GuardPages is the number of pages below a thread's stack bottom that
// are reserved as an unmapped overflow guard.
const GuardPages = 1

// ErrBusy is returned when TryLock fails: another fault is already being
// serviced for this address space.
var ErrBusy = errors.New("pagefault: address space is already servicing a fault")

// Fatal is the typed panic value raised for the three unrecoverable
// fault conditions: a null address, an address at or above the kernel
// split, and a stack-guard overflow. The top level recovers it and
// terminates the faulting process.
type Fatal struct {
	Reason string
	Addr   uintptr
}

func (f Fatal) Error() string {
	return fmt.Sprintf("fatal page fault at %#x: %s", f.Addr, f.Reason)
}

// FrameSource is the external collaborator that hands out backing RAM.
type FrameSource interface {
	AllocFrame(size int) (capability.Cap, defs.Err_t)
}

// Handler services faults for one thread within one address space.
type Handler struct {
	Space       *addrspace.AddressSpace
	Frames      FrameSource
	StackBottom uintptr
	Flags       uint
}

// Handle services a single fault at addr. It panics with Fatal for the
// three unrecoverable conditions, returns ErrBusy if another fault is
// already in service, and otherwise reserves (if necessary) and maps the
// faulting page, returning nil on success.
func (h *Handler) Handle(addr uintptr) error {
	if !h.Space.TryLock() {
		return ErrBusy
	}
	defer h.Space.Unlock()

	if addr == 0 {
		panic(Fatal{Reason: "null address", Addr: addr})
	}
	if addr >= armmmu.KernelSplit {
		panic(Fatal{Reason: "address at or above the kernel split", Addr: addr})
	}
	if h.withinStackGuard(addr) {
		panic(Fatal{Reason: "stack guard overflow", Addr: addr})
	}

	page := armmmu.PageIndex(addr)
	if !h.Space.Reserved(page) {
		if err := h.Space.AllocFixed(page, uintptr(armmmu.PGSIZE)); err != 0 {
			return err
		}
		h.Space.CommitFixed()
	}

	frame, err := h.Frames.AllocFrame(armmmu.PGSIZE)
	if err != 0 {
		return err
	}
	if err := h.Space.Map(page, frame, armmmu.PGSIZE, h.Flags); err != 0 {
		return err
	}
	return nil
}

func (h *Handler) withinStackGuard(addr uintptr) bool {
	if h.StackBottom == 0 {
		return false
	}
	guard := uintptr(GuardPages * armmmu.PGSIZE)
	if addr >= h.StackBottom {
		return false
	}
	return h.StackBottom-addr <= guard
}

// Package capability models the kernel capability primitives the shadow
// page-table manager relies on: creating an L2 page-table
// object, mapping a page-table-or-frame into a page-table slot (which
// returns a mapping record), unmapping by that record, destroying a
// capability, retyping, and invoking a dispatcher. These six primitives
// are the only kernel calls the core of this module relies upon.
package capability

import "aos/defs"

// Cap is an opaque, unforgeable handle naming a kernel object: an L2
// page-table, a frame, an endpoint, or a dispatcher.
type Cap uint64

// NullCap is the zero capability, carried by replies that grant nothing
// (e.g. a rejected MemoryAlloc).
const NullCap Cap = 0

// MappingRecord is the kernel-returned handle that names one installed
// mapping; it is required to undo that mapping later.
type MappingRecord uint64

// ObjType enumerates the kinds of object Retype can produce.
type ObjType int

const (
	ObjFrame ObjType = iota
	ObjL2Table
	ObjDispatcher
	ObjEndpoint
)

// Kernel is the capability invocation surface the shadow page-table
// manager, VSpace manager and fault handler are built against. The real
// microkernel is out of scope; Mock below is the in-memory
// stand-in used by every test and by cmd/aosdemo.
type Kernel interface {
	// NewL2Table allocates a fresh L2 page-table object capability.
	NewL2Table() (Cap, defs.Err_t)

	// MapSlot installs obj into numSlots consecutive slots of table
	// starting at slot, with the given permission flags, and returns a
	// mapping record that names the installed range.
	MapSlot(table Cap, slot, numSlots int, obj Cap, flags uint) (MappingRecord, defs.Err_t)

	// Unmap tears down the mapping named by rec.
	Unmap(rec MappingRecord) defs.Err_t

	// Destroy releases a capability. It does not tear down any mapping
	// installed with it; Unmap must be called first.
	Destroy(c Cap) defs.Err_t

	// Retype derives a capability of the given kind from src.
	Retype(src Cap, kind ObjType) (Cap, defs.Err_t)

	// InvokeDispatcher runs the dispatcher named by d one step. Used by
	// the LMP server loop's wait-set simulation.
	InvokeDispatcher(d Cap) defs.Err_t
}

// Frame is a RAM region that has not yet been mapped. It is
// represented as a Cap plus the byte slice the mock kernel backs it
// with, so tests can observe/zero page contents without a real MMU.
type Frame struct {
	Cap   Cap
	Bytes []byte
}

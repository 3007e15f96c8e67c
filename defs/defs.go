// Package defs holds the types and constants shared by every paging and
// transport package: the kernel error taxonomy, thread/core identifiers,
// and the LMP request-kind enumeration.
package defs

import "fmt"

// Err_t is a trivial kernel error code. Zero is success; a negative value
// names a failure. It never allocates, which matters on paths that run
// during slab refill.
type Err_t int

// Error implements the error interface so Err_t can be returned as a
// regular Go error when convenient (e.g. from test helpers).
func (e Err_t) Error() string {
	if s, ok := errnames[e]; ok {
		return s
	}
	return fmt.Sprintf("err(%d)", int(e))
}

// Ok reports whether e represents success.
func (e Err_t) Ok() bool {
	return e == 0
}

// Error taxonomy. Negative by convention, mirroring errno-style codes.
const (
	EINVAL       Err_t = -1 // invalid-argument: bad size or alignment
	ENOMEM       Err_t = -2 // exhaustion: out of RAM / frames
	ENOSLAB      Err_t = -3 // exhaustion: out of slab slots
	EFAULT       Err_t = -4 // invalid-argument at a virtual address
	EKERNEL      Err_t = -5 // kernel-capability-failure: retype/map/unmap/create failed
	ENOENT       Err_t = -6 // region-not-found
	ENAMETOOLONG Err_t = -7 // process name exceeds the packed word budget
)

var errnames = map[Err_t]string{
	EINVAL:       "invalid argument",
	ENOMEM:       "out of memory",
	ENOSLAB:      "out of slab objects",
	EFAULT:       "bad address",
	EKERNEL:      "kernel capability failure",
	ENOENT:       "no such region",
	ENAMETOOLONG: "name too long",
}

// Tid_t identifies a thread within an address space.
type Tid_t int

// CoreID identifies a core in the system. LMP connects endpoints on the
// same core; UMP connects endpoints on two different cores.
type CoreID int

// RequestKind is the closed enumeration carried as word[0] of every LMP
// message.
type RequestKind int

const (
	Number RequestKind = iota
	ShortBuf
	FrameSend
	Register
	MemoryAlloc
	MemoryFree
	Spawn
	NameLookup
	PidDiscover
	TerminalGetChar
	TerminalPutChar
	Echo
	UmpBind
	GetDeviceCap
)

var requestNames = [...]string{
	"Number", "ShortBuf", "FrameSend", "Register", "MemoryAlloc",
	"MemoryFree", "Spawn", "NameLookup", "PidDiscover", "TerminalGetChar",
	"TerminalPutChar", "Echo", "UmpBind", "GetDeviceCap",
}

// String implements fmt.Stringer.
func (r RequestKind) String() string {
	if int(r) >= 0 && int(r) < len(requestNames) {
		return requestNames[r]
	}
	return fmt.Sprintf("RequestKind(%d)", int(r))
}

// MaxAllocBytes is the installation-defined ceiling for MemoryAlloc
// requests.
const MaxAllocBytes = 100_000_000

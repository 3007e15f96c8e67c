// Package memserv implements the memory-server side of the LMP
// MemoryAlloc/MemoryFree contract: validation, ceiling
// accounting against the installation-wide RAM ceiling
// (defs.MaxAllocBytes), and delegation to the frame allocator.
package memserv

import (
	"aos/capability"
	"aos/defs"
	"aos/lmp"
)

// Ledger tracks how many bytes have been handed out against a fixed
// ceiling.
type Ledger struct {
	ceiling uint64
	taken   uint64
}

// NewLedger creates a ledger with the given ceiling.
func NewLedger(ceiling uint64) *Ledger {
	return &Ledger{ceiling: ceiling}
}

// Take reserves n bytes against the ceiling, reporting whether there was
// room.
func (l *Ledger) Take(n uint64) bool {
	if l.taken+n > l.ceiling {
		return false
	}
	l.taken += n
	return true
}

// Give releases n previously taken bytes back to the ceiling.
func (l *Ledger) Give(n uint64) {
	if n > l.taken {
		n = l.taken
	}
	l.taken -= n
}

// Taken reports how many bytes are currently reserved.
func (l *Ledger) Taken() uint64 {
	return l.taken
}

// FrameAllocator mints frame capabilities backed by raw bytes. The real
// physical memory manager is out of scope; capability.Mock
// implements this for tests and cmd/aosdemo.
type FrameAllocator interface {
	NewFrame(size int) capability.Frame
}

// Handler is the server-side state behind the MemoryAlloc/MemoryFree LMP
// handlers and, via AllocFrame, the pagefault.FrameSource the fault
// handler calls into directly.
type Handler struct {
	Frames FrameAllocator
	Ledger *Ledger
}

// NewHandler creates a memory server backed by frames and limited to
// ceiling bytes total.
func NewHandler(frames FrameAllocator, ceiling uint64) *Handler {
	return &Handler{Frames: frames, Ledger: NewLedger(ceiling)}
}

// MemoryAlloc implements the lmp.Handler signature for defs.MemoryAlloc
// requests: rejects bytes == 0, align == 0, or
// bytes > defs.MaxAllocBytes, and rejects when the ledger has no room.
func (h *Handler) MemoryAlloc(m lmp.Message) lmp.Message {
	bytes, align := m.Words[1], m.Words[2]
	if bytes == 0 || align == 0 || bytes > defs.MaxAllocBytes {
		return statusReply(defs.MemoryAlloc, defs.EINVAL)
	}
	if !h.Ledger.Take(bytes) {
		return statusReply(defs.MemoryAlloc, defs.ENOMEM)
	}
	frame := h.Frames.NewFrame(int(bytes))
	r := statusReply(defs.MemoryAlloc, 0)
	r.Cap = frame.Cap
	return r
}

// MemoryFree implements the lmp.Handler signature for defs.MemoryFree
// requests.
func (h *Handler) MemoryFree(m lmp.Message) lmp.Message {
	bytes := m.Words[1]
	h.Ledger.Give(bytes)
	return statusReply(defs.MemoryFree, 0)
}

// AllocFrame implements pagefault.FrameSource, letting the fault handler
// call directly into the memory server without going over LMP when both
// live in the same process.
func (h *Handler) AllocFrame(size int) (capability.Cap, defs.Err_t) {
	if !h.Ledger.Take(uint64(size)) {
		return capability.NullCap, defs.ENOMEM
	}
	frame := h.Frames.NewFrame(size)
	return frame.Cap, 0
}

func statusReply(kind defs.RequestKind, status defs.Err_t) lmp.Message {
	var m lmp.Message
	m.Words[0] = uint64(kind)
	m.Words[1] = uint64(status)
	return m
}

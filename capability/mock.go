package capability

import "aos/defs"

type capInfo struct {
	kind   ObjType
	bytes  []byte // present for frames and L2 tables (table slot storage)
	parent Cap
}

type mappingInfo struct {
	table       Cap
	slot        int
	numSlots    int
	obj         Cap
	torn        bool
}

// Mock is an in-memory stand-in for the microkernel capability interface.
// Its calls fail only when ForceErr or ForceErrAfter arms a failure, which
// tests use to exercise the unwind-fresh-allocations-in-LIFO-order failure
// paths, or when a call names a capability or mapping record the mock
// does not hold.
type Mock struct {
	next     Cap
	objs     map[Cap]*capInfo
	mappings map[MappingRecord]*mappingInfo
	nextRec  MappingRecord

	// ForceErr, when non-zero, is returned by the next mutating call
	// (NewL2Table, MapSlot, Retype) and then cleared.
	ForceErr defs.Err_t

	// pendingAfter/pendingErr implement ForceErrAfter: let n more mutating
	// calls succeed, then fail the following one. pendingAfter is -1 when
	// disabled.
	pendingAfter int
	pendingErr   defs.Err_t
}

// NewMock creates an empty mock kernel.
func NewMock() *Mock {
	return &Mock{
		next:         1,
		objs:         make(map[Cap]*capInfo),
		mappings:     make(map[MappingRecord]*mappingInfo),
		nextRec:      1,
		pendingAfter: -1,
	}
}

// ForceErrAfter lets the next n mutating calls (NewL2Table, MapSlot,
// Retype) succeed, then fails the one after that with EKERNEL. Used to
// exercise LIFO-unwind paths that a one-shot ForceErr can't reach because
// it would fire on the very first call.
func (m *Mock) ForceErrAfter(n int) {
	m.pendingAfter = n
	m.pendingErr = defs.EKERNEL
}

func (m *Mock) takeErr() defs.Err_t {
	if m.pendingAfter >= 0 {
		if m.pendingAfter == 0 {
			m.pendingAfter = -1
			return m.pendingErr
		}
		m.pendingAfter--
		return 0
	}
	if m.ForceErr != 0 {
		e := m.ForceErr
		m.ForceErr = 0
		return e
	}
	return 0
}

func (m *Mock) alloc(kind ObjType, bytes []byte) Cap {
	c := m.next
	m.next++
	m.objs[c] = &capInfo{kind: kind, bytes: bytes}
	return c
}

// NewL2Table implements Kernel.
func (m *Mock) NewL2Table() (Cap, defs.Err_t) {
	if e := m.takeErr(); e != 0 {
		return NullCap, e
	}
	return m.alloc(ObjL2Table, make([]byte, 0)), 0
}

// NewFrame allocates a frame capability backed by sz bytes. Not part of
// the Kernel interface (frame acquisition is the out-of-scope memory
// manager's job, reached over LMP in this module; see memserv), but the
// mock needs a way to mint frames for tests and for memserv's handler.
func (m *Mock) NewFrame(sz int) Frame {
	c := m.alloc(ObjFrame, make([]byte, sz))
	return Frame{Cap: c, Bytes: m.objs[c].bytes}
}

// MapSlot implements Kernel.
func (m *Mock) MapSlot(table Cap, slot, numSlots int, obj Cap, flags uint) (MappingRecord, defs.Err_t) {
	if e := m.takeErr(); e != 0 {
		return 0, e
	}
	if _, ok := m.objs[table]; !ok {
		return 0, defs.EKERNEL
	}
	if _, ok := m.objs[obj]; !ok {
		return 0, defs.EKERNEL
	}
	rec := m.nextRec
	m.nextRec++
	m.mappings[rec] = &mappingInfo{table: table, slot: slot, numSlots: numSlots, obj: obj}
	return rec, 0
}

// Unmap implements Kernel.
func (m *Mock) Unmap(rec MappingRecord) defs.Err_t {
	mi, ok := m.mappings[rec]
	if !ok || mi.torn {
		return defs.EKERNEL
	}
	mi.torn = true
	delete(m.mappings, rec)
	return 0
}

// Destroy implements Kernel.
func (m *Mock) Destroy(c Cap) defs.Err_t {
	if _, ok := m.objs[c]; !ok {
		return defs.EKERNEL
	}
	delete(m.objs, c)
	return 0
}

// Retype implements Kernel.
func (m *Mock) Retype(src Cap, kind ObjType) (Cap, defs.Err_t) {
	if e := m.takeErr(); e != 0 {
		return NullCap, e
	}
	info, ok := m.objs[src]
	if !ok {
		return NullCap, defs.EKERNEL
	}
	c := m.alloc(kind, make([]byte, len(info.bytes)))
	m.objs[c].parent = src
	return c, 0
}

// InvokeDispatcher implements Kernel.
func (m *Mock) InvokeDispatcher(d Cap) defs.Err_t {
	if _, ok := m.objs[d]; !ok {
		return defs.EKERNEL
	}
	return 0
}

// LiveObjects returns the number of still-live capabilities, for tests
// asserting that a failure path released everything it allocated.
func (m *Mock) LiveObjects() int {
	return len(m.objs)
}

// LiveMappings returns the number of still-installed mapping records.
func (m *Mock) LiveMappings() int {
	return len(m.mappings)
}

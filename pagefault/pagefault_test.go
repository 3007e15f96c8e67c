package pagefault

import (
	"errors"
	"testing"

	"aos/addrspace"
	"aos/armmmu"
	"aos/capability"
	"aos/defs"
)

type frameSource struct {
	k      *capability.Mock
	frames []capability.Frame
}

func (f *frameSource) AllocFrame(size int) (capability.Cap, defs.Err_t) {
	fr := f.k.NewFrame(size)
	f.frames = append(f.frames, fr)
	return fr.Cap, 0
}

func newTestHandler(stackBottom uintptr) (*Handler, *addrspace.AddressSpace, *frameSource) {
	k := capability.NewMock()
	l1, _ := k.NewL2Table()
	space := addrspace.NewBootstrap(k, l1)
	frames := &frameSource{k: k}
	h := &Handler{Space: space, Frames: frames, StackBottom: stackBottom, Flags: 0}
	return h, space, frames
}

// TestScenarioLazyFaultMaterialisation reserves 8 KiB, then faults on
// each page in turn; each fault lazily materialises a zeroed frame and
// maps it.
func TestScenarioLazyFaultMaterialisation(t *testing.T) {
	h, space, frames := newTestHandler(0)
	v, err := space.Alloc(8192)
	if err != 0 {
		t.Fatalf("alloc: %v", err)
	}

	if err := h.Handle(v); err != nil {
		t.Fatalf("first fault: %v", err)
	}
	if len(frames.frames) != 1 {
		t.Fatalf("expected one frame materialised, got %d", len(frames.frames))
	}
	for _, b := range frames.frames[0].Bytes {
		if b != 0 {
			t.Fatalf("materialised frame is not zero-filled")
		}
	}

	if err := h.Handle(v + uintptr(armmmu.PGSIZE)); err != nil {
		t.Fatalf("second fault: %v", err)
	}
	if len(frames.frames) != 2 {
		t.Fatalf("expected a second frame materialised, got %d", len(frames.frames))
	}
	if space.Shadow.OuterNodeCount() != 1 {
		t.Fatalf("expected both pages under the same L2 outer node")
	}
	if space.Shadow.LeafCount(uintptr(armmmu.L1Index(v))) != 2 {
		t.Fatalf("expected 2 leaves installed")
	}
}

func TestNullAddressIsFatal(t *testing.T) {
	h, _, _ := newTestHandler(0)
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic for null address")
		}
		if _, ok := r.(Fatal); !ok {
			t.Fatalf("expected Fatal panic value, got %T", r)
		}
	}()
	h.Handle(0)
}

func TestKernelSplitIsFatal(t *testing.T) {
	h, _, _ := newTestHandler(0)
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic for kernel-split address")
		}
	}()
	h.Handle(armmmu.KernelSplit)
}

func TestStackGuardOverflowIsFatal(t *testing.T) {
	stackBottom := uintptr(0x4000_0000)
	h, _, _ := newTestHandler(stackBottom)
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic for stack guard overflow")
		}
	}()
	h.Handle(stackBottom - 1)
}

func TestBusyHandlerRejectsReentry(t *testing.T) {
	h, space, _ := newTestHandler(0)
	if !space.TryLock() {
		t.Fatalf("setup: could not acquire lock")
	}
	defer space.Unlock()

	v, _ := space.Alloc(4096)
	err := h.Handle(v)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while the space is already locked, got %v", err)
	}
}

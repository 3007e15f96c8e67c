package slab

import (
	"testing"

	"aos/defs"
)

type obj struct {
	a, b int
}

func TestAllocFreeRoundTrip(t *testing.T) {
	p := New[obj](4)
	if p.FreeCount() != 4 {
		t.Fatalf("expected 4 free slots, got %d", p.FreeCount())
	}
	o, err := p.Alloc()
	if err != 0 {
		t.Fatalf("alloc: %v", err)
	}
	if p.FreeCount() != 3 {
		t.Fatalf("expected 3 free slots after alloc, got %d", p.FreeCount())
	}
	o.a = 7
	p.Free(o)
	if p.FreeCount() != 4 {
		t.Fatalf("expected 4 free slots after free, got %d", p.FreeCount())
	}
}

func TestAllocZeroesRecycledObject(t *testing.T) {
	p := New[obj](1)
	o, _ := p.Alloc()
	o.a, o.b = 1, 2
	p.Free(o)
	o2, err := p.Alloc()
	if err != 0 {
		t.Fatalf("alloc: %v", err)
	}
	if o2.a != 0 || o2.b != 0 {
		t.Fatalf("recycled object not zeroed: %+v", o2)
	}
}

func TestExhaustionReturnsENOSLAB(t *testing.T) {
	p := New[obj](1)
	if _, err := p.Alloc(); err != 0 {
		t.Fatalf("first alloc: %v", err)
	}
	if _, err := p.Alloc(); err != defs.ENOSLAB {
		t.Fatalf("expected ENOSLAB when exhausted, got %v", err)
	}
}

func TestGrowRefills(t *testing.T) {
	p := New[obj](1)
	p.Alloc()
	p.Grow(8)
	if p.FreeCount() != 8 {
		t.Fatalf("expected 8 free slots after grow, got %d", p.FreeCount())
	}
}

func TestNeedsRefillThreshold(t *testing.T) {
	p := New[obj](Threshold)
	if p.NeedsRefill() {
		t.Fatalf("pool at threshold should not yet need refill")
	}
	p.Alloc()
	if !p.NeedsRefill() {
		t.Fatalf("pool below threshold should need refill")
	}
}

func TestRefillGuardRejectsReentry(t *testing.T) {
	p := New[obj](1)
	if !p.BeginRefill() {
		t.Fatalf("first BeginRefill should succeed")
	}
	if p.BeginRefill() {
		t.Fatalf("reentrant BeginRefill should no-op")
	}
	if !p.Refilling() {
		t.Fatalf("guard flag not visible while refilling")
	}
	p.EndRefill()
	if !p.BeginRefill() {
		t.Fatalf("BeginRefill should succeed again after EndRefill")
	}
	p.EndRefill()
}

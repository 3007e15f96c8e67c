package diag

import (
	"bytes"
	"testing"
)

func TestDisassembleFaultARMNop(t *testing.T) {
	// ARM-mode NOP, little-endian encoding of 0xE320F000.
	code := []byte{0x00, 0xF0, 0x20, 0xE3}
	s, err := DisassembleFault(code, false)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s == "" {
		t.Fatalf("expected a non-empty disassembly")
	}
}

func TestDisassembleFaultInvalidEncoding(t *testing.T) {
	if _, err := DisassembleFault([]byte{0xFF, 0xFF, 0xFF, 0xFF}, false); err == nil {
		t.Fatalf("expected a decode error for an invalid encoding")
	}
}

func TestBuildVSpaceProfile(t *testing.T) {
	regions := []Region{
		{Base: 0x1000, Size: 0x1000, Label: "allocated"},
		{Base: 0x3000, Size: 0x2000, Label: "free"},
		{Base: 0x6000, Size: 0x1000, Label: "allocated"},
	}
	p := BuildVSpaceProfile(regions)
	if len(p.Sample) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(p.Sample))
	}
	if len(p.Function) != 2 {
		t.Fatalf("expected functions deduplicated by label, got %d", len(p.Function))
	}

	var buf bytes.Buffer
	if err := WriteVSpaceProfile(&buf, regions); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected non-empty profile encoding")
	}
}

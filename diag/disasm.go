// Package diag holds crash-report and introspection tooling that rides
// on top of the core paging subsystem but is not itself part of it:
// disassembling the faulting instruction for a crash report, and
// exporting a VSpace layout as a pprof-format snapshot.
package diag

import "golang.org/x/arch/arm/armasm"

// DisassembleFault decodes the single instruction at the faulting PC,
// for inclusion in a pagefault.Fatal crash report. thumb selects Thumb
// vs ARM encoding, following the processor mode active at fault time.
func DisassembleFault(code []byte, thumb bool) (string, error) {
	mode := armasm.ModeARM
	if thumb {
		mode = armasm.ModeThumb
	}
	inst, err := armasm.Decode(code, mode)
	if err != nil {
		return "", err
	}
	return inst.String(), nil
}

package diag

import (
	"fmt"
	"io"

	"github.com/google/pprof/profile"
)

// Region is one labeled span of virtual address space, the shape
// vspace.Manager's AllocatedList/FreeList snapshots already produce,
// kept label-generic here so diag has no dependency on vspace.
type Region struct {
	Base  uintptr
	Size  uintptr
	Label string // e.g. "allocated" or "free"
}

// BuildVSpaceProfile renders regions as a pprof profile.Profile: one
// sample per region, valued in bytes, grouped by Label via a synthetic
// call stack of depth one. Useful for visualizing address-space layout
// with any pprof-compatible viewer.
func BuildVSpaceProfile(regions []Region) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "bytes", Unit: "bytes"}},
		PeriodType: &profile.ValueType{Type: "bytes", Unit: "bytes"},
		Period:     1,
	}

	funcs := make(map[string]*profile.Function)
	var nextID uint64 = 1
	funcFor := func(label string) *profile.Function {
		if f, ok := funcs[label]; ok {
			return f
		}
		f := &profile.Function{ID: nextID, Name: label, SystemName: label}
		nextID++
		funcs[label] = f
		p.Function = append(p.Function, f)
		return f
	}

	for _, r := range regions {
		fn := funcFor(r.Label)
		loc := &profile.Location{
			ID:   nextID,
			Line: []profile.Line{{Function: fn}},
		}
		nextID++
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(r.Size)},
			Label:    map[string][]string{"base": {fmt.Sprintf("%#x", r.Base)}},
		})
	}
	return p
}

// WriteVSpaceProfile writes the gzip-compressed pprof encoding of
// regions to w.
func WriteVSpaceProfile(w io.Writer, regions []Region) error {
	return BuildVSpaceProfile(regions).Write(w)
}

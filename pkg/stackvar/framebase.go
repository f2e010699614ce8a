package stackvar

import (
	"debug/dwarf"

	"github.com/stackvars/stackvars/pkg/dwarf/godwarf"
	"github.com/stackvars/stackvars/pkg/dwarf/op"
	"github.com/stackvars/stackvars/pkg/location"
	"github.com/stackvars/stackvars/pkg/logflags"
)

// FrameBase classifies the DW_AT_frame_base of a subprogram.
type FrameBase uint8

const (
	// FrameBaseUnknown is used when the subprogram has no frame base or
	// its description is empty.
	FrameBaseUnknown FrameBase = iota
	// FrameBaseCFA is used when the frame base is DW_OP_call_frame_cfa.
	FrameBaseCFA
	// FrameBaseOther is used for every other frame base expression.
	FrameBaseOther
)

func (fb FrameBase) String() string {
	switch fb {
	case FrameBaseUnknown:
		return "unknown"
	case FrameBaseCFA:
		return "cfa"
	case FrameBaseOther:
		return "other"
	}
	return "invalid"
}

// ClassifyFrameBase returns the frame base convention of fn, whose code
// occupies rng. Only the first operation of the first expression of the
// description is considered.
// Location list data that can not be decoded is returned as an error.
func ClassifyFrameBase(fn *godwarf.Tree, rng [2]uint64, u *Unit, res *location.Resolver) (FrameBase, error) {
	f := fn.AttrField(dwarf.AttrFrameBase)
	if f == nil {
		return FrameBaseUnknown, nil
	}
	l, err := res.Resolve(f, u.locationUnit(), rng)
	if err != nil {
		return FrameBaseUnknown, err
	}
	if len(l) == 0 {
		return FrameBaseUnknown, nil
	}
	instrs, err := op.Parse(l[0].Instr, res.PtrSize(), res.ByteOrder())
	if err != nil && logflags.Loclist() {
		logflags.LoclistLogger().Debugf("frame base of %#x: %v", fn.Offset, err)
	}
	if len(instrs) == 0 {
		return FrameBaseUnknown, nil
	}
	if instrs[0].Opcode == op.DW_OP_call_frame_cfa {
		return FrameBaseCFA, nil
	}
	return FrameBaseOther, nil
}

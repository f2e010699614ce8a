package stackvar

import (
	"debug/dwarf"
	"fmt"

	"github.com/stackvars/stackvars/pkg/bininfo"
	"github.com/stackvars/stackvars/pkg/dwarf/godwarf"
	"github.com/stackvars/stackvars/pkg/location"
	"github.com/stackvars/stackvars/pkg/logflags"
)

// Record describes one stack variable or parameter of a function.
// Dir, File, Function and Name are nil when the debug information does
// not specify them.
type Record struct {
	Dir      *string
	File     *string
	Function *string
	Range    [2]uint64 // [lowpc, highpc) of the function

	Name      *string
	Locations location.List
	Type      godwarf.Type
}

// Variable is a stack variable of a function, as returned by
// Context.VariablesOf.
type Variable struct {
	Name      *string
	Locations location.List
	Type      godwarf.Type
	Offset    dwarf.Offset // offset of the variable entry
}

// extractor holds what is shared by the direct and the context paths
// when resolving the variables of a function.
type extractor struct {
	res        *location.Resolver
	unitsLog   logflags.Logger
	typesLog   logflags.Logger
	loclistLog logflags.Logger
}

func newExtractor(img *bininfo.Image) *extractor {
	return &extractor{
		res:        img.Loc,
		unitsLog:   logflags.UnitsLogger(),
		typesLog:   logflags.TypesLogger(),
		loclistLog: logflags.LoclistLogger(),
	}
}

// functionVariables returns the variables of fn that have both a type and
// a location. Functions without a static pc range or without a
// DW_OP_call_frame_cfa frame base have no variables.
func (x *extractor) functionVariables(fn *godwarf.Tree, u *Unit, idx *godwarf.TypeIndex, cache godwarf.TypeCache) ([]Variable, error) {
	rng, ok := fn.PCRange()
	if !ok {
		return nil, nil
	}
	fb, err := ClassifyFrameBase(fn, rng, u, x.res)
	if err != nil {
		return nil, fmt.Errorf("frame base of subprogram at %#x: %w", fn.Offset, err)
	}
	if fb != FrameBaseCFA {
		if logflags.Units() {
			x.unitsLog.Debugf("skipping subprogram at %#x: frame base %s", fn.Offset, fb)
		}
		return nil, nil
	}

	var r []Variable
	for _, v := range StackVariables(fn) {
		name := textAttr(v, dwarf.AttrName)
		if err := checkText(name, dwarf.AttrName, v.Offset); err != nil {
			return nil, err
		}

		typeoff, ok := v.Val(dwarf.AttrType).(dwarf.Offset)
		if !ok {
			if logflags.Types() {
				x.typesLog.Debugf("variable at %#x has no type", v.Offset)
			}
			continue
		}
		typ := godwarf.ReadType(idx, typeoff, cache)
		if typ == nil {
			if logflags.Types() {
				x.typesLog.Debugf("variable at %#x: could not resolve type at %#x", v.Offset, typeoff)
			}
			continue
		}

		locs, err := x.res.Resolve(v.AttrField(dwarf.AttrLocation), u.locationUnit(), rng)
		if err != nil {
			return nil, fmt.Errorf("location of variable at %#x: %w", v.Offset, err)
		}
		if len(locs) == 0 {
			if logflags.Loclist() {
				x.loclistLog.Debugf("variable at %#x has no location in [%#x, %#x)", v.Offset, rng[0], rng[1])
			}
			continue
		}

		r = append(r, Variable{Name: name, Locations: locs, Type: typ, Offset: v.Offset})
	}
	return r, nil
}

// makeRecords validates the names identifying a function and builds the
// records of its variables.
func makeRecords(u *Unit, fn *godwarf.Tree, rng [2]uint64, vars []Variable) ([]Record, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	fname := textAttr(fn, dwarf.AttrName)
	if err := checkText(u.Dir, dwarf.AttrCompDir, u.Root.Offset); err != nil {
		return nil, err
	}
	if err := checkText(u.File, dwarf.AttrName, u.Root.Offset); err != nil {
		return nil, err
	}
	if err := checkText(fname, dwarf.AttrName, fn.Offset); err != nil {
		return nil, err
	}
	r := make([]Record, 0, len(vars))
	for _, v := range vars {
		r = append(r, Record{
			Dir:       u.Dir,
			File:      u.File,
			Function:  fname,
			Range:     rng,
			Name:      v.Name,
			Locations: v.Locations,
			Type:      v.Type,
		})
	}
	return r, nil
}

// RecordReader produces the records of every stack variable of an image,
// one compile unit at a time. The type index of a unit is dropped when the
// reader moves to the next unit.
// A RecordReader can not be rewound, stopping early is always safe.
type RecordReader struct {
	x     *extractor
	units *UnitReader

	unit  *Unit
	idx   *godwarf.TypeIndex
	cache godwarf.MapTypeCache
	fns   []*godwarf.Tree

	pending []Record
	rec     Record
	err     error
}

// Records returns a reader for the records of img.
func Records(img *bininfo.Image) *RecordReader {
	return &RecordReader{
		x:     newExtractor(img),
		units: NewUnitReader(img),
	}
}

// Next advances to the next record. It returns false at the end of the
// image or if an error occurred, see Err.
func (rr *RecordReader) Next() bool {
	rr.rec = Record{}
	for len(rr.pending) == 0 {
		if rr.err != nil {
			return false
		}
		if len(rr.fns) == 0 {
			if !rr.nextUnit() {
				return false
			}
			continue
		}
		fn := rr.fns[0]
		rr.fns = rr.fns[1:]
		vars, err := rr.x.functionVariables(fn, rr.unit, rr.idx, rr.cache)
		if err != nil {
			rr.err = err
			return false
		}
		rng, _ := fn.PCRange()
		rr.pending, rr.err = makeRecords(rr.unit, fn, rng, vars)
	}
	rr.rec = rr.pending[0]
	rr.pending = rr.pending[1:]
	return true
}

func (rr *RecordReader) nextUnit() bool {
	rr.unit, rr.idx, rr.cache = nil, nil, nil
	if !rr.units.Next() {
		rr.err = rr.units.Err()
		return false
	}
	rr.unit = rr.units.Unit()
	rr.idx = godwarf.BuildTypeIndex(rr.unit.Root, rr.unit.UnitHeader)
	rr.cache = godwarf.MapTypeCache{}
	rr.fns = subprograms(rr.unit.Root)
	if logflags.Types() {
		rr.x.typesLog.Debugf("unit at %#x: %d type entries", rr.unit.Offset, rr.idx.Len())
	}
	return true
}

// Record returns the record read by the last call to Next.
func (rr *RecordReader) Record() Record {
	return rr.rec
}

// Err returns the error that stopped the reader, if any.
func (rr *RecordReader) Err() error {
	return rr.err
}

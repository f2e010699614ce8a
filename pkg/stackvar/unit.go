package stackvar

import (
	"debug/dwarf"
	"fmt"

	"github.com/stackvars/stackvars/pkg/bininfo"
	"github.com/stackvars/stackvars/pkg/dwarf/godwarf"
	"github.com/stackvars/stackvars/pkg/location"
	"github.com/stackvars/stackvars/pkg/logflags"
)

// Unit is a compile unit of an image with its entry tree loaded.
type Unit struct {
	godwarf.UnitHeader

	Dir  *string // DW_AT_comp_dir, nil if absent
	File *string // DW_AT_name, nil if absent

	LowPC        uint64
	AddrBase     uint64
	LoclistsBase uint64

	Root *godwarf.Tree
}

func (u *Unit) locationUnit() location.Unit {
	return location.Unit{
		Version:      u.Version,
		LowPC:        u.LowPC,
		AddrBase:     u.AddrBase,
		LoclistsBase: u.LoclistsBase,
	}
}

// UnitReader enumerates the compile units of an image, in the order they
// appear in debug_info. Type, skeleton and partial units are skipped.
// A UnitReader can not be rewound.
type UnitReader struct {
	img   *bininfo.Image
	rdr   *dwarf.Reader
	aordr *dwarf.Reader
	log   logflags.Logger

	unit *Unit
	err  error
	done bool
}

// NewUnitReader returns a reader positioned before the first unit of img.
func NewUnitReader(img *bininfo.Image) *UnitReader {
	return &UnitReader{
		img:   img,
		rdr:   img.Dwarf.Reader(),
		aordr: img.Dwarf.Reader(),
		log:   logflags.UnitsLogger(),
	}
}

// Next loads the next compile unit. It returns false when there are no
// more units or an error occurred, see Err.
func (ur *UnitReader) Next() bool {
	ur.unit = nil
	if ur.err != nil || ur.done {
		return false
	}
	for {
		e, err := ur.rdr.Next()
		if err != nil {
			ur.err = err
			return false
		}
		if e == nil {
			ur.done = true
			return false
		}
		switch e.Tag {
		case 0:
			continue
		case dwarf.TagCompileUnit:
		default:
			if logflags.Units() {
				ur.log.Debugf("skipping %s at %#x", e.Tag, e.Offset)
			}
			ur.rdr.SkipChildren()
			continue
		}

		u, err := ur.load(e)
		if err != nil {
			ur.err = err
			return false
		}
		ur.unit = u
		return true
	}
}

func (ur *UnitReader) load(e *dwarf.Entry) (*Unit, error) {
	h, ok := ur.img.UnitHeader(e.Offset)
	if !ok {
		return nil, fmt.Errorf("compile unit entry at %#x outside of any unit header", e.Offset)
	}
	u := &Unit{
		UnitHeader: *h,
		Dir:        textAttr(e, dwarf.AttrCompDir),
		File:       textAttr(e, dwarf.AttrName),
		Root:       godwarf.EntryToTree(e),
	}
	u.LowPC, _ = e.Val(dwarf.AttrLowpc).(uint64)
	if base, ok := e.Val(dwarf.AttrAddrBase).(int64); ok {
		u.AddrBase = uint64(base)
	}
	if base, ok := e.Val(dwarf.AttrLoclistsBase).(int64); ok {
		u.LoclistsBase = uint64(base)
	}

	var err error
	u.Root.Children, err = godwarf.LoadTreeChildren(e, ur.rdr)
	if err != nil {
		return nil, fmt.Errorf("compile unit at %#x: %w", u.Offset, err)
	}
	u.Root.ResolveAbstractEntries(ur.aordr)

	if logflags.Units() {
		file := "<unnamed>"
		if u.File != nil {
			file = *u.File
		}
		ur.log.Debugf("unit at %#x: %s version %d, %d top level entries", u.Offset, file, u.Version, len(u.Root.Children))
	}
	return u, nil
}

// Unit returns the unit loaded by the last call to Next.
func (ur *UnitReader) Unit() *Unit {
	return ur.unit
}

// Err returns the error that stopped the reader, if any.
func (ur *UnitReader) Err() error {
	return ur.err
}

package godwarf

import (
	"debug/dwarf"
	"encoding/binary"
	"fmt"

	"github.com/stackvars/stackvars/pkg/dwarf/util"
)

// Unit types, DWARFv5 section 7.5.1.
const (
	UnitTypeCompile      = 0x01
	UnitTypeType         = 0x02
	UnitTypePartial      = 0x03
	UnitTypeSkeleton     = 0x04
	UnitTypeSplitCompile = 0x05
	UnitTypeSplitType    = 0x06
)

// UnitHeader describes the header of one unit of debug_info.
type UnitHeader struct {
	Offset    dwarf.Offset // offset of the unit header
	Length    uint64       // size of the unit, including the header
	Version   int
	Dwarf64   bool
	UnitType  uint8
	AddrSize  int
	ByteOrder binary.ByteOrder
	DIEOffset dwarf.Offset // offset of the root entry
}

// Contains returns true if off falls inside the unit.
func (h *UnitHeader) Contains(off dwarf.Offset) bool {
	return off >= h.Offset && uint64(off-h.Offset) < h.Length
}

// ParseUnitHeaders reads the header of every unit in the debug_info
// section. Units before DWARFv5 are reported as UnitTypeCompile.
func ParseUnitHeaders(info []byte) ([]UnitHeader, error) {
	var r []UnitHeader
	off := 0
	for off < len(info) {
		length, dwarf64, version, order := util.ReadDwarfLengthVersion(info[off:])
		h := UnitHeader{Offset: dwarf.Offset(off), Version: int(version), Dwarf64: dwarf64, UnitType: UnitTypeCompile, ByteOrder: order}
		initialLen, offSz := 4, 4
		if dwarf64 {
			initialLen, offSz = 12, 8
		}
		h.Length = length + uint64(initialLen)
		if version < 2 || version > 5 {
			return r, fmt.Errorf("unit at %#x: unsupported DWARF version %d", off, version)
		}
		if uint64(off)+h.Length > uint64(len(info)) {
			return r, fmt.Errorf("unit at %#x: %w", off, util.ErrShortSection)
		}

		p := off + initialLen + 2
		if h.Length < uint64(initialLen+2+2+offSz) {
			return r, fmt.Errorf("unit at %#x: %w", off, util.ErrShortSection)
		}
		if version >= 5 {
			h.UnitType = info[p]
			h.AddrSize = int(info[p+1])
			p += 2 + offSz
			switch h.UnitType {
			case UnitTypeSkeleton, UnitTypeSplitCompile:
				p += 8 // dwo_id
			case UnitTypeType, UnitTypeSplitType:
				p += 8 + offSz // type_signature, type_offset
			}
		} else {
			p += offSz
			h.AddrSize = int(info[p])
			p++
		}
		h.DIEOffset = dwarf.Offset(p)
		r = append(r, h)
		off += int(h.Length)
	}
	return r, nil
}

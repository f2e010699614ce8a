package dwarfbuilder

import (
	"bytes"
	"encoding/binary"

	"github.com/stackvars/stackvars/pkg/dwarf/leb128"
	"github.com/stackvars/stackvars/pkg/dwarf/op"
)

// LocEntry represents one entry of a location list.
// Lowpc and Highpc are absolute addresses. An entry with Default set is
// written as DW_LLE_default_location and is only valid in debug_loclists.
type LocEntry struct {
	Lowpc   uint64
	Highpc  uint64
	Loc     []byte
	Default bool
}

const (
	lleEndOfList      = 0x00
	lleDefaultLoc     = 0x05
	lleBaseAddress    = 0x06
	lleOffsetPair     = 0x04
	loclistsHeaderLen = 12
)

// writeLoc appends a list to debug_loc and returns its offset.
func (b *Builder) writeLoc(x []LocEntry) int {
	off := b.loc.Len()

	// base address
	binary.Write(&b.loc, binary.LittleEndian, ^uint64(0))
	binary.Write(&b.loc, binary.LittleEndian, uint64(0))

	for _, locentry := range x {
		binary.Write(&b.loc, binary.LittleEndian, uint64(locentry.Lowpc))
		binary.Write(&b.loc, binary.LittleEndian, uint64(locentry.Highpc))
		binary.Write(&b.loc, binary.LittleEndian, uint16(len(locentry.Loc)))
		b.loc.Write(locentry.Loc)
	}

	// end of loclist
	binary.Write(&b.loc, binary.LittleEndian, uint64(0))
	binary.Write(&b.loc, binary.LittleEndian, uint64(0))
	return off
}

// writeLoclists appends a list to debug_loclists and returns its offset.
// The first entry selects base address zero, the following ones are
// written as offset pairs.
func (b *Builder) writeLoclists(x []LocEntry) int {
	if b.loclists.Len() == 0 {
		b.loclists.Write([]byte{
			0x0, 0x0, 0x0, 0x0, // unit_length
			0x5, 0x0, // version
			0x8,                // address_size
			0x0,                // segment_selector_size
			0x0, 0x0, 0x0, 0x0, // offset_entry_count
		})
	}
	off := b.loclists.Len()

	b.loclists.WriteByte(lleBaseAddress)
	binary.Write(&b.loclists, binary.LittleEndian, uint64(0))

	for _, locentry := range x {
		if locentry.Default {
			b.loclists.WriteByte(lleDefaultLoc)
		} else {
			b.loclists.WriteByte(lleOffsetPair)
			leb128.EncodeUnsigned(&b.loclists, locentry.Lowpc)
			leb128.EncodeUnsigned(&b.loclists, locentry.Highpc)
		}
		leb128.EncodeUnsigned(&b.loclists, uint64(len(locentry.Loc)))
		b.loclists.Write(locentry.Loc)
	}

	b.loclists.WriteByte(lleEndOfList)
	return off
}

// LocationBlock returns a DWARF expression corresponding to the list of
// arguments.
func LocationBlock(args ...interface{}) []byte {
	var buf bytes.Buffer
	for _, arg := range args {
		switch x := arg.(type) {
		case op.Opcode:
			buf.WriteByte(byte(x))
		case int:
			leb128.EncodeSigned(&buf, int64(x))
		case uint:
			leb128.EncodeUnsigned(&buf, uint64(x))
		default:
			panic("unsupported value type")
		}
	}
	return buf.Bytes()
}

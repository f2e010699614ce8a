package loclist

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/stackvars/stackvars/pkg/dwarf/godwarf"
	"github.com/stackvars/stackvars/pkg/dwarf/leb128"
	"github.com/stackvars/stackvars/pkg/dwarf/util"
)

// Dwarf5Reader parses and presents DWARF loclist information for DWARF version 5 and later.
// See DWARFv5 section 7.29 page 243 and following.
type Dwarf5Reader struct {
	byteOrder binary.ByteOrder
	ptrSz     int
	dwarf64   bool
	data      []byte
}

// NewDwarf5Reader returns a reader for the debug_loclists section in
// data, nil if data is empty or too short to hold a header.
func NewDwarf5Reader(data []byte) *Dwarf5Reader {
	if len(data) < 12 {
		return nil
	}
	r := &Dwarf5Reader{data: data}

	_, dwarf64, _, byteOrder := util.ReadDwarfLengthVersion(data)
	r.byteOrder = byteOrder
	r.dwarf64 = dwarf64

	data = data[6:]
	if dwarf64 {
		if len(data) < 8+2 {
			return nil
		}
		data = data[8:]
	}

	addrSz := data[0]
	segSelSz := data[1]
	r.ptrSz = int(addrSz + segSelSz)

	// Not read:
	// - offset_entry_count (4 bytes)
	// - offset table, read by Offset

	return r
}

func (rdr *Dwarf5Reader) Empty() bool {
	return rdr == nil
}

// Offset returns the offset of the idx-th list of the offset table
// starting at loclistsBase (the DW_AT_loclists_base of the compile unit),
// as used by DW_FORM_loclistx.
func (rdr *Dwarf5Reader) Offset(loclistsBase, idx uint64) (int, error) {
	offSz := uint64(4)
	if rdr.dwarf64 {
		offSz = 8
	}
	pos := loclistsBase + idx*offSz
	if pos+offSz > uint64(len(rdr.data)) {
		return 0, fmt.Errorf("loclist index %d: %w", idx, ErrMalformed)
	}
	var off uint64
	if rdr.dwarf64 {
		off = rdr.byteOrder.Uint64(rdr.data[pos:])
	} else {
		off = uint64(rdr.byteOrder.Uint32(rdr.data[pos:]))
	}
	return int(loclistsBase + off), nil
}

// Entries returns the bounded entries of the list starting at off and its
// default location. Base is the base address of the compile unit.
func (rdr *Dwarf5Reader) Entries(off int, base uint64, debugAddr *godwarf.DebugAddr) ([]Entry, []byte, error) {
	if off < 0 || off >= len(rdr.data) {
		return nil, nil, fmt.Errorf("offset %#x outside debug_loclists: %w", off, ErrMalformed)
	}
	it := &loclistsIterator{rdr: rdr, debugAddr: debugAddr, buf: bytes.NewBuffer(rdr.data), base: base}
	it.buf.Next(off)

	var r []Entry
	for it.next() {
		if !it.onRange {
			continue
		}
		r = append(r, Entry{it.start, it.end, it.instr})
	}

	if it.err != nil {
		return nil, nil, fmt.Errorf("debug_loclists list at %#x: %w", off, it.err)
	}

	return r, it.defaultInstr, nil
}

type loclistsIterator struct {
	rdr       *Dwarf5Reader
	debugAddr *godwarf.DebugAddr
	buf       *bytes.Buffer
	base      uint64 // base for offsets in the list

	onRange      bool
	atEnd        bool
	start, end   uint64
	instr        []byte
	defaultInstr []byte
	err          error
}

const (
	_DW_LLE_end_of_list      uint8 = 0x0
	_DW_LLE_base_addressx    uint8 = 0x1
	_DW_LLE_startx_endx      uint8 = 0x2
	_DW_LLE_startx_length    uint8 = 0x3
	_DW_LLE_offset_pair      uint8 = 0x4
	_DW_LLE_default_location uint8 = 0x5
	_DW_LLE_base_address     uint8 = 0x6
	_DW_LLE_start_end        uint8 = 0x7
	_DW_LLE_start_length     uint8 = 0x8
)

func (it *loclistsIterator) next() bool {
	if it.err != nil || it.atEnd {
		return false
	}
	opcode, err := it.buf.ReadByte()
	if err != nil {
		it.err = fmt.Errorf("missing DW_LLE_end_of_list: %w", ErrMalformed)
		return false
	}
	switch opcode {
	case _DW_LLE_end_of_list:
		it.atEnd = true
		it.onRange = false
		return false

	case _DW_LLE_base_addressx:
		baseIdx := it.uleb()
		if it.err == nil {
			it.base, it.err = it.debugAddr.Get(baseIdx)
		}
		it.onRange = false

	case _DW_LLE_startx_endx:
		startIdx := it.uleb()
		endIdx := it.uleb()
		it.readInstr()

		if it.err == nil {
			it.start, it.err = it.debugAddr.Get(startIdx)
		}
		if it.err == nil {
			it.end, it.err = it.debugAddr.Get(endIdx)
		}
		it.onRange = true

	case _DW_LLE_startx_length:
		startIdx := it.uleb()
		length := it.uleb()
		it.readInstr()

		if it.err == nil {
			it.start, it.err = it.debugAddr.Get(startIdx)
		}
		it.end = it.start + length
		it.onRange = true

	case _DW_LLE_offset_pair:
		off1 := it.uleb()
		off2 := it.uleb()
		it.readInstr()

		it.start = it.base + off1
		it.end = it.base + off2
		it.onRange = true

	case _DW_LLE_default_location:
		it.readInstr()
		it.defaultInstr = it.instr
		it.onRange = false

	case _DW_LLE_base_address:
		it.base = it.addr()
		it.onRange = false

	case _DW_LLE_start_end:
		it.start = it.addr()
		it.end = it.addr()
		it.readInstr()
		it.onRange = true

	case _DW_LLE_start_length:
		it.start = it.addr()
		length := it.uleb()
		it.readInstr()
		it.end = it.start + length
		it.onRange = true

	default:
		it.err = fmt.Errorf("unknown opcode %#x at %#x: %w", opcode, len(it.rdr.data)-it.buf.Len()-1, ErrMalformed)
		it.onRange = false
		it.atEnd = true
		return false
	}

	return it.err == nil
}

func (it *loclistsIterator) uleb() uint64 {
	if it.err != nil {
		return 0
	}
	n, _, err := leb128.DecodeUnsigned(it.buf)
	if err != nil {
		it.err = fmt.Errorf("truncated entry: %w", ErrMalformed)
	}
	return n
}

func (it *loclistsIterator) addr() uint64 {
	if it.err != nil {
		return 0
	}
	n, err := util.ReadUintRaw(it.buf, it.rdr.byteOrder, it.rdr.ptrSz)
	if err != nil {
		it.err = fmt.Errorf("truncated entry: %w", ErrMalformed)
	}
	return n
}

func (it *loclistsIterator) readInstr() {
	length := it.uleb()
	if it.err != nil {
		return
	}
	if uint64(it.buf.Len()) < length {
		it.err = fmt.Errorf("truncated expression: %w", ErrMalformed)
		return
	}
	it.instr = it.buf.Next(int(length))
}

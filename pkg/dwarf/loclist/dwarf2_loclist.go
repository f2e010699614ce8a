package loclist

import (
	"encoding/binary"
	"fmt"

	"github.com/stackvars/stackvars/pkg/dwarf/godwarf"
)

// Dwarf2Reader parses and presents DWARF loclist information for DWARF versions 2 through 4.
type Dwarf2Reader struct {
	data  []byte
	cur   int
	ptrSz int
	order binary.ByteOrder
	err   error
}

// NewDwarf2Reader returns an initialized loclist Reader for DWARF versions 2 through 4.
func NewDwarf2Reader(data []byte, ptrSz int, order binary.ByteOrder) *Dwarf2Reader {
	return &Dwarf2Reader{data: data, ptrSz: ptrSz, order: order}
}

// Empty returns true if this reader has no data.
func (rdr *Dwarf2Reader) Empty() bool {
	return rdr.data == nil
}

// Seek moves the data pointer to the specified offset.
func (rdr *Dwarf2Reader) Seek(off int) {
	rdr.cur = off
	rdr.err = nil
}

// Next advances the reader to the next loclist entry, returning
// the entry and true if successful, or nil, false if not.
// Err reports why Next returned false, nil at the end of the list.
func (rdr *Dwarf2Reader) Next(e *Entry) bool {
	e.LowPC = rdr.oneAddr()
	e.HighPC = rdr.oneAddr()

	if rdr.err != nil {
		return false
	}

	if e.LowPC == 0 && e.HighPC == 0 {
		return false
	}

	if e.BaseAddressSelection() {
		e.Instr = nil
		return true
	}

	lenbuf := rdr.read(2)
	if rdr.err != nil {
		return false
	}
	instrlen := rdr.order.Uint16(lenbuf)
	e.Instr = rdr.read(int(instrlen))
	return rdr.err == nil
}

// Err returns the error that stopped Next.
func (rdr *Dwarf2Reader) Err() error {
	return rdr.err
}

// Entries returns the entries of the loclist starting at off. Base is the
// base address of the compile unit, base address selection entries
// change it for the following entries. There is no default location
// before DWARFv5 and debugAddr is not used.
func (rdr *Dwarf2Reader) Entries(off int, base uint64, debugAddr *godwarf.DebugAddr) ([]Entry, []byte, error) {
	if off < 0 || off >= len(rdr.data) {
		return nil, nil, fmt.Errorf("offset %#x outside debug_loc: %w", off, ErrMalformed)
	}
	rdr.Seek(off)
	var r []Entry
	var e Entry
	for rdr.Next(&e) {
		if e.BaseAddressSelection() {
			base = e.HighPC
			continue
		}
		r = append(r, Entry{LowPC: e.LowPC + base, HighPC: e.HighPC + base, Instr: e.Instr})
	}
	if rdr.err != nil {
		return nil, nil, fmt.Errorf("debug_loc list at %#x: %w", off, rdr.err)
	}
	return r, nil, nil
}

func (rdr *Dwarf2Reader) read(sz int) []byte {
	if rdr.err != nil {
		return nil
	}
	if rdr.cur+sz > len(rdr.data) {
		rdr.err = fmt.Errorf("truncated entry at %#x: %w", rdr.cur, ErrMalformed)
		return nil
	}
	r := rdr.data[rdr.cur : rdr.cur+sz]
	rdr.cur += sz
	return r
}

func (rdr *Dwarf2Reader) oneAddr() uint64 {
	switch rdr.ptrSz {
	case 4:
		buf := rdr.read(rdr.ptrSz)
		if buf == nil {
			return 0
		}
		addr := rdr.order.Uint32(buf)
		if addr == ^uint32(0) {
			return ^uint64(0)
		}
		return uint64(addr)
	case 8:
		buf := rdr.read(rdr.ptrSz)
		if buf == nil {
			return 0
		}
		return rdr.order.Uint64(buf)
	default:
		if rdr.err == nil {
			rdr.err = fmt.Errorf("bad address size %d: %w", rdr.ptrSz, ErrMalformed)
		}
		return 0
	}
}

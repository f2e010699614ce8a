package loclist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stackvars/stackvars/pkg/dwarf/leb128"
)

func TestLoclist5(t *testing.T) {
	buf := new(bytes.Buffer)

	p32 := func(n uint32) { binary.Write(buf, binary.LittleEndian, n) }
	p16 := func(n uint16) { binary.Write(buf, binary.LittleEndian, n) }
	p8 := func(n uint8) { binary.Write(buf, binary.LittleEndian, n) }
	uleb := func(n uint64) { leb128.EncodeUnsigned(buf, n) }

	p32(0x0) // length (use 0 because it is ignored)
	p16(0x5) // version
	p8(4)    // address size
	p8(0)    // segment selector size
	p32(0)   // offset_entry_count

	off := buf.Len()

	// (offset) start_base+0x10200 .. start_base+0x10300: 0x2
	p8(_DW_LLE_offset_pair)
	uleb(0x10200)
	uleb(0x10300)
	uleb(4)
	p32(2)

	// base address -> 0x02000000
	p8(_DW_LLE_base_address)
	p32(0x02000000)

	// (offset) 0x02010400 .. 0x02010500: 3
	p8(_DW_LLE_offset_pair)
	uleb(0x10400)
	uleb(0x10500)
	uleb(4)
	p32(3)

	// (offset) 0x02010600 .. 0x02010600: 4
	p8(_DW_LLE_offset_pair)
	uleb(0x10600)
	uleb(0x10600)
	uleb(4)
	p32(4)

	// (offset) 0x02010800 .. 0x02010900: 5
	p8(_DW_LLE_offset_pair)
	uleb(0x10800)
	uleb(0x10900)
	uleb(4)
	p32(5)

	// (start end) 0x2010a00 .. 0x2010b00: 6
	p8(_DW_LLE_start_end)
	p32(0x2010a00)
	p32(0x2010b00)
	uleb(4)
	p32(6)

	// (start length) 0x2010c00 .. 0x2010d00: 7
	p8(_DW_LLE_start_length)
	p32(0x2010c00)
	uleb(0x100)
	uleb(4)
	p32(7)

	// (offset) 0x02000000 .. 0x02000001: 8
	p8(_DW_LLE_offset_pair)
	uleb(0)
	uleb(1)
	uleb(4)
	p32(8)

	// default location 10
	p8(_DW_LLE_default_location)
	uleb(4)
	p32(10)

	// loclist end
	p8(_DW_LLE_end_of_list)

	tgt := []Entry{
		{0x01010200, 0x01010300, []byte{2, 0, 0, 0}}, // offset pair entry
		{0x02010400, 0x02010500, []byte{3, 0, 0, 0}}, // offset pair entry, after base address selection
		{0x02010600, 0x02010600, []byte{4, 0, 0, 0}}, // empty offset pair entry
		{0x02010800, 0x02010900, []byte{5, 0, 0, 0}}, // offset pair entry after empty offset pair
		{0x02010a00, 0x02010b00, []byte{6, 0, 0, 0}}, // start end entry
		{0x02010c00, 0x02010d00, []byte{7, 0, 0, 0}}, // start length entry
		{0x02000000, 0x02000001, []byte{8, 0, 0, 0}}, // out of order offset pair entry
	}

	ll := NewDwarf5Reader(buf.Bytes())

	out, dflt, err := ll.Entries(off, 0x01000000, nil)
	if err != nil {
		t.Fatalf("error returned: %v", err)
	}
	if !bytes.Equal(dflt, []byte{10, 0, 0, 0}) {
		t.Errorf("wrong default location %#v", dflt)
	}
	if len(out) != len(tgt) {
		t.Fatalf("wrong number of entries, expected %d got %d: %#v", len(tgt), len(out), out)
	}
	for i := range tgt {
		e := out[i]
		if e.LowPC != tgt[i].LowPC || e.HighPC != tgt[i].HighPC || !bytes.Equal(e.Instr, tgt[i].Instr) {
			t.Errorf("output mismatch for entry %d,\nexpected %#v,\ngot     %#v", i, tgt[i], e)
		}
	}
}

func TestLoclist5Truncated(t *testing.T) {
	buf := new(bytes.Buffer)
	buf.Write([]byte{0, 0, 0, 0, 5, 0, 8, 0, 0, 0, 0, 0})
	off := buf.Len()
	buf.WriteByte(_DW_LLE_offset_pair)
	leb128.EncodeUnsigned(buf, 0x10)
	leb128.EncodeUnsigned(buf, 0x20)
	leb128.EncodeUnsigned(buf, 8) // longer than the rest of the section
	buf.WriteByte(0x91)

	ll := NewDwarf5Reader(buf.Bytes())
	_, _, err := ll.Entries(off, 0, nil)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}

	buf.Truncate(off)
	buf.WriteByte(0x42)
	ll = NewDwarf5Reader(buf.Bytes())
	if _, _, err := ll.Entries(off, 0, nil); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for unknown opcode, got %v", err)
	}
}

func TestLoclist5Offset(t *testing.T) {
	buf := new(bytes.Buffer)
	p32 := func(n uint32) { binary.Write(buf, binary.LittleEndian, n) }

	p32(0)                              // length
	buf.Write([]byte{5, 0, 8, 0})       // version, address size, segment selector size
	p32(2)                              // offset_entry_count
	base := uint64(buf.Len())           // DW_AT_loclists_base
	p32(8)                              // list 0
	p32(10)                             // list 1
	buf.Write([]byte{_DW_LLE_end_of_list, 0})
	buf.Write([]byte{_DW_LLE_default_location, 1, 0x9c, _DW_LLE_end_of_list})

	ll := NewDwarf5Reader(buf.Bytes())
	off, err := ll.Offset(base, 1)
	if err != nil {
		t.Fatal(err)
	}
	if off != int(base)+10 {
		t.Fatalf("wrong offset %#x", off)
	}
	entries, dflt, err := ll.Entries(off, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 || !bytes.Equal(dflt, []byte{0x9c}) {
		t.Fatalf("unexpected list %#v %#v", entries, dflt)
	}
	if _, err := ll.Offset(base, 5); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for out of range index, got %v", err)
	}
}

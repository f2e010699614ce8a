// Package dwarfbuilder provides a way to build DWARF sections with
// arbitrary contents.
package dwarfbuilder

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
	"fmt"
)

// DW_LANG_C99, used as the language of every compile unit.
const langC99 = 0x0c

// Builder dwarf builder
type Builder struct {
	version  uint16
	info     bytes.Buffer
	loc      bytes.Buffer
	loclists bytes.Buffer
	abbrevs  []tagDescr
	tagStack []*tagState
	unitOff  int // offset of the header of the open unit, -1 if none
}

// New creates a new DWARF builder producing version 4 compile units.
func New() *Builder {
	return NewVersion(4)
}

// NewVersion creates a new DWARF builder producing compile units of the
// given version, which must be 3, 4 or 5. Location lists go to debug_loc for versions before 5 and
// to debug_loclists for version 5.
func NewVersion(version uint16) *Builder {
	return &Builder{version: version, unitOff: -1}
}

// AddCompileUnit closes the currently open compile unit, if any, and
// starts a new one. It returns the offset of the unit header.
// An empty compDir omits DW_AT_comp_dir.
func (b *Builder) AddCompileUnit(name, compDir string) dwarf.Offset {
	if b.unitOff >= 0 {
		b.closeUnit()
	}
	b.unitOff = b.info.Len()
	if b.version >= 5 {
		b.info.Write([]byte{
			0x0, 0x0, 0x0, 0x0, // length
			byte(b.version), 0x0, // version
			0x1,                // unit_type (DW_UT_compile)
			0x8,                // address_size
			0x0, 0x0, 0x0, 0x0, // debug_abbrev_offset
		})
	} else {
		b.info.Write([]byte{
			0x0, 0x0, 0x0, 0x0, // length
			byte(b.version), 0x0, // version
			0x0, 0x0, 0x0, 0x0, // debug_abbrev_offset
			0x8, // address_size
		})
	}

	b.TagOpen(dwarf.TagCompileUnit, name)
	b.Attr(dwarf.AttrLanguage, uint8(langC99))
	if compDir != "" {
		b.Attr(dwarf.AttrCompDir, compDir)
	}
	return dwarf.Offset(b.unitOff)
}

func (b *Builder) closeUnit() {
	for len(b.tagStack) > 0 {
		b.TagClose()
	}
	info := b.info.Bytes()
	binary.LittleEndian.PutUint32(info[b.unitOff:], uint32(len(info)-b.unitOff-4))
	b.unitOff = -1
}

// Build closes b and returns all the dwarf sections.
func (b *Builder) Build() (abbrev, aranges, frame, info, line, pubnames, ranges, str, loc []byte, err error) {
	if b.unitOff < 0 {
		err = fmt.Errorf("no compile unit")
		return
	}
	if len(b.tagStack) != 1 {
		err = fmt.Errorf("unbalanced TagOpen/TagClose %d", len(b.tagStack)-1)
		return
	}
	b.closeUnit()

	abbrev = b.makeAbbrevTable()
	info = b.info.Bytes()
	loc = b.loc.Bytes()

	return
}

// Loclists returns the contents of debug_loclists, it must be called
// after Build.
func (b *Builder) Loclists() []byte {
	if b.loclists.Len() == 0 {
		return nil
	}
	r := b.loclists.Bytes()
	binary.LittleEndian.PutUint32(r, uint32(len(r)-4))
	return r
}

// Data builds b and loads the result with debug/dwarf.
func (b *Builder) Data() (*dwarf.Data, error) {
	abbrev, aranges, frame, info, line, pubnames, ranges, str, _, err := b.Build()
	if err != nil {
		return nil, err
	}
	return dwarf.New(abbrev, aranges, frame, info, line, pubnames, ranges, str)
}

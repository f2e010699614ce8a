// Package bininfo opens executables and object files and gives access to
// the DWARF sections stackvars reads.
package bininfo

import (
	"debug/dwarf"
	"debug/elf"
	"debug/macho"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/stackvars/stackvars/pkg/dwarf/godwarf"
	"github.com/stackvars/stackvars/pkg/location"
	"github.com/stackvars/stackvars/pkg/logflags"
)

// ErrUnsupportedFormat is returned by Open for files that are not ELF,
// Mach-O or PE.
var ErrUnsupportedFormat = errors.New("unsupported executable format")

// ErrNoDebugInfoFound is returned by Open for files without debug_info.
var ErrNoDebugInfoFound = errors.New("could not find debug_info section")

// Image is a binary loaded for extraction. It is read only after Open or
// LoadImageFromData return.
type Image struct {
	Path    string
	Dwarf   *dwarf.Data
	Units   []godwarf.UnitHeader // sorted by offset
	PtrSize int
	// ByteOrder is the byte order of the target, used for the fixed size
	// operands of location expressions and for debug_loc.
	ByteOrder binary.ByteOrder

	// Loc resolves location attributes against the location sections of
	// the image.
	Loc *location.Resolver

	closer io.Closer
}

// sections holds the raw contents of the sections decoded outside of
// debug/dwarf.
type sections struct {
	info, loc, loclists, addr []byte
}

// Open opens the ELF, Mach-O or PE file at path and loads its debug
// information.
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	img, err := loadFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img.Path = path
	img.closer = f
	return img, nil
}

func loadFile(f io.ReaderAt) (*Image, error) {
	if ef, err := elf.NewFile(f); err == nil {
		return loadElf(ef)
	}
	if mf, err := macho.NewFile(f); err == nil {
		return loadMacho(mf)
	}
	if pf, err := pe.NewFile(f); err == nil {
		return loadPE(pf)
	}
	return nil, ErrUnsupportedFormat
}

func loadElf(f *elf.File) (*Image, error) {
	dw, err := f.DWARF()
	if err != nil {
		return nil, err
	}
	secs, err := readSections(func(name string) ([]byte, error) { return godwarf.DebugSectionElf(f, name) }, ".debug_")
	if err != nil {
		return nil, err
	}
	ptrSize := 8
	if f.Class == elf.ELFCLASS32 {
		ptrSize = 4
	}
	return newImage(dw, secs, ptrSize, f.ByteOrder)
}

func loadMacho(f *macho.File) (*Image, error) {
	dw, err := f.DWARF()
	if err != nil {
		return nil, err
	}
	secs, err := readSections(func(name string) ([]byte, error) { return godwarf.DebugSectionMacho(f, name) }, "__debug_")
	if err != nil {
		return nil, err
	}
	ptrSize := 8
	if f.Magic == macho.Magic32 {
		ptrSize = 4
	}
	return newImage(dw, secs, ptrSize, f.ByteOrder)
}

func loadPE(f *pe.File) (*Image, error) {
	dw, err := f.DWARF()
	if err != nil {
		return nil, err
	}
	secs, err := readSections(func(name string) ([]byte, error) { return godwarf.DebugSectionPE(f, name) }, ".debug_")
	if err != nil {
		return nil, err
	}
	ptrSize := 8
	if _, ok := f.OptionalHeader.(*pe.OptionalHeader32); ok {
		ptrSize = 4
	}
	return newImage(dw, secs, ptrSize, binary.LittleEndian)
}

func readSections(get func(name string) ([]byte, error), prefix string) (sections, error) {
	var secs sections
	for _, s := range []struct {
		name string
		dst  *[]byte
	}{
		{"info", &secs.info}, {"loc", &secs.loc}, {"loclists", &secs.loclists}, {"addr", &secs.addr},
	} {
		var err error
		if *s.dst, err = get(s.name); err != nil {
			return secs, fmt.Errorf("could not read %s%s: %w", prefix, s.name, err)
		}
	}
	return secs, nil
}

// LoadImageFromData builds an image from DWARF data and the raw contents
// of its debug_info, debug_loc, debug_loclists and debug_addr sections.
// The last three can be nil.
func LoadImageFromData(dw *dwarf.Data, info, loc, loclists, addr []byte, ptrSize int, order binary.ByteOrder) (*Image, error) {
	return newImage(dw, sections{info: info, loc: loc, loclists: loclists, addr: addr}, ptrSize, order)
}

func newImage(dw *dwarf.Data, secs sections, ptrSize int, order binary.ByteOrder) (*Image, error) {
	if len(secs.info) == 0 {
		return nil, ErrNoDebugInfoFound
	}
	units, err := godwarf.ParseUnitHeaders(secs.info)
	if err != nil {
		return nil, fmt.Errorf("malformed debug_info: %w", err)
	}
	logflags.UnitsLogger().Debugf("%d units, pointer size %d, %v", len(units), ptrSize, order)
	return &Image{
		Dwarf:     dw,
		Units:     units,
		PtrSize:   ptrSize,
		ByteOrder: order,
		Loc:       location.New(secs.loc, secs.loclists, secs.addr, ptrSize, order),
	}, nil
}

// UnitHeader returns the header of the unit containing off.
func (img *Image) UnitHeader(off dwarf.Offset) (*godwarf.UnitHeader, bool) {
	i := sort.Search(len(img.Units), func(i int) bool {
		return img.Units[i].Offset > off
	})
	if i == 0 {
		return nil, false
	}
	h := &img.Units[i-1]
	if !h.Contains(off) {
		return nil, false
	}
	return h, true
}

// Close releases the file backing img, if any.
func (img *Image) Close() error {
	if img.closer != nil {
		return img.closer.Close()
	}
	return nil
}

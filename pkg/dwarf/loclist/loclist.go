// Package loclist decodes DWARF location lists: debug_loc for DWARF
// versions 2 through 4 and debug_loclists for DWARF version 5.
package loclist

import (
	"errors"

	"github.com/stackvars/stackvars/pkg/dwarf/godwarf"
)

// ErrMalformed is returned, wrapped, when a location list can not be
// decoded.
var ErrMalformed = errors.New("malformed location list")

// Reader represents a loclist reader.
type Reader interface {
	// Entries returns every range entry of the list starting at off, with
	// absolute addresses, in the order they appear. Base is the base
	// address of the compile unit. The second return value is the
	// default location of the list, nil if it has none.
	Entries(off int, base uint64, debugAddr *godwarf.DebugAddr) ([]Entry, []byte, error)
	Empty() bool
}

// Entry represents a single entry in the loclist section.
type Entry struct {
	LowPC, HighPC uint64
	Instr         []byte
}

// BaseAddressSelection returns true if entry.highpc should
// be used as the base address for subsequent entries.
func (e *Entry) BaseAddressSelection() bool {
	return e.LowPC == ^uint64(0)
}

// Package location turns the DW_AT_location and DW_AT_frame_base
// attributes of a debug entry into a list of location expressions, each
// valid over an address range of the enclosing function.
// Expressions are decoded, never evaluated.
package location

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/stackvars/stackvars/pkg/dwarf/godwarf"
	"github.com/stackvars/stackvars/pkg/dwarf/loclist"
	"github.com/stackvars/stackvars/pkg/dwarf/op"
)

// Unit carries the attributes of a compile unit that location list
// decoding depends on.
type Unit struct {
	Version      int
	LowPC        uint64 // base address for debug_loc and DW_LLE_offset_pair
	AddrBase     uint64 // DW_AT_addr_base
	LoclistsBase uint64 // DW_AT_loclists_base
}

// List is a location list. Entries are ordered by start address and lie
// inside the range the list was resolved for.
type List []loclist.Entry

// Format returns a one line description of l, decoding operands with
// the given pointer size and byte order.
func (l List) Format(ptrSize int, order binary.ByteOrder) string {
	var buf bytes.Buffer
	for i, e := range l {
		if i > 0 {
			buf.WriteString("; ")
		}
		fmt.Fprintf(&buf, "[%#x, %#x) ", e.LowPC, e.HighPC)
		op.PrettyPrint(&buf, e.Instr, ptrSize, order)
	}
	return buf.String()
}

// Resolver decodes location descriptions using the location sections of
// one image. A Resolver is never modified after New and can be shared.
type Resolver struct {
	debugLoc      []byte
	debugLoclists *loclist.Dwarf5Reader
	debugAddr     *godwarf.DebugAddrSection
	ptrSize       int
	order         binary.ByteOrder
}

// New returns a Resolver for the given debug_loc, debug_loclists and
// debug_addr sections, any of which can be nil. Order is the byte order
// of the image.
func New(debugLoc, debugLoclists, debugAddr []byte, ptrSize int, order binary.ByteOrder) *Resolver {
	return &Resolver{
		debugLoc:      debugLoc,
		debugLoclists: loclist.NewDwarf5Reader(debugLoclists),
		debugAddr:     godwarf.ParseAddr(debugAddr),
		ptrSize:       ptrSize,
		order:         order,
	}
}

// PtrSize returns the pointer size of the image.
func (r *Resolver) PtrSize() int {
	return r.ptrSize
}

// ByteOrder returns the byte order of the image.
func (r *Resolver) ByteOrder() binary.ByteOrder {
	return r.order
}

// Resolve returns the location list described by f, restricted to the
// function range rng. A nil field, an empty expression or a list with no
// entry overlapping rng produce an empty list. Location list data that
// can not be decoded is an error.
func (r *Resolver) Resolve(f *dwarf.Field, u Unit, rng [2]uint64) (List, error) {
	if f == nil || rng[0] >= rng[1] {
		return nil, nil
	}

	var entries []loclist.Entry
	var dflt []byte
	var err error

	switch f.Class {
	case dwarf.ClassExprLoc, dwarf.ClassBlock:
		instr, _ := f.Val.([]byte)
		if len(instr) == 0 {
			return nil, nil
		}
		return List{{LowPC: rng[0], HighPC: rng[1], Instr: instr}}, nil

	case dwarf.ClassLocListPtr:
		off, ok := f.Val.(int64)
		if !ok {
			return nil, fmt.Errorf("location list offset of type %T: %w", f.Val, loclist.ErrMalformed)
		}
		entries, dflt, err = r.entries(int(off), u)

	case dwarf.ClassLocList:
		idx, ok := f.Val.(uint64)
		if !ok {
			return nil, fmt.Errorf("location list index of type %T: %w", f.Val, loclist.ErrMalformed)
		}
		if r.debugLoclists.Empty() {
			return nil, fmt.Errorf("loclistx without debug_loclists: %w", loclist.ErrMalformed)
		}
		off, err := r.debugLoclists.Offset(u.LoclistsBase, idx)
		if err != nil {
			return nil, err
		}
		entries, dflt, err = r.debugLoclists.Entries(off, u.LowPC, r.debugAddr.GetSubsection(u.AddrBase))
		if err != nil {
			return nil, err
		}

	default:
		return nil, nil
	}

	if err != nil {
		return nil, err
	}
	return clip(entries, dflt, rng), nil
}

func (r *Resolver) entries(off int, u Unit) ([]loclist.Entry, []byte, error) {
	if u.Version >= 5 {
		if r.debugLoclists.Empty() {
			return nil, nil, fmt.Errorf("location list at %#x without debug_loclists: %w", off, loclist.ErrMalformed)
		}
		return r.debugLoclists.Entries(off, u.LowPC, r.debugAddr.GetSubsection(u.AddrBase))
	}
	if len(r.debugLoc) == 0 {
		return nil, nil, fmt.Errorf("location list at %#x without debug_loc: %w", off, loclist.ErrMalformed)
	}
	return loclist.NewDwarf2Reader(r.debugLoc, r.ptrSize, r.order).Entries(off, u.LowPC, nil)
}

// clip restricts entries to rng, drops empty ranges and expressions, and
// covers the parts of rng no entry covers with dflt.
func clip(entries []loclist.Entry, dflt []byte, rng [2]uint64) List {
	var r List
	for _, e := range entries {
		if len(e.Instr) == 0 {
			continue
		}
		lo, hi := e.LowPC, e.HighPC
		if lo < rng[0] {
			lo = rng[0]
		}
		if hi > rng[1] {
			hi = rng[1]
		}
		if lo >= hi {
			continue
		}
		r = append(r, loclist.Entry{LowPC: lo, HighPC: hi, Instr: e.Instr})
	}
	sort.SliceStable(r, func(i, j int) bool { return r[i].LowPC < r[j].LowPC })

	if len(dflt) == 0 {
		return r
	}

	var gaps List
	cur := rng[0]
	for _, e := range r {
		if e.LowPC > cur {
			gaps = append(gaps, loclist.Entry{LowPC: cur, HighPC: e.LowPC, Instr: dflt})
		}
		if e.HighPC > cur {
			cur = e.HighPC
		}
	}
	if cur < rng[1] {
		gaps = append(gaps, loclist.Entry{LowPC: cur, HighPC: rng[1], Instr: dflt})
	}
	if len(gaps) == 0 {
		return r
	}
	r = append(r, gaps...)
	sort.SliceStable(r, func(i, j int) bool { return r[i].LowPC < r[j].LowPC })
	return r
}

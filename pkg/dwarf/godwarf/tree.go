package godwarf

import (
	"debug/dwarf"
)

// Entry represents a debug_info entry.
// When calling Val, if the entry does not have the specified attribute, the
// entry specified by DW_AT_abstract_origin will be searched recursively.
type Entry interface {
	Val(dwarf.Attr) interface{}
	AttrField(dwarf.Attr) *dwarf.Field
}

type compositeEntry []*dwarf.Entry

func (ce compositeEntry) Val(attr dwarf.Attr) interface{} {
	if f := ce.AttrField(attr); f != nil {
		return f.Val
	}
	return nil
}

func (ce compositeEntry) AttrField(attr dwarf.Attr) *dwarf.Field {
	for _, e := range ce {
		if f := e.AttrField(attr); f != nil {
			return f
		}
	}
	return nil
}

// LoadAbstractOrigin loads the entry corresponding to the
// DW_AT_abstract_origin of entry and returns a combination of entry and its
// abstract origin.
func LoadAbstractOrigin(entry *dwarf.Entry, aordr *dwarf.Reader) (Entry, dwarf.Offset) {
	ao, ok := entry.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset)
	if !ok {
		return entry, entry.Offset
	}

	r := []*dwarf.Entry{entry}
	seen := map[dwarf.Offset]bool{entry.Offset: true}

	for !seen[ao] {
		seen[ao] = true
		aordr.Seek(ao)
		e, _ := aordr.Next()
		if e == nil {
			break
		}
		r = append(r, e)

		ao, ok = e.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset)
		if !ok {
			break
		}
	}

	return compositeEntry(r), entry.Offset
}

// Tree represents a tree of dwarf objects.
// The tree follows ownership (a DIE and the DIEs nested inside it), references
// between entries are left as offsets.
type Tree struct {
	Entry
	Tag      dwarf.Tag
	Offset   dwarf.Offset
	Children []*Tree
}

// LoadTree returns the tree of DIE rooted at offset 'off'.
// Abstract origins are automatically loaded, if present.
func LoadTree(off dwarf.Offset, dw *dwarf.Data) (*Tree, error) {
	rdr := dw.Reader()
	rdr.Seek(off)

	e, err := rdr.Next()
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, dwarf.DecodeError{Name: "info", Offset: off, Err: "no entry at offset"}
	}
	r := EntryToTree(e)
	r.Children, err = LoadTreeChildren(e, rdr)
	if err != nil {
		return nil, err
	}

	r.ResolveAbstractEntries(dw.Reader())

	return r, nil
}

// EntryToTree converts a single entry, without children to a *Tree object
func EntryToTree(entry *dwarf.Entry) *Tree {
	return &Tree{Entry: entry, Offset: entry.Offset, Tag: entry.Tag}
}

// LoadTreeChildren reads the children of e, which must be the last entry
// returned by rdr. On return rdr is positioned after the null entry
// terminating e's children.
func LoadTreeChildren(e *dwarf.Entry, rdr *dwarf.Reader) ([]*Tree, error) {
	if !e.Children {
		return nil, nil
	}
	children := []*Tree{}
	for {
		e, err := rdr.Next()
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, dwarf.DecodeError{Name: "info", Err: "unterminated list of children"}
		}
		if e.Tag == 0 {
			break
		}
		child := EntryToTree(e)
		child.Children, err = LoadTreeChildren(e, rdr)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// ResolveAbstractEntries replaces the entry of every node that has a
// DW_AT_abstract_origin attribute with the combination of the entry and its
// origins. The node keeps its own offset.
func (n *Tree) ResolveAbstractEntries(rdr *dwarf.Reader) {
	if e, ok := n.Entry.(*dwarf.Entry); ok {
		n.Entry, n.Offset = LoadAbstractOrigin(e, rdr)
	}
	for _, child := range n.Children {
		child.ResolveAbstractEntries(rdr)
	}
}

// Walk calls fn for n and every node owned by n, in depth first order.
// The children of a node are skipped if fn returns false.
func (n *Tree) Walk(fn func(*Tree) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// PCRange returns the [lowpc, highpc) range of the entry. The second
// return value is false unless both bounds are statically known.
// A constant DW_AT_high_pc is an offset from DW_AT_low_pc (DWARFv4
// section 2.17.2).
func (n *Tree) PCRange() ([2]uint64, bool) {
	lowpc, ok := n.Val(dwarf.AttrLowpc).(uint64)
	if !ok {
		return [2]uint64{}, false
	}
	f := n.AttrField(dwarf.AttrHighpc)
	if f == nil {
		return [2]uint64{}, false
	}
	switch f.Class {
	case dwarf.ClassAddress:
		highpc, ok := f.Val.(uint64)
		if !ok {
			return [2]uint64{}, false
		}
		return [2]uint64{lowpc, highpc}, true
	case dwarf.ClassConstant:
		switch sz := f.Val.(type) {
		case int64:
			return [2]uint64{lowpc, lowpc + uint64(sz)}, true
		case uint64:
			return [2]uint64{lowpc, lowpc + sz}, true
		}
	}
	return [2]uint64{}, false
}

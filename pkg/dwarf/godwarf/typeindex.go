package godwarf

import (
	"debug/dwarf"
	"encoding/binary"
)

// IsTypeTag returns true if tag is the tag of a type entry.
func IsTypeTag(tag dwarf.Tag) bool {
	switch tag {
	case dwarf.TagArrayType, dwarf.TagBaseType, dwarf.TagClassType, dwarf.TagStructType,
		dwarf.TagUnionType, dwarf.TagConstType, dwarf.TagVolatileType, dwarf.TagRestrictType,
		dwarf.TagAtomicType, dwarf.TagImmutableType, dwarf.TagPackedType, dwarf.TagSharedType,
		dwarf.TagEnumerationType, dwarf.TagPointerType, dwarf.TagReferenceType,
		dwarf.TagRvalueReferenceType, dwarf.TagPtrToMemberType, dwarf.TagSubroutineType,
		dwarf.TagTypedef, dwarf.TagUnspecifiedType, dwarf.TagStringType, dwarf.TagSetType,
		dwarf.TagSubrangeType, dwarf.TagFileType, dwarf.TagInterfaceType, dwarf.TagCoarrayType,
		dwarf.TagDynamicType:
		return true
	}
	return false
}

// TypeIndex maps the unit relative offset of every type entry of a
// compile unit to its node in the unit's tree.
// A TypeIndex is never modified after BuildTypeIndex returns.
type TypeIndex struct {
	base     dwarf.Offset
	size     uint64
	addrSize int
	order    binary.ByteOrder
	types    map[dwarf.Offset]*Tree
}

// BuildTypeIndex indexes all type entries owned by root, which must be the
// root entry of the unit described by h.
// Every node is visited once: the walk follows ownership, reference
// attributes between types are not followed.
func BuildTypeIndex(root *Tree, h UnitHeader) *TypeIndex {
	idx := &TypeIndex{base: h.Offset, size: h.Length, addrSize: h.AddrSize, order: h.ByteOrder, types: make(map[dwarf.Offset]*Tree)}
	root.Walk(func(n *Tree) bool {
		if IsTypeTag(n.Tag) {
			idx.types[n.Offset-h.Offset] = n
		}
		return true
	})
	return idx
}

// AddrSize returns the address size of the unit.
func (idx *TypeIndex) AddrSize() int {
	return idx.addrSize
}

// ByteOrder returns the byte order of the unit's data.
func (idx *TypeIndex) ByteOrder() binary.ByteOrder {
	if idx.order == nil {
		return binary.LittleEndian
	}
	return idx.order
}

// Len returns the number of indexed type entries.
func (idx *TypeIndex) Len() int {
	return len(idx.types)
}

// Key converts a section offset, as found in reference attributes, into a
// key of the index. The second return value is false if off does not
// belong to the unit.
func (idx *TypeIndex) Key(off dwarf.Offset) (dwarf.Offset, bool) {
	if off < idx.base || uint64(off-idx.base) >= idx.size {
		return 0, false
	}
	return off - idx.base, true
}

// Lookup returns the type entry with unit relative offset key.
func (idx *TypeIndex) Lookup(key dwarf.Offset) (*Tree, bool) {
	n, ok := idx.types[key]
	return n, ok
}

// LookupOffset returns the type entry at section offset off, if off is
// the offset of a type entry of this unit.
func (idx *TypeIndex) LookupOffset(off dwarf.Offset) (*Tree, bool) {
	key, ok := idx.Key(off)
	if !ok {
		return nil, false
	}
	return idx.Lookup(key)
}

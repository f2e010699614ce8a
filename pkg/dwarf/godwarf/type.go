// Copyright 2009 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// DWARF type information structures.
// The format is heavily biased toward C, but for simplicity
// the String methods use a pseudo-Go syntax.

// Borrowed from golang.org/x/debug/dwarf/type.go

package godwarf

import (
	"debug/dwarf"
	"errors"
	"fmt"
	"strconv"

	"github.com/stackvars/stackvars/pkg/dwarf/op"
)

// Basic type encodings -- the value for AttrEncoding in a TagBaseType Entry.
const (
	encAddress        = 0x01
	encBoolean        = 0x02
	encComplexFloat   = 0x03
	encFloat          = 0x04
	encSigned         = 0x05
	encSignedChar     = 0x06
	encUnsigned       = 0x07
	encUnsignedChar   = 0x08
	encImaginaryFloat = 0x09
	encUTF            = 0x10
)

const cyclicalTypeStop = "<cyclical>" // guard value printed for types with a cyclical definition, to avoid inifinite recursion in Type.String

type recCheck map[dwarf.Offset]struct{}

func (recCheck recCheck) acquire(off dwarf.Offset) (release func()) {
	if _, rec := recCheck[off]; rec {
		return nil
	}
	recCheck[off] = struct{}{}
	return func() {
		delete(recCheck, off)
	}
}

// A Type conventionally represents a pointer to any of the
// specific Type structures (CharType, StructType, etc.).
type Type interface {
	Common() *CommonType
	String() string
	Size() int64

	stringIntl(recCheck) string
	sizeIntl(recCheck) int64
}

// A CommonType holds fields common to multiple types.
// If a field is not known or not applicable for a given type,
// the zero value is used.
type CommonType struct {
	ByteSize int64        // size of value of this type, in bytes
	Name     string       // name that can be used to refer to type
	Offset   dwarf.Offset // the offset at which this type was read
}

func (c *CommonType) Common() *CommonType { return c }

func (c *CommonType) Size() int64              { return c.ByteSize }
func (c *CommonType) sizeIntl(recCheck) int64 { return c.ByteSize }

// Basic types

// A BasicType holds fields common to all basic types.
type BasicType struct {
	CommonType
	BitSize   int64
	BitOffset int64
}

func (b *BasicType) Basic() *BasicType { return b }

func (t *BasicType) String() string { return t.stringIntl(nil) }

func (t *BasicType) stringIntl(recCheck) string {
	if t.Name != "" {
		return t.Name
	}
	return "?"
}

// A CharType represents a signed character type.
type CharType struct {
	BasicType
}

// A UcharType represents an unsigned character type.
type UcharType struct {
	BasicType
}

// An IntType represents a signed integer type.
type IntType struct {
	BasicType
}

// A UintType represents an unsigned integer type.
type UintType struct {
	BasicType
}

// A FloatType represents a floating point type.
type FloatType struct {
	BasicType
}

// A ComplexType represents a complex floating point type.
type ComplexType struct {
	BasicType
}

// A BoolType represents a boolean type.
type BoolType struct {
	BasicType
}

// An AddrType represents a machine address type.
type AddrType struct {
	BasicType
}

// An UnspecifiedType represents an implicit, unknown, ambiguous or nonexistent type.
type UnspecifiedType struct {
	BasicType
}

// qualifiers

// A QualType represents a type that has the C/C++ "const", "restrict", "volatile"
// or the C11 "_Atomic" qualifier.
type QualType struct {
	CommonType
	Qual string
	Type Type
}

func (t *QualType) String() string { return t.stringIntl(make(recCheck)) }

func (t *QualType) stringIntl(recCheck recCheck) string {
	release := recCheck.acquire(t.CommonType.Offset)
	if release == nil {
		return cyclicalTypeStop
	}
	defer release()
	return t.Qual + " " + t.Type.stringIntl(recCheck)
}

func (t *QualType) Size() int64 { return t.sizeIntl(make(recCheck)) }

func (t *QualType) sizeIntl(recCheck recCheck) int64 {
	release := recCheck.acquire(t.CommonType.Offset)
	if release == nil {
		return t.CommonType.ByteSize
	}
	defer release()
	return t.Type.sizeIntl(recCheck)
}

// An ArrayType represents a fixed size array type.
type ArrayType struct {
	CommonType
	Type          Type
	StrideBitSize int64 // if > 0, number of bits to hold each element
	Count         int64 // if == -1, an incomplete array, like char x[].
}

func (t *ArrayType) String() string { return t.stringIntl(make(recCheck)) }

func (t *ArrayType) stringIntl(recCheck recCheck) string {
	release := recCheck.acquire(t.CommonType.Offset)
	if release == nil {
		return cyclicalTypeStop
	}
	defer release()
	return "[" + strconv.FormatInt(t.Count, 10) + "]" + t.Type.stringIntl(recCheck)
}

func (t *ArrayType) Size() int64 { return t.sizeIntl(make(recCheck)) }

func (t *ArrayType) sizeIntl(recCheck recCheck) int64 {
	if t.CommonType.ByteSize > 0 {
		return t.CommonType.ByteSize
	}
	release := recCheck.acquire(t.CommonType.Offset)
	if release == nil {
		return 0
	}
	defer release()
	if t.Count <= 0 {
		return 0
	}
	return t.Type.sizeIntl(recCheck) * t.Count
}

// A VoidType represents the C void type.
type VoidType struct {
	CommonType
}

func (t *VoidType) String() string { return t.stringIntl(nil) }

func (t *VoidType) stringIntl(recCheck) string { return "void" }

// A PtrType represents a pointer type.
type PtrType struct {
	CommonType
	Type Type
}

func (t *PtrType) String() string { return t.stringIntl(make(recCheck)) }

func (t *PtrType) stringIntl(recCheck recCheck) string {
	release := recCheck.acquire(t.CommonType.Offset)
	if release == nil {
		return cyclicalTypeStop
	}
	defer release()
	return "*" + t.Type.stringIntl(recCheck)
}

// A ReferenceType represents a C++ lvalue or rvalue reference.
type ReferenceType struct {
	CommonType
	Rvalue bool
	Type   Type
}

func (t *ReferenceType) String() string { return t.stringIntl(make(recCheck)) }

func (t *ReferenceType) stringIntl(recCheck recCheck) string {
	release := recCheck.acquire(t.CommonType.Offset)
	if release == nil {
		return cyclicalTypeStop
	}
	defer release()
	if t.Rvalue {
		return "&&" + t.Type.stringIntl(recCheck)
	}
	return "&" + t.Type.stringIntl(recCheck)
}

// A StructType represents a struct, union, or C++ class type.
type StructType struct {
	CommonType
	StructName string
	Kind       string // "struct", "union", or "class".
	Field      []*StructField
	Incomplete bool // if true, struct, union, class is declared but not defined
}

// A StructField represents a field in a struct, union, or C++ class type.
type StructField struct {
	Name       string
	Type       Type
	ByteOffset int64
	ByteSize   int64
	BitOffset  int64 // within the ByteSize bytes at ByteOffset
	BitSize    int64 // zero if not a bit field
}

func (t *StructType) String() string { return t.stringIntl(make(recCheck)) }

func (t *StructType) stringIntl(recCheck recCheck) string {
	if t.StructName != "" {
		return t.Kind + " " + t.StructName
	}
	return t.Defn(recCheck)
}

// Defn returns the full definition of the struct, with its fields.
func (t *StructType) Defn(recCheck recCheck) string {
	if recCheck == nil {
		recCheck = make(map[dwarf.Offset]struct{})
	}
	release := recCheck.acquire(t.CommonType.Offset)
	if release == nil {
		return cyclicalTypeStop
	}
	defer release()
	s := t.Kind
	if t.StructName != "" {
		s += " " + t.StructName
	}
	if t.Incomplete {
		s += " /*incomplete*/"
		return s
	}
	s += " {"
	for i, f := range t.Field {
		if i > 0 {
			s += "; "
		}
		s += f.Name + " " + f.Type.stringIntl(recCheck)
		s += "@" + strconv.FormatInt(f.ByteOffset, 10)
		if f.BitSize > 0 {
			s += " : " + strconv.FormatInt(f.BitSize, 10)
			s += "@" + strconv.FormatInt(f.BitOffset, 10)
		}
	}
	s += "}"
	return s
}

// An EnumType represents an enumerated type.
// The only indication of its native integer type is its ByteSize
// (inside CommonType).
type EnumType struct {
	CommonType
	EnumName string
	Val      []*EnumValue
}

// An EnumValue represents a single enumeration value.
type EnumValue struct {
	Name string
	Val  int64
}

func (t *EnumType) String() string { return t.stringIntl(nil) }

func (t *EnumType) stringIntl(recCheck recCheck) string {
	s := "enum"
	if t.EnumName != "" {
		s += " " + t.EnumName
	}
	s += " {"
	for i, v := range t.Val {
		if i > 0 {
			s += "; "
		}
		s += v.Name + "=" + strconv.FormatInt(v.Val, 10)
	}
	s += "}"
	return s
}

// A FuncType represents a function type.
type FuncType struct {
	CommonType
	ReturnType Type
	ParamType  []Type
}

func (t *FuncType) String() string { return t.stringIntl(make(recCheck)) }

func (t *FuncType) stringIntl(recCheck recCheck) string {
	release := recCheck.acquire(t.CommonType.Offset)
	if release == nil {
		return cyclicalTypeStop
	}
	defer release()
	s := "func("
	for i, t := range t.ParamType {
		if i > 0 {
			s += ", "
		}
		s += t.stringIntl(recCheck)
	}
	s += ")"
	if t.ReturnType != nil {
		if _, void := t.ReturnType.(*VoidType); !void {
			s += " " + t.ReturnType.stringIntl(recCheck)
		}
	}
	return s
}

// A DotDotDotType represents the variadic ... function parameter.
type DotDotDotType struct {
	CommonType
}

func (t *DotDotDotType) String() string { return t.stringIntl(nil) }

func (t *DotDotDotType) stringIntl(recCheck recCheck) string { return "..." }

// A TypedefType represents a named type.
type TypedefType struct {
	CommonType
	Type Type
}

func (t *TypedefType) String() string { return t.stringIntl(nil) }

func (t *TypedefType) stringIntl(recCheck recCheck) string { return t.Name }

func (t *TypedefType) Size() int64 { return t.sizeIntl(make(recCheck)) }

func (t *TypedefType) sizeIntl(recCheck recCheck) int64 {
	release := recCheck.acquire(t.CommonType.Offset)
	if release == nil {
		return t.CommonType.ByteSize
	}
	defer release()
	if t.Type == nil {
		return 0
	}
	return t.Type.sizeIntl(recCheck)
}

// TypeCache memoizes resolved types by section offset.
type TypeCache interface {
	Get(off dwarf.Offset) (Type, bool)
	Add(off dwarf.Offset, typ Type)
}

// MapTypeCache is a TypeCache without eviction.
type MapTypeCache map[dwarf.Offset]Type

func (c MapTypeCache) Get(off dwarf.Offset) (Type, bool) {
	t, ok := c[off]
	return t, ok
}

func (c MapTypeCache) Add(off dwarf.Offset, typ Type) {
	c[off] = typ
}

var (
	errDanglingType    = errors.New("dangling type reference")
	errUnsupportedType = errors.New("unsupported type")
)

// ReadType resolves the type at section offset off, using the type entries
// of idx. It returns nil if off is not the offset of a type entry of the
// unit, or if the type, or any type it depends on, cannot be represented.
// A nil cache disables memoization.
func ReadType(idx *TypeIndex, off dwarf.Offset, cache TypeCache) Type {
	tr := &typeReader{idx: idx, cache: cache, pending: make(map[dwarf.Offset]Type)}
	typ, err := tr.readType(off)
	if err != nil {
		return nil
	}
	for _, ds := range tr.delayedSizes {
		ds.ct.ByteSize = ds.ut.Size()
	}
	if cache != nil {
		for off, t := range tr.pending {
			cache.Add(off, t)
		}
	}
	return typ
}

type delayedSize struct {
	ct *CommonType // type that needs its size computed from ut
	ut Type        // underlying type
}

// typeReader holds the state of one ReadType call. Types under
// construction live in pending and are only copied to the cache once the
// whole graph has been resolved.
type typeReader struct {
	idx          *TypeIndex
	cache        TypeCache
	pending      map[dwarf.Offset]Type
	delayedSizes []delayedSize
}

func (tr *typeReader) lookup(off dwarf.Offset) (Type, bool) {
	if t, ok := tr.pending[off]; ok {
		return t, true
	}
	if tr.cache != nil {
		return tr.cache.Get(off)
	}
	return nil, false
}

// typeOf reads the type referenced by attr of e. No type means void.
func (tr *typeReader) typeOf(e *Tree, attr dwarf.Attr) (Type, error) {
	switch toff := e.Val(attr).(type) {
	case dwarf.Offset:
		return tr.readType(toff)
	case nil:
		return new(VoidType), nil
	default:
		return nil, fmt.Errorf("type reference of entry at %#x: %w", e.Offset, errDanglingType)
	}
}

// readType must always set tr.pending[off] before recursing, to handle
// circular types correctly.
func (tr *typeReader) readType(off dwarf.Offset) (Type, error) {
	e, ok := tr.idx.LookupOffset(off)
	if !ok {
		return nil, fmt.Errorf("type at %#x: %w", off, errDanglingType)
	}
	if t, ok := tr.lookup(off); ok {
		return t, nil
	}

	var typ Type
	var err error

	switch e.Tag {
	case dwarf.TagArrayType:
		// Multi-dimensional array.  (DWARF v2 §5.4)
		// Children:
		//	TagSubrangeType giving one dimension.
		//	dimensions are in left to right order.
		t := new(ArrayType)
		t.Name, _ = e.Val(dwarf.AttrName).(string)
		typ = t
		tr.pending[off] = t
		if t.Type, err = tr.typeOf(e, dwarf.AttrType); err != nil {
			break
		}
		if bytes, ok := e.Val(dwarf.AttrStride).(int64); ok {
			t.StrideBitSize = 8 * bytes
		} else if bits, ok := e.Val(dwarf.AttrStrideSize).(int64); ok {
			t.StrideBitSize = bits
		}

		ndim := 0
		for _, kid := range e.Children {
			switch kid.Tag {
			case dwarf.TagSubrangeType:
				count, ok := kid.Val(dwarf.AttrCount).(int64)
				if !ok {
					// Old binaries may have an upper bound instead.
					count, ok = kid.Val(dwarf.AttrUpperBound).(int64)
					if ok {
						count++ // Length is one more than upper bound.
					} else {
						count = -1 // As in x[].
					}
				}
				if ndim == 0 {
					t.Count = count
				} else {
					// Multidimensional array.
					// Create new array type underneath this one.
					t.Type = &ArrayType{Type: t.Type, Count: count, CommonType: CommonType{Offset: kid.Offset}}
				}
				ndim++
			case dwarf.TagEnumerationType:
				err = fmt.Errorf("enumeration type as array bound at %#x: %w", kid.Offset, errUnsupportedType)
			}
		}
		if ndim == 0 {
			// LLVM generates this for x[].
			t.Count = -1
		}

	case dwarf.TagBaseType:
		// Basic type.  (DWARF v2 §5.1)
		name, _ := e.Val(dwarf.AttrName).(string)
		enc, ok := e.Val(dwarf.AttrEncoding).(int64)
		if !ok {
			return nil, fmt.Errorf("base type at %#x: missing encoding attribute for %q: %w", off, name, errUnsupportedType)
		}
		switch enc {
		case encAddress:
			typ = new(AddrType)
		case encBoolean:
			typ = new(BoolType)
		case encComplexFloat:
			typ = new(ComplexType)
			if name == "complex" {
				// clang writes out 'complex' instead of 'complex float' or 'complex double'.
				switch byteSize, _ := e.Val(dwarf.AttrByteSize).(int64); byteSize {
				case 8:
					name = "complex float"
				case 16:
					name = "complex double"
				}
			}
		case encFloat, encImaginaryFloat:
			typ = new(FloatType)
		case encSigned:
			typ = new(IntType)
		case encUnsigned:
			typ = new(UintType)
		case encSignedChar:
			typ = new(CharType)
		case encUnsignedChar, encUTF:
			typ = new(UcharType)
		default:
			return nil, fmt.Errorf("base type at %#x: encoding %#x: %w", off, enc, errUnsupportedType)
		}
		tr.pending[off] = typ
		t := typ.(interface {
			Basic() *BasicType
		}).Basic()
		t.Name = name
		t.BitSize, _ = e.Val(dwarf.AttrBitSize).(int64)
		t.BitOffset, _ = e.Val(dwarf.AttrBitOffset).(int64)

	case dwarf.TagClassType, dwarf.TagStructType, dwarf.TagUnionType:
		// Structure, union, or class type.  (DWARF v2 §5.5)
		// There is much more to handle C++, all ignored for now.
		t := new(StructType)
		typ = t
		tr.pending[off] = t
		switch e.Tag {
		case dwarf.TagClassType:
			t.Kind = "class"
		case dwarf.TagStructType:
			t.Kind = "struct"
		case dwarf.TagUnionType:
			t.Kind = "union"
		}
		t.Name, _ = e.Val(dwarf.AttrName).(string)
		t.StructName = t.Name
		t.Incomplete = e.Val(dwarf.AttrDeclaration) != nil
		t.Field = make([]*StructField, 0, len(e.Children))
		var lastField *StructField
		var lastFieldBitOffset int64
		for _, kid := range e.Children {
			if kid.Tag != dwarf.TagMember {
				continue
			}
			f := new(StructField)
			if f.Type, err = tr.typeOf(kid, dwarf.AttrType); err != nil {
				break
			}
			if f.ByteOffset, err = tr.memberOffset(kid); err != nil {
				break
			}

			haveBitOffset := false
			f.Name, _ = kid.Val(dwarf.AttrName).(string)
			f.ByteSize, _ = kid.Val(dwarf.AttrByteSize).(int64)
			f.BitOffset, haveBitOffset = kid.Val(dwarf.AttrBitOffset).(int64)
			f.BitSize, _ = kid.Val(dwarf.AttrBitSize).(int64)
			t.Field = append(t.Field, f)

			bito := f.BitOffset
			if !haveBitOffset {
				bito = f.ByteOffset * 8
			}
			if lastField != nil && bito == lastFieldBitOffset && t.Kind != "union" {
				// Last field was zero width.  Fix array length.
				// (DWARF writes out 0-length arrays as if they were 1-length arrays.)
				lastField.Type = zeroArray(lastField.Type)
			}
			lastField = f
			lastFieldBitOffset = bito
		}
		if err == nil && t.Kind != "union" {
			b, ok := e.Val(dwarf.AttrByteSize).(int64)
			if ok && lastField != nil && b*8 == lastFieldBitOffset {
				// Final field must be zero width.  Fix array length.
				lastField.Type = zeroArray(lastField.Type)
			}
		}

	case dwarf.TagConstType, dwarf.TagVolatileType, dwarf.TagRestrictType, dwarf.TagAtomicType:
		// Type modifier (DWARF v2 §5.2)
		t := new(QualType)
		t.Name, _ = e.Val(dwarf.AttrName).(string)
		typ = t
		tr.pending[off] = t
		switch e.Tag {
		case dwarf.TagConstType:
			t.Qual = "const"
		case dwarf.TagRestrictType:
			t.Qual = "restrict"
		case dwarf.TagVolatileType:
			t.Qual = "volatile"
		case dwarf.TagAtomicType:
			t.Qual = "_Atomic"
		}
		t.Type, err = tr.typeOf(e, dwarf.AttrType)

	case dwarf.TagEnumerationType:
		// Enumeration type (DWARF v2 §5.6)
		t := new(EnumType)
		typ = t
		tr.pending[off] = t
		t.Name, _ = e.Val(dwarf.AttrName).(string)
		t.EnumName = t.Name
		t.Val = make([]*EnumValue, 0, len(e.Children))
		for _, kid := range e.Children {
			if kid.Tag != dwarf.TagEnumerator {
				continue
			}
			f := new(EnumValue)
			f.Name, _ = kid.Val(dwarf.AttrName).(string)
			switch v := kid.Val(dwarf.AttrConstValue).(type) {
			case int64:
				f.Val = v
			case uint64:
				f.Val = int64(v)
			}
			t.Val = append(t.Val, f)
		}

	case dwarf.TagPointerType:
		// Type modifier (DWARF v2 §5.2)
		// void* has no AttrType.
		t := new(PtrType)
		t.Name, _ = e.Val(dwarf.AttrName).(string)
		typ = t
		tr.pending[off] = t
		t.Type, err = tr.typeOf(e, dwarf.AttrType)

	case dwarf.TagReferenceType, dwarf.TagRvalueReferenceType:
		t := new(ReferenceType)
		t.Name, _ = e.Val(dwarf.AttrName).(string)
		t.Rvalue = e.Tag == dwarf.TagRvalueReferenceType
		typ = t
		tr.pending[off] = t
		t.Type, err = tr.typeOf(e, dwarf.AttrType)

	case dwarf.TagSubroutineType:
		// Subroutine type.  (DWARF v2 §5.7)
		t := new(FuncType)
		t.Name, _ = e.Val(dwarf.AttrName).(string)
		typ = t
		tr.pending[off] = t
		if t.ReturnType, err = tr.typeOf(e, dwarf.AttrType); err != nil {
			break
		}
		t.ParamType = make([]Type, 0, len(e.Children))
		for _, kid := range e.Children {
			var tkid Type
			switch kid.Tag {
			default:
				continue
			case dwarf.TagFormalParameter:
				if tkid, err = tr.typeOf(kid, dwarf.AttrType); err != nil {
					break
				}
			case dwarf.TagUnspecifiedParameters:
				tkid = &DotDotDotType{}
			}
			if err != nil {
				break
			}
			t.ParamType = append(t.ParamType, tkid)
		}

	case dwarf.TagTypedef:
		// Typedef (DWARF v2 §5.3)
		t := new(TypedefType)
		typ = t
		tr.pending[off] = t
		t.Name, _ = e.Val(dwarf.AttrName).(string)
		t.Type, err = tr.typeOf(e, dwarf.AttrType)

	case dwarf.TagUnspecifiedType:
		// Unspecified type (DWARF v3 §5.2)
		t := new(UnspecifiedType)
		typ = t
		tr.pending[off] = t
		t.Name, _ = e.Val(dwarf.AttrName).(string)

	default:
		return nil, fmt.Errorf("type at %#x: tag %s: %w", off, e.Tag, errUnsupportedType)
	}

	if err != nil {
		return nil, err
	}

	typ.Common().Offset = off

	b, ok := e.Val(dwarf.AttrByteSize).(int64)
	if !ok {
		b = -1
		switch t := typ.(type) {
		case *TypedefType:
			tr.delayedSizes = append(tr.delayedSizes, delayedSize{typ.Common(), t.Type})
		case *QualType:
			tr.delayedSizes = append(tr.delayedSizes, delayedSize{typ.Common(), t.Type})
		case *PtrType, *ReferenceType, *FuncType:
			b = int64(tr.idx.AddrSize())
		case *ArrayType:
			b = 0
		}
	}
	typ.Common().ByteSize = b
	return typ, nil
}

// memberOffset decodes DW_AT_data_member_location, which is either a
// constant or one of the sequences [DW_OP_plus_uconst <uleb128>] and
// [DW_OP_consts <sleb128> DW_OP_plus].
func (tr *typeReader) memberOffset(kid *Tree) (int64, error) {
	switch loc := kid.Val(dwarf.AttrDataMemberLoc).(type) {
	case int64:
		return loc, nil
	case uint64:
		return int64(loc), nil
	case []byte:
		if len(loc) == 0 {
			return 0, nil
		}
		instrs, err := op.Parse(loc, tr.idx.AddrSize(), tr.idx.ByteOrder())
		if err != nil {
			return 0, fmt.Errorf("member at %#x: %w", kid.Offset, err)
		}
		switch {
		case len(instrs) == 1 && instrs[0].Opcode == op.DW_OP_plus_uconst:
			return instrs[0].Args[0], nil
		case len(instrs) == 2 && instrs[0].Opcode == op.DW_OP_consts && instrs[1].Opcode == op.DW_OP_plus:
			return instrs[0].Args[0], nil
		}
		return 0, fmt.Errorf("member at %#x: unexpected location expression %v: %w", kid.Offset, instrs, errUnsupportedType)
	}
	return 0, nil
}

// zeroArray returns a copy of t with the length of t, and of the arrays
// it is an array of, set to zero. Types that are not arrays are returned
// unchanged. t itself may be shared through the type cache and is never
// modified.
func zeroArray(t Type) Type {
	at, ok := t.(*ArrayType)
	if !ok {
		return t
	}
	zt := *at
	zt.Count = 0
	zt.Type = zeroArray(at.Type)
	return &zt
}

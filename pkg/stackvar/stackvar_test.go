package stackvar

import (
	"debug/dwarf"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/stackvars/stackvars/pkg/bininfo"
	"github.com/stackvars/stackvars/pkg/dwarf/dwarfbuilder"
	"github.com/stackvars/stackvars/pkg/dwarf/godwarf"
	"github.com/stackvars/stackvars/pkg/dwarf/op"
)

var (
	cfaFrameBase = dwarfbuilder.LocationBlock(op.DW_OP_call_frame_cfa)
	regFrameBase = dwarfbuilder.LocationBlock(op.DW_OP_reg0 + 6)
	fbreg        = func(off int) []byte { return dwarfbuilder.LocationBlock(op.DW_OP_fbreg, off) }
)

func loadImage(t *testing.T, b *dwarfbuilder.Builder) *bininfo.Image {
	t.Helper()
	abbrev, aranges, frame, info, line, pubnames, ranges, str, loc, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	dw, err := dwarf.New(abbrev, aranges, frame, info, line, pubnames, ranges, str)
	if err != nil {
		t.Fatal(err)
	}
	img, err := bininfo.LoadImageFromData(dw, info, loc, b.Loclists(), nil, 8, binary.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	return img
}

// addFunction opens a subprogram, TagClose must be called after adding
// its children.
func addFunction(b *dwarfbuilder.Builder, name string, lowpc, highpc uint64, frameBase []byte) dwarf.Offset {
	off := b.AddSubprogram(name, lowpc, highpc)
	if frameBase != nil {
		b.Attr(dwarf.AttrFrameBase, frameBase)
	}
	return off
}

func allRecords(t *testing.T, img *bininfo.Image) []Record {
	t.Helper()
	var r []Record
	rr := Records(img)
	for rr.Next() {
		r = append(r, rr.Record())
	}
	if err := rr.Err(); err != nil {
		t.Fatal(err)
	}
	return r
}

func strOrNil(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}

func formatRecords(rs []Record) string {
	var buf strings.Builder
	for _, r := range rs {
		fmt.Fprintf(&buf, "%s %s %s [%#x, %#x) %s %s | %s\n", strOrNil(r.Dir), strOrNil(r.File), strOrNil(r.Function), r.Range[0], r.Range[1], strOrNil(r.Name), r.Type, r.Locations.Format(8, binary.LittleEndian))
	}
	return buf.String()
}

func recordNames(rs []Record) []string {
	r := make([]string, len(rs))
	for i := range rs {
		r[i] = strOrNil(rs[i].Function) + "." + strOrNil(rs[i].Name)
	}
	return r
}

func diffRecords(t *testing.T, fromName string, from []Record, toName string, to []Record) {
	t.Helper()
	a, b := formatRecords(from), formatRecords(to)
	if a == b {
		return
	}
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: fromName,
		ToFile:   toName,
		Context:  3,
	})
	t.Errorf("records differ:\n%s", diff)
}

func TestSingleParameter(t *testing.T) {
	b := dwarfbuilder.New()
	b.AddCompileUnit("main.c", "/src")
	intoff := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
	addFunction(b, "f", 0x100, 0x140, cfaFrameBase)
	b.AddParameter("x", intoff, fbreg(-20))
	b.TagClose()

	rs := allRecords(t, loadImage(t, b))
	if len(rs) != 1 {
		t.Fatalf("expected one record, got %d:\n%s", len(rs), formatRecords(rs))
	}
	r := rs[0]
	if strOrNil(r.Dir) != "/src" || strOrNil(r.File) != "main.c" || strOrNil(r.Function) != "f" || strOrNil(r.Name) != "x" {
		t.Errorf("wrong names: %s", formatRecords(rs))
	}
	if r.Range != [2]uint64{0x100, 0x140} {
		t.Errorf("wrong range [%#x, %#x)", r.Range[0], r.Range[1])
	}
	if len(r.Locations) != 1 || r.Locations[0].LowPC != 0x100 || r.Locations[0].HighPC != 0x140 {
		t.Errorf("wrong locations: %s", r.Locations.Format(8, binary.LittleEndian))
	}
	if typ, ok := r.Type.(*godwarf.IntType); !ok || typ.Size() != 4 || typ.String() != "int" {
		t.Errorf("wrong type %#v", r.Type)
	}
}

func TestFrameBaseOtherSkipped(t *testing.T) {
	for _, fb := range [][]byte{
		regFrameBase,
		dwarfbuilder.LocationBlock(op.DW_OP_breg0+7, 8),
		nil,
	} {
		b := dwarfbuilder.New()
		b.AddCompileUnit("main.c", "/src")
		intoff := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
		addFunction(b, "f", 0x100, 0x140, fb)
		b.AddParameter("x", intoff, fbreg(-20))
		b.AddVariable("y", intoff, fbreg(-24))
		b.TagClose()

		if rs := allRecords(t, loadImage(t, b)); len(rs) != 0 {
			t.Errorf("frame base %x: expected no records, got:\n%s", fb, formatRecords(rs))
		}
	}
}

func TestClassifyFrameBase(t *testing.T) {
	b := dwarfbuilder.New()
	b.AddCompileUnit("main.c", "/src")
	addFunction(b, "none", 0x100, 0x110, nil)
	b.TagClose()
	addFunction(b, "cfa", 0x110, 0x120, cfaFrameBase)
	b.TagClose()
	addFunction(b, "reg", 0x120, 0x130, regFrameBase)
	b.TagClose()
	addFunction(b, "cfalist", 0x130, 0x140, nil)
	b.Attr(dwarf.AttrFrameBase, []dwarfbuilder.LocEntry{{Lowpc: 0x130, Highpc: 0x140, Loc: cfaFrameBase}})
	b.TagClose()
	addFunction(b, "outside", 0x140, 0x150, nil)
	b.Attr(dwarf.AttrFrameBase, []dwarfbuilder.LocEntry{{Lowpc: 0x200, Highpc: 0x210, Loc: cfaFrameBase}})
	b.TagClose()
	addFunction(b, "garbage", 0x150, 0x160, []byte{0xff})
	b.TagClose()

	img := loadImage(t, b)
	ur := NewUnitReader(img)
	if !ur.Next() {
		t.Fatalf("no unit: %v", ur.Err())
	}
	u := ur.Unit()
	expected := map[string]FrameBase{
		"none":    FrameBaseUnknown,
		"cfa":     FrameBaseCFA,
		"reg":     FrameBaseOther,
		"cfalist": FrameBaseCFA,
		"outside": FrameBaseUnknown,
		"garbage": FrameBaseUnknown,
	}
	for _, fn := range u.Root.Children {
		name, _ := fn.Val(dwarf.AttrName).(string)
		rng, ok := fn.PCRange()
		if !ok {
			t.Fatalf("%s: no pc range", name)
		}
		fb, err := ClassifyFrameBase(fn, rng, u, img.Loc)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if fb != expected[name] {
			t.Errorf("%s: expected %s, got %s", name, expected[name], fb)
		}
		delete(expected, name)
	}
	if len(expected) != 0 {
		t.Errorf("functions not found: %v", expected)
	}
	if ur.Next() {
		t.Errorf("unexpected second unit")
	}
}

func TestFrameBaseString(t *testing.T) {
	for fb, s := range map[FrameBase]string{
		FrameBaseUnknown: "unknown",
		FrameBaseCFA:     "cfa",
		FrameBaseOther:   "other",
		FrameBase(7):     "invalid",
	} {
		if fb.String() != s {
			t.Errorf("expected %q got %q", s, fb.String())
		}
	}
}

func TestMissingPCRange(t *testing.T) {
	b := dwarfbuilder.New()
	b.AddCompileUnit("main.c", "/src")
	intoff := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
	b.TagOpen(dwarf.TagSubprogram, "f")
	b.Attr(dwarf.AttrLowpc, dwarfbuilder.Address(0x100))
	b.Attr(dwarf.AttrFrameBase, cfaFrameBase)
	b.AddParameter("x", intoff, fbreg(-20))
	b.TagClose()

	img := loadImage(t, b)
	if rs := allRecords(t, img); len(rs) != 0 {
		t.Errorf("expected no records, got:\n%s", formatRecords(rs))
	}
	sr := Subprograms(img)
	if sr.Next() {
		t.Errorf("subprogram without highpc listed: %#v", sr.Subprogram())
	}
	if err := sr.Err(); err != nil {
		t.Fatal(err)
	}
}

func TestDroppedVariables(t *testing.T) {
	b := dwarfbuilder.New()
	b.AddCompileUnit("main.c", "/src")
	intoff := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
	fnoff := addFunction(b, "f", 0x100, 0x140, cfaFrameBase)
	b.AddParameter("notype", fnoff, fbreg(-8))
	b.AddVariable("noloc", intoff, nil)
	b.AddVariable("emptyloc", intoff, []byte{})
	b.AddVariable("outside", intoff, []dwarfbuilder.LocEntry{{Lowpc: 0x200, Highpc: 0x240, Loc: fbreg(-16)}})
	b.AddVariable("partial", intoff, []dwarfbuilder.LocEntry{
		{Lowpc: 0x80, Highpc: 0x110, Loc: fbreg(-16)},
		{Lowpc: 0x120, Highpc: 0x120, Loc: fbreg(-24)},
		{Lowpc: 0x130, Highpc: 0x200, Loc: fbreg(-32)},
	})
	b.TagClose()

	rs := allRecords(t, loadImage(t, b))
	if len(rs) != 1 || strOrNil(rs[0].Name) != "partial" {
		t.Fatalf("expected only 'partial', got:\n%s", formatRecords(rs))
	}
	l := rs[0].Locations
	if len(l) != 2 || l[0].LowPC != 0x100 || l[0].HighPC != 0x110 || l[1].LowPC != 0x130 || l[1].HighPC != 0x140 {
		t.Errorf("wrong clipping: %s", l.Format(8, binary.LittleEndian))
	}
}

func TestUnitIsolation(t *testing.T) {
	b := dwarfbuilder.New()
	b.AddCompileUnit("b.c", "/src")
	longoff := b.AddBaseType("long", dwarfbuilder.DW_ATE_signed, 8)
	addFunction(b, "g", 0x200, 0x240, cfaFrameBase)
	b.AddVariable("z", longoff, fbreg(-8))
	b.TagClose()
	b.AddCompileUnit("a.c", "/src")
	b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
	addFunction(b, "f", 0x100, 0x140, cfaFrameBase)
	b.AddVariable("y", longoff, fbreg(-8))
	b.TagClose()

	img := loadImage(t, b)
	rs := allRecords(t, img)
	if len(rs) != 1 || strOrNil(rs[0].Name) != "z" || strOrNil(rs[0].File) != "b.c" {
		t.Fatalf("expected only z from b.c, got:\n%s", formatRecords(rs))
	}

	ctx, err := NewContext(img, Options{})
	if err != nil {
		t.Fatal(err)
	}
	inv, err := NewInventory(img)
	if err != nil {
		t.Fatal(err)
	}
	for _, sp := range inv.Lookup("f") {
		vars, err := ctx.VariablesOf(sp)
		if err != nil {
			t.Fatal(err)
		}
		if len(vars) != 0 {
			t.Errorf("type of unit b resolved for unit a: %#v", vars)
		}
	}
}

func TestNestedScopes(t *testing.T) {
	b := dwarfbuilder.New()
	b.AddCompileUnit("main.c", "/src")
	intoff := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
	addFunction(b, "f", 0x100, 0x200, cfaFrameBase)
	b.AddParameter("a", intoff, fbreg(-8))
	b.AddLexicalBlock(0x110, 0x150)
	b.AddVariable("b", intoff, fbreg(-12))
	b.AddLexicalBlock(0x120, 0x130)
	b.AddVariable("c", intoff, fbreg(-16))
	b.TagClose()
	b.TagClose()
	addFunction(b, "g", 0x180, 0x1a0, cfaFrameBase)
	b.AddVariable("d", intoff, fbreg(-8))
	b.TagClose()
	b.AddVariable("e", intoff, fbreg(-20))
	b.TagClose()

	img := loadImage(t, b)
	got := strings.Join(recordNames(allRecords(t, img)), " ")
	if expected := "f.a f.b f.c f.e g.d"; got != expected {
		t.Errorf("expected %q, got %q", expected, got)
	}

	ur := NewUnitReader(img)
	if !ur.Next() {
		t.Fatal(ur.Err())
	}
	var names []string
	for _, v := range StackVariables(ur.Unit().Root.Children[1]) {
		names = append(names, v.Val(dwarf.AttrName).(string))
	}
	if got := strings.Join(names, " "); got != "a b c e" {
		t.Errorf("wrong stack variables of f: %q", got)
	}
}

func TestNestedSubprogramFrameBase(t *testing.T) {
	b := dwarfbuilder.New()
	b.AddCompileUnit("main.c", "/src")
	intoff := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
	addFunction(b, "outer", 0x100, 0x200, cfaFrameBase)
	b.AddParameter("a", intoff, fbreg(-8))
	b.AddLexicalBlock(0x110, 0x180)
	addFunction(b, "inner", 0x140, 0x160, regFrameBase)
	b.AddVariable("x", intoff, fbreg(-4))
	b.TagClose()
	b.AddVariable("b", intoff, fbreg(-12))
	b.TagClose()
	b.TagClose()

	img := loadImage(t, b)
	recs := allRecords(t, img)
	if got := strings.Join(recordNames(recs), " "); got != "outer.a outer.b" {
		t.Errorf("wrong records %q", got)
	}

	inv, err := NewInventory(img)
	if err != nil {
		t.Fatal(err)
	}
	ctx, err := NewContext(img, Options{})
	if err != nil {
		t.Fatal(err)
	}
	sps := inv.Lookup("inner")
	if len(sps) != 1 {
		t.Fatalf("inner not found: %v", sps)
	}
	vars, err := ctx.VariablesOf(sps[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(vars) != 0 {
		t.Errorf("variables extracted from a function without a CFA frame base: %v", vars)
	}
	outer, err := ctx.RecordsOf(inv.Lookup("outer")[0])
	if err != nil {
		t.Fatal(err)
	}
	diffRecords(t, "direct", recs, "context", outer)
}

func TestSelfReferentialType(t *testing.T) {
	b := dwarfbuilder.New()
	b.AddCompileUnit("list.c", "/src")
	intoff := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
	ptroff, ref := b.ReservePointerType("")
	nodeoff := b.AddStructType("node", 16)
	b.AddMember("next", ptroff, dwarfbuilder.LocationBlock(op.DW_OP_plus_uconst, uint(0)))
	b.AddMember("val", intoff, dwarfbuilder.LocationBlock(op.DW_OP_plus_uconst, uint(8)))
	b.TagClose()
	b.PatchReference(ref, nodeoff)
	addFunction(b, "walk", 0x100, 0x140, cfaFrameBase)
	b.AddParameter("head", ptroff, fbreg(-8))
	b.AddVariable("n", nodeoff, fbreg(-24))
	b.TagClose()

	rs := allRecords(t, loadImage(t, b))
	if len(rs) != 2 {
		t.Fatalf("expected two records, got:\n%s", formatRecords(rs))
	}
	ptr, ok := rs[0].Type.(*godwarf.PtrType)
	if !ok {
		t.Fatalf("head is a %T", rs[0].Type)
	}
	st, ok := ptr.Type.(*godwarf.StructType)
	if !ok || st.Field[0].Type != ptr {
		t.Errorf("cycle not preserved: %#v", ptr.Type)
	}
	if rs[1].Type != st {
		t.Errorf("struct node resolved twice in the same unit")
	}
}

func TestMalformedText(t *testing.T) {
	b := dwarfbuilder.New()
	b.AddCompileUnit("main.c", "/src")
	intoff := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
	addFunction(b, "f", 0x100, 0x140, cfaFrameBase)
	b.AddParameter("ok", intoff, fbreg(-8))
	badoff := b.AddVariable("bad\xff", intoff, fbreg(-16))
	b.TagClose()

	rr := Records(loadImage(t, b))
	for rr.Next() {
		t.Errorf("record emitted before a fatal error: %s", formatRecords([]Record{rr.Record()}))
	}
	var mte *MalformedTextError
	if !errors.As(rr.Err(), &mte) {
		t.Fatalf("expected a MalformedTextError, got %v", rr.Err())
	}
	if mte.Offset != badoff || mte.Attr != dwarf.AttrName {
		t.Errorf("wrong error %v", mte)
	}
}

func TestMalformedUnitName(t *testing.T) {
	b := dwarfbuilder.New()
	b.AddCompileUnit("main.c", "/src\xfe")
	intoff := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
	addFunction(b, "f", 0x100, 0x140, regFrameBase)
	b.AddParameter("x", intoff, fbreg(-8))
	b.TagClose()

	// no records, the directory is never decoded
	if rs := allRecords(t, loadImage(t, b)); len(rs) != 0 {
		t.Fatalf("unexpected records:\n%s", formatRecords(rs))
	}

	b = dwarfbuilder.New()
	b.AddCompileUnit("main.c", "/src\xfe")
	intoff = b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
	addFunction(b, "f", 0x100, 0x140, cfaFrameBase)
	b.AddParameter("x", intoff, fbreg(-8))
	b.TagClose()

	rr := Records(loadImage(t, b))
	for rr.Next() {
	}
	var mte *MalformedTextError
	if !errors.As(rr.Err(), &mte) || mte.Attr != dwarf.AttrCompDir {
		t.Fatalf("expected a MalformedTextError for the directory, got %v", rr.Err())
	}
}

func TestMissingUnitNames(t *testing.T) {
	b := dwarfbuilder.New()
	b.AddCompileUnit("", "")
	intoff := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
	addFunction(b, "", 0x100, 0x140, cfaFrameBase)
	b.AddParameter("", intoff, fbreg(-8))
	b.TagClose()

	rs := allRecords(t, loadImage(t, b))
	if len(rs) != 1 {
		t.Fatalf("expected one record, got:\n%s", formatRecords(rs))
	}
	if rs[0].Dir != nil || rs[0].File != nil || rs[0].Function != nil || rs[0].Name != nil {
		t.Errorf("absent names reported: %s", formatRecords(rs))
	}
}

func TestLoclistsV5(t *testing.T) {
	b := dwarfbuilder.NewVersion(5)
	b.AddCompileUnit("main.c", "/src")
	intoff := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
	addFunction(b, "f", 0x100, 0x140, nil)
	b.Attr(dwarf.AttrFrameBase, []dwarfbuilder.LocEntry{{Lowpc: 0x100, Highpc: 0x140, Loc: cfaFrameBase}})
	b.AddVariable("x", intoff, []dwarfbuilder.LocEntry{
		{Lowpc: 0x100, Highpc: 0x110, Loc: dwarfbuilder.LocationBlock(op.DW_OP_reg0)},
		{Lowpc: 0x120, Highpc: 0x200, Loc: fbreg(-8)},
		{Loc: dwarfbuilder.LocationBlock(op.DW_OP_reg0 + 1), Default: true},
	})
	b.TagClose()

	rs := allRecords(t, loadImage(t, b))
	if len(rs) != 1 {
		t.Fatalf("expected one record, got:\n%s", formatRecords(rs))
	}
	l := rs[0].Locations
	expected := [][2]uint64{{0x100, 0x110}, {0x110, 0x120}, {0x120, 0x140}}
	if len(l) != len(expected) {
		t.Fatalf("wrong locations: %s", l.Format(8, binary.LittleEndian))
	}
	for i := range expected {
		if l[i].LowPC != expected[i][0] || l[i].HighPC != expected[i][1] {
			t.Errorf("entry %d: expected [%#x, %#x) got [%#x, %#x)", i, expected[i][0], expected[i][1], l[i].LowPC, l[i].HighPC)
		}
	}
	if instr, _ := op.Parse(l[1].Instr, 8, binary.LittleEndian); len(instr) != 1 || instr[0].Opcode != op.DW_OP_reg0+1 {
		t.Errorf("gap not covered by the default location: %s", l.Format(8, binary.LittleEndian))
	}
}

func TestUnitReader(t *testing.T) {
	b := dwarfbuilder.New()
	cu1 := b.AddCompileUnit("a.c", "/src")
	b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
	cu2 := b.AddCompileUnit("b.c", "")
	b.AddBaseType("long", dwarfbuilder.DW_ATE_signed, 8)

	ur := NewUnitReader(loadImage(t, b))
	var got []*Unit
	for ur.Next() {
		got = append(got, ur.Unit())
	}
	if err := ur.Err(); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 units, got %d", len(got))
	}
	if got[0].Offset != cu1 || strOrNil(got[0].File) != "a.c" || strOrNil(got[0].Dir) != "/src" || got[0].Version != 4 {
		t.Errorf("wrong first unit %#v", got[0])
	}
	if got[1].Offset != cu2 || strOrNil(got[1].File) != "b.c" || got[1].Dir != nil {
		t.Errorf("wrong second unit %#v", got[1])
	}
	if len(got[1].Root.Children) != 1 || got[1].Root.Children[0].Tag != dwarf.TagBaseType {
		t.Errorf("wrong children of second unit")
	}
	if ur.Next() || ur.Unit() != nil {
		t.Errorf("reader restarted")
	}
}

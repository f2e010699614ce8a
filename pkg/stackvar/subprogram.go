package stackvar

import (
	"debug/dwarf"
	"fmt"
	"sort"

	"github.com/derekparker/trie"

	"github.com/stackvars/stackvars/pkg/bininfo"
	"github.com/stackvars/stackvars/pkg/dwarf/godwarf"
)

// Subprogram identifies a function with a static pc range.
type Subprogram struct {
	Dir   *string
	File  *string
	Name  *string
	Range [2]uint64

	UnitOffset dwarf.Offset // offset of the header of the owning unit
	Offset     dwarf.Offset // offset of the subprogram entry
}

// SubprogramReader lists the subprograms of an image without building
// type indexes or looking at variables.
type SubprogramReader struct {
	img   *bininfo.Image
	rdr   *dwarf.Reader
	aordr *dwarf.Reader

	unitOff dwarf.Offset
	dir     *string
	file    *string

	sp   Subprogram
	err  error
	done bool
}

// Subprograms returns a reader for the subprograms of img.
func Subprograms(img *bininfo.Image) *SubprogramReader {
	return &SubprogramReader{
		img:   img,
		rdr:   img.Dwarf.Reader(),
		aordr: img.Dwarf.Reader(),
	}
}

// Next advances to the next subprogram that has both pc bounds.
func (sr *SubprogramReader) Next() bool {
	sr.sp = Subprogram{}
	if sr.err != nil || sr.done {
		return false
	}
	for {
		e, err := sr.rdr.Next()
		if err != nil {
			sr.err = err
			return false
		}
		if e == nil {
			sr.done = true
			return false
		}

		switch e.Tag {
		case dwarf.TagCompileUnit:
			if err := sr.enterUnit(e); err != nil {
				sr.err = err
				return false
			}
		case dwarf.TagTypeUnit, dwarf.TagPartialUnit, dwarf.TagSkeletonUnit:
			sr.rdr.SkipChildren()
		case dwarf.TagSubprogram:
			ent, _ := godwarf.LoadAbstractOrigin(e, sr.aordr)
			rng, ok := (&godwarf.Tree{Entry: ent, Tag: e.Tag, Offset: e.Offset}).PCRange()
			if !ok {
				continue
			}
			name := textAttr(ent, dwarf.AttrName)
			if err := checkText(name, dwarf.AttrName, e.Offset); err != nil {
				sr.err = err
				return false
			}
			sr.sp = Subprogram{
				Dir:        sr.dir,
				File:       sr.file,
				Name:       name,
				Range:      rng,
				UnitOffset: sr.unitOff,
				Offset:     e.Offset,
			}
			return true
		}
	}
}

func (sr *SubprogramReader) enterUnit(e *dwarf.Entry) error {
	h, ok := sr.img.UnitHeader(e.Offset)
	if !ok {
		return fmt.Errorf("compile unit entry at %#x outside of any unit header", e.Offset)
	}
	sr.unitOff = h.Offset
	sr.dir = textAttr(e, dwarf.AttrCompDir)
	sr.file = textAttr(e, dwarf.AttrName)
	if err := checkText(sr.dir, dwarf.AttrCompDir, e.Offset); err != nil {
		return err
	}
	return checkText(sr.file, dwarf.AttrName, e.Offset)
}

// Subprogram returns the subprogram read by the last call to Next.
func (sr *SubprogramReader) Subprogram() Subprogram {
	return sr.sp
}

// Err returns the error that stopped the reader, if any.
func (sr *SubprogramReader) Err() error {
	return sr.err
}

// Inventory indexes the named subprograms of an image by name.
type Inventory struct {
	names *trie.Trie
	n     int
}

// NewInventory reads every subprogram of img.
func NewInventory(img *bininfo.Image) (*Inventory, error) {
	inv := &Inventory{names: trie.New()}
	sr := Subprograms(img)
	for sr.Next() {
		inv.Add(sr.Subprogram())
	}
	if err := sr.Err(); err != nil {
		return nil, err
	}
	return inv, nil
}

// Add adds sp to the inventory. Unnamed subprograms are ignored.
func (inv *Inventory) Add(sp Subprogram) {
	if sp.Name == nil {
		return
	}
	sps := inv.Lookup(*sp.Name)
	inv.names.Add(*sp.Name, append(sps, sp))
	inv.n++
}

// Lookup returns the subprograms named name, in the order they were added.
func (inv *Inventory) Lookup(name string) []Subprogram {
	node, ok := inv.names.Find(name)
	if !ok {
		return nil
	}
	return node.Meta().([]Subprogram)
}

// PrefixSearch returns the subprograms whose name starts with prefix,
// sorted by name.
func (inv *Inventory) PrefixSearch(prefix string) []Subprogram {
	var r []Subprogram
	for _, name := range inv.sortedKeys(prefix) {
		r = append(r, inv.Lookup(name)...)
	}
	return r
}

// Names returns the names of the subprograms starting with prefix, sorted.
func (inv *Inventory) Names(prefix string) []string {
	return inv.sortedKeys(prefix)
}

// Len returns the number of subprograms in the inventory.
func (inv *Inventory) Len() int {
	return inv.n
}

func (inv *Inventory) sortedKeys(prefix string) []string {
	keys := inv.names.PrefixSearch(prefix)
	sort.Strings(keys)
	return keys
}

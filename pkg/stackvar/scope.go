package stackvar

import (
	"debug/dwarf"

	"github.com/stackvars/stackvars/pkg/dwarf/godwarf"
)

// StackVariables returns the variables and formal parameters declared
// anywhere inside fn, in the order they appear. Nested subprograms are
// not descended into.
func StackVariables(fn *godwarf.Tree) []*godwarf.Tree {
	var r []*godwarf.Tree
	for _, child := range fn.Children {
		child.Walk(func(n *godwarf.Tree) bool {
			switch n.Tag {
			case dwarf.TagVariable, dwarf.TagFormalParameter:
				r = append(r, n)
			case dwarf.TagSubprogram:
				return false
			}
			return true
		})
	}
	return r
}

// subprograms returns every subprogram owned by root, nested ones
// included, in the order they appear.
func subprograms(root *godwarf.Tree) []*godwarf.Tree {
	var r []*godwarf.Tree
	root.Walk(func(n *godwarf.Tree) bool {
		if n.Tag == dwarf.TagSubprogram {
			r = append(r, n)
		}
		return true
	})
	return r
}

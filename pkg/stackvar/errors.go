package stackvar

import (
	"debug/dwarf"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/stackvars/stackvars/pkg/dwarf/godwarf"
)

// ErrUnitNotIndexed is returned by Context.VariablesOf for subprograms of
// a unit the context never indexed.
var ErrUnitNotIndexed = errors.New("unit not indexed")

// MalformedTextError is returned when a name or path attribute can not be
// decoded as UTF-8 text.
type MalformedTextError struct {
	Attr   dwarf.Attr
	Offset dwarf.Offset // offset of the entry owning the attribute
}

func (err *MalformedTextError) Error() string {
	return fmt.Sprintf("entry at %#x: %s is not valid UTF-8", err.Offset, err.Attr)
}

// textAttr returns the value of the string attribute attr of e, nil if
// the attribute is absent.
func textAttr(e godwarf.Entry, attr dwarf.Attr) *string {
	s, ok := e.Val(attr).(string)
	if !ok {
		return nil
	}
	return &s
}

func checkText(s *string, attr dwarf.Attr, off dwarf.Offset) error {
	if s != nil && !utf8.ValidString(*s) {
		return &MalformedTextError{Attr: attr, Offset: off}
	}
	return nil
}

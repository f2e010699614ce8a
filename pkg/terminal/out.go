package terminal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/stackvars/stackvars/pkg/config"
	"github.com/stackvars/stackvars/pkg/stackvar"
)

const (
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiRed    = 31
	ansiGreen  = 32
	ansiYellow = 33
	ansiBlue   = 34
)

// Stdout returns the writer output should go to and whether it should be
// colored, according to mode ("auto", "always" or "never").
func Stdout(mode string) (io.Writer, bool) {
	if colorMode(mode) {
		return colorable.NewColorableStdout(), true
	}
	return os.Stdout, false
}

func colorMode(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd()) && strings.ToLower(os.Getenv("TERM")) != "dumb"
}

// Printer writes records and subprograms, one per line, with tab
// separated fields.
type Printer struct {
	w       io.Writer
	color   bool
	conf    *config.Config
	ptrSize int
	order   binary.ByteOrder
}

// NewPrinter returns a printer writing to w. Directories are rewritten
// with the substitute-path rules of conf. Location expressions are
// decoded with the pointer size and byte order of the image.
func NewPrinter(w io.Writer, color bool, conf *config.Config, ptrSize int, order binary.ByteOrder) *Printer {
	if conf == nil {
		conf = &config.Config{}
	}
	return &Printer{w: w, color: color, conf: conf, ptrSize: ptrSize, order: order}
}

// SetColor turns highlighting on or off.
func (p *Printer) SetColor(color bool) {
	p.color = color
}

func (p *Printer) highlight(code int, s string) string {
	if !p.color {
		return s
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, code) + s + terminalResetEscapeCode
}

func (p *Printer) sourcePath(dir, file *string) string {
	switch {
	case file == nil:
		return "?"
	case dir == nil || path.IsAbs(*file):
		return *file
	}
	return path.Join(p.conf.SubstitutePath.Substitute(*dir), *file)
}

func orUnknown(s *string) string {
	if s == nil {
		return "?"
	}
	return *s
}

// Record prints r.
func (p *Printer) Record(r stackvar.Record) error {
	var locs string
	if p.conf.ShowLocationExpr {
		locs = r.Locations.Format(p.ptrSize, p.order)
	} else {
		locs = fmt.Sprintf("%d locations", len(r.Locations))
	}
	_, err := fmt.Fprintf(p.w, "%s\t%s\t[%#x, %#x)\t%s\t%s\t%s\n",
		p.sourcePath(r.Dir, r.File),
		p.highlight(ansiBlue, orUnknown(r.Function)),
		r.Range[0], r.Range[1],
		p.highlight(ansiGreen, orUnknown(r.Name)),
		p.highlight(ansiYellow, r.Type.String()),
		locs)
	return err
}

// Subprogram prints sp.
func (p *Printer) Subprogram(sp stackvar.Subprogram) error {
	_, err := fmt.Fprintf(p.w, "%s\t[%#x, %#x)\t%s\n",
		p.highlight(ansiBlue, orUnknown(sp.Name)),
		sp.Range[0], sp.Range[1],
		p.sourcePath(sp.Dir, sp.File))
	return err
}

// Errorf prints an error message.
func (p *Printer) Errorf(format string, args ...interface{}) {
	fmt.Fprintln(p.w, p.highlight(ansiRed, fmt.Sprintf(format, args...)))
}

// Lookup returns the subprograms of inv matching pattern, which is either
// an exact name or a prefix followed by '*'.
func Lookup(inv *stackvar.Inventory, pattern string) []stackvar.Subprogram {
	if prefix := strings.TrimSuffix(pattern, "*"); prefix != pattern {
		return inv.PrefixSearch(prefix)
	}
	return inv.Lookup(pattern)
}

// PrintQuery prints the records of every subprogram matching one of
// patterns, using the type indexes of ctx. Patterns matching nothing are
// an error. If limit is positive printing stops after limit records.
func PrintQuery(ctx *stackvar.Context, inv *stackvar.Inventory, patterns []string, p *Printer, limit int) error {
	n := 0
	for _, pattern := range patterns {
		sps := Lookup(inv, pattern)
		if len(sps) == 0 {
			return fmt.Errorf("no function matches %q", pattern)
		}
		for _, sp := range sps {
			recs, err := ctx.RecordsOf(sp)
			if err != nil {
				return err
			}
			for _, r := range recs {
				if err := p.Record(r); err != nil {
					return err
				}
				n++
				if limit > 0 && n >= limit {
					return nil
				}
			}
		}
	}
	return nil
}

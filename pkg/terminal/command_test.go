package terminal

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stackvars/stackvars/pkg/bininfo"
	"github.com/stackvars/stackvars/pkg/config"
	"github.com/stackvars/stackvars/pkg/dwarf/dwarfbuilder"
	"github.com/stackvars/stackvars/pkg/dwarf/op"
	"github.com/stackvars/stackvars/pkg/stackvar"
)

func fixtureImage(t *testing.T) *bininfo.Image {
	t.Helper()
	cfa := dwarfbuilder.LocationBlock(op.DW_OP_call_frame_cfa)
	b := dwarfbuilder.New()
	b.AddCompileUnit("main.c", "/build/src")
	intoff := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
	b.AddSubprogram("main", 0x100, 0x140)
	b.Attr(dwarf.AttrFrameBase, cfa)
	b.AddParameter("argc", intoff, dwarfbuilder.LocationBlock(op.DW_OP_fbreg, -20))
	b.TagClose()
	b.AddSubprogram("parse_args", 0x140, 0x180)
	b.Attr(dwarf.AttrFrameBase, cfa)
	b.AddVariable("i", intoff, dwarfbuilder.LocationBlock(op.DW_OP_fbreg, -4))
	b.TagClose()
	b.AddSubprogram("parse_opts", 0x180, 0x1c0)
	b.Attr(dwarf.AttrFrameBase, cfa)
	b.AddVariable("n", intoff, dwarfbuilder.LocationBlock(op.DW_OP_fbreg, -8))
	b.TagClose()

	abbrev, aranges, frame, info, line, pubnames, ranges, str, loc, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	dw, err := dwarf.New(abbrev, aranges, frame, info, line, pubnames, ranges, str)
	if err != nil {
		t.Fatal(err)
	}
	img, err := bininfo.LoadImageFromData(dw, info, loc, nil, nil, 8, binary.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func testTerm(t *testing.T, conf *config.Config) (*Term, *bytes.Buffer) {
	t.Helper()
	img := fixtureImage(t)
	inv, err := stackvar.NewInventory(img)
	if err != nil {
		t.Fatal(err)
	}
	ctx, err := stackvar.NewContext(img, stackvar.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if conf == nil {
		conf = &config.Config{}
	}
	buf := new(bytes.Buffer)
	return newTerm(conf, inv, ctx, buf, false, img.PtrSize, img.ByteOrder), buf
}

func TestCommandDefault(t *testing.T) {
	var (
		cmds = Commands{}
		cmd  = cmds.Find("non-existant-command")
	)

	err := cmd(nil, "")
	if err == nil {
		t.Fatal("cmd() did not default")
	}

	if err.Error() != "command not available" {
		t.Fatal("wrong command output")
	}
}

func TestEmptyCommand(t *testing.T) {
	var (
		cmds = ExploreCommands()
		cmd  = cmds.Find("")
		err  = cmd(nil, "")
	)

	if err != nil {
		t.Error("Null command not returned", err)
	}
}

func TestExitCommand(t *testing.T) {
	term, _ := testTerm(t, nil)
	for _, cmd := range []string{"exit", "quit", "q"} {
		if _, ok := term.cmds.Call(cmd, term).(ExitRequestError); !ok {
			t.Errorf("%s did not request exit", cmd)
		}
	}
}

func TestExecuteFile(t *testing.T) {
	funcsCount := 0
	varsCount := 0
	c := &Commands{
		cmds: []command{
			{aliases: []string{"funcs"}, cmdFn: func(t *Term, args string) error {
				funcsCount++
				return nil
			}},
			{aliases: []string{"vars"}, cmdFn: func(t *Term, args string) error {
				varsCount++
				return nil
			}},
		},
	}

	path := filepath.Join(t.TempDir(), "cmds")
	if err := os.WriteFile(path, []byte("# comment\nfuncs main\n\nvars main\nvars parse_*\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := c.executeFile(nil, path); err != nil {
		t.Fatalf("executeFile: %v", err)
	}

	if funcsCount != 1 || varsCount != 2 {
		t.Fatalf("Wrong counts funcs: %d vars: %d\n", funcsCount, varsCount)
	}
}

func TestFuncsCommand(t *testing.T) {
	term, buf := testTerm(t, nil)
	if err := term.cmds.Call("funcs parse_", term); err != nil {
		t.Fatal(err)
	}
	expected := "parse_args\t[0x140, 0x180)\t/build/src/main.c\nparse_opts\t[0x180, 0x1c0)\t/build/src/main.c\n"
	if buf.String() != expected {
		t.Errorf("expected:\n%s\ngot:\n%s", expected, buf.String())
	}

	buf.Reset()
	if err := term.cmds.Call("f", term); err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(buf.String(), "\n"); n != 3 {
		t.Errorf("expected 3 functions, got:\n%s", buf.String())
	}

	if err := term.cmds.Call("funcs a b", term); err == nil {
		t.Errorf("funcs accepted two arguments")
	}
}

func TestVarsCommand(t *testing.T) {
	term, buf := testTerm(t, nil)
	if err := term.cmds.Call("vars main", term); err != nil {
		t.Fatal(err)
	}
	expected := "/build/src/main.c\tmain\t[0x100, 0x140)\targc\tint\t1 locations\n"
	if buf.String() != expected {
		t.Errorf("expected:\n%s\ngot:\n%s", expected, buf.String())
	}

	buf.Reset()
	if err := term.cmds.Call("v 'parse_*'", term); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "\ti\t") || !strings.Contains(lines[1], "\tn\t") {
		t.Errorf("wrong output for parse_*:\n%s", buf.String())
	}

	if err := term.cmds.Call("vars nonexistent", term); err == nil {
		t.Errorf("no error for a function that does not exist")
	}
	if err := term.cmds.Call("vars", term); err == nil {
		t.Errorf("no error without arguments")
	}
	if err := term.cmds.Call("vars 'main", term); err == nil {
		t.Errorf("no error for unterminated quote")
	}
}

func TestVarsShowLocationExpr(t *testing.T) {
	term, buf := testTerm(t, nil)
	if err := configureCmd(term, "show-location-expr true"); err != nil {
		t.Fatal(err)
	}
	if err := configureCmd(term, "substitute-path /build /home/user"); err != nil {
		t.Fatal(err)
	}
	if err := term.cmds.Call("vars main", term); err != nil {
		t.Fatal(err)
	}
	expected := "/home/user/src/main.c\tmain\t[0x100, 0x140)\targc\tint\t[0x100, 0x140) DW_OP_fbreg -0x14\n"
	if buf.String() != expected {
		t.Errorf("expected:\n%q\ngot:\n%q", expected, buf.String())
	}
}

func TestHelp(t *testing.T) {
	term, buf := testTerm(t, nil)
	if err := term.cmds.Call("help", term); err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"Querying functions and variables", "funcs (alias: f)", "vars (alias: v)", "exit (alias: quit | q)"} {
		if !strings.Contains(buf.String(), s) {
			t.Errorf("help does not mention %q:\n%s", s, buf.String())
		}
	}
	buf.Reset()
	if err := term.cmds.Call("help vars", term); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "Prints the stack variables of functions.") {
		t.Errorf("wrong help for vars:\n%s", buf.String())
	}
	if err := term.cmds.Call("help nonexistent", term); err != errNoCmd {
		t.Errorf("expected errNoCmd, got %v", err)
	}
}

func TestComplete(t *testing.T) {
	term, _ := testTerm(t, nil)
	for _, tc := range []struct {
		line     string
		expected []string
	}{
		{"fu", []string{"funcs"}},
		{"vars pa", []string{"vars parse_args", "vars parse_opts"}},
		{"vars main pa", []string{"vars main parse_args", "vars main parse_opts"}},
		{"vars ", []string{"vars main", "vars parse_args", "vars parse_opts"}},
		{"config pa", nil},
	} {
		got := term.cmds.complete(term, tc.line)
		if strings.Join(got, ",") != strings.Join(tc.expected, ",") {
			t.Errorf("%q: expected %q got %q", tc.line, tc.expected, got)
		}
	}
}

func findCmdName(c *Commands, cmdstr string) string {
	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.aliases[0]
		}
	}
	return ""
}

func TestConfig(t *testing.T) {
	term, _ := testTerm(t, nil)

	err := configureCmd(term, "nonexistent-parameter 10")
	if err == nil {
		t.Fatalf("expected error executing configureCmd(nonexistent-parameter)")
	}

	err = configureCmd(term, "max-records 10")
	if err != nil {
		t.Fatalf("error executing configureCmd(max-records): %v", err)
	}
	if term.conf.MaxRecords == nil || *term.conf.MaxRecords != 10 {
		t.Fatalf("expected MaxRecords 10, got: %v", term.conf.MaxRecords)
	}
	if err := configureCmd(term, "max-records -1"); err == nil {
		t.Fatalf("negative max-records accepted")
	}
	err = configureCmd(term, "show-location-expr   true")
	if err != nil {
		t.Fatalf("error executing configureCmd(show-location-expr   true)")
	}
	if term.conf.ShowLocationExpr != true {
		t.Fatalf("expected ShowLocationExpr true, got false")
	}
	if err := configureCmd(term, "show-location-expr maybe"); err == nil {
		t.Fatalf("show-location-expr accepted a non boolean value")
	}
	err = configureCmd(term, "color never")
	if err != nil {
		t.Fatalf("error executing configureCmd(color never): %v", err)
	}
	if term.conf.Color != "never" {
		t.Fatalf("expected color never, got %q", term.conf.Color)
	}
	if err := configureCmd(term, "color blue"); err == nil {
		t.Fatalf("invalid color mode accepted")
	}
	err = configureCmd(term, "type-cache-size 16")
	if err != nil {
		t.Fatalf("error executing configureCmd(type-cache-size 16): %v", err)
	}
	if term.conf.GetTypeCacheSize() != 16 {
		t.Fatalf("expected type cache size 16, got %d", term.conf.GetTypeCacheSize())
	}

	err = configureCmd(term, "substitute-path a b")
	if err != nil {
		t.Fatalf("error executing configureCmd(substitute-path a b): %v", err)
	}
	if len(term.conf.SubstitutePath) != 1 || (term.conf.SubstitutePath[0] != config.SubstitutePathRule{From: "a", To: "b"}) {
		t.Fatalf("unexpected SubstitutePathRules after insert %v", term.conf.SubstitutePath)
	}

	err = configureCmd(term, `substitute-path "a dir" b`)
	if err != nil {
		t.Fatalf("error executing configureCmd(substitute-path \"a dir\" b): %v", err)
	}
	if len(term.conf.SubstitutePath) != 2 || term.conf.SubstitutePath[1].From != "a dir" {
		t.Fatalf("quoted rule not added %v", term.conf.SubstitutePath)
	}

	err = configureCmd(term, "substitute-path a")
	if err != nil {
		t.Fatalf("error executing configureCmd(substitute-path a): %v", err)
	}
	if len(term.conf.SubstitutePath) != 1 {
		t.Fatalf("unexpected SubstitutePathRules after delete %v", term.conf.SubstitutePath)
	}

	err = configureCmd(term, "alias vars locals")
	if err != nil {
		t.Fatalf("error executing configureCmd(alias vars locals): %v", err)
	}
	if len(term.conf.Aliases["vars"]) != 1 {
		t.Fatalf("aliases not changed after configure command %v", term.conf.Aliases)
	}
	if findCmdName(term.cmds, "locals") != "vars" {
		t.Fatalf("new alias not found")
	}

	if err := configureCmd(term, "alias nonexistent x"); err == nil {
		t.Fatalf("alias for a missing command accepted")
	}

	err = configureCmd(term, "alias locals")
	if err != nil {
		t.Fatalf("error executing configureCmd(alias locals): %v", err)
	}
	if len(term.conf.Aliases["vars"]) != 0 {
		t.Fatalf("alias not removed after configure command %v", term.conf.Aliases)
	}
	if findCmdName(term.cmds, "locals") != "" {
		t.Fatalf("new alias found after delete")
	}
}

func TestConfigAliasesAtStartup(t *testing.T) {
	term, _ := testTerm(t, &config.Config{Aliases: map[string][]string{"funcs": {"fn"}}})
	if findCmdName(term.cmds, "fn") != "funcs" {
		t.Errorf("alias from the configuration not merged")
	}
}

func TestConfigMaxRecords(t *testing.T) {
	term, buf := testTerm(t, nil)
	if err := term.cmds.Call("config max-records 1", term); err != nil {
		t.Fatal(err)
	}
	if err := term.cmds.Call("vars 'parse_*'", term); err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(buf.String(), "\n"); n != 1 || !strings.Contains(buf.String(), "\ti\t") {
		t.Errorf("expected only the first record, got:\n%s", buf.String())
	}

	buf.Reset()
	if err := term.cmds.Call("config max-records 0", term); err != nil {
		t.Fatal(err)
	}
	if err := term.cmds.Call("vars 'parse_*'", term); err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(buf.String(), "\n"); n != 2 {
		t.Errorf("expected 2 records without a limit, got:\n%s", buf.String())
	}
}

func TestConfigTypeCacheSize(t *testing.T) {
	term, buf := testTerm(t, nil)
	if err := term.cmds.Call("vars main", term); err != nil {
		t.Fatal(err)
	}
	if term.ctx.CachedTypes() == 0 {
		t.Fatalf("no type cached after a query")
	}
	expected := buf.String()

	buf.Reset()
	if err := term.cmds.Call("config type-cache-size 0", term); err != nil {
		t.Fatal(err)
	}
	if term.ctx.CachedTypes() == 0 {
		t.Errorf("cache emptied when resized to the default size")
	}
	if err := term.cmds.Call("config type-cache-size 1", term); err != nil {
		t.Fatal(err)
	}
	if term.ctx.CachedTypes() != 1 {
		t.Errorf("expected 1 cached type, got %d", term.ctx.CachedTypes())
	}

	buf.Reset()
	if err := term.cmds.Call("vars main", term); err != nil {
		t.Fatal(err)
	}
	if buf.String() != expected {
		t.Errorf("output changed after resizing the type cache:\n%s\n%s", expected, buf.String())
	}
}

func TestConfigColor(t *testing.T) {
	term, buf := testTerm(t, nil)
	if err := term.cmds.Call("config color always", term); err != nil {
		t.Fatal(err)
	}
	if err := term.cmds.Call("vars main", term); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "\033[32margc\033[0m") {
		t.Errorf("expected colored output, got %q", buf.String())
	}

	buf.Reset()
	if err := term.cmds.Call("config color never", term); err != nil {
		t.Fatal(err)
	}
	if err := term.cmds.Call("vars main", term); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "\033[") {
		t.Errorf("unexpected colored output %q", buf.String())
	}
}

func TestConfigList(t *testing.T) {
	n := 20
	term, buf := testTerm(t, &config.Config{
		MaxRecords:     &n,
		SubstitutePath: config.SubstitutePathRules{{From: "/a", To: "/b"}},
		Aliases:        map[string][]string{"vars": {"locals"}},
	})
	if err := term.cmds.Call("config -list", term); err != nil {
		t.Fatal(err)
	}
	expected := `show-location-expr false
type-cache-size    <not defined>
max-records        20
color              auto
substitute-path    "/a" -> "/b"
alias              locals = vars
`
	if buf.String() != expected {
		t.Errorf("expected:\n%s\ngot:\n%s", expected, buf.String())
	}
}

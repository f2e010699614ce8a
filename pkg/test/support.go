package test

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// Fixture is a test binary.
type Fixture struct {
	// Name is the short name of the fixture.
	Name string
	// Path is the absolute path to the test binary.
	Path string
	// Source is the absolute path of the test binary source.
	Source string
}

// Fixtures is a map of fixture name and build flags to Fixture.
var Fixtures map[string]Fixture = make(map[string]Fixture)

// FindFixturesDir returns the path of the _fixtures directory, searching
// the working directory and its parents.
func FindFixturesDir() string {
	parent := ".."
	fixturesDir := "_fixtures"
	for depth := 0; depth < 10; depth++ {
		if _, err := os.Stat(fixturesDir); err == nil {
			break
		}
		fixturesDir = filepath.Join(parent, fixturesDir)
	}
	return fixturesDir
}

// BuildFixture compiles _fixtures/<name>.c with gcc, without optimizations
// and with debug information, passing flags to the compiler.
// The test is skipped if gcc is not available: the frame base of the
// functions compiled by clang is a register, not the call frame address,
// and no record would be extracted from them.
func BuildFixture(t testing.TB, name string, flags ...string) Fixture {
	t.Helper()
	key := strings.Join(append([]string{name}, flags...), " ")
	if f, ok := Fixtures[key]; ok {
		return f
	}

	if runtime.GOOS != "linux" {
		t.Skip("C fixtures are only built on linux")
	}
	cc, err := exec.LookPath("gcc")
	if err != nil {
		t.Skip("gcc not found")
	}
	if out, err := exec.Command(cc, "--version").CombinedOutput(); err != nil || strings.Contains(string(out), "clang") {
		t.Skip("gcc is an alias of clang")
	}

	fixturesDir := FindFixturesDir()

	// Make a (good enough) random temporary file name
	r := make([]byte, 4)
	rand.Read(r)
	tmpfile := filepath.Join(os.TempDir(), fmt.Sprintf("%s.%s", name, hex.EncodeToString(r)))

	buildFlags := append([]string{"-g", "-O0", "-o", tmpfile}, flags...)
	buildFlags = append(buildFlags, name+".c")

	cmd := exec.Command(cc, buildFlags...)
	cmd.Dir = fixturesDir

	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Error compiling %s: %v\n%s", name, err, out)
	}

	source, _ := filepath.Abs(filepath.Join(fixturesDir, name+".c"))
	source = filepath.ToSlash(source)

	Fixtures[key] = Fixture{Name: name, Path: tmpfile, Source: source}
	return Fixtures[key]
}

// RunTestsWithFixtures runs the tests of m and deletes the fixtures they
// built.
func RunTestsWithFixtures(m *testing.M) int {
	status := m.Run()

	// Remove the fixtures.
	for _, f := range Fixtures {
		os.Remove(f.Path)
	}
	return status
}

package terminal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-delve/liner"

	"github.com/stackvars/stackvars/pkg/bininfo"
	"github.com/stackvars/stackvars/pkg/config"
	"github.com/stackvars/stackvars/pkg/stackvar"
)

const historyFile string = ".explore_history"

// Term represents the explore shell.
type Term struct {
	conf    *config.Config
	prompt  string
	line    *liner.State
	cmds    *Commands
	stdout  io.Writer
	printer *Printer

	inv *stackvar.Inventory
	ctx *stackvar.Context

	InitFile string
}

// New indexes img and returns a shell to query it.
func New(img *bininfo.Image, conf *config.Config) (*Term, error) {
	if conf == nil {
		conf = &config.Config{}
	}
	inv, err := stackvar.NewInventory(img)
	if err != nil {
		return nil, err
	}
	ctx, err := stackvar.NewContext(img, stackvar.Options{TypeCacheSize: conf.GetTypeCacheSize()})
	if err != nil {
		return nil, err
	}
	w, color := Stdout(conf.Color)
	return newTerm(conf, inv, ctx, w, color, img.PtrSize, img.ByteOrder), nil
}

func newTerm(conf *config.Config, inv *stackvar.Inventory, ctx *stackvar.Context, w io.Writer, color bool, ptrSize int, order binary.ByteOrder) *Term {
	cmds := ExploreCommands()
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}
	return &Term{
		conf:    conf,
		prompt:  "(stackvars) ",
		cmds:    cmds,
		stdout:  w,
		printer: NewPrinter(w, color, conf, ptrSize, order),
		inv:     inv,
		ctx:     ctx,
	}
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
}

// Run reads commands from the terminal until exit is requested or the
// input ends.
func (t *Term) Run() (int, error) {
	t.line = liner.NewLiner()
	defer t.Close()

	t.line.SetCtrlCAborts(true)
	t.line.SetCompleter(func(line string) []string {
		return t.cmds.complete(t, line)
	})

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}

	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF || err == liner.ErrPromptAborted {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed: %v", err)
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			t.printer.Errorf("Command failed: %s", err)
		}
	}
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
		return 0, nil
	}
	if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
		_, err = t.line.WriteHistory(f)
		if err != nil {
			fmt.Println("readline history error:", err)
		}
		f.Close()
	}
	return 0, nil
}

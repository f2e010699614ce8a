// Package terminal implements the interactive shell of stackvars and the
// printing of records.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	completeFuncs  bool // arguments are function names
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the explore shell.
type Commands struct {
	cmds []command
}

// ExitRequestError is returned by the exit command.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

// ExploreCommands returns a Commands struct with default commands defined.
func ExploreCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"funcs", "f"}, group: queryCmds, completeFuncs: true, cmdFn: funcs, helpMsg: `Lists functions with a static address range.

	funcs [prefix]

Without arguments every function is listed.`},
		{aliases: []string{"vars", "v"}, group: queryCmds, completeFuncs: true, cmdFn: vars, helpMsg: `Prints the stack variables of functions.

	vars <function>...

Each argument is either the name of a function or a prefix followed by '*'.
Only variables with a resolvable type and at least one location are printed.
Output stops after max-records records, see "help config".`},
		{aliases: []string{"units"}, group: queryCmds, cmdFn: units, helpMsg: `Prints the number of indexed compile units.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter. The parameters are:

	show-location-expr	print location expressions instead of their number
	type-cache-size		number of resolved types kept between queries
	max-records		stop vars after this many records, 0 means no limit
	color			auto, always or never

	config substitute-path <from> <to>
	config substitute-path <from>

Adds or removes a path substitution rule.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of commands.

	source <path>`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: "Exit the shell."},
	}

	return c
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

// complete returns the completions of line: command names for the first
// word, function names for the arguments of commands taking them.
func (c *Commands) complete(t *Term, line string) (r []string) {
	sp := strings.LastIndex(line, " ")
	if sp < 0 {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if strings.HasPrefix(alias, strings.ToLower(line)) {
					r = append(r, alias)
				}
			}
		}
		return r
	}
	cmdname := strings.Fields(line)[0]
	for _, cmd := range c.cmds {
		if !cmd.match(cmdname) || !cmd.completeFuncs {
			continue
		}
		for _, name := range t.inv.Names(line[sp+1:]) {
			r = append(r, line[:sp+1]+name)
		}
	}
	return r
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, args string) error {
	return nil
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits args the way a shell would, without expanding
// anything.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", args)
	}
	return v[0], nil
}

func funcs(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) > 1 {
		return fmt.Errorf("wrong number of arguments to \"funcs\"")
	}
	prefix := ""
	if len(v) == 1 {
		prefix = v[0]
	}
	for _, sp := range t.inv.PrefixSearch(prefix) {
		if err := t.printer.Subprogram(sp); err != nil {
			return err
		}
	}
	return nil
}

func vars(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) == 0 {
		return fmt.Errorf("not enough arguments to \"vars\"")
	}
	return PrintQuery(t.ctx, t.inv, v, t.printer, t.conf.GetMaxRecords())
}

func units(t *Term, args string) error {
	fmt.Fprintf(t.stdout, "%d compile units, %d functions\n", t.ctx.Units(), t.inv.Len())
	return nil
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}
	return c.executeFile(t, args)
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}

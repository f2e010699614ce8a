package terminal

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/stackvars/stackvars/pkg/config"
)

// configKey is a configuration parameter of the explore shell. Set
// validates arg, stores it in the configuration and applies it to the
// running shell.
type configKey struct {
	name string
	show func(c *config.Config) string
	set  func(t *Term, arg string) error
}

var configKeys = []configKey{
	{
		name: "show-location-expr",
		show: func(c *config.Config) string { return strconv.FormatBool(c.ShowLocationExpr) },
		set: func(t *Term, arg string) error {
			v, err := parseBool("show-location-expr", arg)
			if err != nil {
				return err
			}
			t.conf.ShowLocationExpr = v
			return nil
		},
	},
	{
		name: "type-cache-size",
		show: func(c *config.Config) string { return showInt(c.TypeCacheSize) },
		set: func(t *Term, arg string) error {
			n, err := parseCount("type-cache-size", arg)
			if err != nil {
				return err
			}
			t.conf.TypeCacheSize = &n
			if evicted := t.ctx.SetTypeCacheSize(t.conf.GetTypeCacheSize()); evicted > 0 {
				fmt.Fprintf(t.stdout, "%d cached types evicted\n", evicted)
			}
			return nil
		},
	},
	{
		name: "max-records",
		show: func(c *config.Config) string { return showInt(c.MaxRecords) },
		set: func(t *Term, arg string) error {
			n, err := parseCount("max-records", arg)
			if err != nil {
				return err
			}
			t.conf.MaxRecords = &n
			return nil
		},
	},
	{
		name: "color",
		show: func(c *config.Config) string {
			if c.Color == "" {
				return "auto"
			}
			return c.Color
		},
		set: func(t *Term, arg string) error {
			switch arg {
			case "auto", "always", "never":
			default:
				return fmt.Errorf("argument to \"color\" must be one of auto, always or never")
			}
			t.conf.Color = arg
			t.printer.SetColor(colorMode(arg))
			return nil
		},
	},
	{
		name: "substitute-path",
		show: func(c *config.Config) string {
			rules := make([]string, 0, len(c.SubstitutePath))
			for _, r := range c.SubstitutePath {
				rules = append(rules, fmt.Sprintf("%q -> %q", r.From, r.To))
			}
			return strings.Join(rules, ", ")
		},
		set: configureSetSubstitutePath,
	},
	{
		name: "alias",
		show: func(c *config.Config) string {
			var aliases []string
			for cmd, v := range c.Aliases {
				for _, a := range v {
					aliases = append(aliases, a+" = "+cmd)
				}
			}
			sort.Strings(aliases)
			return strings.Join(aliases, ", ")
		},
		set: configureSetAlias,
	},
}

func configureCmd(t *Term, args string) error {
	switch args {
	case "-list":
		return configureList(t)
	case "-save":
		return config.SaveConfig(t.conf)
	case "":
		return fmt.Errorf("wrong number of arguments to \"config\"")
	default:
		return configureSet(t, args)
	}
}

func configureList(t *Term) error {
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	for _, k := range configKeys {
		v := k.show(t.conf)
		if v == "" {
			v = "<not defined>"
		}
		fmt.Fprintf(w, "%s\t%s\n", k.name, v)
	}
	return w.Flush()
}

func configureSet(t *Term, args string) error {
	v := strings.SplitN(args, " ", 2)

	cfgname := v[0]
	var rest string
	if len(v) == 2 {
		rest = strings.TrimSpace(v[1])
	}

	for _, k := range configKeys {
		if k.name == cfgname {
			return k.set(t, rest)
		}
	}
	return fmt.Errorf("%q is not a configuration parameter", cfgname)
}

func showInt(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func parseBool(name, arg string) (bool, error) {
	v, err := strconv.ParseBool(arg)
	if err != nil {
		return false, fmt.Errorf("argument to %q must be true or false", name)
	}
	return v, nil
}

func parseCount(name, arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("argument to %q must be a number", name)
	}
	if n < 0 {
		return 0, fmt.Errorf("argument to %q must be a number greater than zero", name)
	}
	return n, nil
}

func configureSetSubstitutePath(t *Term, rest string) error {
	argv, err := splitArgs(rest)
	if err != nil {
		return err
	}
	switch len(argv) {
	case 1: // delete substitute-path rule
		for i := range t.conf.SubstitutePath {
			if t.conf.SubstitutePath[i].From == argv[0] {
				copy(t.conf.SubstitutePath[i:], t.conf.SubstitutePath[i+1:])
				t.conf.SubstitutePath = t.conf.SubstitutePath[:len(t.conf.SubstitutePath)-1]
				return nil
			}
		}
		return fmt.Errorf("could not find rule for %q", argv[0])
	case 2: // add substitute-path rule
		for i := range t.conf.SubstitutePath {
			if t.conf.SubstitutePath[i].From == argv[0] {
				t.conf.SubstitutePath[i].To = argv[1]
				return nil
			}
		}
		t.conf.SubstitutePath = append(t.conf.SubstitutePath, config.SubstitutePathRule{From: argv[0], To: argv[1]})
	default:
		return fmt.Errorf("wrong number of arguments to \"config substitute-path\"")
	}
	return nil
}

func configureSetAlias(t *Term, rest string) error {
	argv, err := splitArgs(rest)
	if err != nil {
		return err
	}
	switch len(argv) {
	case 1: // delete alias rule
		for k := range t.conf.Aliases {
			v := t.conf.Aliases[k]
			for i := range v {
				if v[i] == argv[0] {
					copy(v[i:], v[i+1:])
					t.conf.Aliases[k] = v[:len(v)-1]
					break
				}
			}
		}
	case 2: // add alias rule
		alias, cmd := argv[1], argv[0]
		if findCommand(t.cmds, cmd) == nil {
			return fmt.Errorf("no command %q", cmd)
		}
		if t.conf.Aliases == nil {
			t.conf.Aliases = make(map[string][]string)
		}
		t.conf.Aliases[cmd] = append(t.conf.Aliases[cmd], alias)
	default:
		return fmt.Errorf("wrong number of arguments to \"config alias\"")
	}
	t.cmds.Merge(t.conf.Aliases)
	return nil
}

func findCommand(c *Commands, name string) *command {
	for i := range c.cmds {
		if c.cmds[i].aliases[0] == name {
			return &c.cmds[i]
		}
	}
	return nil
}

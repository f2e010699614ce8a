package cmds

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackvars/stackvars/cmd/stackvars/cmds/helphelpers"
	"github.com/stackvars/stackvars/pkg/bininfo"
	"github.com/stackvars/stackvars/pkg/config"
	"github.com/stackvars/stackvars/pkg/logflags"
	"github.com/stackvars/stackvars/pkg/stackvar"
	"github.com/stackvars/stackvars/pkg/terminal"
	"github.com/stackvars/stackvars/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// color selects colored output: auto, always or never.
	color string
	// showLocationExpr prints decoded location expressions instead of
	// their number.
	showLocationExpr bool
	// maxRecords stops the vars command after that many records.
	maxRecords int
	// initFile is the path to initialization file.
	initFile string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const stackvarsCommandLongDesc = `Stackvars lists the stack variables and parameters of the functions of a
compiled program, with their source position, type and location.

Only functions with a static address range and a frame base computed from
the call frame address are reported. Variables without a type or without
any location in the address range of their function are omitted.`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	rootCommand = &cobra.Command{
		Use:   "stackvars",
		Short: "Stackvars extracts stack variable records from DWARF debug information.",
		Long:  stackvarsCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'stackvars help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'stackvars help log').")
	rootCommand.PersistentFlags().StringVar(&color, "color", conf.Color, "Colored output: auto, always or never.")
	rootCommand.PersistentFlags().BoolVar(&showLocationExpr, "show-location-expr", conf.ShowLocationExpr, "Print decoded location expressions.")

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelp(cmd, args)
	})

	// 'vars' subcommand.
	varsCommand := &cobra.Command{
		Use:   "vars <path/to/binary>",
		Short: "Prints every stack variable record of a binary.",
		Long: `Prints every stack variable record of a binary.

Each record is printed on its own line as tab separated fields: source file,
function, function address range, variable name, type and locations.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(varsCmd(cmd, args))
		},
	}
	varsCommand.Flags().IntVar(&maxRecords, "max-records", conf.GetMaxRecords(), "Stop after printing this many records, 0 means no limit.")
	rootCommand.AddCommand(varsCommand)

	// 'funcs' subcommand.
	funcsCommand := &cobra.Command{
		Use:   "funcs <path/to/binary> [prefix]",
		Short: "Lists the functions of a binary.",
		Long: `Lists the functions of a binary that have a static address range.

If a prefix is given only the functions whose name starts with it are listed.`,
		Args: cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(funcsCmd(cmd, args))
		},
	}
	rootCommand.AddCommand(funcsCommand)

	// 'query' subcommand.
	queryCommand := &cobra.Command{
		Use:   "query <path/to/binary> <function>...",
		Short: "Prints the stack variable records of some functions.",
		Long: `Prints the stack variable records of the named functions.

A function argument ending in '*' selects every function with that prefix.
The type information of the binary is indexed once and shared by all the
queried functions.`,
		Args: cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(queryCmd(cmd, args))
		},
	}
	rootCommand.AddCommand(queryCommand)

	// 'explore' subcommand.
	exploreCommand := &cobra.Command{
		Use:   "explore <path/to/binary>",
		Short: "Starts an interactive shell to query a binary.",
		Long: `Indexes a binary and starts an interactive shell to query it.

Type 'help' in the shell for the list of commands.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(exploreCmd(cmd, args))
		},
	}
	exploreCommand.Flags().StringVar(&initFile, "init", "", "Init file, executed by the shell before reading commands.")
	rootCommand.AddCommand(exploreCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Stackvars\n%s\n", version.StackvarsVersion)
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				fmt.Fprintln(cmd.OutOrStdout(), version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolP("verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	units		Log compile units and skipped entries
	types		Log type resolution failures
	loclist		Log dropped variables and location lists
	query		Log query contexts and type cache usage

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// setup configures logging and opens the binary at path. The returned
// function releases both.
func setup(cmd *cobra.Command, path string) (*bininfo.Image, func(), error) {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return nil, nil, err
	}
	img, err := bininfo.Open(path)
	if err != nil {
		logflags.Close()
		return nil, nil, err
	}
	return img, func() {
		img.Close()
		logflags.Close()
	}, nil
}

// printer returns the printer for the output of cmd. Colors are only used
// when writing to the process' standard output.
func printer(cmd *cobra.Command, img *bininfo.Image) *terminal.Printer {
	c := *conf
	c.Color = color
	c.ShowLocationExpr = showLocationExpr
	w, colored := cmd.OutOrStdout(), false
	if w == io.Writer(os.Stdout) {
		w, colored = terminal.Stdout(c.Color)
	}
	return terminal.NewPrinter(w, colored, &c, img.PtrSize, img.ByteOrder)
}

func failed(cmd *cobra.Command, err error) int {
	fmt.Fprintf(cmd.ErrOrStderr(), "%v\n", err)
	return 1
}

func varsCmd(cmd *cobra.Command, args []string) int {
	img, done, err := setup(cmd, args[0])
	if err != nil {
		return failed(cmd, err)
	}
	defer done()

	p := printer(cmd, img)
	rr := stackvar.Records(img)
	n := 0
	for rr.Next() {
		if err := p.Record(rr.Record()); err != nil {
			return failed(cmd, err)
		}
		n++
		if maxRecords > 0 && n >= maxRecords {
			break
		}
	}
	if err := rr.Err(); err != nil {
		return failed(cmd, err)
	}
	return 0
}

func funcsCmd(cmd *cobra.Command, args []string) int {
	img, done, err := setup(cmd, args[0])
	if err != nil {
		return failed(cmd, err)
	}
	defer done()

	inv, err := stackvar.NewInventory(img)
	if err != nil {
		return failed(cmd, err)
	}
	prefix := ""
	if len(args) > 1 {
		prefix = args[1]
	}
	p := printer(cmd, img)
	for _, sp := range inv.PrefixSearch(prefix) {
		if err := p.Subprogram(sp); err != nil {
			return failed(cmd, err)
		}
	}
	return 0
}

func queryCmd(cmd *cobra.Command, args []string) int {
	img, done, err := setup(cmd, args[0])
	if err != nil {
		return failed(cmd, err)
	}
	defer done()

	inv, err := stackvar.NewInventory(img)
	if err != nil {
		return failed(cmd, err)
	}
	ctx, err := stackvar.NewContext(img, stackvar.Options{TypeCacheSize: conf.GetTypeCacheSize()})
	if err != nil {
		return failed(cmd, err)
	}
	if err := terminal.PrintQuery(ctx, inv, args[1:], printer(cmd, img), 0); err != nil {
		return failed(cmd, err)
	}
	return 0
}

func exploreCmd(cmd *cobra.Command, args []string) int {
	img, done, err := setup(cmd, args[0])
	if err != nil {
		return failed(cmd, err)
	}
	defer done()

	c := *conf
	c.Color = color
	c.ShowLocationExpr = showLocationExpr
	term, err := terminal.New(img, &c)
	if err != nil {
		return failed(cmd, err)
	}
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		return failed(cmd, err)
	}
	return status
}

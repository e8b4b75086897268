package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"kururi/internal/version"
)

// errReported marks a failure that has already been rendered to stderr.
var errReported = errors.New("failure already reported")

// newRootCmd builds the command tree. The root command itself runs the whole
// pipeline: kururi <input> <output>.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "kururi <input> <output>",
		Short: "Drive Kururi source through the compiler stage services",
		Long: `kururi sends a source file through lexing, parsing, semantic analysis and
code generation, each performed by a remote stage service, and writes the
generated program to <output>.`,
		Version:       version.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				_ = cmd.Usage()
				return fmt.Errorf("expected <input> <output>, got %d argument(s)", len(args))
			}
			return nil
		},
		PersistentPreRunE: a.setup,
		RunE:              a.runCompile,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "path to kururi.toml (default: $KURURI_CONFIG or nearest kururi.toml)")
	pf.String("mode", "", "override pipeline mode (unified|decomposed)")
	pf.Duration("timeout", 0, "override per-request timeout")
	pf.String("log-level", "info", "log level (debug|info|warn|error)")
	pf.String("log-format", "json", "log format (json|console)")
	pf.String("color", "auto", "colorize output (auto|on|off)")
	pf.String("trace", "", "trace output file (- for stderr)")
	pf.String("trace-level", "off", "trace level (off|error|run|stage|debug)")
	pf.String("trace-mode", "stream", "trace storage mode (stream|ring|both)")
	pf.Int("trace-ring-size", 0, "events kept in ring mode (0 for default)")
	pf.Duration("trace-heartbeat", 0, "emit heartbeat events at this interval (0 disables)")

	f := root.Flags()
	f.String("keep-artifacts", "", "write the intermediate artifacts to this bundle file")
	addProgressFlag(f)
	f.Bool("timings", false, "print per-stage timings to stderr")

	root.AddCommand(newStageCmd(a))
	root.AddCommand(newBatchCmd(a))
	root.AddCommand(newVersionCmd())
	return root
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			renderFailure(stderr, err)
		}
		a.dumpTrace()
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

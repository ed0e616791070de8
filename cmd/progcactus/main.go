// Package main provides the progcactus CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"progcactus/internal/cli"
	"progcactus/internal/orchestrator"
	"progcactus/internal/procexec"
)

var (
	exitCode int

	// argv is the unrouted command line. cobra drops the "status" token when
	// routing, so alignments whose seqFile is named status re-read it here.
	argv []string
)

var rootCmd = &cobra.Command{
	Use:   "progcactus [options] <seqFile> <workDir> <outputHalFile> [-- engine options]",
	Short: "Progressive Cactus alignment driver",
	Long: `progcactus prepares a progressive whole-genome alignment, runs it under the
workflow engine, and exports the result as a HAL file.

Run "progcactus --help" for the full option list.`,
	// The alignment command line has its own grammar, including options
	// files and engine pass-through after "--".
	DisableFlagParsing: true,
	Args:               cobra.ArbitraryArgs,
	SilenceUsage:       true,
	SilenceErrors:      true,
	RunE:               runAlign,
}

var statusCmd = &cobra.Command{
	Use:   "status <workDir>",
	Short: "Show the latest recorded run in a working directory",
	Long: `Show the latest recorded run in a working directory.

"progcactus status <workDir>" takes exactly one argument. Any other argument
list is an alignment whose seqFile is named status.`,
	DisableFlagParsing: true,
	Args:               cobra.ArbitraryArgs,
	SilenceUsage:       true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 && (args[0] == "-h" || args[0] == "--help") {
			return cmd.Help()
		}
		if dir, ok := statusTarget(args); ok {
			return cli.Status(dir, cmd.OutOrStdout())
		}
		return runAlign(cmd, argv)
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(statusCmd)
}

// statusTarget reports whether args, as routed to the status subcommand,
// are a status query and returns its working directory.
func statusTarget(args []string) (string, bool) {
	if len(args) != 1 || strings.HasPrefix(args[0], "-") {
		return "", false
	}
	return args[0], true
}

func runAlign(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rc := orchestrator.RunContext{
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		Launcher: &procexec.ExecLauncher{},
		Exit:     os.Exit,
	}
	res, err := cli.Run(ctx, args, rc)
	exitCode = res.ExitCode
	if err != nil && res.ExitCode == cli.ExitInvalidInvocation {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n%s", err, cli.Usage())
	}
	// Run failures are reported by the orchestrator itself.
	return nil
}

func execute(ctx context.Context, args []string) error {
	argv = args
	exitCode = 0
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func main() {
	if err := execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitFailure)
	}
	os.Exit(exitCode)
}

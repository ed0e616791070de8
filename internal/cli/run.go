package cli

import (
	"context"
	"fmt"
	"log/slog"

	"progcactus/internal/orchestrator"
)

type Result struct {
	ExitCode int
	Run      orchestrator.Result
}

// Run parses args (excluding argv[0]) and executes the pipeline. rc supplies
// the process environment; a nil Logger gets a text logger on rc.Stderr at
// the requested level.
func Run(ctx context.Context, args []string, rc orchestrator.RunContext) (Result, error) {
	inv, err := ParseInvocation(args)
	if err != nil {
		return Result{ExitCode: ExitCode(err)}, err
	}
	if inv.Help {
		if rc.Stdout != nil {
			fmt.Fprint(rc.Stdout, Usage())
		}
		return Result{ExitCode: ExitSuccess}, nil
	}

	if rc.Logger == nil && rc.Stderr != nil {
		rc.Logger = slog.New(slog.NewTextHandler(rc.Stderr, &slog.HandlerOptions{Level: inv.LogLevel}))
	}
	if inv.OptionsFile != "" && rc.Logger != nil {
		rc.Logger.Debug("loaded options file", "path", inv.OptionsFile)
	}
	if inv.SkippedEnvironment != nil && rc.Logger != nil {
		rc.Logger.Warn("installed environment file is not KEY=VALUE assignments, running without it", "err", inv.SkippedEnvironment)
	}

	res := orchestrator.New(rc).Run(ctx, inv.Options)
	if res.Err != nil {
		return Result{ExitCode: ExitFailure, Run: res}, res.Err
	}
	return Result{ExitCode: ExitSuccess, Run: res}, nil
}

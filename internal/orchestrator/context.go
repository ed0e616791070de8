package orchestrator

import (
	"io"
	"log/slog"
	"os"
	"time"

	"progcactus/internal/liveness"
	"progcactus/internal/procexec"
	"progcactus/internal/trace"
)

// RunContext carries everything a run needs from its environment. It is
// created once at startup and passed into the orchestrator.
type RunContext struct {
	Logger   *slog.Logger
	Stdout   io.Writer
	Stderr   io.Writer
	Launcher procexec.Launcher
	Now      func() time.Time

	// Exit terminates the process after a deadlock abort.
	Exit func(code int)

	Trace trace.Sink

	// Probe overrides the job store probe used by the liveness monitor.
	Probe liveness.Probe

	// RunID names the run record. Generated when empty.
	RunID string
}

func (rc RunContext) withDefaults() RunContext {
	if rc.Stdout == nil {
		rc.Stdout = io.Discard
	}
	if rc.Stderr == nil {
		rc.Stderr = io.Discard
	}
	if rc.Logger == nil {
		rc.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if rc.Launcher == nil {
		rc.Launcher = &procexec.ExecLauncher{}
	}
	if rc.Now == nil {
		rc.Now = time.Now
	}
	if rc.Exit == nil {
		rc.Exit = os.Exit
	}
	if rc.Trace == nil {
		rc.Trace = trace.NopSink{}
	}
	return rc
}

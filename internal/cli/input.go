package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/pflag"

	"progcactus/internal/liveness"
	"progcactus/internal/orchestrator"
	"progcactus/internal/procexec"
)

const (
	ExitSuccess           = 0
	ExitFailure           = 1
	ExitInvalidInvocation = 2
	ExitDeadlockAbort     = liveness.ExitDeadlockAbort
)

const usageHeader = `usage: progcactus [options] <seqFile> <workDir> <outputHalFile> [-- engine options]

Required Arguments:
  <seqFile>        File containing newick tree and sequence paths.
  <workDir>        Working directory (which can grow extremely large).
  <outputHalFile>  Path of output alignment in .hal format.

Options:
`

// Invocation is a fully resolved command line.
type Invocation struct {
	Options     orchestrator.RunOptions
	LogLevel    slog.Level
	OptionsFile string
	Help        bool

	// SkippedEnvironment is set when the installed environment file exists
	// but is not KEY=VALUE assignments (e.g. a shell script to be sourced).
	// The run then proceeds without an overlay.
	SkippedEnvironment error
}

// defaultEnvironmentFile is replaced in tests.
var defaultEnvironmentFile = procexec.DefaultEnvironmentFile

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

type flagValues struct {
	optionsFile string
	logLevel    string
	opts        orchestrator.RunOptions
}

func newFlagSet(v *flagValues) *pflag.FlagSet {
	fs := pflag.NewFlagSet("progcactus", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false
	o := &v.opts

	fs.StringVar(&v.optionsFile, "optionsFile", "", "Text file containing command line options to use as defaults")
	fs.StringVar(&o.JobStore, "jobStore", "", "Job store for the workflow engine (default <workDir>/toil)")
	fs.StringVar(&o.Database, "database", orchestrator.DefaultDatabase, "Database type: tokyo_cabinet or kyoto_tycoon")
	fs.StringVar(&o.OutputMAF, "outputMaf", "", "Path of output alignment in .maf format (deprecated, use hal2maf on the output file)")
	fs.StringVar(&o.ConfigFile, "configFile", "", "Cactus configuration file")
	fs.BoolVar(&o.Legacy, "legacy", false, "Align all input sequences at once without progressive decomposition")
	fs.BoolVar(&o.AutoAbortOnDeadlock, "autoAbortOnDeadlock", false, "Delete the job store and abort when the monitor suspects a deadlock")
	fs.BoolVar(&o.Overwrite, "overwrite", false, "Re-align nodes in the tree that have already been aligned")
	fs.StringVar(&o.RootOutgroupDists, "rootOutgroupDists", "", "Root outgroup distance (requires --rootOutgroupPaths)")
	fs.StringVar(&o.RootOutgroupPaths, "rootOutgroupPaths", "", "Root outgroup path (requires --rootOutgroupDists)")
	fs.StringVar(&o.Root, "root", "", "Ancestral node of the tree to use as the alignment root")
	fs.StringVar(&o.EnvironmentFile, "environment", "", "KEY=VALUE environment file overlaid on every external step")

	fs.IntVar(&o.KTPort, "ktPort", orchestrator.DefaultKTPort, "Starting port of ktservers")
	fs.StringVar(&o.KTHost, "ktHost", "", "Hostname nodes use to reach the ktserver")
	fs.StringVar(&o.KTType, "ktType", orchestrator.DefaultKTType, "Kyoto Tycoon server type: memory, snapshot or disk")
	fs.StringVar(&o.KTCreateTuning, "ktCreateTuning", "", "ktserver options when creating a db (e.g. #bnum=30m#msiz=50g)")
	fs.StringVar(&o.KTOpenTuning, "ktOpenTuning", "", "ktserver options when opening an existing db (e.g. #opts=ls#ktopts=p)")

	fs.StringVar(&o.BatchSystem, "batchSystem", orchestrator.DefaultBatchSystem, "Workflow engine batch system")
	fs.IntVar(&o.MaxThreads, "maxThreads", runtime.NumCPU(), "Thread budget for single machine runs")
	fs.DurationVar(&o.MonitorInterval, "monitorInterval", liveness.DefaultInterval, "Deadlock monitor poll interval")
	fs.DurationVar(&o.DeadlockThreshold, "deadlockThreshold", liveness.DefaultThreshold, "Idle time with pending jobs before a deadlock is suspected")
	fs.StringVar(&v.logLevel, "logLevel", "info", "Log level: debug, info, warn or error")
	return fs
}

// Usage renders the flag reference.
func Usage() string {
	return usageHeader + newFlagSet(&flagValues{}).FlagUsages()
}

// ParseInvocation parses the command line. Arguments from --optionsFile are
// prepended to args so that live arguments take precedence. Arguments after
// "--" go to the workflow engine unchanged.
func ParseInvocation(args []string) (Invocation, error) {
	fileArgs, optionsFile, err := optionsFileArgs(args)
	if err != nil {
		return Invocation{}, err
	}

	var v flagValues
	fs := newFlagSet(&v)
	full := append(append([]string(nil), fileArgs...), args...)
	if err := fs.Parse(full); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return Invocation{Help: true}, nil
		}
		return Invocation{}, invalidInvocationf("%v", err)
	}

	positional := fs.Args()
	var engineArgs []string
	if dash := fs.ArgsLenAtDash(); dash >= 0 {
		positional, engineArgs = fs.Args()[:dash], fs.Args()[dash:]
	}
	if len(positional) != 3 {
		return Invocation{}, invalidInvocationf("expected <seqFile> <workDir> <outputHalFile>, got %d positional arguments", len(positional))
	}

	opts := v.opts
	if (opts.RootOutgroupDists == "") != (opts.RootOutgroupPaths == "") {
		return Invocation{}, invalidInvocationf("--rootOutgroupDists and --rootOutgroupPaths must be provided together")
	}
	var skippedEnv error
	if opts.EnvironmentFile == "" {
		if def := defaultEnvironmentFile(); def != "" {
			if _, err := os.Stat(def); err == nil {
				if _, err := procexec.LoadEnvironment(def); err != nil {
					skippedEnv = err
				} else {
					opts.EnvironmentFile = def
				}
			}
		}
	}

	level, err := parseLogLevel(v.logLevel)
	if err != nil {
		return Invocation{}, err
	}

	opts.SeqFile, err = absPath(positional[0])
	if err != nil {
		return Invocation{}, err
	}
	opts.WorkDir, err = absPath(positional[1])
	if err != nil {
		return Invocation{}, err
	}
	opts.OutputHAL, err = absPath(positional[2])
	if err != nil {
		return Invocation{}, err
	}
	if opts.OutputMAF != "" {
		if opts.OutputMAF, err = absPath(opts.OutputMAF); err != nil {
			return Invocation{}, err
		}
	}
	opts.EngineArgs = engineArgs

	return Invocation{
		Options:            opts,
		LogLevel:           level,
		OptionsFile:        optionsFile,
		SkippedEnvironment: skippedEnv,
	}, nil
}

// optionsFileArgs finds --optionsFile in the live arguments and tokenizes
// the file it names, one shell-quoted line at a time.
func optionsFileArgs(args []string) ([]string, string, error) {
	path := ""
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			break
		}
		if v, ok := strings.CutPrefix(a, "--optionsFile="); ok {
			path = v
		} else if a == "--optionsFile" && i+1 < len(args) {
			path = args[i+1]
			i++
		}
	}
	if path == "" {
		return nil, "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", invalidInvocationf("Options File not found: %s", path)
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			continue
		}
		toks, err := shlex.Split(line)
		if err != nil {
			return nil, "", invalidInvocationf("options file %s: %v", path, err)
		}
		out = append(out, toks...)
	}
	for _, t := range out {
		if t == "--" {
			return nil, "", invalidInvocationf("options file %s: \"--\" is not allowed", path)
		}
	}
	return out, path, nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return 0, invalidInvocationf("invalid --logLevel %q (expected debug|info|warn|error)", raw)
	}
	return level, nil
}

func absPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", invalidInvocationf("path must not be empty")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", invalidInvocationf("cannot resolve %q: %v", p, err)
	}
	return abs, nil
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	return ExitFailure
}


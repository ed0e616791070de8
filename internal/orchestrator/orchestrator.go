// Package orchestrator drives a progressive alignment run through its
// stages: validation, alignment under the workflow engine, and export.
//
// Failures are caught at the top of Run and reported once, with a pointer
// to the run log when one exists. The working directory is never deleted.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/beevik/etree"

	"progcactus/internal/liveness"
	"progcactus/internal/procexec"
	"progcactus/internal/project"
	"progcactus/internal/recovery/state"
	"progcactus/internal/seqfile"
	"progcactus/internal/synth"
	"progcactus/internal/trace"
)

// Result summarizes a finished run.
type Result struct {
	RunID    string
	Stage    Stage
	Decision project.Decision
	Err      error
}

// Orchestrator runs one invocation.
type Orchestrator struct {
	rc RunContext
}

func New(rc RunContext) *Orchestrator {
	return &Orchestrator{rc: rc.withDefaults()}
}

// run holds per-invocation state that later stages need.
type run struct {
	opts     RunOptions
	manifest *seqfile.Manifest
	template *etree.Element
	env      map[string]string
	log      runLog

	cur      cursor
	runID    string
	recorder *state.FailureRecorder
	project  project.State
	decision project.Decision
}

// Run executes the pipeline for opts. Errors are reported on the run
// context's Stderr and returned in Result.Err wrapped in a *StageError.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) Result {
	opts = opts.WithDefaults()
	r := &run{
		opts:  opts,
		log:   runLog{path: opts.LogPath(), now: o.rc.Now},
		runID: o.rc.RunID,
	}
	r.cur.onEnter = func(s Stage) {
		o.rc.Logger.Debug("stage entered", "stage", s.String())
		trace.SafeRecord(o.rc.Trace, trace.Event{Kind: trace.EventStageEntered, Stage: s.String(), Subject: s.String()})
		o.updateRecord(r, func(run *state.Run) { run.Stage = s.String() })
	}

	err := o.execute(ctx, r)
	res := Result{RunID: r.runID, Stage: r.cur.stage, Decision: r.decision}
	if err != nil {
		res.Err = &StageError{Stage: r.cur.stage, Err: err}
		o.reportFailure(r, err)
		return res
	}
	o.updateRecord(r, func(run *state.Run) {
		end := o.rc.Now().UTC()
		run.EndTime = &end
		run.Status = state.RunStatusSucceeded
	})
	return res
}

func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	if err := o.validate(r); err != nil {
		return err
	}
	o.startRecord(r)
	if err := r.cur.advance(StageValidated); err != nil {
		return err
	}

	fmt.Fprintln(o.rc.Stdout, "\nBeginning Alignment")
	if err := r.cur.advance(StageAligning); err != nil {
		return err
	}
	if err := o.align(ctx, r); err != nil {
		return err
	}

	fmt.Fprintln(o.rc.Stdout, "Beginning HAL Export")
	if err := r.cur.advance(StageExporting); err != nil {
		return err
	}
	if err := o.export(ctx, r); err != nil {
		return err
	}

	if err := r.cur.advance(StageDone); err != nil {
		return err
	}
	fmt.Fprintf(o.rc.Stdout, "Success.\nTemporary data was left in: %s\n", r.opts.WorkDir)
	return nil
}

// validate checks inputs. Nothing beyond the working directory and the
// output files named by the user is created.
func (o *Orchestrator) validate(r *run) error {
	opts := r.opts
	if err := opts.Validate(); err != nil {
		return err
	}

	m, err := seqfile.ParseFile(opts.SeqFile)
	if err != nil {
		return &state.InputValidationError{Code: "InvalidSeqFile", Message: err.Error(), Cause: err}
	}
	r.manifest = m
	if opts.Root != "" && !m.HasNode(opts.Root) {
		return state.Invalidf("UnknownRoot", "Root %s is not a node of the tree in %s", opts.Root, opts.SeqFile)
	}

	if err := ensureWritableDir(opts.WorkDir); err != nil {
		return &state.ResourceError{Path: opts.WorkDir, Message: "Can't write to workDir", Cause: err}
	}
	if err := touch(opts.OutputHAL); err != nil {
		return &state.ResourceError{Path: opts.OutputHAL, Message: "Unable to write to hal", Cause: err}
	}
	if opts.OutputMAF != "" {
		if err := touch(opts.OutputMAF); err != nil {
			return &state.ResourceError{Path: opts.OutputMAF, Message: "Unable to write to maf", Cause: err}
		}
	}

	tpl, err := synth.LoadTemplate(opts.ConfigFile)
	if err != nil {
		return err
	}
	r.template = tpl

	env, err := procexec.LoadEnvironment(opts.EnvironmentFile)
	if err != nil {
		return &state.InputValidationError{Code: "UnreadableEnvironment", Message: err.Error(), Cause: err}
	}
	r.env = env
	return nil
}

func (o *Orchestrator) align(ctx context.Context, r *run) error {
	opts := r.opts

	if opts.Overwrite {
		if err := r.log.remove(); err != nil {
			return &state.ResourceError{Path: r.log.path, Message: "cannot remove run log", Cause: err}
		}
	}
	if js, ok := opts.LocalJobStore(); ok {
		if err := os.RemoveAll(js); err != nil {
			return &state.ResourceError{Path: js, Message: "cannot remove stale job store", Cause: err}
		}
	}

	layout := synth.Layout{WorkDir: opts.WorkDir}
	cfg := synth.SynthesizeConfig(r.template, opts.synthOptions())
	exp, err := synth.SynthesizeExperiment(r.manifest, opts.synthOptions(), layout)
	if err != nil {
		return err
	}
	if err := synth.WriteDocuments(layout, cfg, exp); err != nil {
		return err
	}
	o.rc.Logger.Debug("wrote run documents", "config", layout.ConfigPath(), "experiment", layout.ExperimentPath())

	expPath, err := filepath.Abs(layout.ExperimentPath())
	if err != nil {
		return err
	}
	rec := &project.Reconciler{
		Launcher: o.rc.Launcher,
		LogPath:  r.log.path,
		Logger:   o.rc.Logger,
		Trace:    o.rc.Trace,
	}
	params := project.Params{
		ExperimentPath:    expPath,
		FixNames:          opts.OutputMAF != "",
		Outgroups:         r.manifest.Outgroups(),
		RootOutgroupDists: opts.RootOutgroupDists,
		RootOutgroupPaths: opts.RootOutgroupPaths,
		Root:              opts.Root,
		Env:               r.env,
	}
	st, decision, err := rec.Reconcile(ctx, params, opts.ProjectDir(), opts.Overwrite)
	if err != nil {
		return err
	}
	r.project, r.decision = st, decision
	digest, err := project.Digest(st)
	if err != nil {
		o.rc.Logger.Warn("cannot fingerprint project descriptor", "path", st.Descriptor, "err", err)
	}
	o.updateRecord(r, func(run *state.Run) {
		run.ProjectDecision = string(decision)
		run.ProjectDigest = digest
	})

	if err := r.log.banner("\n%s: Beginning Progressive Cactus Alignment\n\n"); err != nil {
		return &state.ResourceError{Path: r.log.path, Message: "cannot write run log", Cause: err}
	}
	if err := o.runEngine(ctx, r); err != nil {
		return err
	}
	if err := r.log.banner("\n%s: Finished Progressive Cactus Alignment\n"); err != nil {
		return &state.ResourceError{Path: r.log.path, Message: "cannot write run log", Cause: err}
	}
	return nil
}

func (o *Orchestrator) engineCommand(r *run) procexec.Command {
	opts := r.opts
	args := []string{"--batchSystem", opts.BatchSystem}
	if opts.MaxThreads > 0 {
		args = append(args, "--maxThreads", strconv.Itoa(opts.MaxThreads))
	}
	args = append(args, opts.EngineArgs...)
	args = append(args, opts.JobStoreLocator(), "--project", r.project.Descriptor)
	if opts.Overwrite {
		args = append(args, "--overwrite")
	}
	return procexec.Command{Name: EngineCommand, Args: args, Env: r.env, LogPath: r.log.path}
}

// runEngine launches the alignment and, for kyoto_tycoon, supervises it
// with the liveness monitor until the engine exits.
func (o *Orchestrator) runEngine(ctx context.Context, r *run) error {
	cmd := o.engineCommand(r)

	var mon *liveness.Monitor
	if r.opts.Database == synth.DatabaseKyotoTycoon {
		mon = o.newMonitor(r)
		stop := mon.Start(ctx)
		defer stop()
	}

	err := o.launch(ctx, cmd)
	if mon != nil {
		select {
		case <-mon.Suspected():
			o.rc.Logger.Warn("liveness monitor suspected a deadlock during alignment", "job_store", r.opts.JobStoreLocator())
			if err != nil {
				return fmt.Errorf("%w (%w)", err, state.ErrDeadlockSuspected)
			}
		default:
		}
	}
	return err
}

func (o *Orchestrator) newMonitor(r *run) *liveness.Monitor {
	probe := o.rc.Probe
	js, local := r.opts.LocalJobStore()
	if probe == nil {
		probe = liveness.FileJobStoreProbe{JobStore: js, LogPath: r.log.path}
	}
	var onDeadlock func()
	if r.opts.AutoAbortOnDeadlock && local {
		onDeadlock = liveness.AbortFunc(js, o.rc.Stderr, o.rc.Exit)
	}
	mon := liveness.NewMonitor(probe, onDeadlock)
	if r.opts.MonitorInterval > 0 {
		mon.Interval = r.opts.MonitorInterval
	}
	if r.opts.DeadlockThreshold > 0 {
		mon.Threshold = r.opts.DeadlockThreshold
	}
	mon.Logger = o.rc.Logger
	mon.Trace = o.rc.Trace
	mon.Now = o.rc.Now
	mon.Subject = r.opts.JobStoreLocator()
	return mon
}

func (o *Orchestrator) launch(ctx context.Context, cmd procexec.Command) error {
	o.rc.Logger.Info("launching", "cmd", cmd.String())
	trace.SafeRecord(o.rc.Trace, trace.Event{Kind: trace.EventProcessLaunched, Subject: cmd.Name})
	code, err := o.rc.Launcher.Run(ctx, cmd)
	trace.SafeRecord(o.rc.Trace, trace.Event{Kind: trace.EventProcessExited, Subject: cmd.Name, ExitCode: code})
	if err != nil {
		return &state.ExternalProcessError{Step: cmd.Name, ExitCode: code, LogPath: cmd.LogPath, Cause: err}
	}
	if code != 0 {
		return &state.ExternalProcessError{Step: cmd.Name, ExitCode: code, LogPath: cmd.LogPath}
	}
	return nil
}

func (o *Orchestrator) export(ctx context.Context, r *run) error {
	opts := r.opts
	if opts.OutputMAF != "" {
		root, err := project.RootName(r.project)
		if err != nil {
			return err
		}
		src := filepath.Join(r.project.Dir, root, root+".maf")
		if err := moveFile(src, opts.OutputMAF); err != nil {
			return &state.ResourceError{Path: opts.OutputMAF, Message: "cannot move root MAF", Cause: err}
		}
		trace.SafeRecord(o.rc.Trace, trace.Event{Kind: trace.EventOutputMoved, Stage: StageExporting.String(), Subject: opts.OutputMAF})
	}

	if err := r.log.banner("\n\n%s: Beginning HAL Export\n\n"); err != nil {
		return &state.ResourceError{Path: r.log.path, Message: "cannot write run log", Cause: err}
	}
	cmd := procexec.Command{
		Name:    ExportCommand,
		Args:    []string{r.project.Descriptor, opts.OutputHAL},
		Env:     r.env,
		LogPath: r.log.path,
	}
	if err := o.launch(ctx, cmd); err != nil {
		return err
	}
	if err := r.log.banner("\n%s: Finished HAL Export \n"); err != nil {
		return &state.ResourceError{Path: r.log.path, Message: "cannot write run log", Cause: err}
	}
	return nil
}

func (o *Orchestrator) reportFailure(r *run, err error) {
	fmt.Fprintf(o.rc.Stderr, "Error: %s\n\n", err)
	if info, serr := os.Stat(r.opts.WorkDir); r.opts.WorkDir != "" && serr == nil && info.IsDir() {
		fmt.Fprintf(o.rc.Stderr, "Temporary data was left in: %s\n", r.opts.WorkDir)
	}
	if r.cur.stage >= StageAligning {
		fmt.Fprintf(o.rc.Stderr, "More information can be found in %s\n", r.log.path)
	}

	// Validation failures leave no record; the run never started.
	if r.recorder != nil {
		if rerr := r.recorder.RecordFailure(r.runID, r.cur.stage.String(), err, o.rc.Now()); rerr != nil {
			o.rc.Logger.Debug("cannot record failure", "err", rerr)
		}
	}
}

// startRecord creates the run record once the working directory exists.
// Recording is best-effort.
func (o *Orchestrator) startRecord(r *run) {
	store, err := state.NewStore(r.opts.WorkDir)
	if err != nil {
		o.rc.Logger.Debug("run record unavailable", "err", err)
		return
	}
	rec := &state.FailureRecorder{Store: store}
	if r.runID == "" {
		r.runID = rec.NewRunID()
	}
	err = rec.StartRun(state.Run{
		RunID:     r.runID,
		StartTime: o.rc.Now().UTC(),
		WorkDir:   r.opts.WorkDir,
		Database:  r.opts.Database,
		Stage:     r.cur.stage.String(),
	})
	if err != nil {
		o.rc.Logger.Debug("cannot start run record", "err", err)
		return
	}
	r.recorder = rec
}

func (o *Orchestrator) updateRecord(r *run, fn func(*state.Run)) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.UpdateRun(r.runID, fn); err != nil {
		o.rc.Logger.Debug("cannot update run record", "err", err)
	}
}

func ensureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// moveFile renames src to dst, copying across filesystems when needed.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

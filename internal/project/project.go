// Package project materializes the on-disk alignment project and decides
// whether an existing one can be resumed.
//
// A project is a directory plus a descriptor named <dir>_project.xml inside
// it. Projects are only ever regenerated wholesale by the external creation
// step; this package never edits one.
package project

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"
	"lukechampine.com/blake3"

	"progcactus/internal/procexec"
	"progcactus/internal/recovery/state"
	"progcactus/internal/seqfile"
	"progcactus/internal/trace"
)

// DirName is the project directory created under the working directory.
const DirName = "progressiveAlignment"

// CreateCommand is the external project-creation step.
const CreateCommand = "cactus_createMultiCactusProject.py"

const continueNote = "\nContinuing existing alignment.  Use --overwrite or erase the working directory to force restart from scratch.\n"

// Decision records how Reconcile obtained the project.
type Decision string

const (
	DecisionCreated Decision = "created"
	DecisionReused  Decision = "reused"
	DecisionRebuilt Decision = "rebuilt"
)

// Params are the inputs of project creation. Two materializations with
// equal Params are expected to produce equivalent descriptors.
type Params struct {
	ExperimentPath string
	FixNames       bool
	Outgroups      []string

	// RootOutgroupDists and RootOutgroupPaths are passed through verbatim
	// and must be both set or both empty.
	RootOutgroupDists string
	RootOutgroupPaths string

	Root string

	// Env is overlaid on the environment of the creation step.
	Env map[string]string
}

// State is a materialized project.
type State struct {
	Dir        string
	Descriptor string
}

// StateAt returns the project layout rooted at dir. It does not touch disk.
func StateAt(dir string) State {
	dir = filepath.Clean(dir)
	return State{Dir: dir, Descriptor: DescriptorPath(dir)}
}

// DescriptorPath is <dir>/<base(dir)>_project.xml.
func DescriptorPath(dir string) string {
	dir = filepath.Clean(dir)
	return filepath.Join(dir, filepath.Base(dir)+"_project.xml")
}

// Command builds the creation invocation for targetDir.
func (p Params) Command(targetDir string) procexec.Command {
	fix := "0"
	if p.FixNames {
		fix = "1"
	}
	args := []string{p.ExperimentPath, targetDir, "--fixNames=" + fix}
	if len(p.Outgroups) > 0 {
		args = append(args, "--outgroupNames", strings.Join(p.Outgroups, ","))
	}
	if p.RootOutgroupDists != "" {
		args = append(args, "--rootOutgroupDists", p.RootOutgroupDists, "--rootOutgroupPaths", p.RootOutgroupPaths)
	}
	if p.Root != "" {
		args = append(args, "--root", p.Root)
	}
	return procexec.Command{Name: CreateCommand, Args: args, Env: p.Env}
}

// Reconciler runs project creation through Launcher. LogPath is the run log
// that receives creation output and reuse notes.
type Reconciler struct {
	Launcher procexec.Launcher
	LogPath  string
	Logger   *slog.Logger
	Trace    trace.Sink
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r.Logger
}

// Materialize creates the project at targetDir. An existing targetDir is
// trusted as-is: creation is skipped and a note goes to the run log.
func (r *Reconciler) Materialize(ctx context.Context, p Params, targetDir string) (State, error) {
	st := StateAt(targetDir)
	if _, err := os.Stat(st.Dir); err == nil {
		r.logger().Info("project directory exists, skipping creation", "dir", st.Dir)
		r.appendLog(continueNote)
		return st, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return State{}, &state.ResourceError{Path: st.Dir, Message: "cannot inspect project directory", Cause: err}
	}

	if err := r.create(ctx, p, st); err != nil {
		return State{}, err
	}
	return st, nil
}

func (r *Reconciler) create(ctx context.Context, p Params, st State) error {
	if r.Launcher == nil {
		return errors.New("project: Launcher is required")
	}
	cmd := p.Command(st.Dir)
	cmd.LogPath = r.LogPath
	r.logger().Debug("creating project", "cmd", cmd.String())

	code, err := r.Launcher.Run(ctx, cmd)
	if err != nil {
		return &state.ExternalProcessError{Step: CreateCommand, ExitCode: code, LogPath: r.LogPath, Cause: err}
	}
	if code != 0 {
		return &state.ExternalProcessError{Step: CreateCommand, ExitCode: code, LogPath: r.LogPath}
	}
	if _, err := os.Stat(st.Descriptor); err != nil {
		return &state.ExternalProcessError{
			Step:    CreateCommand,
			LogPath: r.LogPath,
			Cause:   fmt.Errorf("no project descriptor at %s: %w", st.Descriptor, err),
		}
	}
	return nil
}

// IsEquivalent materializes p into <existingDir>_temp and compares its
// descriptor with the existing one line by line, after rewriting the
// temporary prefix to the existing one. The temporary project is always
// removed. A missing existing project is never equivalent.
func (r *Reconciler) IsEquivalent(ctx context.Context, p Params, existingDir string) (bool, error) {
	old := StateAt(existingDir)
	if _, err := os.Stat(old.Dir); err != nil {
		return false, nil
	}
	tmp := StateAt(old.Dir + "_temp")
	if err := os.RemoveAll(tmp.Dir); err != nil {
		return false, &state.ResourceError{Path: tmp.Dir, Message: "cannot remove temporary project", Cause: err}
	}
	defer os.RemoveAll(tmp.Dir)

	if err := r.create(ctx, p, tmp); err != nil {
		return false, err
	}

	candidate, err := os.ReadFile(tmp.Descriptor)
	if err != nil {
		return false, &state.ResourceError{Path: tmp.Descriptor, Message: "cannot read project descriptor", Cause: err}
	}
	existing, err := os.ReadFile(old.Descriptor)
	if err != nil {
		return false, &state.ResourceError{Path: old.Descriptor, Message: "cannot read project descriptor", Cause: err}
	}
	return sameLines(string(candidate), string(existing), PrefixNormalizer{From: tmp.Dir, To: old.Dir}), nil
}

func sameLines(candidate, existing string, n PrefixNormalizer) bool {
	a := strings.SplitAfter(candidate, "\n")
	b := strings.SplitAfter(existing, "\n")
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if n.Normalize(a[i]) != b[i] {
			return false
		}
	}
	return true
}

// Reconcile yields a project at dir that matches p.
//
// With overwrite the project is removed and rebuilt. A missing project is
// created. An existing project is reused when IsEquivalent holds and
// rebuilt otherwise. A failed comparison is returned and leaves the existing
// project in place.
func (r *Reconciler) Reconcile(ctx context.Context, p Params, dir string, overwrite bool) (State, Decision, error) {
	st := StateAt(dir)
	_, statErr := os.Stat(st.Dir)
	exists := statErr == nil

	var decision Decision
	reason := ""
	switch {
	case overwrite && exists:
		decision, reason = DecisionRebuilt, "Overwrite"
	case !exists:
		decision = DecisionCreated
	default:
		same, err := r.IsEquivalent(ctx, p, st.Dir)
		if err != nil {
			return State{}, "", err
		}
		if same {
			decision = DecisionReused
		} else {
			decision, reason = DecisionRebuilt, "Mismatch"
		}
	}

	if decision == DecisionRebuilt {
		r.logger().Info("rebuilding project", "dir", st.Dir, "reason", reason)
		if err := os.RemoveAll(st.Dir); err != nil {
			return State{}, "", &state.ResourceError{Path: st.Dir, Message: "cannot remove project directory", Cause: err}
		}
	}

	out, err := r.Materialize(ctx, p, st.Dir)
	if err != nil {
		return State{}, "", err
	}
	trace.SafeRecord(r.Trace, trace.Event{Kind: decisionEvent(decision), Subject: st.Dir, Reason: reason})
	return out, decision, nil
}

func decisionEvent(d Decision) trace.EventKind {
	switch d {
	case DecisionReused:
		return trace.EventProjectReused
	case DecisionRebuilt:
		return trace.EventProjectRebuilt
	default:
		return trace.EventProjectCreated
	}
}

func (r *Reconciler) appendLog(s string) {
	if r.LogPath == "" {
		return
	}
	f, err := os.OpenFile(r.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		r.logger().Warn("cannot append to run log", "path", r.LogPath, "err", err)
		return
	}
	defer f.Close()
	_, _ = f.WriteString(s)
}

// RootName reads the alignment root from the project's guide tree.
func RootName(st State) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(st.Descriptor); err != nil {
		return "", fmt.Errorf("read project descriptor: %w", err)
	}
	tree := doc.FindElement("*/tree")
	if tree == nil || strings.TrimSpace(tree.Text()) == "" {
		return "", fmt.Errorf("project descriptor %s has no tree", st.Descriptor)
	}
	root, err := seqfile.ParseNewick(tree.Text())
	if err != nil {
		return "", fmt.Errorf("project descriptor %s: %w", st.Descriptor, err)
	}
	if root.Name == "" {
		return "", fmt.Errorf("project descriptor %s: unnamed root", st.Descriptor)
	}
	return root.Name, nil
}

// Digest fingerprints the project descriptor for the run record.
func Digest(st State) (string, error) {
	data, err := os.ReadFile(st.Descriptor)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Package procexec runs the external pipeline steps.
//
// Steps are described by typed Command values instead of shell strings, so
// they can be validated before launch and recorded by a fake Launcher in
// tests.
package procexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
)

// Command describes one external invocation.
type Command struct {
	// Name is the executable, resolved through PATH (including any PATH set
	// by Env).
	Name string

	// Args excludes the executable name.
	Args []string

	// Dir is the working directory. Empty means the caller's directory.
	Dir string

	// Env is overlaid on top of the inherited process environment.
	Env map[string]string

	// LogPath receives stdout and stderr in append mode. Empty discards output.
	LogPath string
}

// Validate checks the descriptor before execution.
func (c Command) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, errors.New("command name is required"))
	}
	for i, a := range c.Args {
		if strings.ContainsRune(a, 0) {
			errs = append(errs, fmt.Errorf("args[%d] contains a NUL byte", i))
		}
	}
	for k := range c.Env {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			errs = append(errs, fmt.Errorf("invalid environment name %q", k))
		}
	}
	return errors.Join(errs...)
}

// String renders the command for logs. It is not meant to be re-parsed.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Launcher runs a command to completion and reports its exit code.
//
// A non-nil error means the command could not be run at all; a command that
// ran and failed returns its non-zero exit code with a nil error.
type Launcher interface {
	Run(ctx context.Context, cmd Command) (int, error)
}

// ExecLauncher runs commands as child processes.
type ExecLauncher struct {
	// Stdout, when set, also receives process output in addition to LogPath.
	Stdout io.Writer
}

// Run starts cmd in its own process group and waits for it. Cancelling ctx
// kills the whole group.
func (l *ExecLauncher) Run(ctx context.Context, c Command) (int, error) {
	if err := c.Validate(); err != nil {
		return -1, fmt.Errorf("invalid command: %w", err)
	}

	name := c.Name
	if p, ok := c.Env["PATH"]; ok && !strings.ContainsRune(name, filepath.Separator) {
		if resolved, found := lookPath(name, p); found {
			name = resolved
		}
	}

	cmd := exec.Command(name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = mergeEnv(os.Environ(), c.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var sinks []io.Writer
	if c.LogPath != "" {
		f, err := os.OpenFile(c.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return -1, fmt.Errorf("open log: %w", err)
		}
		defer f.Close()
		sinks = append(sinks, f)
	}
	if l != nil && l.Stdout != nil {
		sinks = append(sinks, l.Stdout)
	}
	switch len(sinks) {
	case 0:
		cmd.Stdout, cmd.Stderr = io.Discard, io.Discard
	case 1:
		cmd.Stdout, cmd.Stderr = sinks[0], sinks[0]
	default:
		w := io.MultiWriter(sinks...)
		cmd.Stdout, cmd.Stderr = w, w
	}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to start %s: %w", c.Name, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return -1, fmt.Errorf("%s cancelled: %w", c.Name, ctx.Err())
	case err = <-done:
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("failed to run %s: %w", c.Name, err)
	}
	return 0, nil
}

// mergeEnv overlays vars on base. Overlay keys replace inherited ones; the
// result keeps base order followed by new keys in sorted order.
func mergeEnv(base []string, vars map[string]string) []string {
	if len(vars) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(vars))
	seen := make(map[string]bool, len(vars))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if v, ok := vars[k]; ok {
			out = append(out, k+"="+v)
			seen[k] = true
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+vars[k])
	}
	return out
}

// lookPath resolves name against an overlay PATH, which exec.Command would
// otherwise ignore in favour of the parent's PATH.
func lookPath(name, pathList string) (string, bool) {
	for _, dir := range filepath.SplitList(pathList) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return candidate, true
		}
	}
	return "", false
}

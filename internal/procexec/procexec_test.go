package procexec

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExecLauncher_AppendsOutputToLog(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "run.log")
	if err := os.WriteFile(logPath, []byte("banner\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	l := &ExecLauncher{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	code, err := l.Run(ctx, Command{
		Name:    "sh",
		Args:    []string{"-c", "echo out; echo err 1>&2"},
		Dir:     dir,
		LogPath: logPath,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}

	b, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	got := string(b)
	if !strings.HasPrefix(got, "banner\n") {
		t.Fatalf("log was truncated: %q", got)
	}
	if !strings.Contains(got, "out\n") || !strings.Contains(got, "err\n") {
		t.Fatalf("stdout/stderr missing from log: %q", got)
	}
}

func TestExecLauncher_ReportsNonZeroExitWithoutError(t *testing.T) {
	l := &ExecLauncher{}
	code, err := l.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "exit 7"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 7 {
		t.Fatalf("expected exit 7, got %d", code)
	}
}

func TestExecLauncher_EnvOverlayIsVisible(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "env.log")

	l := &ExecLauncher{}
	_, err := l.Run(context.Background(), Command{
		Name:    "sh",
		Args:    []string{"-c", `echo "V=$PROGCACTUS_TEST_VAR"`},
		Env:     map[string]string{"PROGCACTUS_TEST_VAR": "overlay"},
		LogPath: logPath,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	b, _ := os.ReadFile(logPath)
	if !strings.Contains(string(b), "V=overlay") {
		t.Fatalf("overlay not visible: %q", string(b))
	}
}

func TestExecLauncher_CancelKillsProcess(t *testing.T) {
	l := &ExecLauncher{}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := l.Run(ctx, Command{Name: "sh", Args: []string{"-c", "sleep 30"}})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("process was not killed promptly")
	}
}

func TestExecLauncher_MissingExecutable(t *testing.T) {
	l := &ExecLauncher{}
	if _, err := l.Run(context.Background(), Command{Name: "definitely-not-a-real-binary-xyz"}); err == nil {
		t.Fatalf("expected start error")
	}
}

func TestCommand_Validate(t *testing.T) {
	if err := (Command{}).Validate(); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if err := (Command{Name: "x", Env: map[string]string{"A=B": "1"}}).Validate(); err == nil {
		t.Fatalf("expected error for bad env name")
	}
	if err := (Command{Name: "x", Args: []string{"a"}, Env: map[string]string{"A": "1"}}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMergeEnv_OverlayReplacesAndAppendsSorted(t *testing.T) {
	got := mergeEnv([]string{"A=1", "B=2"}, map[string]string{"B": "x", "D": "4", "C": "3"})
	want := []string{"A=1", "B=x", "C=3", "D=4"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestLoadEnvironment_ParsesExports(t *testing.T) {
	p := filepath.Join(t.TempDir(), "environment")
	content := "# cactus environment\nexport CACTUS_HOME=/opt/cactus\nPYTHONPATH=/opt/cactus/lib\n"
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	vars, err := LoadEnvironment(p)
	if err != nil {
		t.Fatalf("LoadEnvironment: %v", err)
	}
	if vars["CACTUS_HOME"] != "/opt/cactus" || vars["PYTHONPATH"] != "/opt/cactus/lib" {
		t.Fatalf("unexpected vars: %v", vars)
	}

	none, err := LoadEnvironment("")
	if err != nil || none != nil {
		t.Fatalf("expected empty overlay, got %v %v", none, err)
	}
	if _, err := LoadEnvironment(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestString_QuotesArgsWithSpaces(t *testing.T) {
	c := Command{Name: "cactus2hal.py", Args: []string{"/a b/p.xml", "out.hal"}}
	if got := c.String(); got != `cactus2hal.py "/a b/p.xml" out.hal` {
		t.Fatalf("unexpected rendering: %s", got)
	}
}

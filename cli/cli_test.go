package cli_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	icl "progcactus/internal/cli"
	"progcactus/internal/orchestrator"
	"progcactus/internal/procexec"
	"progcactus/internal/recovery/state"
)

func writeFile(t *testing.T, path, content string, perm os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// installTools puts shell stand-ins for the external pipeline steps in a bin
// directory and returns an environment file that puts it on PATH.
func installTools(t *testing.T, root string, engineExit int) string {
	t.Helper()
	bin := filepath.Join(root, "bin")
	writeFile(t, filepath.Join(bin, "cactus_createMultiCactusProject.py"), `#!/bin/sh
set -e
mkdir -p "$2/Anc0"
name=$(basename "$2")
cat > "$2/${name}_project.xml" <<XML
<multi_cactus>
  <tree>((a:0.1,b:0.1)Anc1:0.2,c:0.3)Anc0;</tree>
  <cactus name="Anc0" experiment_path="$2/Anc0/Anc0_experiment.xml"/>
  <creation args="$3 $4 $5"/>
</multi_cactus>
XML
`, 0o755)
	writeFile(t, filepath.Join(bin, "cactus_progressive.py"), "#!/bin/sh\necho \"engine $*\"\nexit "+strconv.Itoa(engineExit)+"\n", 0o755)
	writeFile(t, filepath.Join(bin, "cactus2hal.py"), "#!/bin/sh\necho hal > \"$2\"\n", 0o755)

	envFile := filepath.Join(root, "environment")
	writeFile(t, envFile, "PATH="+bin+":"+os.Getenv("PATH")+"\n", 0o644)
	return envFile
}

func writeInputs(t *testing.T, root string) string {
	t.Helper()
	for _, n := range []string{"a", "b", "c"} {
		writeFile(t, filepath.Join(root, "seqs", n+".fa"), ">"+n+"\nACGT\n", 0o644)
	}
	seqFile := filepath.Join(root, "in.txt")
	writeFile(t, seqFile, "((a:0.1,b:0.1):0.2,c:0.3);\na seqs/a.fa\nb seqs/b.fa\n*c seqs/c.fa\n", 0o644)
	return seqFile
}

func run(t *testing.T, args []string) (icl.Result, string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	res, err := icl.Run(context.Background(), args, orchestrator.RunContext{
		Stdout:   &stdout,
		Stderr:   &stderr,
		Launcher: &procexec.ExecLauncher{},
		Exit:     func(code int) { t.Errorf("unexpected exit(%d)", code) },
	})
	return res, stdout.String(), stderr.String(), err
}

func TestRun_EndToEndWithExternalTools(t *testing.T) {
	root := t.TempDir()
	envFile := installTools(t, root, 0)
	seqFile := writeInputs(t, root)
	workDir := filepath.Join(root, "work")
	hal := filepath.Join(root, "out.hal")

	args := []string{"--environment", envFile, "--database", "tokyo_cabinet", seqFile, workDir, hal, "--", "--stats"}
	res, stdout, stderr, err := run(t, args)
	if err != nil {
		t.Fatalf("run failed: %v\nstderr:\n%s", err, stderr)
	}
	if res.ExitCode != icl.ExitSuccess {
		t.Fatalf("exit code %d", res.ExitCode)
	}
	if !strings.Contains(stdout, "Success.") {
		t.Fatalf("missing success message in %q", stdout)
	}
	if b, err := os.ReadFile(hal); err != nil || strings.TrimSpace(string(b)) != "hal" {
		t.Fatalf("hal not exported: %q %v", b, err)
	}

	logData, err := os.ReadFile(filepath.Join(workDir, "cactus.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(logData), "engine --batchSystem singleMachine") || !strings.Contains(string(logData), "--stats") {
		t.Fatalf("engine output not captured in log:\n%s", logData)
	}

	// A second identical run reuses the project.
	res, _, stderr, err = run(t, args)
	if err != nil {
		t.Fatalf("second run failed: %v\nstderr:\n%s", err, stderr)
	}
	if res.Run.Decision != "reused" {
		t.Fatalf("expected project reuse, got %q", res.Run.Decision)
	}
}

func TestRun_EngineFailureExitsWithFailure(t *testing.T) {
	root := t.TempDir()
	envFile := installTools(t, root, 1)
	seqFile := writeInputs(t, root)
	workDir := filepath.Join(root, "work")

	res, _, stderr, err := run(t, []string{"--environment", envFile, "--database", "tokyo_cabinet", seqFile, workDir, filepath.Join(root, "out.hal")})
	if err == nil {
		t.Fatalf("expected failure")
	}
	if res.ExitCode != icl.ExitFailure {
		t.Fatalf("expected exit %d, got %d", icl.ExitFailure, res.ExitCode)
	}
	if !strings.Contains(stderr, "More information can be found in "+filepath.Join(workDir, "cactus.log")) {
		t.Fatalf("missing log pointer in stderr:\n%s", stderr)
	}

	store, err := state.NewStore(workDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	f, err := store.LoadFailure(res.Run.RunID)
	if err != nil {
		t.Fatalf("LoadFailure: %v", err)
	}
	if f.FailureClass != state.FailureClassExternalProcess || f.Stage != "aligning" {
		t.Fatalf("unexpected failure record: %+v", f)
	}
}

func TestRun_InvalidInvocationExitCode(t *testing.T) {
	res, _, _, err := run(t, []string{"--rootOutgroupPaths", "/x.fa", "in.txt", "work", "out.hal"})
	if err == nil || res.ExitCode != icl.ExitInvalidInvocation {
		t.Fatalf("expected invalid invocation, got code=%d err=%v", res.ExitCode, err)
	}
}

package state

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStore_SaveAndLoadRun_EndTimeNullable(t *testing.T) {
	base := t.TempDir()
	store, err := NewStore(base)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	run := Run{
		RunID:     "run-123",
		StartTime: time.Unix(1, 2).UTC(),
		WorkDir:   base,
		Database:  "kyoto_tycoon",
		Stage:     "validated",
		Status:    RunStatusRunning,
	}
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(base, ".progcactus", "runs", "run-123", "run.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "\"end_time\": null") {
		t.Fatalf("expected end_time to be null; got: %s", string(data))
	}

	loaded, err := store.LoadRun("run-123")
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if loaded.RunID != run.RunID || loaded.Stage != "validated" || loaded.EndTime != nil {
		t.Fatalf("loaded run mismatch: %+v", loaded)
	}
}

func TestStore_SaveRun_RejectsInvalid(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	if err := store.SaveRun(Run{RunID: "x"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestStore_SaveAndLoadFailure(t *testing.T) {
	base := t.TempDir()
	store, err := NewStore(base)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	f := Failure{
		FailureClass: FailureClassExternalProcess,
		Stage:        "aligning",
		ErrorCode:    "cactus_progressive.py",
		ErrorMessage: "cactus_progressive.py failed with exit status 1",
		LogPath:      filepath.Join(base, "cactus.log"),
	}
	if err := store.SaveFailure("run-9", f); err != nil {
		t.Fatalf("SaveFailure: %v", err)
	}
	loaded, err := store.LoadFailure("run-9")
	if err != nil {
		t.Fatalf("LoadFailure: %v", err)
	}
	if loaded != f {
		t.Fatalf("loaded failure mismatch: %+v", loaded)
	}

	if _, err := store.LoadFailure("run-missing"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestStore_LatestRun(t *testing.T) {
	base := t.TempDir()
	store, _ := NewStore(base)

	if _, ok, err := store.LatestRun(); err != nil || ok {
		t.Fatalf("expected no runs, got ok=%v err=%v", ok, err)
	}

	for i, id := range []string{"b", "a", "c"} {
		r := Run{RunID: id, StartTime: time.Unix(int64(10+i), 0).UTC(), WorkDir: base, Stage: "done", Status: RunStatusSucceeded}
		if err := store.SaveRun(r); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}
	latest, ok, err := store.LatestRun()
	if err != nil || !ok {
		t.Fatalf("LatestRun: ok=%v err=%v", ok, err)
	}
	if latest.RunID != "c" {
		t.Fatalf("expected c, got %s", latest.RunID)
	}
}

func TestFailureRecorder_RecordFailureMarksRunFailed(t *testing.T) {
	base := t.TempDir()
	store, _ := NewStore(base)
	rec := &FailureRecorder{Store: store}

	id := rec.NewRunID()
	if id == "" {
		t.Fatalf("expected run id")
	}
	start := time.Unix(100, 0).UTC()
	if err := rec.StartRun(Run{RunID: id, StartTime: start, WorkDir: base, Stage: "unstarted"}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	cause := &ResourceError{Path: "/nope", Message: "cannot create directory"}
	if err := rec.RecordFailure(id, "aligning", cause, start.Add(time.Minute)); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	run, err := store.LoadRun(id)
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if run.Status != RunStatusFailed || run.Stage != "aligning" || run.EndTime == nil {
		t.Fatalf("unexpected run: %+v", run)
	}
	f, err := store.LoadFailure(id)
	if err != nil {
		t.Fatalf("LoadFailure: %v", err)
	}
	if f.FailureClass != FailureClassResource || f.Path != "/nope" {
		t.Fatalf("unexpected failure: %+v", f)
	}
}

package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"progcactus/internal/recovery/state"
)

type statusReport struct {
	RunID           string     `yaml:"run_id"`
	Status          string     `yaml:"status"`
	Stage           string     `yaml:"stage"`
	Database        string     `yaml:"database,omitempty"`
	StartTime       time.Time  `yaml:"start_time"`
	EndTime         *time.Time `yaml:"end_time,omitempty"`
	ProjectDecision string     `yaml:"project_decision,omitempty"`
	ProjectDigest   string     `yaml:"project_digest,omitempty"`
	Failure         *failure   `yaml:"failure,omitempty"`
}

type failure struct {
	Class   string `yaml:"class"`
	Code    string `yaml:"code"`
	Message string `yaml:"message"`
	Path    string `yaml:"path,omitempty"`
	LogPath string `yaml:"log_path,omitempty"`
}

// Status writes the latest run record under workDir as YAML.
func Status(workDir string, w io.Writer) error {
	store, err := state.NewStore(workDir)
	if err != nil {
		return err
	}
	run, ok, err := store.LatestRun()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no runs recorded in %s", workDir)
	}

	report := statusReport{
		RunID:           run.RunID,
		Status:          string(run.Status),
		Stage:           run.Stage,
		Database:        run.Database,
		StartTime:       run.StartTime,
		EndTime:         run.EndTime,
		ProjectDecision: run.ProjectDecision,
		ProjectDigest:   run.ProjectDigest,
	}
	f, err := store.LoadFailure(run.RunID)
	switch {
	case err == nil:
		report.Failure = &failure{
			Class:   string(f.FailureClass),
			Code:    f.ErrorCode,
			Message: f.ErrorMessage,
			Path:    f.Path,
			LogPath: f.LogPath,
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return err
	}
	return enc.Close()
}

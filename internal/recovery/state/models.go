package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the persisted record of one invocation.
//
// It exists for postmortem inspection only. Whether a later invocation reuses
// the on-disk project is decided by project reconciliation, never by this
// record.
type Run struct {
	RunID     string     `json:"run_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	WorkDir   string     `json:"work_dir"`
	Database  string     `json:"database"`
	Stage     string     `json:"stage"`
	Status    RunStatus  `json:"status"`

	// ProjectDecision is how the project directory was obtained
	// (created, reused, rebuilt). Empty before reconciliation.
	ProjectDecision string `json:"project_decision,omitempty"`

	// ProjectDigest fingerprints the project descriptor the pipeline ran
	// against. Empty before reconciliation.
	ProjectDigest string `json:"project_digest,omitempty"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	if strings.TrimSpace(r.WorkDir) == "" {
		errs = append(errs, errors.New("work_dir is required"))
	}
	if strings.TrimSpace(r.Stage) == "" {
		errs = append(errs, errors.New("stage is required"))
	}
	switch r.Status {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if r.EndTime != nil && r.EndTime.Before(r.StartTime) {
		errs = append(errs, errors.New("end_time precedes start_time"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

type FailureClass string

const (
	FailureClassInput           FailureClass = "input"
	FailureClassResource        FailureClass = "resource"
	FailureClassExternalProcess FailureClass = "external_process"
	FailureClassDeadlock        FailureClass = "deadlock"
	FailureClassSystem          FailureClass = "system"
)

// Failure is a recorded run termination reason.
type Failure struct {
	FailureClass FailureClass `json:"failure_class"`
	Stage        string       `json:"stage"`
	ErrorCode    string       `json:"error_code"`
	ErrorMessage string       `json:"error_message"`
	Path         string       `json:"path,omitempty"`
	LogPath      string       `json:"log_path,omitempty"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.FailureClass {
	case FailureClassInput, FailureClassResource, FailureClassExternalProcess, FailureClassDeadlock, FailureClassSystem:
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.FailureClass))
	}
	if strings.TrimSpace(f.Stage) == "" {
		errs = append(errs, errors.New("stage is required"))
	}
	if strings.TrimSpace(f.ErrorCode) == "" {
		errs = append(errs, errors.New("error_code is required"))
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

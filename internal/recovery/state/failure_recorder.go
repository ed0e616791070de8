package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FailureRecorder writes run.json and failure.json for an invocation.
//
// Recording is best-effort from the caller's point of view: a run that
// cannot be recorded still runs.
type FailureRecorder struct {
	Store *Store
}

func (r *FailureRecorder) NewRunID() string {
	return uuid.NewString()
}

func (r *FailureRecorder) StartRun(run Run) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	if run.StartTime.IsZero() {
		run.StartTime = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	return r.Store.SaveRun(run)
}

// UpdateRun rewrites the run record after fn mutates it.
func (r *FailureRecorder) UpdateRun(runID string, fn func(*Run)) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	run, err := r.Store.LoadRun(runID)
	if err != nil {
		return err
	}
	fn(&run)
	return r.Store.SaveRun(run)
}

// RecordFailure classifies err, persists failure.json and marks the run
// failed at stage.
func (r *FailureRecorder) RecordFailure(runID, stage string, err error, when time.Time) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	f, ferr := FailureFromError(stage, err)
	if ferr != nil {
		return ferr
	}
	if err := r.Store.SaveFailure(runID, f); err != nil {
		return err
	}
	return r.UpdateRun(runID, func(run *Run) {
		end := when.UTC()
		run.EndTime = &end
		run.Stage = stage
		run.Status = RunStatusFailed
	})
}

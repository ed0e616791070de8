package orchestrator

// StageError attaches the active stage to a fatal error.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

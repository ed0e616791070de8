package orchestrator

import "fmt"

// Stage is the orchestrator's position in a run. It is used for error
// attribution and cleanup decisions only; runs never resume mid-stage.
type Stage int

const (
	StageUnstarted Stage = iota
	StageValidated
	StageAligning
	StageExporting
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageUnstarted:
		return "unstarted"
	case StageValidated:
		return "validated"
	case StageAligning:
		return "aligning"
	case StageExporting:
		return "exporting"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// cursor tracks the active stage. It only moves forward.
type cursor struct {
	stage   Stage
	onEnter func(Stage)
}

// advance moves the cursor to to. Moving backwards or standing still is a
// programming error.
func (c *cursor) advance(to Stage) error {
	if to <= c.stage || to > StageDone {
		return fmt.Errorf("invalid stage transition: %s -> %s", c.stage, to)
	}
	c.stage = to
	if c.onEnter != nil {
		c.onEnter(to)
	}
	return nil
}

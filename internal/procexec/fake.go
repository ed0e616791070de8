package procexec

import (
	"context"
	"sync"
)

// Recorder is a Launcher that records commands instead of running them.
// Handler, when set, supplies the exit code and may simulate side effects
// such as creating a project directory.
type Recorder struct {
	Handler func(ctx context.Context, cmd Command) (int, error)

	mu       sync.Mutex
	commands []Command
}

// Run records cmd and delegates to Handler.
func (r *Recorder) Run(ctx context.Context, cmd Command) (int, error) {
	if err := cmd.Validate(); err != nil {
		return -1, err
	}
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()
	if r.Handler == nil {
		return 0, nil
	}
	return r.Handler(ctx, cmd)
}

// Commands returns a copy of everything run so far.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// Names returns the executable names run so far, in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.commands))
	for i, c := range r.commands {
		out[i] = c.Name
	}
	return out
}

package orchestrator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

const bannerTime = "2006-01-02 15:04:05.000000"

// runLog is the append-only run log shared with external steps. The
// orchestrator is its only writer while no step is running.
type runLog struct {
	path string
	now  func() time.Time
}

func (l runLog) banner(format string) error {
	return l.append(fmt.Sprintf(format, l.now().Format(bannerTime)))
}

func (l runLog) append(s string) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (l runLog) remove() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

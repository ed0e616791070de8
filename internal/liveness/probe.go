package liveness

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultJobPattern matches job records in a file job store.
const DefaultJobPattern = "jobs/**/job"

// FileJobStoreProbe inspects a file-backed job store directly. Pending jobs
// are the job records still present; activity is the newest modification
// time across the store and the run log.
type FileJobStoreProbe struct {
	JobStore   string
	LogPath    string
	JobPattern string
}

func (p FileJobStoreProbe) Probe(ctx context.Context) (Status, error) {
	pattern := p.JobPattern
	if pattern == "" {
		pattern = DefaultJobPattern
	}
	fsys := os.DirFS(p.JobStore)

	var st Status
	jobs, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
	if err != nil {
		return Status{}, err
	}
	st.PendingJobs = len(jobs)

	err = doublestar.GlobWalk(fsys, "**", func(path string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			// Jobs finish while we walk.
			return nil
		}
		st.LastActivity = latest(st.LastActivity, info.ModTime())
		return nil
	})
	if err != nil {
		return Status{}, err
	}

	if p.LogPath != "" {
		info, err := os.Stat(p.LogPath)
		switch {
		case err == nil:
			st.LastActivity = latest(st.LastActivity, info.ModTime())
		case !errors.Is(err, fs.ErrNotExist):
			return Status{}, err
		}
	}
	return st, nil
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

package liveness

import (
	"fmt"
	"io"
	"os"
)

// ExitDeadlockAbort is the process exit status after a deadlock abort.
const ExitDeadlockAbort = 3

// AbortFunc returns the deadlock callback used with --autoAbortOnDeadlock.
// It deletes the job store, which also stops any database servers the
// workflow started, and then calls exit. exit must not return control to
// the pipeline; in production it is os.Exit.
func AbortFunc(jobStore string, stderr io.Writer, exit func(code int)) func() {
	return func() {
		fmt.Fprintf(stderr, "\nAborting due to deadlock (prevent by omitting --autoAbortOnDeadlock), and running rm -rf %s\n\n", jobStore)
		if err := os.RemoveAll(jobStore); err != nil {
			fmt.Fprintf(stderr, "Error: cannot remove %s: %v\n", jobStore, err)
		}
		exit(ExitDeadlockAbort)
	}
}

package orchestrator

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"progcactus/internal/project"
	"progcactus/internal/recovery/state"
	"progcactus/internal/synth"
)

const (
	DefaultDatabase    = synth.DatabaseKyotoTycoon
	DefaultKTPort      = 1978
	DefaultKTType      = synth.KTMemory
	DefaultBatchSystem = synth.BatchSingleMachine

	// EngineCommand runs the alignment under the workflow engine.
	EngineCommand = "cactus_progressive.py"

	// ExportCommand extracts the final HAL file from a finished project.
	ExportCommand = "cactus2hal.py"

	LogName      = "cactus.log"
	JobStoreName = "toil"
)

// RunOptions is an immutable snapshot of everything that shapes a run.
type RunOptions struct {
	SeqFile   string
	WorkDir   string
	OutputHAL string

	Database       string
	KTPort         int
	KTHost         string
	KTType         string
	KTCreateTuning string
	KTOpenTuning   string

	Legacy            bool
	Root              string
	RootOutgroupDists string
	RootOutgroupPaths string
	Overwrite         bool

	// OutputMAF, when set, receives the root alignment in MAF format.
	OutputMAF string

	ConfigFile          string
	AutoAbortOnDeadlock bool

	// JobStore overrides <WorkDir>/toil. A "file:" prefix is accepted.
	JobStore string

	// EnvironmentFile holds variables overlaid on every external step.
	EnvironmentFile string

	BatchSystem string
	MaxThreads  int

	// EngineArgs are passed to the workflow engine verbatim.
	EngineArgs []string

	MonitorInterval   time.Duration
	DeadlockThreshold time.Duration
}

// Validate performs the checks that need no filesystem access. It runs
// before anything is created.
func (o RunOptions) Validate() error {
	var errs []error
	if strings.TrimSpace(o.SeqFile) == "" {
		errs = append(errs, state.Invalidf("MissingSeqFile", "seqFile is required"))
	}
	if strings.TrimSpace(o.WorkDir) == "" {
		errs = append(errs, state.Invalidf("MissingWorkDir", "workDir is required"))
	}
	if strings.TrimSpace(o.OutputHAL) == "" {
		errs = append(errs, state.Invalidf("MissingOutputHal", "outputHalFile is required"))
	}
	if (o.RootOutgroupDists == "") != (o.RootOutgroupPaths == "") {
		errs = append(errs, state.Invalidf("OutgroupPair", "--rootOutgroupDists and --rootOutgroupPaths must be provided together"))
	}
	if strings.Contains(o.WorkDir, " ") {
		errs = append(errs, state.Invalidf("SpaceInPath", "Cactus does not support spaces in pathnames: %s", o.WorkDir))
	}
	if err := synth.ValidateDatabase(o.Database, o.KTType); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// WithDefaults fills unset fields with their documented defaults.
func (o RunOptions) WithDefaults() RunOptions {
	if o.Database == "" {
		o.Database = DefaultDatabase
	}
	if o.KTPort == 0 {
		o.KTPort = DefaultKTPort
	}
	if o.KTType == "" {
		o.KTType = DefaultKTType
	}
	if o.BatchSystem == "" {
		o.BatchSystem = DefaultBatchSystem
	}
	return o
}

func (o RunOptions) synthOptions() synth.Options {
	return synth.Options{
		Database:       o.Database,
		KTPort:         o.KTPort,
		KTHost:         o.KTHost,
		KTType:         o.KTType,
		KTCreateTuning: o.KTCreateTuning,
		KTOpenTuning:   o.KTOpenTuning,
		Legacy:         o.Legacy,
		OutputMAF:      o.OutputMAF != "",
		Overwrite:      o.Overwrite,
		BatchSystem:    o.BatchSystem,
		MaxThreads:     o.MaxThreads,
	}
}

// LogPath is the run log.
func (o RunOptions) LogPath() string { return filepath.Join(o.WorkDir, LogName) }

// ProjectDir is where the project is materialized.
func (o RunOptions) ProjectDir() string { return filepath.Join(o.WorkDir, project.DirName) }

// JobStoreLocator is the job store as passed to the engine.
func (o RunOptions) JobStoreLocator() string {
	if o.JobStore != "" {
		return o.JobStore
	}
	return filepath.Join(o.WorkDir, JobStoreName)
}

// LocalJobStore returns the job store directory when it is file-backed.
func (o RunOptions) LocalJobStore() (string, bool) {
	loc := o.JobStoreLocator()
	if p, ok := strings.CutPrefix(loc, "file:"); ok {
		return p, true
	}
	if i := strings.IndexByte(loc, ':'); i > 0 && !strings.ContainsRune(loc[:i], filepath.Separator) {
		return "", false
	}
	return loc, true
}

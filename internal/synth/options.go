// Package synth builds the effective configuration and experiment documents
// for a run from a base template, the sequence manifest and run options.
//
// Synthesis never mutates its inputs. Nothing is persisted until
// WriteDocuments is called.
package synth

import (
	"path/filepath"
	"strings"

	"progcactus/internal/recovery/state"
)

const (
	DatabaseTokyoCabinet = "tokyo_cabinet"
	DatabaseKyotoTycoon  = "kyoto_tycoon"

	KTMemory   = "memory"
	KTSnapshot = "snapshot"
	KTDisk     = "disk"

	BatchSingleMachine = "singleMachine"
)

// Options is the subset of run options that shapes the documents.
type Options struct {
	Database       string
	KTPort         int
	KTHost         string
	KTType         string
	KTCreateTuning string
	KTOpenTuning   string

	Legacy      bool
	OutputMAF   bool
	Overwrite   bool
	BatchSystem string
	MaxThreads  int
}

// ValidateDatabase checks the database kind and, for kyoto_tycoon, the
// server storage mode (case-insensitive).
func ValidateDatabase(database, ktType string) error {
	switch database {
	case DatabaseTokyoCabinet:
		return nil
	case DatabaseKyotoTycoon:
	default:
		return state.Invalidf("InvalidDatabase", "Invalid database type: %s", database)
	}
	if _, _, ok := ktFlags(ktType); !ok {
		return state.Invalidf("InvalidKTType", "Invalid ktserver type specified: %s. Must be memory, snapshot or disk", ktType)
	}
	return nil
}

// ktFlags maps a storage mode to its (in_memory, snapshot) pair.
func ktFlags(mode string) (inMemory, snapshot bool, ok bool) {
	switch strings.ToLower(mode) {
	case KTMemory:
		return true, false, true
	case KTSnapshot:
		return true, true, true
	case KTDisk:
		return false, false, true
	}
	return false, false, false
}

// Layout names the files a run writes under its working directory.
type Layout struct {
	WorkDir string
}

func (l Layout) ConfigPath() string     { return filepath.Join(l.WorkDir, "config.xml") }
func (l Layout) ExperimentPath() string { return filepath.Join(l.WorkDir, "expTemplate.xml") }
func (l Layout) SequenceDir() string    { return filepath.Join(l.WorkDir, "sequenceData") }

package synth

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"progcactus/internal/recovery/state"
	"progcactus/internal/seqfile"
)

// Experiment is an effective experiment document.
type Experiment struct {
	Root *etree.Element
}

// SynthesizeExperiment builds the experiment for manifest and prepares the
// output sequence directory. An existing directory is reused unless
// opts.Overwrite is set, in which case it is recreated empty.
func SynthesizeExperiment(m *seqfile.Manifest, opts Options, layout Layout) (Experiment, error) {
	root := etree.NewElement("cactus_workflow_experiment")
	root.CreateAttr("species_tree", m.Newick())

	leaves := m.Leaves()
	seqs := make([]string, 0, len(leaves))
	for _, name := range leaves {
		p, _ := m.Path(name)
		seqs = append(seqs, p)
	}
	root.CreateAttr("sequences", strings.Join(seqs, " "))
	if og := m.Outgroups(); len(og) > 0 {
		root.CreateAttr("outgroup_events", strings.Join(og, " "))
	}

	db := root.CreateElement("cactus_disk").CreateElement("st_kv_database_conf")
	db.CreateAttr("type", opts.Database)
	conf := db.CreateElement(opts.Database)

	switch opts.Database {
	case DatabaseKyotoTycoon:
		conf.CreateAttr("port", strconv.Itoa(opts.KTPort))
		if opts.KTHost != "" {
			conf.CreateAttr("host", opts.KTHost)
		}
		inMemory, snapshot, ok := ktFlags(opts.KTType)
		if !ok {
			return Experiment{}, state.Invalidf("InvalidKTType", "Invalid ktserver type specified: %s. Must be memory, snapshot or disk", opts.KTType)
		}
		conf.CreateAttr("in_memory", boolAttr(inMemory))
		conf.CreateAttr("snapshot", boolAttr(snapshot))
		if opts.KTCreateTuning != "" {
			conf.CreateAttr("create_tuning_options", opts.KTCreateTuning)
		}
		if opts.KTOpenTuning != "" {
			conf.CreateAttr("read_tuning_options", opts.KTOpenTuning)
		}
	case DatabaseTokyoCabinet:
	default:
		return Experiment{}, state.Invalidf("InvalidDatabase", "Invalid database type: %s", opts.Database)
	}

	seqDir := layout.SequenceDir()
	if err := prepareSequenceDir(seqDir, opts.Overwrite); err != nil {
		return Experiment{}, err
	}
	root.CreateAttr("outputSequenceDir", seqDir)

	return Experiment{Root: root}, nil
}

func prepareSequenceDir(dir string, overwrite bool) error {
	_, err := os.Stat(dir)
	exists := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return &state.ResourceError{Path: dir, Message: "cannot inspect sequence directory", Cause: err}
	}
	if exists && overwrite {
		if err := os.RemoveAll(dir); err != nil {
			return &state.ResourceError{Path: dir, Message: "cannot remove sequence directory", Cause: err}
		}
		exists = false
	}
	if !exists {
		if err := os.Mkdir(dir, 0o755); err != nil {
			return &state.ResourceError{Path: dir, Message: "cannot create sequence directory", Cause: err}
		}
	}
	return nil
}

func boolAttr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Database returns the connection element, e.g. <kyoto_tycoon port=...>.
func (e Experiment) Database() *etree.Element {
	conf := e.Root.FindElement("cactus_disk/st_kv_database_conf")
	if conf == nil {
		return nil
	}
	return conf.SelectElement(conf.SelectAttrValue("type", ""))
}

// WriteDocuments persists cfg and exp under layout.WorkDir. The experiment
// references the config by absolute path.
func WriteDocuments(layout Layout, cfg Config, exp Experiment) error {
	info, err := os.Stat(layout.WorkDir)
	if err != nil || !info.IsDir() {
		return &state.ResourceError{Path: layout.WorkDir, Message: "working directory missing", Cause: err}
	}
	configPath, err := filepath.Abs(layout.ConfigPath())
	if err != nil {
		return err
	}
	expPath, err := filepath.Abs(layout.ExperimentPath())
	if err != nil {
		return err
	}

	doc := exp.Root.Copy()
	doc.CreateAttr("config", configPath)
	if err := writeDocument(cfg.Root.Copy(), configPath); err != nil {
		return &state.ResourceError{Path: configPath, Message: "cannot write config", Cause: err}
	}
	if err := writeDocument(doc, expPath); err != nil {
		return &state.ResourceError{Path: expPath, Message: "cannot write experiment", Cause: err}
	}
	return nil
}

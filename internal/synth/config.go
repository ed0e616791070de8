package synth

import (
	_ "embed"
	"fmt"
	"math"
	"strconv"

	"github.com/beevik/etree"

	"progcactus/internal/recovery/state"
)

//go:embed default_config.xml
var defaultConfig []byte

const defaultMaxParallelSubtrees = 3

// Config is an effective configuration document.
type Config struct {
	Root *etree.Element
}

// DefaultTemplate returns the built-in progressive configuration.
func DefaultTemplate() (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(defaultConfig); err != nil {
		return nil, fmt.Errorf("parse built-in config: %w", err)
	}
	return doc.Root(), nil
}

// LoadTemplate parses the override config at path, or the built-in
// template when path is empty.
func LoadTemplate(path string) (*etree.Element, error) {
	if path == "" {
		return DefaultTemplate()
	}
	doc := etree.NewDocument()
	err := doc.ReadFromFile(path)
	if err == nil && doc.Root() == nil {
		err = fmt.Errorf("no root element")
	}
	if err != nil {
		return nil, &state.InputValidationError{
			Code:    "UnreadableConfig",
			Message: fmt.Sprintf("Unable to read config: %s", path),
			Cause:   err,
		}
	}
	return doc.Root(), nil
}

// SynthesizeConfig applies run options to a copy of template.
func SynthesizeConfig(template *etree.Element, opts Options) Config {
	c := Config{Root: template.Copy()}

	hal := ensureChild(c.Root, "hal")
	hal.CreateAttr("buildHal", "1")
	hal.CreateAttr("buildFasta", "1")
	if opts.OutputMAF {
		hal.CreateAttr("buildMaf", "1")
		hal.CreateAttr("joinMaf", "1")
	}

	// A single-machine run with a tycoon server needs roughly three threads
	// per concurrently aligned subtree.
	if opts.BatchSystem == BatchSingleMachine && opts.Database == DatabaseKyotoTycoon {
		if opts.MaxThreads < c.MaxParallelSubtrees()*3 {
			c.decomposition().CreateAttr("max_parallel_subtrees", strconv.Itoa(max(1, opts.MaxThreads/3)))
		}
	}

	if opts.Legacy {
		c.decomposition().CreateAttr("subtree_size", strconv.FormatInt(math.MaxInt64, 10))
	}
	return c
}

// ensureChild returns the first child tagged tag, creating it when absent.
func ensureChild(e *etree.Element, tag string) *etree.Element {
	if c := e.SelectElement(tag); c != nil {
		return c
	}
	return e.CreateElement(tag)
}

func (c Config) decomposition() *etree.Element {
	return ensureChild(ensureChild(c.Root, "multi_cactus"), "decomposition")
}

// MaxParallelSubtrees returns the decomposition's concurrency ceiling.
func (c Config) MaxParallelSubtrees() int {
	return c.intAttr("multi_cactus/decomposition", "max_parallel_subtrees", defaultMaxParallelSubtrees)
}

// SubtreeSize returns the decomposition's subtree size ceiling.
func (c Config) SubtreeSize() int64 {
	el := c.Root.FindElement("multi_cactus/decomposition")
	if el == nil {
		return 0
	}
	n, _ := strconv.ParseInt(el.SelectAttrValue("subtree_size", ""), 10, 64)
	return n
}

// Flag reports whether a boolean attribute of the hal element is set.
func (c Config) Flag(name string) bool {
	return c.intAttr("hal", name, 0) != 0
}

func (c Config) intAttr(path, name string, fallback int) int {
	el := c.Root.FindElement(path)
	if el == nil {
		return fallback
	}
	a := el.SelectAttr(name)
	if a == nil {
		return fallback
	}
	n, err := strconv.Atoi(a.Value)
	if err != nil {
		return fallback
	}
	return n
}

// writeDocument writes root as an indented standalone document.
func writeDocument(root *etree.Element, path string) error {
	doc := etree.NewDocument()
	doc.SetRoot(root)
	doc.Indent(2)
	return doc.WriteToFile(path)
}

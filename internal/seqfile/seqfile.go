// Package seqfile reads the alignment manifest: a Newick guide tree plus a
// table mapping genome names to sequence paths.
//
// Format:
//
//	# comment
//	((human:0.006,chimp:0.006)anc:0.1,gorilla:0.2);
//	human   /data/human.fa
//	chimp   /data/chimp.fa
//	*gorilla /data/gorilla.fa
//
// A line containing '(' starts the tree, which may continue over several
// lines until ';'. A leading '*' on a name marks an outgroup. Without a tree
// line a star tree over all listed genomes is used. Unnamed internal nodes
// are labeled Anc0, Anc1, ... in pre-order.
package seqfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Manifest is the parsed, read-only input description of an alignment.
type Manifest struct {
	root      *Node
	paths     map[string]string
	order     []string
	outgroups []string
}

// ParseFile reads and validates the manifest at path. Relative sequence paths
// are resolved against the manifest's directory.
func ParseFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seqfile: %w", err)
	}
	defer f.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	m, err := Parse(f, filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("seqfile %s: %w", path, err)
	}
	if err := m.checkPathsExist(); err != nil {
		return nil, fmt.Errorf("seqfile %s: %w", path, err)
	}
	return m, nil
}

// Parse reads a manifest from r. baseDir anchors relative sequence paths; it
// may be empty to keep them as written. Path existence is not checked.
func Parse(r io.Reader, baseDir string) (*Manifest, error) {
	m := &Manifest{paths: map[string]string{}}
	var treeText strings.Builder
	inTree := false

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if inTree || strings.Contains(line, "(") {
			if !inTree && treeText.Len() > 0 {
				return nil, fmt.Errorf("line %d: more than one tree", lineNo)
			}
			treeText.WriteString(line)
			inTree = !strings.Contains(line, ";")
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: expected \"name path\", got %q", lineNo, line)
		}
		name := fields[0]
		seqPath := strings.Join(fields[1:], " ")
		if strings.HasPrefix(name, "*") {
			name = strings.TrimPrefix(name, "*")
			m.outgroups = append(m.outgroups, name)
		}
		if name == "" {
			return nil, fmt.Errorf("line %d: empty genome name", lineNo)
		}
		if _, dup := m.paths[name]; dup {
			return nil, fmt.Errorf("line %d: duplicate genome %q", lineNo, name)
		}
		if baseDir != "" && !filepath.IsAbs(seqPath) {
			seqPath = filepath.Join(baseDir, seqPath)
		}
		m.paths[name] = seqPath
		m.order = append(m.order, name)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(m.order) == 0 {
		return nil, errors.New("no sequences listed")
	}

	if treeText.Len() > 0 {
		root, err := ParseNewick(treeText.String())
		if err != nil {
			return nil, err
		}
		m.root = root
	} else {
		m.root = starTree(m.order)
	}
	labelAncestors(m.root)

	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func starTree(names []string) *Node {
	root := &Node{}
	for _, n := range names {
		root.Children = append(root.Children, &Node{Name: n, Length: 1, HasLength: true})
	}
	return root
}

func labelAncestors(root *Node) {
	used := map[string]bool{}
	root.Walk(func(n *Node) {
		if n.Name != "" {
			used[n.Name] = true
		}
	})
	next := 0
	root.Walk(func(n *Node) {
		if n.Name != "" || n.IsLeaf() {
			return
		}
		for used[fmt.Sprintf("Anc%d", next)] {
			next++
		}
		n.Name = fmt.Sprintf("Anc%d", next)
		used[n.Name] = true
		next++
	})
}

func (m *Manifest) validate() error {
	var errs []error
	nodes := map[string]bool{}
	m.root.Walk(func(n *Node) {
		if n.IsLeaf() && n.Name == "" {
			errs = append(errs, errors.New("tree has an unnamed leaf"))
			return
		}
		if nodes[n.Name] {
			errs = append(errs, fmt.Errorf("tree node %q appears more than once", n.Name))
		}
		nodes[n.Name] = true
		if n.IsLeaf() {
			if _, ok := m.paths[n.Name]; !ok {
				errs = append(errs, fmt.Errorf("no sequence path for leaf %q", n.Name))
			}
		}
	})
	for _, name := range m.order {
		if !nodes[name] {
			errs = append(errs, fmt.Errorf("genome %q is not in the tree", name))
		}
	}
	for _, og := range m.outgroups {
		if !nodes[og] {
			errs = append(errs, fmt.Errorf("outgroup %q is not in the tree", og))
		}
	}
	return errors.Join(errs...)
}

func (m *Manifest) checkPathsExist() error {
	var errs []error
	for _, name := range m.order {
		if _, err := os.Stat(m.paths[name]); err != nil {
			errs = append(errs, fmt.Errorf("sequence for %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Root returns the root of the guide tree. Callers must not modify it.
func (m *Manifest) Root() *Node { return m.root }

// RootName returns the label of the tree root.
func (m *Manifest) RootName() string { return m.root.Name }

// Newick renders the labeled guide tree.
func (m *Manifest) Newick() string { return m.root.Newick() }

// Path returns the sequence path recorded for name.
func (m *Manifest) Path(name string) (string, bool) {
	p, ok := m.paths[name]
	return p, ok
}

// Names returns genome names in manifest order.
func (m *Manifest) Names() []string {
	return append([]string(nil), m.order...)
}

// Leaves returns leaf names in tree pre-order.
func (m *Manifest) Leaves() []string {
	var out []string
	m.root.Walk(func(n *Node) {
		if n.IsLeaf() {
			out = append(out, n.Name)
		}
	})
	return out
}

// Outgroups returns the outgroup names in manifest order.
func (m *Manifest) Outgroups() []string {
	return append([]string(nil), m.outgroups...)
}

// HasNode reports whether name labels any node of the tree.
func (m *Manifest) HasNode(name string) bool {
	found := false
	m.root.Walk(func(n *Node) {
		if n.Name == name {
			found = true
		}
	})
	return found
}

package seqfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const primates = `# primates
((human:0.006,chimp:0.006):0.1,gorilla:0.2);

human  seqs/human.fa
chimp  seqs/chimp.fa
*gorilla /abs/gorilla.fa
`

func TestParse_TreePathsAndOutgroups(t *testing.T) {
	m, err := Parse(strings.NewReader(primates), "/base")
	require.NoError(t, err)

	assert.Equal(t, []string{"human", "chimp", "gorilla"}, m.Names())
	assert.Equal(t, []string{"human", "chimp", "gorilla"}, m.Leaves())
	assert.Equal(t, []string{"gorilla"}, m.Outgroups())

	p, ok := m.Path("human")
	require.True(t, ok)
	assert.Equal(t, "/base/seqs/human.fa", p)
	p, _ = m.Path("gorilla")
	assert.Equal(t, "/abs/gorilla.fa", p)

	// Unnamed internal nodes are labeled in pre-order.
	assert.Equal(t, "Anc0", m.RootName())
	assert.True(t, m.HasNode("Anc1"))
	assert.Equal(t, "((human:0.006,chimp:0.006)Anc1:0.1,gorilla:0.2)Anc0;", m.Newick())
}

func TestParse_MultiLineTree(t *testing.T) {
	src := "(a:1,\n b:2)root;\na x.fa\nb y.fa\n"
	m, err := Parse(strings.NewReader(src), "")
	require.NoError(t, err)
	assert.Equal(t, "root", m.RootName())
	p, _ := m.Path("a")
	assert.Equal(t, "x.fa", p)
}

func TestParse_StarTreeWithoutTreeLine(t *testing.T) {
	m, err := Parse(strings.NewReader("a a.fa\nb b.fa\nc c.fa\n"), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, m.Leaves())
	assert.Equal(t, "Anc0", m.RootName())
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"outgroup not in tree": "(a,b);\na a.fa\nb b.fa\n*c c.fa\n",
		"leaf without path":    "(a,b);\na a.fa\n",
		"duplicate genome":     "(a,b);\na a.fa\na b.fa\nb b.fa\n",
		"no sequences":         "(a,b);\n",
		"malformed line":       "(a,b);\na\n",
		"bad newick":           "(a,b;\na a.fa\nb b.fa\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(src), "")
			assert.Error(t, err)
		})
	}
}

func TestParseFile_ChecksSequencesExist(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.fa"), []byte(">a\nACGT\n"), 0o644))
	manifest := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(manifest, []byte("(a,b);\na a.fa\nb b.fa\n"), 0o644))

	_, err := ParseFile(manifest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sequence for "b"`)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.fa"), []byte(">b\nACGT\n"), 0o644))
	m, err := ParseFile(manifest)
	require.NoError(t, err)
	p, _ := m.Path("b")
	assert.Equal(t, filepath.Join(dir, "b.fa"), p)
}

func TestParseNewick_CommentsAndLengths(t *testing.T) {
	root, err := ParseNewick("((a:0.5,b)[&&NHX]c:1e-3,d);")
	require.NoError(t, err)
	require.Len(t, root.Children, 2)
	c := root.Children[0]
	assert.Equal(t, "c", c.Name)
	assert.True(t, c.HasLength)
	assert.InDelta(t, 0.001, c.Length, 1e-12)
	assert.False(t, c.Children[1].HasLength)
}

func TestParseNewick_NumericLabelsAreNames(t *testing.T) {
	root, err := ParseNewick("((1:0.1,2:0.1)95:0.2,3:0.3)")
	require.NoError(t, err)
	require.Len(t, root.Children, 2)
	assert.Equal(t, "95", root.Children[0].Name)
	assert.Equal(t, "1", root.Children[0].Children[0].Name)
	assert.Equal(t, "((1:0.1,2:0.1)95:0.2,3:0.3);", root.Newick())
}

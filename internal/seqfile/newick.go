package seqfile

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is a vertex of the guide tree.
type Node struct {
	Name      string
	Length    float64
	HasLength bool
	Children  []*Node
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// Walk visits n and its descendants in pre-order.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Newick renders the subtree rooted at n, terminated with ';'.
func (n *Node) Newick() string {
	var b strings.Builder
	n.writeNewick(&b)
	b.WriteByte(';')
	return b.String()
}

func (n *Node) writeNewick(b *strings.Builder) {
	if len(n.Children) > 0 {
		b.WriteByte('(')
		for i, c := range n.Children {
			if i > 0 {
				b.WriteByte(',')
			}
			c.writeNewick(b)
		}
		b.WriteByte(')')
	}
	b.WriteString(n.Name)
	if n.HasLength {
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(n.Length, 'g', -1, 64))
	}
}

// ParseNewick parses a single Newick tree. Comments in square brackets are
// skipped; the trailing ';' is optional.
func ParseNewick(s string) (*Node, error) {
	p := &newickParser{src: s}
	p.skipSpace()
	root, err := p.parseNode()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == ';' {
		p.pos++
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("newick: unexpected %q at offset %d", p.src[p.pos], p.pos)
	}
	return root, nil
}

type newickParser struct {
	src string
	pos int
}

func (p *newickParser) skipSpace() {
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			p.pos++
		case c == '[':
			end := strings.IndexByte(p.src[p.pos:], ']')
			if end < 0 {
				p.pos = len(p.src)
				return
			}
			p.pos += end + 1
		default:
			return
		}
	}
}

func (p *newickParser) parseNode() (*Node, error) {
	n := &Node{}
	if p.pos < len(p.src) && p.src[p.pos] == '(' {
		p.pos++
		for {
			p.skipSpace()
			child, err := p.parseNode()
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
			p.skipSpace()
			if p.pos >= len(p.src) {
				return nil, fmt.Errorf("newick: unterminated subtree")
			}
			if p.src[p.pos] == ',' {
				p.pos++
				continue
			}
			if p.src[p.pos] == ')' {
				p.pos++
				break
			}
			return nil, fmt.Errorf("newick: unexpected %q at offset %d", p.src[p.pos], p.pos)
		}
	}
	p.skipSpace()
	n.Name = p.readLabel()
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == ':' {
		p.pos++
		p.skipSpace()
		raw := p.readLabel()
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("newick: bad branch length %q", raw)
		}
		n.Length = v
		n.HasLength = true
	}
	return n, nil
}

func (p *newickParser) readLabel() string {
	start := p.pos
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case '(', ')', ',', ':', ';', '[', ' ', '\t', '\n', '\r':
			return p.src[start:p.pos]
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

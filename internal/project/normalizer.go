package project

import "strings"

// PrefixNormalizer rewrites path prefixes so descriptors generated in
// different directories can be compared textually.
type PrefixNormalizer struct {
	From string
	To   string
}

// Normalize replaces every occurrence of From with To.
func (n PrefixNormalizer) Normalize(line string) string {
	if n.From == "" {
		return line
	}
	return strings.ReplaceAll(line, n.From, n.To)
}

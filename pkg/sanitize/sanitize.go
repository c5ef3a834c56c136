// Package sanitize rewrites arbitrary source names into identifiers the
// destination store accepts. Output is total: any input string, including
// the empty string, maps to a valid identifier.
package sanitize

import (
	"strconv"
	"strings"
)

// MaxIdentifierLen is the longest identifier Postgres keeps without
// truncating (NAMEDATALEN-1 bytes).
const MaxIdentifierLen = 63

// fallback is used when sanitization consumes the whole input.
const fallback = "col"

// Identifier normalizes a raw name into a safe destination identifier:
// lower-case, [a-z0-9_] only, no separator runs, no leading digit, at most
// MaxIdentifierLen bytes.
func Identifier(raw string) string {
	var sb strings.Builder
	prevSep := false

	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			prevSep = false
		default:
			if !prevSep && sb.Len() > 0 {
				sb.WriteByte('_')
			}
			prevSep = true
		}
	}

	name := strings.Trim(sb.String(), "_")
	if name == "" {
		return fallback
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	if len(name) > MaxIdentifierLen {
		name = name[:MaxIdentifierLen]
	}
	return name
}

// Namer assigns collision-free sanitized names within one inference pass.
// When two raw names collapse to the same identifier, later ones get a
// numeric suffix (_2, _3, ...) in first-seen order.
type Namer struct {
	used    map[string]bool
	mapping map[string]string
	order   []string
}

// NewNamer creates an empty Namer.
func NewNamer() *Namer {
	return &Namer{
		used:    make(map[string]bool),
		mapping: make(map[string]string),
	}
}

// Name returns the sanitized identifier for raw, assigning one on first use.
// The same raw name always maps to the same identifier within one Namer.
func (n *Namer) Name(raw string) string {
	if got, ok := n.mapping[raw]; ok {
		return got
	}

	base := Identifier(raw)
	cand := base
	for i := 2; n.used[cand]; i++ {
		suffix := "_" + strconv.Itoa(i)
		trimmed := base
		if len(trimmed)+len(suffix) > MaxIdentifierLen {
			trimmed = trimmed[:MaxIdentifierLen-len(suffix)]
		}
		cand = trimmed + suffix
	}

	n.used[cand] = true
	n.mapping[raw] = cand
	n.order = append(n.order, raw)
	return cand
}

// Known reports whether raw has already been named.
func (n *Namer) Known(raw string) bool {
	_, ok := n.mapping[raw]
	return ok
}

// Names returns the sanitized identifiers in first-seen order.
func (n *Namer) Names() []string {
	out := make([]string, 0, len(n.order))
	for _, raw := range n.order {
		out = append(out, n.mapping[raw])
	}
	return out
}

// Mapping returns the raw-to-sanitized mapping.
func (n *Namer) Mapping() map[string]string {
	out := make(map[string]string, len(n.mapping))
	for k, v := range n.mapping {
		out[k] = v
	}
	return out
}

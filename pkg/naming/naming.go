// Package naming resolves the destination (schema, table) pair for one
// ingested object. Resolution is deterministic: the same object key and
// first data row always route to the same table, which is what makes
// at-least-once event delivery safe.
package naming

import (
	"path"
	"strings"

	"github.com/tabflow/tabflow/pkg/sanitize"
)

// Strategy selects how the destination table name is derived.
type Strategy string

const (
	// StrategyFilename derives the table name from the object's base name.
	StrategyFilename Strategy = "filename"
	// StrategyHeaderTable reads the table name from a marker field of the
	// first data row, falling back to the filename strategy.
	StrategyHeaderTable Strategy = "header_table"
)

// ParseStrategy parses a strategy string, defaulting to filename.
func ParseStrategy(s string) Strategy {
	if Strategy(strings.ToLower(strings.TrimSpace(s))) == StrategyHeaderTable {
		return StrategyHeaderTable
	}
	return StrategyFilename
}

// DefaultMarkerField is the first-row field consulted by the header_table
// strategy.
const DefaultMarkerField = "__table__"

// Config holds the resolution inputs that do not vary per object.
type Config struct {
	Schema      string
	Strategy    Strategy
	Prefix      string
	MarkerField string
}

// Target is the resolved destination for one load.
type Target struct {
	Schema string
	Table  string
}

// String returns the qualified name for logging.
func (t Target) String() string {
	return t.Schema + "." + t.Table
}

// Resolve computes the destination target for an object key. firstRow may be
// nil when the object has no data rows; the header_table strategy then falls
// back to the filename strategy.
func Resolve(cfg Config, key string, firstRow map[string]string) Target {
	table := ""

	if cfg.Strategy == StrategyHeaderTable && firstRow != nil {
		marker := cfg.MarkerField
		if marker == "" {
			marker = DefaultMarkerField
		}
		if v := strings.TrimSpace(firstRow[marker]); v != "" {
			table = sanitize.Identifier(v)
		}
	}

	if table == "" {
		table = sanitize.Identifier(baseName(key))
	}

	// PostgREST addresses tables unqualified within the profile schema;
	// a schema prefix smuggled in through the name would double-qualify.
	table = stripSchema(cfg.Prefix + table)

	return Target{Schema: cfg.Schema, Table: table}
}

// baseName strips the key's directory part, a compression suffix layer, and
// one format extension, so "in/orders_2024.csv.gz" becomes "orders_2024".
// Dots inside the stem are data, not extensions.
func baseName(key string) string {
	base := path.Base(key)
	lower := strings.ToLower(base)
	for _, comp := range []string{".gz", ".zst"} {
		if strings.HasSuffix(lower, comp) {
			base = base[:len(base)-len(comp)]
			lower = lower[:len(lower)-len(comp)]
			break
		}
	}
	if ext := path.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// stripSchema drops a "schema." qualifier if one survived sanitization.
func stripSchema(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

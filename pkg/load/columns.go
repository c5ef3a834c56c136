package load

import (
	"context"
	"strings"

	"github.com/tabflow/tabflow/pkg/infer"
	"github.com/tabflow/tabflow/pkg/sanitize"
	"github.com/tabflow/tabflow/pkg/source"
)

// EnsureFunc reconciles late-discovered columns against the destination
// before any row referencing them is written.
type EnsureFunc func(ctx context.Context, names []string) error

// Columns maps raw source names onto the reconciled column set and converts
// raw rows into typed records. NDJSON objects past the inference sample may
// carry keys never seen before; Sync names them, reconciles them as text,
// and from then on they convert like any other column.
type Columns struct {
	namer   *sanitize.Namer
	types   map[string]infer.ColumnType
	ensure  EnsureFunc
	exclude map[string]bool
}

// NewColumns builds a Columns over the namer and schema produced during
// inference. ensure may be nil when the source format cannot grow columns.
// exclude lists raw field names that never become columns, such as the
// table-marker field of the header_table naming strategy.
func NewColumns(namer *sanitize.Namer, schema infer.Schema, ensure EnsureFunc, exclude ...string) *Columns {
	types := make(map[string]infer.ColumnType, schema.Len())
	for _, c := range schema.Columns {
		types[c.Name] = c.Type
	}
	ex := make(map[string]bool, len(exclude))
	for _, raw := range exclude {
		ex[raw] = true
	}
	return &Columns{namer: namer, types: types, ensure: ensure, exclude: ex}
}

// Sync reconciles any raw keys in row that have no sanitized name yet.
func (c *Columns) Sync(ctx context.Context, row source.Row) error {
	var fresh []string
	for raw := range row {
		if c.exclude[raw] || c.namer.Known(raw) {
			continue
		}
		name := c.namer.Name(raw)
		c.types[name] = infer.TypeText
		fresh = append(fresh, name)
	}

	if len(fresh) == 0 || c.ensure == nil {
		return nil
	}
	return c.ensure(ctx, fresh)
}

// nullTokens are raw text values written as SQL null rather than as text.
var nullTokens = map[string]bool{"null": true, "none": true, "nan": true}

// Convert turns a raw row into a typed record keyed by sanitized names.
// A value that fails to parse against its column's already-decided type
// becomes nil. Degradation is per cell, never a row abort.
func (c *Columns) Convert(row source.Row) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for raw, val := range row {
		if c.exclude[raw] || !c.namer.Known(raw) {
			continue
		}
		name := c.namer.Name(raw)
		out[name] = c.convertValue(c.types[name], val)
	}
	return out
}

func (c *Columns) convertValue(t infer.ColumnType, raw string) interface{} {
	if t == infer.TypeText || t == "" {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || nullTokens[strings.ToLower(trimmed)] {
			return nil
		}
		return raw
	}

	v, ok := infer.Convert(t, raw)
	if !ok {
		return nil
	}
	return v
}

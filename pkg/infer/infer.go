// Package infer derives a best-fit column type for each column of a sampled
// row set. Inference is a pure function of the sample: it never fails, and
// anything ambiguous degrades to text.
package infer

import (
	"strconv"
	"strings"
	"time"
)

// ColumnType is the closed set of destination column types. Anything the
// pipeline cannot prove from the sample is text.
type ColumnType string

const (
	TypeText      ColumnType = "text"
	TypeBoolean   ColumnType = "boolean"
	TypeBigInt    ColumnType = "bigint"
	TypeDouble    ColumnType = "double precision"
	TypeDate      ColumnType = "date"
	TypeTimestamp ColumnType = "timestamptz"
)

// ParseColumnType maps a type string onto the closed set, coercing anything
// unrecognized to text. The reconciler runs every type through this before
// the remote call.
func ParseColumnType(s string) ColumnType {
	switch ColumnType(strings.ToLower(strings.TrimSpace(s))) {
	case TypeBoolean:
		return TypeBoolean
	case TypeBigInt:
		return TypeBigInt
	case TypeDouble:
		return TypeDouble
	case TypeDate:
		return TypeDate
	case TypeTimestamp:
		return TypeTimestamp
	default:
		return TypeText
	}
}

// Column is one sanitized column with its inferred type.
type Column struct {
	Name string
	Type ColumnType
}

// Schema is an ordered, immutable mapping of sanitized column names to types.
type Schema struct {
	Columns []Column
	byName  map[string]ColumnType
}

// NewSchema builds a Schema from ordered columns.
func NewSchema(cols []Column) Schema {
	byName := make(map[string]ColumnType, len(cols))
	for _, c := range cols {
		byName[c.Name] = c.Type
	}
	return Schema{Columns: cols, byName: byName}
}

// Type returns the type of a column, or text for unknown columns.
func (s Schema) Type(name string) ColumnType {
	if t, ok := s.byName[name]; ok {
		return t
	}
	return TypeText
}

// Has reports whether the schema contains the column.
func (s Schema) Has(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Len returns the number of columns.
func (s Schema) Len() int {
	return len(s.Columns)
}

// TypeMap returns column name to type-string mapping for the remote call.
func (s Schema) TypeMap() map[string]string {
	out := make(map[string]string, len(s.Columns))
	for _, c := range s.Columns {
		out[c.Name] = string(c.Type)
	}
	return out
}

// FieldSample is the sampled raw values of one column, keyed by its
// already-sanitized name.
type FieldSample struct {
	Name   string
	Values []string
}

// Infer derives the narrowest common type for each sampled column.
func Infer(fields []FieldSample) Schema {
	cols := make([]Column, 0, len(fields))
	for _, f := range fields {
		cols = append(cols, Column{Name: f.Name, Type: inferValues(f.Values)})
	}
	return NewSchema(cols)
}

// inferValues picks the narrowest type every non-empty value parses as,
// in fixed precedence order. A single failure at one level falls through
// to the next; past timestamptz there is only text.
func inferValues(values []string) ColumnType {
	nonEmpty := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			nonEmpty = append(nonEmpty, v)
		}
	}
	if len(nonEmpty) == 0 {
		return TypeText
	}

	for _, t := range []ColumnType{TypeBoolean, TypeBigInt, TypeDouble, TypeDate, TypeTimestamp} {
		if allParse(nonEmpty, t) {
			return t
		}
	}
	return TypeText
}

func allParse(values []string, t ColumnType) bool {
	for _, v := range values {
		if _, ok := Convert(t, v); !ok {
			return false
		}
	}
	return true
}

// boolTokens is the closed literal set recognized as boolean. Mirrors the
// truthy/falsy tokens the upstream producers emit (including pt-BR sim/nao).
var boolTokens = map[string]bool{
	"1": true, "true": true, "t": true, "yes": true, "y": true, "sim": true, "on": true,
	"0": false, "false": false, "f": false, "no": false, "n": false, "nao": false, "off": false,
}

// Convert parses a raw string against a declared column type and returns the
// typed value. ok is false when the value does not parse; the loader then
// writes the type's null representation instead of aborting the row.
func Convert(t ColumnType, raw string) (interface{}, bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil, false
	}

	switch t {
	case TypeBoolean:
		b, ok := boolTokens[strings.ToLower(v)]
		return b, ok
	case TypeBigInt:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	case TypeDouble:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	case TypeDate:
		_, err := time.Parse("2006-01-02", v)
		return v, err == nil
	case TypeTimestamp:
		if _, err := time.Parse(time.RFC3339, v); err == nil {
			return v, true
		}
		_, err := time.Parse(time.RFC3339Nano, v)
		return v, err == nil
	default:
		// Text keeps the raw value untouched; callers decide about
		// null tokens.
		return raw, true
	}
}

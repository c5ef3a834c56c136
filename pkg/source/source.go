// Package source streams raw rows out of ingested objects. Every reader
// yields rows as raw column-name-to-string mappings; nothing here assigns
// types; that is inference's job, after sampling.
package source

import (
	"io"
	"strings"

	"github.com/tabflow/tabflow/pkg/errors"
)

// Row is one raw record: source column name to raw string value. Missing
// cells are absent keys.
type Row map[string]string

// Reader streams rows from one object. Headers is the set of column names
// known so far; formats without a fixed header (NDJSON) may grow it as
// reading proceeds.
type Reader interface {
	// Headers returns the column names seen so far, in stable order.
	Headers() []string

	// Next returns the next data row, or io.EOF at end of stream.
	Next() (Row, error)

	// Close releases the underlying stream.
	Close() error
}

// Format is the detected tabular file format.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatCSV
	FormatJSONL
	FormatJSON
	FormatXLSX
)

func (f Format) String() string {
	names := []string{"unknown", "csv", "jsonl", "json", "xlsx"}
	if int(f) < len(names) {
		return names[f]
	}
	return "unknown"
}

// Detect determines the format and compression layer from an object key.
func Detect(key string) (Format, Compression) {
	lower := strings.ToLower(key)

	comp := CompressionNone
	switch {
	case strings.HasSuffix(lower, ".gz"):
		comp = CompressionGzip
		lower = strings.TrimSuffix(lower, ".gz")
	case strings.HasSuffix(lower, ".zst"):
		comp = CompressionZstd
		lower = strings.TrimSuffix(lower, ".zst")
	}

	switch {
	case strings.HasSuffix(lower, ".csv"):
		return FormatCSV, comp
	case strings.HasSuffix(lower, ".ndjson"), strings.HasSuffix(lower, ".jsonl"):
		return FormatJSONL, comp
	case strings.HasSuffix(lower, ".json"):
		return FormatJSON, comp
	case strings.HasSuffix(lower, ".xlsx"):
		return FormatXLSX, comp
	default:
		return FormatUnknown, comp
	}
}

// Open wraps the object stream with decompression and the format's reader.
// The returned Reader owns r and closes it.
func Open(r io.ReadCloser, key string) (Reader, error) {
	format, comp := Detect(key)
	if format == FormatUnknown {
		r.Close()
		return nil, errors.New(errors.CodeUnsupportedFormat, "unsupported file suffix").
			WithContext("key", key)
	}

	decompressed, err := decompress(r, comp)
	if err != nil {
		r.Close()
		return nil, errors.Wrap(err, errors.CodeParseFailed, "failed to open compressed stream").
			WithContext("key", key)
	}

	switch format {
	case FormatCSV:
		return newCSVReader(decompressed), nil
	case FormatJSONL:
		return newJSONLReader(decompressed), nil
	case FormatJSON:
		return newJSONReader(decompressed)
	case FormatXLSX:
		return newXLSXReader(decompressed)
	default:
		decompressed.Close()
		return nil, errors.New(errors.CodeUnsupportedFormat, "unsupported format").
			WithContext("format", format.String())
	}
}

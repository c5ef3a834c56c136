package source

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		key    string
		format Format
		comp   Compression
	}{
		{"orders.csv", FormatCSV, CompressionNone},
		{"in/Orders.CSV", FormatCSV, CompressionNone},
		{"orders.csv.gz", FormatCSV, CompressionGzip},
		{"metrics.ndjson", FormatJSONL, CompressionNone},
		{"metrics.jsonl.zst", FormatJSONL, CompressionZstd},
		{"doc.json", FormatJSON, CompressionNone},
		{"report.xlsx", FormatXLSX, CompressionNone},
		{"readme.txt", FormatUnknown, CompressionNone},
		{"archive.gz", FormatUnknown, CompressionGzip},
	}

	for _, tt := range tests {
		format, comp := Detect(tt.key)
		if format != tt.format || comp != tt.comp {
			t.Errorf("Detect(%q) = (%v, %v), want (%v, %v)", tt.key, format, comp, tt.format, tt.comp)
		}
	}
}

func TestCSVReader(t *testing.T) {
	data := "id,name,amount\n1,alice,10.50\n2,\"bob, jr\",20\n"
	r := newCSVReader(io.NopCloser(strings.NewReader(data)))
	defer r.Close()

	row, err := r.Next()
	if err != nil {
		t.Fatalf("first Next failed: %v", err)
	}
	if got := r.Headers(); len(got) != 3 || got[0] != "id" {
		t.Errorf("Headers = %v, want [id name amount]", got)
	}
	if row["name"] != "alice" {
		t.Errorf("row 1 name = %q, want alice", row["name"])
	}

	row, err = r.Next()
	if err != nil {
		t.Fatalf("second Next failed: %v", err)
	}
	if row["name"] != "bob, jr" {
		t.Errorf("quoted field = %q, want 'bob, jr'", row["name"])
	}

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestCSVReader_BOMAndRaggedRows(t *testing.T) {
	data := "\uFEFFa,b\n1\n2,3,4\n"
	r := newCSVReader(io.NopCloser(strings.NewReader(data)))
	defer r.Close()

	row, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got := r.Headers()[0]; got != "a" {
		t.Errorf("BOM not stripped from header: %q", got)
	}
	if _, ok := row["b"]; ok {
		t.Error("short row should not have a value for column b")
	}

	row, err = r.Next()
	if err != nil {
		t.Fatalf("Next failed on long row: %v", err)
	}
	if row["a"] != "2" || row["b"] != "3" {
		t.Errorf("long row = %v, extra cells should be dropped", row)
	}
}

func TestJSONLReader_GrowingHeaders(t *testing.T) {
	data := `{"id": 1, "name": "a"}
{"id": 2, "extra": true}
`
	r := newJSONLReader(io.NopCloser(strings.NewReader(data)))
	defer r.Close()

	row, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if row["id"] != "1" {
		t.Errorf("numeric value = %q, want raw text 1", row["id"])
	}
	if len(r.Headers()) != 2 {
		t.Errorf("headers after row 1 = %v", r.Headers())
	}

	row, err = r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if row["extra"] != "true" {
		t.Errorf("bool value = %q, want true", row["extra"])
	}
	if len(r.Headers()) != 3 {
		t.Errorf("headers should grow to 3, got %v", r.Headers())
	}
}

func TestJSONReader_Array(t *testing.T) {
	data := `[{"b": 2, "a": "x"}, {"a": "y", "c": null}]`
	r, err := newJSONReader(io.NopCloser(strings.NewReader(data)))
	if err != nil {
		t.Fatalf("newJSONReader failed: %v", err)
	}

	headers := r.Headers()
	if len(headers) != 3 || headers[0] != "a" {
		t.Errorf("Headers = %v, want sorted [a b c]", headers)
	}

	row, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if row["b"] != "2" {
		t.Errorf("row b = %q, want 2", row["b"])
	}

	row, err = r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if row["c"] != "" {
		t.Errorf("null should stringify to empty, got %q", row["c"])
	}

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestOpen_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("id,v\n1,a\n"))
	gz.Close()

	r, err := Open(io.NopCloser(&buf), "data/sample.csv.gz")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	row, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if row["v"] != "a" {
		t.Errorf("row = %v, want v=a", row)
	}
}

func TestOpen_UnsupportedSuffix(t *testing.T) {
	_, err := Open(io.NopCloser(strings.NewReader("x")), "file.parquet")
	if err == nil {
		t.Fatal("expected error for unsupported suffix")
	}
}

func TestStream_SampleAndReplay(t *testing.T) {
	data := "id\n1\n2\n3\n4\n5\n"
	stream, err := NewStream(newCSVReader(io.NopCloser(strings.NewReader(data))), 2)
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	defer stream.Close()

	if got := len(stream.Sample()); got != 2 {
		t.Fatalf("sample size = %d, want 2", got)
	}
	if stream.FirstRow()["id"] != "1" {
		t.Errorf("FirstRow = %v", stream.FirstRow())
	}

	// Full replay: all 5 rows, in order, exactly once.
	var ids []string
	for {
		row, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		ids = append(ids, row["id"])
	}
	want := []string{"1", "2", "3", "4", "5"}
	if len(ids) != len(want) {
		t.Fatalf("rows = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("row %d = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestStream_SampleLargerThanFile(t *testing.T) {
	data := "id\n1\n"
	stream, err := NewStream(newCSVReader(io.NopCloser(strings.NewReader(data))), 100)
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	defer stream.Close()

	if got := len(stream.Sample()); got != 1 {
		t.Errorf("sample size = %d, want 1", got)
	}
	if _, err := stream.Next(); err != nil {
		t.Errorf("first Next errored: %v", err)
	}
	if _, err := stream.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

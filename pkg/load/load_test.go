package load

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tabflow/tabflow/pkg/errors"
	"github.com/tabflow/tabflow/pkg/infer"
	"github.com/tabflow/tabflow/pkg/naming"
	"github.com/tabflow/tabflow/pkg/sanitize"
	"github.com/tabflow/tabflow/pkg/source"
)

// fakeWriter records every Insert call and fails the call indexes listed
// in failCalls on every attempt.
type fakeWriter struct {
	mu        sync.Mutex
	calls     [][]map[string]interface{}
	failCalls map[int]bool // 1-based call index -> always fail
	attempts  int
}

func (w *fakeWriter) Insert(_ context.Context, _, _ string, rows []map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts++
	call := len(w.calls) + 1
	if w.failCalls[call] {
		return errors.New(errors.CodeBatchWriteFailed, fmt.Sprintf("rejected call %d", call))
	}
	copied := make([]map[string]interface{}, len(rows))
	copy(copied, rows)
	w.calls = append(w.calls, copied)
	return nil
}

func csvStream(t *testing.T, data string, sampleLimit int) *source.Stream {
	t.Helper()
	rdr, err := source.Open(io.NopCloser(strings.NewReader(data)), "test.csv")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	stream, err := source.NewStream(rdr, sampleLimit)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	return stream
}

func intColumns(names ...string) *Columns {
	namer := sanitize.NewNamer()
	cols := make([]infer.Column, 0, len(names))
	for _, n := range names {
		cols = append(cols, infer.Column{Name: namer.Name(n), Type: infer.TypeBigInt})
	}
	return NewColumns(namer, infer.NewSchema(cols), nil)
}

func TestLoadBatching(t *testing.T) {
	var b strings.Builder
	b.WriteString("id\n")
	for i := 1; i <= 2500; i++ {
		fmt.Fprintf(&b, "%d\n", i)
	}
	stream := csvStream(t, b.String(), 10)

	w := &fakeWriter{}
	loader := New(w, Config{BatchSize: 1000, MaxRetries: 1, RetryBackoff: time.Millisecond}, nil)

	res, err := loader.Load(context.Background(), stream, naming.Target{Schema: "public", Table: "t"}, intColumns("id"), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if res.RowsRead != 2500 || res.RowsWritten != 2500 {
		t.Fatalf("rows read=%d written=%d, want 2500/2500", res.RowsRead, res.RowsWritten)
	}
	if res.BatchesAttempted != 3 || res.BatchesFailed != 0 {
		t.Fatalf("batches attempted=%d failed=%d, want 3/0", res.BatchesAttempted, res.BatchesFailed)
	}
	want := []int{1000, 1000, 500}
	if len(w.calls) != len(want) {
		t.Fatalf("got %d write calls, want %d", len(w.calls), len(want))
	}
	for i, n := range want {
		if len(w.calls[i]) != n {
			t.Errorf("call %d carried %d rows, want %d", i+1, len(w.calls[i]), n)
		}
	}
}

func TestLoadFailedBatchIsSkipped(t *testing.T) {
	var b strings.Builder
	b.WriteString("id\n")
	for i := 1; i <= 2500; i++ {
		fmt.Fprintf(&b, "%d\n", i)
	}
	stream := csvStream(t, b.String(), 10)

	w := &fakeWriter{}
	attempt := 0
	failing := &attemptWriter{inner: w, failFrom: 1001, attempt: &attempt}

	loader := New(failing, Config{BatchSize: 1000, MaxRetries: 1, RetryBackoff: time.Millisecond}, nil)

	res, err := loader.Load(context.Background(), stream, naming.Target{Schema: "public", Table: "t"}, intColumns("id"), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if res.RowsWritten != 1500 {
		t.Fatalf("RowsWritten = %d, want 1500", res.RowsWritten)
	}
	if res.BatchesAttempted != 3 || res.BatchesFailed != 1 {
		t.Fatalf("batches attempted=%d failed=%d, want 3/1", res.BatchesAttempted, res.BatchesFailed)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("got %d batch errors, want 1", len(res.Errors))
	}
	be := res.Errors[0]
	if be.Batch != 2 || be.FirstRow != 1001 || be.LastRow != 2000 {
		t.Errorf("batch error = {batch %d, rows %d-%d}, want {2, 1001-2000}", be.Batch, be.FirstRow, be.LastRow)
	}
	if !errors.IsCode(be.Err, errors.CodeBatchWriteFailed) {
		t.Errorf("batch error code = %v, want %s", errors.GetCode(be.Err), errors.CodeBatchWriteFailed)
	}
	// The second batch was attempted twice (initial + 1 retry).
	if attempt != 4 {
		t.Errorf("writer saw %d attempts, want 4", attempt)
	}
}

// attemptWriter rejects, on every attempt, any batch whose first row value
// equals failFrom.
type attemptWriter struct {
	inner    Writer
	failFrom int64
	attempt  *int
}

func (w *attemptWriter) Insert(ctx context.Context, schema, table string, rows []map[string]interface{}) error {
	*w.attempt++
	if len(rows) > 0 {
		if id, ok := rows[0]["id"].(int64); ok && id == w.failFrom {
			return errors.New(errors.CodeBatchWriteFailed, "simulated remote rejection")
		}
	}
	return w.inner.Insert(ctx, schema, table, rows)
}

func TestLoadRetrySucceedsSecondAttempt(t *testing.T) {
	stream := csvStream(t, "id\n1\n2\n", 10)

	w := &flakyWriter{failFirst: 1}
	loader := New(w, Config{BatchSize: 10, MaxRetries: 2, RetryBackoff: time.Millisecond}, nil)

	res, err := loader.Load(context.Background(), stream, naming.Target{Table: "t"}, intColumns("id"), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.RowsWritten != 2 || res.BatchesFailed != 0 {
		t.Fatalf("written=%d failed=%d, want 2/0", res.RowsWritten, res.BatchesFailed)
	}
	if w.attempts != 2 {
		t.Errorf("attempts = %d, want 2", w.attempts)
	}
}

type flakyWriter struct {
	failFirst int
	attempts  int
}

func (w *flakyWriter) Insert(context.Context, string, string, []map[string]interface{}) error {
	w.attempts++
	if w.attempts <= w.failFirst {
		return errors.New(errors.CodeBatchWriteFailed, "transient")
	}
	return nil
}

func TestLoadMetadataAppended(t *testing.T) {
	stream := csvStream(t, "id\n7\n", 10)

	w := &fakeWriter{}
	loader := New(w, DefaultConfig(), nil)

	meta := map[string]interface{}{"_s3_bucket": "b", "_s3_key": "k"}
	res, err := loader.Load(context.Background(), stream, naming.Target{Table: "t"}, intColumns("id"), meta)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.RowsWritten != 1 {
		t.Fatalf("RowsWritten = %d, want 1", res.RowsWritten)
	}
	rec := w.calls[0][0]
	if rec["id"] != int64(7) || rec["_s3_bucket"] != "b" || rec["_s3_key"] != "k" {
		t.Errorf("record = %v, want id=7 with metadata columns", rec)
	}
}

func TestConvertNullTokensAndDegradation(t *testing.T) {
	namer := sanitize.NewNamer()
	schema := infer.NewSchema([]infer.Column{
		{Name: namer.Name("id"), Type: infer.TypeBigInt},
		{Name: namer.Name("note"), Type: infer.TypeText},
	})
	cols := NewColumns(namer, schema, nil)

	rec := cols.Convert(source.Row{"id": "not-a-number", "note": "NULL"})
	if rec["id"] != nil {
		t.Errorf("unparseable bigint = %v, want nil", rec["id"])
	}
	if rec["note"] != nil {
		t.Errorf("null token text = %v, want nil", rec["note"])
	}

	rec = cols.Convert(source.Row{"id": "42", "note": "hello"})
	if rec["id"] != int64(42) || rec["note"] != "hello" {
		t.Errorf("record = %v, want id=42 note=hello", rec)
	}
}

func TestColumnsSyncLateKeys(t *testing.T) {
	namer := sanitize.NewNamer()
	schema := infer.NewSchema([]infer.Column{
		{Name: namer.Name("id"), Type: infer.TypeBigInt},
	})

	var ensured []string
	cols := NewColumns(namer, schema, func(_ context.Context, names []string) error {
		ensured = append(ensured, names...)
		return nil
	})

	if err := cols.Sync(context.Background(), source.Row{"id": "1", "Extra Field": "x"}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(ensured) != 1 || ensured[0] != "extra_field" {
		t.Fatalf("ensured = %v, want [extra_field]", ensured)
	}

	// Known keys never re-trigger the ensure hook.
	if err := cols.Sync(context.Background(), source.Row{"id": "2", "Extra Field": "y"}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(ensured) != 1 {
		t.Fatalf("ensured grew to %v on repeat sync", ensured)
	}

	rec := cols.Convert(source.Row{"id": "2", "Extra Field": "y"})
	if rec["extra_field"] != "y" {
		t.Errorf("late column value = %v, want %q", rec["extra_field"], "y")
	}
}

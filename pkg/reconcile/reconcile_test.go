package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/tabflow/tabflow/pkg/errors"
	"github.com/tabflow/tabflow/pkg/infer"
	"github.com/tabflow/tabflow/pkg/naming"
)

// fakeRemote mimics the idempotent create-if-absent semantics of the real
// ensure_table function: first writer's type wins, repeat calls are no-ops.
type fakeRemote struct {
	mu       sync.Mutex
	tables   map[string]map[string]string // "schema.table" -> col -> type
	ensures  int
	reloads  int
	failNext error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{tables: make(map[string]map[string]string)}
}

func (f *fakeRemote) EnsureTable(_ context.Context, schema, table string, cols map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}

	f.ensures++
	key := schema + "." + table
	existing, ok := f.tables[key]
	if !ok {
		existing = make(map[string]string)
		f.tables[key] = existing
	}
	for col, typ := range cols {
		if _, present := existing[col]; !present {
			existing[col] = typ
		}
	}
	return nil
}

func (f *fakeRemote) ReloadSchema(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return nil
}

func (f *fakeRemote) columns(schema, table string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string)
	for k, v := range f.tables[schema+"."+table] {
		out[k] = v
	}
	return out
}

var target = naming.Target{Schema: "public", Table: "s3_orders"}

func testSchema() infer.Schema {
	return infer.NewSchema([]infer.Column{
		{Name: "id", Type: infer.TypeBigInt},
		{Name: "amount", Type: infer.TypeText},
		{Name: "created_at", Type: infer.TypeDate},
	})
}

func TestReconcile_CreatesColumns(t *testing.T) {
	remote := newFakeRemote()
	r := New(remote, nil)

	if err := r.Reconcile(context.Background(), target, testSchema()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	cols := remote.columns("public", "s3_orders")
	if cols["id"] != "bigint" || cols["created_at"] != "date" {
		t.Errorf("columns = %v", cols)
	}
	if remote.reloads != 1 {
		t.Errorf("reloads = %d, want 1 (cache reload must follow ensure)", remote.reloads)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	remote := newFakeRemote()
	r := New(remote, nil)

	for i := 0; i < 3; i++ {
		if err := r.Reconcile(context.Background(), target, testSchema()); err != nil {
			t.Fatalf("pass %d failed: %v", i, err)
		}
	}

	cols := remote.columns("public", "s3_orders")
	if len(cols) != 3 {
		t.Errorf("expected exactly 3 columns after 3 passes, got %v", cols)
	}
}

func TestReconcile_ConcurrentSameTarget(t *testing.T) {
	remote := newFakeRemote()
	r := New(remote, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Reconcile(context.Background(), target, testSchema()); err != nil {
				t.Errorf("concurrent reconcile failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(remote.columns("public", "s3_orders")); got != 3 {
		t.Errorf("expected 3 columns after concurrent passes, got %d", got)
	}
}

func TestReconcile_FirstWriterTypeWins(t *testing.T) {
	remote := newFakeRemote()
	r := New(remote, nil)

	first := infer.NewSchema([]infer.Column{{Name: "amount", Type: infer.TypeBigInt}})
	if err := r.Reconcile(context.Background(), target, first); err != nil {
		t.Fatalf("first reconcile failed: %v", err)
	}

	second := infer.NewSchema([]infer.Column{{Name: "amount", Type: infer.TypeText}})
	if err := r.Reconcile(context.Background(), target, second); err != nil {
		t.Fatalf("second reconcile failed: %v", err)
	}

	if got := remote.columns("public", "s3_orders")["amount"]; got != "bigint" {
		t.Errorf("amount type = %q, existing column type must be untouched", got)
	}
}

func TestReconcile_CoercesUnknownTypes(t *testing.T) {
	remote := newFakeRemote()
	r := New(remote, nil)

	schema := infer.NewSchema([]infer.Column{{Name: "blob", Type: infer.ColumnType("jsonb")}})
	if err := r.Reconcile(context.Background(), target, schema); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if got := remote.columns("public", "s3_orders")["blob"]; got != "text" {
		t.Errorf("unknown type should coerce to text, got %q", got)
	}
}

func TestReconcile_RemoteFailureIsFatal(t *testing.T) {
	remote := newFakeRemote()
	remote.failNext = fmt.Errorf("permission denied")
	r := New(remote, nil)

	err := r.Reconcile(context.Background(), target, testSchema())
	if !errors.IsCode(err, errors.CodeReconcileFailed) {
		t.Errorf("expected E401, got %v", err)
	}
	if !errors.IsFatal(err) {
		t.Error("reconciliation failure must be fatal to the invocation")
	}
	if remote.reloads != 0 {
		t.Error("reload must not fire when ensure fails")
	}
}

func TestReconcile_EmptySchema(t *testing.T) {
	r := New(newFakeRemote(), nil)
	err := r.Reconcile(context.Background(), target, infer.NewSchema(nil))
	if !errors.IsCode(err, errors.CodeReconcileFailed) {
		t.Errorf("expected E401 for empty schema, got %v", err)
	}
}

func TestAddColumns(t *testing.T) {
	remote := newFakeRemote()
	r := New(remote, nil)

	if err := r.Reconcile(context.Background(), target, testSchema()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if err := r.AddColumns(context.Background(), target, []string{"surprise"}); err != nil {
		t.Fatalf("AddColumns failed: %v", err)
	}

	cols := remote.columns("public", "s3_orders")
	if cols["surprise"] != "text" {
		t.Errorf("late column should be text, got %q", cols["surprise"])
	}
	if remote.reloads != 2 {
		t.Errorf("reloads = %d, want 2", remote.reloads)
	}
}

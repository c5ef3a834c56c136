// Package reconcile ensures the destination table matches the inferred
// schema before any rows are loaded. Reconciliation is monotonically
// additive: schema, table, and columns are created if absent and never
// altered if present, which makes the operation safe to repeat and safe
// under concurrent invocations targeting the same table.
package reconcile

import (
	"context"
	"log/slog"

	"github.com/tabflow/tabflow/pkg/errors"
	"github.com/tabflow/tabflow/pkg/infer"
	"github.com/tabflow/tabflow/pkg/naming"
)

// Remote is the privileged reconciliation surface. Implemented by
// postgrest.Client; faked in tests.
type Remote interface {
	EnsureTable(ctx context.Context, schema, table string, cols map[string]string) error
	ReloadSchema(ctx context.Context) error
}

// Reconciler issues idempotent ensure calls against the remote store.
type Reconciler struct {
	remote Remote
	log    *slog.Logger
}

// New creates a Reconciler.
func New(remote Remote, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{remote: remote, log: log}
}

// Reconcile ensures target exists with at least the requested columns, then
// signals a schema-cache reload so the columns are visible to the batch
// writes that follow. The reload is sequencing, not optimization: a fresh
// column can otherwise 404 on the very next insert. Failure here is fatal
// to the invocation; no rows are loaded against an unreconciled table.
func (r *Reconciler) Reconcile(ctx context.Context, target naming.Target, schema infer.Schema) error {
	if schema.Len() == 0 {
		return errors.New(errors.CodeReconcileFailed, "no columns to reconcile").
			WithContext("target", target.String())
	}

	// Coerce anything outside the closed type set to text before it
	// reaches the remote.
	cols := make(map[string]string, schema.Len())
	for _, c := range schema.Columns {
		cols[c.Name] = string(infer.ParseColumnType(string(c.Type)))
	}

	if err := r.remote.EnsureTable(ctx, target.Schema, target.Table, cols); err != nil {
		return errors.Wrap(err, errors.CodeReconcileFailed, "failed to ensure destination table").
			WithContext("target", target.String())
	}

	if err := r.remote.ReloadSchema(ctx); err != nil {
		return errors.Wrap(err, errors.CodeReconcileFailed, "failed to reload schema cache").
			WithContext("target", target.String())
	}

	r.log.Debug("destination reconciled",
		"schema", target.Schema,
		"table", target.Table,
		"columns", schema.Len(),
	)
	return nil
}

// AddColumns reconciles columns discovered after the initial pass (NDJSON
// objects past the sample can introduce new keys). New columns always land
// as text: there is no sample to infer from.
func (r *Reconciler) AddColumns(ctx context.Context, target naming.Target, names []string) error {
	if len(names) == 0 {
		return nil
	}

	cols := make(map[string]string, len(names))
	for _, n := range names {
		cols[n] = string(infer.TypeText)
	}

	if err := r.remote.EnsureTable(ctx, target.Schema, target.Table, cols); err != nil {
		return errors.Wrap(err, errors.CodeReconcileFailed, "failed to add columns").
			WithContext("target", target.String())
	}
	if err := r.remote.ReloadSchema(ctx); err != nil {
		return errors.Wrap(err, errors.CodeReconcileFailed, "failed to reload schema cache").
			WithContext("target", target.String())
	}
	return nil
}

package pipeline

import (
	"log/slog"
	"time"

	"github.com/tabflow/tabflow/pkg/load"
)

// Status classifies how an invocation ended.
type Status string

const (
	// StatusLoaded means rows were streamed to the destination, possibly
	// with per-batch failures recorded in BatchErrors.
	StatusLoaded Status = "loaded"

	// StatusSkipped means the event did not match the configured filters.
	// A no-op, not an error.
	StatusSkipped Status = "skipped"

	// StatusEmpty means the object parsed but contained no data rows.
	StatusEmpty Status = "empty"

	// StatusFailed means a fatal step (fetch, parse, reconcile) aborted the
	// invocation before or during loading.
	StatusFailed Status = "failed"
)

// Outcome is the structured record of one invocation: what object was
// handled, where its rows went, and how many made it. It is the sole
// durable artifact of a run; whatever the hosting system does with logs
// and metrics is the ledger.
type Outcome struct {
	CorrelationID string
	Bucket        string
	Key           string

	Status Status
	Reason string // populated for skipped and empty outcomes

	Schema string
	Table  string

	RowsRead         int64
	RowsWritten      int64
	BatchesAttempted int
	BatchesFailed    int
	BatchErrors      []load.BatchError

	Err      error
	Duration time.Duration
}

// Failed reports whether the invocation hit a fatal error.
func (o Outcome) Failed() bool {
	return o.Status == StatusFailed
}

// LogValue renders the outcome as one structured log record.
func (o Outcome) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("correlation_id", o.CorrelationID),
		slog.String("bucket", o.Bucket),
		slog.String("key", o.Key),
		slog.String("status", string(o.Status)),
		slog.Int64("rows_read", o.RowsRead),
		slog.Int64("rows_written", o.RowsWritten),
		slog.Int("batches_attempted", o.BatchesAttempted),
		slog.Int("batches_failed", o.BatchesFailed),
		slog.Duration("duration", o.Duration),
	}
	if o.Table != "" {
		attrs = append(attrs, slog.String("target", o.Schema+"."+o.Table))
	}
	if o.Reason != "" {
		attrs = append(attrs, slog.String("reason", o.Reason))
	}
	if o.Err != nil {
		attrs = append(attrs, slog.String("error", o.Err.Error()))
	}
	return slog.GroupValue(attrs...)
}

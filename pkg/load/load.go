// Package load streams converted rows into the destination in bounded
// batches. A batch that fails its retry budget is recorded and skipped, not
// fatal: the loader lands as many rows as the remote will take, and the
// outcome reports exactly which row ranges did not make it.
package load

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/tabflow/tabflow/pkg/errors"
	"github.com/tabflow/tabflow/pkg/naming"
	"github.com/tabflow/tabflow/pkg/source"
)

// Writer is the stateless batch-write surface. Implemented by
// postgrest.Client; faked in tests.
type Writer interface {
	Insert(ctx context.Context, schema, table string, rows []map[string]interface{}) error
}

// Config bounds batch size and the per-batch retry budget.
type Config struct {
	// BatchSize is the maximum rows per write call.
	BatchSize int

	// MaxRetries is how many immediate retries a failed batch gets before
	// its rows are given up for this invocation.
	MaxRetries int

	// RetryBackoff is the base delay between retries; attempt n waits
	// n * RetryBackoff.
	RetryBackoff time.Duration

	// OnBatch, when set, observes every terminal batch result.
	OnBatch func(BatchResult)
}

// DefaultConfig returns the default load configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:    1000,
		MaxRetries:   2,
		RetryBackoff: 350 * time.Millisecond,
	}
}

// BatchResult is the terminal outcome of one batch submission.
type BatchResult struct {
	Batch    int   // 1-based batch index
	FirstRow int64 // 1-based data row numbers, header excluded
	LastRow  int64
	Rows     int
	Err      error // nil on success
}

// BatchError identifies a batch whose retry budget is exhausted.
type BatchError struct {
	Batch    int
	FirstRow int64
	LastRow  int64
	Err      error
}

// Result summarizes one load.
type Result struct {
	RowsRead         int64
	RowsWritten      int64
	BatchesAttempted int
	BatchesFailed    int
	Errors           []BatchError
}

// Loader converts and writes rows.
type Loader struct {
	writer Writer
	cfg    Config
	log    *slog.Logger
}

// New creates a Loader.
func New(writer Writer, cfg Config, log *slog.Logger) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loader{writer: writer, cfg: cfg, log: log}
}

// Load streams every row of stream into target. meta values, when present,
// are appended to each record. Batches are submitted sequentially to keep
// write ordering predictable and memory bounded.
//
// The returned error is non-nil only for conditions that abort the stream
// itself (a mid-file parse failure or a late-column reconciliation
// failure); per-batch write failures live in Result.Errors.
func (l *Loader) Load(ctx context.Context, stream *source.Stream, target naming.Target, cols *Columns, meta map[string]interface{}) (Result, error) {
	var res Result
	batch := make([]map[string]interface{}, 0, l.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		first := res.RowsRead - int64(len(batch)) + 1
		l.submit(ctx, target, batch, first, &res)
		batch = batch[:0]
	}

	for {
		if err := ctx.Err(); err != nil {
			flush()
			return res, errors.Wrap(err, errors.CodeWriteTimeout, "load canceled")
		}

		row, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// The stream is unreadable past this point; land what we
			// already have and surface the parse failure.
			flush()
			return res, errors.Wrap(err, errors.CodeParseFailed, "row stream failed").
				WithContext("row", res.RowsRead+1)
		}

		res.RowsRead++

		if err := cols.Sync(ctx, row); err != nil {
			flush()
			return res, err
		}

		record := cols.Convert(row)
		for k, v := range meta {
			record[k] = v
		}
		batch = append(batch, record)

		if len(batch) >= l.cfg.BatchSize {
			flush()
		}
	}

	flush()
	return res, nil
}

// submit writes one batch with the retry budget, recording the terminal
// result either way.
func (l *Loader) submit(ctx context.Context, target naming.Target, batch []map[string]interface{}, firstRow int64, res *Result) {
	res.BatchesAttempted++
	lastRow := firstRow + int64(len(batch)) - 1
	index := res.BatchesAttempted

	var err error
	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			canceled := false
			select {
			case <-ctx.Done():
				err = errors.Wrap(ctx.Err(), errors.CodeWriteTimeout, "retry canceled")
				canceled = true
			case <-time.After(time.Duration(attempt) * l.cfg.RetryBackoff):
			}
			if canceled {
				break
			}
		}

		err = l.writer.Insert(ctx, target.Schema, target.Table, batch)
		if err == nil {
			break
		}
		l.log.Warn("batch write failed",
			"batch", index,
			"attempt", attempt+1,
			"rows", len(batch),
			"error", err,
		)
	}

	if err != nil {
		res.BatchesFailed++
		res.Errors = append(res.Errors, BatchError{
			Batch:    index,
			FirstRow: firstRow,
			LastRow:  lastRow,
			Err:      errors.Wrap(err, errors.CodeBatchWriteFailed, "batch retries exhausted"),
		})
	} else {
		res.RowsWritten += int64(len(batch))
	}

	if l.cfg.OnBatch != nil {
		l.cfg.OnBatch(BatchResult{
			Batch:    index,
			FirstRow: firstRow,
			LastRow:  lastRow,
			Rows:     len(batch),
			Err:      err,
		})
	}
}

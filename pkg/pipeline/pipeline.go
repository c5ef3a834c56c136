// Package pipeline wires event parsing, object fetch, inference, naming,
// reconciliation and loading into one invocation per notification record.
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tabflow/tabflow/pkg/errors"
	"github.com/tabflow/tabflow/pkg/event"
	"github.com/tabflow/tabflow/pkg/infer"
	"github.com/tabflow/tabflow/pkg/load"
	"github.com/tabflow/tabflow/pkg/logging"
	"github.com/tabflow/tabflow/pkg/metrics"
	"github.com/tabflow/tabflow/pkg/naming"
	"github.com/tabflow/tabflow/pkg/reconcile"
	"github.com/tabflow/tabflow/pkg/sanitize"
	"github.com/tabflow/tabflow/pkg/source"
	"github.com/tabflow/tabflow/pkg/telemetry"
)

// Metadata column names stamped onto every record when provenance is
// enabled. They ride along with the inferred schema so the destination
// table always has them.
const (
	MetaBucket     = "_s3_bucket"
	MetaKey        = "_s3_key"
	MetaIngestedAt = "_ingested_at"
)

// Fetcher retrieves the raw object a notification record points at.
// Implemented by storage/s3.Client; faked in tests.
type Fetcher interface {
	Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)
}

// Config holds the per-process invocation settings.
type Config struct {
	Naming      naming.Config
	Filter      event.Filter
	SampleLines int
	Load        load.Config
	AddMetadata bool
}

// Pipeline handles notifications end to end.
type Pipeline struct {
	fetcher    Fetcher
	reconciler *reconcile.Reconciler
	writer     load.Writer
	cfg        Config
	log        *slog.Logger
}

// New creates a Pipeline.
func New(fetcher Fetcher, reconciler *reconcile.Reconciler, writer load.Writer, cfg Config, log *slog.Logger) *Pipeline {
	if cfg.SampleLines <= 0 {
		cfg.SampleLines = 100
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		fetcher:    fetcher,
		reconciler: reconciler,
		writer:     writer,
		cfg:        cfg,
		log:        log,
	}
}

// Handle processes every record of a notification and emits one outcome
// per record. The returned error is non-nil only when a record failed on
// fetching its object, the one condition the delivering infrastructure
// should retry; everything else is fully reported through the outcomes.
func (p *Pipeline) Handle(ctx context.Context, n event.Notification) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(n.Records))
	var retryErr error

	for _, rec := range n.Records {
		out := p.handleRecord(ctx, rec)
		outcomes = append(outcomes, out)

		if retryErr == nil && errors.IsCode(out.Err, errors.CodeFetchFailed) {
			retryErr = out.Err
		}
	}
	return outcomes, retryErr
}

// HandleBytes parses a raw notification payload and handles it.
func (p *Pipeline) HandleBytes(ctx context.Context, payload []byte) ([]Outcome, error) {
	n, err := event.ParseBytes(payload)
	if err != nil {
		return nil, err
	}
	return p.Handle(ctx, n)
}

func (p *Pipeline) handleRecord(ctx context.Context, rec event.Record) Outcome {
	start := time.Now()
	obj := rec.Object()

	out := Outcome{
		CorrelationID: logging.GenerateCorrelationID(),
		Bucket:        obj.Bucket,
		Key:           obj.Key,
	}
	ctx = logging.WithCorrelationID(ctx, out.CorrelationID)
	log := logging.ObjectLogger(out.CorrelationID, obj.Bucket, obj.Key)

	ctx, span := telemetry.StartSpanFromContext(ctx, "tabflow.ingest")
	span.SetAttributes(
		attribute.String("s3.bucket", obj.Bucket),
		attribute.String("s3.key", obj.Key),
	)

	p.run(ctx, obj, rec.EventName, log, &out)

	out.Duration = time.Since(start)
	span.SetAttributes(
		attribute.String("outcome.status", string(out.Status)),
		attribute.Int64("outcome.rows_written", out.RowsWritten),
	)
	if out.Err != nil {
		telemetry.RecordError(ctx, out.Err)
	}
	span.End()

	p.record(out)

	if out.Failed() {
		log.Error("ingest failed", "outcome", out)
	} else {
		log.Info("ingest finished", "outcome", out)
	}
	return out
}

// run executes the fail-fast sequence for one object, filling out in place.
func (p *Pipeline) run(ctx context.Context, obj event.Object, eventName string, log *slog.Logger, out *Outcome) {
	if eventName != "" && !strings.HasPrefix(eventName, "ObjectCreated") {
		out.Status = StatusSkipped
		out.Reason = "event " + eventName + " is not an object creation"
		return
	}

	if ok, reason := p.cfg.Filter.Match(obj.Key); !ok {
		out.Status = StatusSkipped
		out.Reason = reason
		return
	}

	body, _, err := p.fetcher.Fetch(ctx, obj.Bucket, obj.Key)
	if err != nil {
		if errors.IsCode(err, errors.CodeEmptyObject) {
			out.Status = StatusEmpty
			out.Reason = "object has no content"
			return
		}
		out.Status = StatusFailed
		out.Err = err
		return
	}
	defer body.Close()

	rdr, err := source.Open(body, obj.Key)
	if err != nil {
		if errors.IsCode(err, errors.CodeUnsupportedFormat) {
			out.Status = StatusSkipped
			out.Reason = "unsupported file format"
			return
		}
		out.Status = StatusFailed
		out.Err = err
		return
	}

	stream, err := source.NewStream(rdr, p.cfg.SampleLines)
	if err != nil {
		rdr.Close()
		out.Status = StatusFailed
		out.Err = errors.Wrap(err, errors.CodeParseFailed, "failed to sample object")
		return
	}
	defer stream.Close()

	firstRow := stream.FirstRow()
	if firstRow == nil {
		out.Status = StatusEmpty
		out.Reason = "object has no data rows"
		return
	}

	target := naming.Resolve(p.cfg.Naming, obj.Key, firstRow)
	out.Schema = target.Schema
	out.Table = target.Table

	namer := sanitize.NewNamer()
	schema, excluded := p.inferSchema(namer, stream)

	if err := p.reconciler.Reconcile(ctx, target, schema); err != nil {
		out.Status = StatusFailed
		out.Err = err
		return
	}

	ensure := func(ctx context.Context, names []string) error {
		return p.reconciler.AddColumns(ctx, target, names)
	}
	cols := load.NewColumns(namer, schema, ensure, excluded...)

	var meta map[string]interface{}
	if p.cfg.AddMetadata {
		meta = map[string]interface{}{
			MetaBucket:     obj.Bucket,
			MetaKey:        obj.Key,
			MetaIngestedAt: time.Now().UTC().Format(time.RFC3339),
		}
	}

	loader := load.New(p.writer, p.cfg.Load, log)
	res, err := loader.Load(ctx, stream, target, cols, meta)

	out.RowsRead = res.RowsRead
	out.RowsWritten = res.RowsWritten
	out.BatchesAttempted = res.BatchesAttempted
	out.BatchesFailed = res.BatchesFailed
	out.BatchErrors = res.Errors

	if err != nil {
		out.Status = StatusFailed
		out.Err = err
		return
	}
	out.Status = StatusLoaded
}

// inferSchema derives column types from the sampled rows, in header order.
// The marker field of the header_table strategy never becomes a column; its
// raw name is returned so the loader drops it from every row too.
func (p *Pipeline) inferSchema(namer *sanitize.Namer, stream *source.Stream) (infer.Schema, []string) {
	var excluded []string
	marker := p.cfg.Naming.MarkerField
	if p.cfg.Naming.Strategy != naming.StrategyHeaderTable {
		marker = ""
	}

	sample := stream.Sample()
	var fields []infer.FieldSample
	for _, raw := range stream.Headers() {
		if marker != "" && raw == marker {
			excluded = append(excluded, raw)
			continue
		}
		name := namer.Name(raw)
		values := make([]string, 0, len(sample))
		for _, row := range sample {
			if v, ok := row[raw]; ok {
				values = append(values, v)
			}
		}
		fields = append(fields, infer.FieldSample{Name: name, Values: values})
	}

	schema := infer.Infer(fields)

	if p.cfg.AddMetadata {
		cols := append([]infer.Column(nil), schema.Columns...)
		cols = append(cols,
			infer.Column{Name: MetaBucket, Type: infer.TypeText},
			infer.Column{Name: MetaKey, Type: infer.TypeText},
			infer.Column{Name: MetaIngestedAt, Type: infer.TypeTimestamp},
		)
		schema = infer.NewSchema(cols)
	}
	return schema, excluded
}

// record ships the outcome's counters to the metrics backend.
func (p *Pipeline) record(out Outcome) {
	status := string(out.Status)
	metrics.IncCounter(metrics.MetricObjectsTotal, 1, metrics.Labels{"status": status})
	metrics.ObserveHistogram(metrics.MetricIngestDuration, out.Duration.Seconds(), metrics.Labels{"status": status})

	if out.RowsRead > 0 {
		metrics.IncCounter(metrics.MetricRowsTotal, float64(out.RowsRead), metrics.Labels{"kind": "read"})
	}
	if out.RowsWritten > 0 {
		metrics.IncCounter(metrics.MetricRowsTotal, float64(out.RowsWritten), metrics.Labels{"kind": "written"})
	}
	if failed := out.RowsRead - out.RowsWritten; failed > 0 && out.Status == StatusLoaded {
		metrics.IncCounter(metrics.MetricRowsTotal, float64(failed), metrics.Labels{"kind": "failed"})
	}
	if out.BatchesAttempted > 0 {
		ok := out.BatchesAttempted - out.BatchesFailed
		if ok > 0 {
			metrics.IncCounter(metrics.MetricBatchesTotal, float64(ok), metrics.Labels{"status": "ok"})
		}
		if out.BatchesFailed > 0 {
			metrics.IncCounter(metrics.MetricBatchesTotal, float64(out.BatchesFailed), metrics.Labels{"status": "failed"})
		}
	}
}

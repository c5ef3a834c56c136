package datadog

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"github.com/tabflow/tabflow/pkg/metrics"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(_ context.Context, body datadogV2.MetricPayload, _ ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) last(t *testing.T) datadogV2.MetricPayload {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		t.Fatal("no payloads submitted")
	}
	return f.payloads[len(f.payloads)-1]
}

func newTestBackend(t *testing.T, fake *fakeSubmitter) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), Options{
		Service:    "tabflow-test",
		FlushEvery: time.Hour, // never ticks during a test
		now:        func() time.Time { return time.Unix(1700000000, 0) },
		submitter:  fake,
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return b
}

func TestFlushSubmitsCounters(t *testing.T) {
	fake := &fakeSubmitter{}
	b := newTestBackend(t, fake)

	b.IncCounter(metrics.MetricRowsTotal, 100, metrics.Labels{"kind": "written"})
	b.IncCounter(metrics.MetricRowsTotal, 50, metrics.Labels{"kind": "written"})
	b.IncCounter(metrics.MetricObjectsTotal, 1, metrics.Labels{"status": "ok"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	payload := fake.last(t)
	var rows *datadogV2.MetricSeries
	for i := range payload.Series {
		if payload.Series[i].Metric == "tabflow.rows.total" {
			rows = &payload.Series[i]
		}
	}
	if rows == nil {
		t.Fatal("tabflow.rows.total series missing")
	}
	if got := *rows.Points[0].Value; got != 150 {
		t.Errorf("counter value = %v, want 150 (aggregated)", got)
	}
	found := false
	for _, tag := range rows.Tags {
		if tag == "kind:written" {
			found = true
		}
	}
	if !found {
		t.Errorf("tags = %v, want kind:written present", rows.Tags)
	}
}

func TestFlushSubmitsHistogramPercentiles(t *testing.T) {
	fake := &fakeSubmitter{}
	b := newTestBackend(t, fake)

	for i := 1; i <= 10; i++ {
		b.ObserveHistogram(metrics.MetricIngestDuration, float64(i), metrics.Labels{"status": "ok"})
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	payload := fake.last(t)
	byName := map[string]float64{}
	for _, s := range payload.Series {
		if strings.HasPrefix(s.Metric, "tabflow.ingest.duration.seconds.") {
			byName[s.Metric] = *s.Points[0].Value
		}
	}
	if byName["tabflow.ingest.duration.seconds.max"] != 10 {
		t.Errorf("max = %v, want 10", byName["tabflow.ingest.duration.seconds.max"])
	}
	if byName["tabflow.ingest.duration.seconds.samples"] != 10 {
		t.Errorf("samples = %v, want 10", byName["tabflow.ingest.duration.seconds.samples"])
	}
	if _, ok := byName["tabflow.ingest.duration.seconds.p95"]; !ok {
		t.Error("p95 series missing")
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	fake := &fakeSubmitter{}
	b := newTestBackend(t, fake)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(fake.payloads) != 0 {
		t.Errorf("empty flush submitted %d payloads", len(fake.payloads))
	}
}

func TestFlushResetsBuffers(t *testing.T) {
	fake := &fakeSubmitter{}
	b := newTestBackend(t, fake)

	b.IncCounter(metrics.MetricBatchesTotal, 3, metrics.Labels{"status": "ok"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if len(fake.payloads) != 1 {
		t.Errorf("second flush resubmitted: %d payloads", len(fake.payloads))
	}
}

func TestCloseFlushesTail(t *testing.T) {
	fake := &fakeSubmitter{}
	b := newTestBackend(t, fake)

	b.IncCounter(metrics.MetricObjectsTotal, 1, metrics.Labels{"status": "failed"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(fake.payloads) != 1 {
		t.Errorf("Close submitted %d payloads, want 1", len(fake.payloads))
	}
}

func TestNegativeAndZeroSamplesIgnored(t *testing.T) {
	fake := &fakeSubmitter{}
	b := newTestBackend(t, fake)

	b.IncCounter(metrics.MetricRowsTotal, 0, nil)
	b.IncCounter(metrics.MetricRowsTotal, -5, nil)
	b.ObserveHistogram(metrics.MetricIngestDuration, -1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(fake.payloads) != 0 {
		t.Errorf("ignored samples still submitted: %d payloads", len(fake.payloads))
	}
}

func TestParseTagsCSV(t *testing.T) {
	got := ParseTagsCSV(" env:prod , team:data ,,")
	want := []string{"env:prod", "team:data"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tag[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

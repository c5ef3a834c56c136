// Package metrics decouples ingest instrumentation from any vendor backend.
// The pipeline records counters and histograms through package-level helpers;
// a process wires a concrete Backend (Datadog, or nothing) at startup.
package metrics

import "sync"

// Labels attach dimensions to a metric sample.
type Labels map[string]string

// Backend receives metric samples. Implementations buffer internally and
// submit on Flush.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
	Close() error
}

// Metric names recorded by the ingest pipeline.
const (
	MetricObjectsTotal   = "tabflow_objects_total"    // labels: status
	MetricRowsTotal      = "tabflow_rows_total"       // labels: kind (read|written|failed)
	MetricBatchesTotal   = "tabflow_batches_total"    // labels: status
	MetricIngestDuration = "tabflow_ingest_duration_seconds" // labels: status
)

// Noop is a Backend that discards everything.
type Noop struct{}

func (Noop) IncCounter(string, float64, Labels)       {}
func (Noop) ObserveHistogram(string, float64, Labels) {}
func (Noop) Flush() error                             { return nil }
func (Noop) Close() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = Noop{}
)

// SetBackend installs the process-wide backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = Noop{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter records a counter increment on the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records a histogram sample on the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush submits buffered samples.
func Flush() error {
	return current().Flush()
}

// Close flushes and stops the installed backend.
func Close() error {
	return current().Close()
}

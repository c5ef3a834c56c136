// tabflow streams tabular objects (CSV, NDJSON, JSON, XLSX) from S3-style
// storage into a PostgREST destination, inferring and reconciling the
// destination schema on the way.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tabflow/tabflow/pkg/config"
	"github.com/tabflow/tabflow/pkg/event"
	"github.com/tabflow/tabflow/pkg/load"
	"github.com/tabflow/tabflow/pkg/logging"
	"github.com/tabflow/tabflow/pkg/metrics"
	ddmetrics "github.com/tabflow/tabflow/pkg/metrics/datadog"
	"github.com/tabflow/tabflow/pkg/naming"
	"github.com/tabflow/tabflow/pkg/pipeline"
	"github.com/tabflow/tabflow/pkg/postgrest"
	"github.com/tabflow/tabflow/pkg/reconcile"
	"github.com/tabflow/tabflow/pkg/telemetry"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "tabflow",
	Short: "tabflow - land tabular files in Postgres via PostgREST",
	Long: `tabflow ingests tabular objects into a PostgREST-fronted Postgres.

It infers a schema from the first rows of each file, creates or widens the
destination table through a privileged RPC, and streams the rows in bounded
batches. Invocations are stateless and idempotent on the schema side, so
at-least-once event delivery is safe.

Modes:
  ingest   handle one object or one notification payload, then exit
  serve    HTTP endpoint receiving S3 event notifications
  watch    ingest files as they appear in a local directory`,
	Version: fmt.Sprintf("%s (%s)", version, commit),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tabflow %s (%s)\n", version, commit)
		},
	})
}

// setup loads configuration and wires logging, tracing and metrics.
// The returned teardown flushes and closes whatever got started.
func setup(ctx context.Context) (*config.Config, func(), error) {
	mgr := config.Global()
	cfg := mgr.Get()

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: level})

	var teardowns []func()

	if cfg.Telemetry.Enabled {
		otlpCfg := telemetry.DefaultOTLPConfig("tabflow")
		otlpCfg.ServiceVersion = version
		if cfg.Telemetry.Endpoint != "" {
			otlpCfg.Endpoint = cfg.Telemetry.Endpoint
		}
		shutdown, err := telemetry.InitOTLP(otlpCfg)
		if err != nil {
			slog.Warn("tracing disabled", "error", err)
		} else {
			teardowns = append(teardowns, func() { _ = shutdown(context.Background()) })
		}
	}

	if cfg.Metrics.Enabled {
		backend, err := ddmetrics.NewBackend(ctx, ddmetrics.Options{
			Service:    "tabflow",
			FlushEvery: cfg.Metrics.FlushInterval,
		})
		if err != nil {
			slog.Warn("metrics disabled", "error", err)
		} else {
			metrics.SetBackend(backend)
			teardowns = append(teardowns, func() { _ = metrics.Close() })
		}
	}

	teardown := func() {
		for i := len(teardowns) - 1; i >= 0; i-- {
			teardowns[i]()
		}
	}
	return cfg, teardown, nil
}

// buildPipeline assembles the ingest pipeline against the configured
// PostgREST destination.
func buildPipeline(cfg *config.Config, fetcher pipeline.Fetcher, onBatch func(load.BatchResult)) (*pipeline.Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientCfg := postgrest.DefaultConfig(cfg.Destination.URL, cfg.Destination.ServiceKey)
	if cfg.Destination.RPCTimeout > 0 {
		clientCfg.RPCTimeout = cfg.Destination.RPCTimeout
	}
	if cfg.Destination.WriteTimeout > 0 {
		clientCfg.WriteTimeout = cfg.Destination.WriteTimeout
	}
	client := postgrest.New(clientCfg)

	pcfg := pipeline.Config{
		Naming: naming.Config{
			Schema:      cfg.Naming.Schema,
			Strategy:    naming.ParseStrategy(cfg.Naming.Strategy),
			Prefix:      cfg.Naming.TablePrefix,
			MarkerField: cfg.Naming.MarkerField,
		},
		Filter: event.Filter{
			Prefix:   cfg.Filter.KeyPrefix,
			Suffixes: cfg.Filter.KeySuffixes,
		},
		SampleLines: cfg.Ingest.SampleLines,
		Load: load.Config{
			BatchSize:    cfg.Ingest.BatchSize,
			MaxRetries:   cfg.Ingest.MaxRetries,
			RetryBackoff: cfg.Ingest.RetryBackoff,
			OnBatch:      onBatch,
		},
		AddMetadata: cfg.Ingest.AddMetadata,
	}

	reconciler := reconcile.New(client, logging.Component("reconcile"))
	return pipeline.New(fetcher, reconciler, client, pcfg, logging.Component("pipeline")), nil
}

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tabflow/tabflow/pkg/logging"
	"github.com/tabflow/tabflow/pkg/server"
	"github.com/tabflow/tabflow/pkg/storage/s3"
)

var (
	servePort      int
	serveHost      string
	serveRegion    string
	serveEndpoint  string
	servePathStyle bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve an HTTP endpoint for S3 event notifications",
	Long: `Run a long-lived HTTP server that ingests on every delivered event.

POST S3 notification payloads (the same JSON S3 pushes to SQS/SNS) to
/events. Records in one delivery are ingested concurrently, bounded by
ingest.concurrency. A fetch failure returns 502 so the delivering queue
redelivers; every other outcome returns 200 with a JSON summary.

Examples:
  tabflow serve
  tabflow serve --port 9000 --host 0.0.0.0`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config)")
	serveCmd.Flags().StringVar(&serveRegion, "region", "", "AWS region")
	serveCmd.Flags().StringVar(&serveEndpoint, "endpoint", "", "S3 endpoint override (MinIO, LocalStack)")
	serveCmd.Flags().BoolVar(&servePathStyle, "path-style", false, "Force path-style S3 addressing")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, teardown, err := setup(ctx)
	if err != nil {
		return err
	}
	defer teardown()

	s3cfg := s3.DefaultConfig(serveRegion)
	s3cfg.Endpoint = serveEndpoint
	s3cfg.UsePathStyle = servePathStyle
	client, err := s3.NewClient(ctx, s3cfg)
	if err != nil {
		return err
	}

	p, err := buildPipeline(cfg, client, nil)
	if err != nil {
		return err
	}

	host := cfg.Server.Host
	if serveHost != "" {
		host = serveHost
	}
	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}

	srv := server.New(p, server.Config{
		Host:        host,
		Port:        port,
		Concurrency: cfg.Ingest.Concurrency,
	}, logging.Component("server"))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

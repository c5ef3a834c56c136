// Package server exposes the ingestion pipeline over HTTP for push-based
// delivery of S3 event notifications.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tabflow/tabflow/pkg/errors"
	"github.com/tabflow/tabflow/pkg/event"
	"github.com/tabflow/tabflow/pkg/pipeline"
)

// S3 notifications are small; 1MB leaves plenty of headroom.
const maxNotificationBytes = 1 << 20

// Config controls the HTTP listener and per-delivery fan-out.
type Config struct {
	Host        string
	Port        int
	Concurrency int
}

// Server accepts S3 notification deliveries on /events and runs each
// record through the pipeline.
type Server struct {
	pipeline    *pipeline.Pipeline
	concurrency int
	httpServer  *http.Server
	log         *slog.Logger
}

// New builds a Server around the pipeline. Call Start to begin serving.
func New(p *pipeline.Pipeline, cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		pipeline:    p,
		concurrency: cfg.Concurrency,
		log:         log,
	}

	mux := http.NewServeMux()
	// Method-restricted routes, spelled out for toolchains older than
	// Go 1.22 (which added "METHOD /path" mux patterns).
	mux.Handle("/events", methodOnly(http.MethodPost, http.HandlerFunc(s.handleEvents)))
	mux.Handle("/healthz", methodOnly(http.MethodGet, http.HandlerFunc(s.handleHealth)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // large objects take a while to land
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// methodOnly rejects requests whose method does not match, mirroring the
// 405 behavior of Go 1.22+ method-qualified mux patterns.
func methodOnly(method string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method && !(method == http.MethodGet && r.Method == http.MethodHead) {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the route mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens and serves until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.log.Info("listening", "addr", s.httpServer.Addr)
	return s.httpServer.Serve(listener)
}

// Shutdown drains in-flight deliveries and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")
	return s.httpServer.Shutdown(ctx)
}

// DeliveryResponse is the JSON summary returned for one posted notification.
type DeliveryResponse struct {
	Outcomes []OutcomeSummary `json:"outcomes"`
}

// OutcomeSummary is the wire form of one record's outcome.
type OutcomeSummary struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	Status      string `json:"status"`
	Table       string `json:"table,omitempty"`
	RowsRead    int64  `json:"rowsRead"`
	RowsWritten int64  `json:"rowsWritten"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	n, err := event.Parse(http.MaxBytesReader(w, r.Body, maxNotificationBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	outcomes := s.handleConcurrently(r.Context(), n)

	resp := DeliveryResponse{Outcomes: make([]OutcomeSummary, 0, len(outcomes))}
	retry := false
	for _, out := range outcomes {
		sum := OutcomeSummary{
			Bucket:      out.Bucket,
			Key:         out.Key,
			Status:      string(out.Status),
			RowsRead:    out.RowsRead,
			RowsWritten: out.RowsWritten,
		}
		if out.Table != "" {
			sum.Table = out.Schema + "." + out.Table
		}
		if out.Err != nil {
			sum.Error = out.Err.Error()
			if errors.IsCode(out.Err, errors.CodeFetchFailed) {
				retry = true
			}
		}
		resp.Outcomes = append(resp.Outcomes, sum)
	}

	w.Header().Set("Content-Type", "application/json")
	if retry {
		// Signal the delivering queue to retry the whole notification.
		// Schema reconciliation is idempotent, so records that already
		// landed just load again.
		w.WriteHeader(http.StatusBadGateway)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// handleConcurrently fans records out over a bounded errgroup, preserving
// record order in the returned outcomes.
func (s *Server) handleConcurrently(ctx context.Context, n event.Notification) []pipeline.Outcome {
	outcomes := make([]pipeline.Outcome, len(n.Records))

	g, ctx := errgroup.WithContext(ctx)
	if s.concurrency > 0 {
		g.SetLimit(s.concurrency)
	}

	for i, rec := range n.Records {
		i, rec := i, rec
		g.Go(func() error {
			single := event.Notification{Records: []event.Record{rec}}
			outs, _ := s.pipeline.Handle(ctx, single)
			outcomes[i] = outs[0]
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

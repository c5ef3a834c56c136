package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/tabflow/tabflow/pkg/logging"
	"github.com/tabflow/tabflow/pkg/source"
	"github.com/tabflow/tabflow/pkg/tui"
)

var (
	watchDir    string
	watchSettle time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a local directory and ingest files as they appear",
	Long: `Watch a directory and ingest every supported file dropped into it.

Useful for local development without an S3 bucket: point watch at a
directory and copy files in. Each file is ingested once its size stops
changing, so partially written files are not picked up mid-copy.

Examples:
  tabflow watch --dir ./drop
  tabflow watch --dir /data/incoming --settle 2s`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchDir, "dir", "d", "", "Directory to watch (required)")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 500*time.Millisecond, "How long a file's size must be stable before ingesting")
	watchCmd.MarkFlagRequired("dir")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, teardown, err := setup(ctx)
	if err != nil {
		return err
	}
	defer teardown()

	p, err := buildPipeline(cfg, localFetcher{}, nil)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(watchDir); err != nil {
		return err
	}

	log := logging.Component("watch")
	log.Info("watching", "dir", watchDir)

	for {
		select {
		case <-ctx.Done():
			log.Info("stopping")
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if format, _ := source.Detect(ev.Name); format == source.FormatUnknown {
				continue
			}
			if !waitSettled(ctx, ev.Name, watchSettle) {
				continue
			}

			log.Info("ingesting", "path", ev.Name)
			outcomes, err := p.Handle(ctx, syntheticNotification("local", ev.Name))
			if err != nil {
				log.Error("ingest failed", "path", ev.Name, "error", err)
			}
			for _, out := range outcomes {
				tui.PrintOutcome(out)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("watcher error", "error", err)
		}
	}
}

// waitSettled polls the file's size until it stops changing between two
// consecutive checks. Returns false if the file disappears or the context
// is canceled first.
func waitSettled(ctx context.Context, path string, interval time.Duration) bool {
	var last int64 = -1
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if info.Size() == last {
			return info.Size() > 0
		}
		last = info.Size()
	}
}

package main

import (
	"context"
	"log"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samirrijal/fgbview/internal/adapters/flatgeobuf"
	"github.com/samirrijal/fgbview/internal/adapters/postgres"
	"github.com/samirrijal/fgbview/internal/core/domain"
	"github.com/samirrijal/fgbview/internal/pkg/config"
	"github.com/samirrijal/fgbview/internal/pkg/logging"
)

// ingestor copies the configured FlatGeobuf dataset into the PostGIS feature
// table so the API can serve it with source.kind = postgis. Run migrate up
// first.
func main() {
	cfg, err := config.Load("fgbview-ingestor")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	ranger, err := flatgeobuf.Open(cfg.Source.URL, cfg.Source.Timeout())
	if err != nil {
		log.Fatalf("open dataset: %v", err)
	}
	reader := flatgeobuf.NewReader(ranger, flatgeobuf.Options{
		MergeGap:       cfg.Source.MergeGap,
		HeaderPrefetch: cfg.Source.HeaderPrefetch,
	})
	defer reader.Close()

	header, err := reader.Header(ctx)
	if err != nil {
		log.Fatalf("read header: %v", err)
	}
	slog.Info("ingesting dataset",
		"url", cfg.Source.URL,
		"table", cfg.Source.Table,
		"features", header.FeaturesCount,
	)

	world := domain.QueryBox{MinX: -math.MaxFloat64, MinY: -math.MaxFloat64, MaxX: math.MaxFloat64, MaxY: math.MaxFloat64}
	it, err := reader.Stream(ctx, world)
	if err != nil {
		log.Fatalf("stream: %v", err)
	}

	start := time.Now()
	n, err := postgres.ImportFeatures(ctx, db, cfg.Source.Table, it, postgres.DefaultImportBatch)
	if err != nil {
		log.Fatalf("import after %d rows: %v", n, err)
	}
	slog.Info("ingestion complete", "rows", n, "took", time.Since(start).String())
}

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/samirrijal/fgbview/internal/adapters/flatgeobuf"
	"github.com/samirrijal/fgbview/internal/adapters/http"
	natsadapter "github.com/samirrijal/fgbview/internal/adapters/nats"
	"github.com/samirrijal/fgbview/internal/adapters/postgres"
	"github.com/samirrijal/fgbview/internal/adapters/valkey"
	"github.com/samirrijal/fgbview/internal/core/ports"
	"github.com/samirrijal/fgbview/internal/core/usecases"
	"github.com/samirrijal/fgbview/internal/pkg/config"
	"github.com/samirrijal/fgbview/internal/pkg/logging"
	"github.com/samirrijal/fgbview/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("fgbview-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	deps := &http.Dependencies{
		Loader: usecases.LoaderConfig{
			ThrottleWindow: cfg.Loader.ThrottleWindow(),
			ShrinkFactor:   cfg.Loader.ShrinkFactor,
		},
	}

	// Feature source
	var source ports.FeatureSource
	switch cfg.Source.Kind {
	case "postgis":
		db, err := postgres.New(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()

		fs, err := postgres.NewFeatureSource(db, cfg.Source.Table)
		if err != nil {
			log.Fatalf("feature source: %v", err)
		}
		source = fs
		deps.DB = db
		deps.Source = cfg.Source.Table

	default:
		ranger, err := flatgeobuf.Open(cfg.Source.URL, cfg.Source.Timeout())
		if err != nil {
			log.Fatalf("open dataset: %v", err)
		}
		reader := flatgeobuf.NewReader(ranger, flatgeobuf.Options{
			MergeGap:       cfg.Source.MergeGap,
			HeaderPrefetch: cfg.Source.HeaderPrefetch,
		})
		defer reader.Close()

		// Fail fast on an unreachable or malformed dataset.
		hctx, hcancel := context.WithTimeout(ctx, cfg.Source.Timeout())
		header, err := reader.Header(hctx)
		hcancel()
		if err != nil {
			log.Fatalf("read dataset header: %v", err)
		}
		slog.Info("dataset opened", "url", cfg.Source.URL, "header", header)
		source = reader
		deps.Source = cfg.Source.URL
	}
	deps.Features = usecases.NewFeatureService(source, cfg.Loader.MaxFeatures)

	// Session cache
	if cfg.Valkey.Enabled {
		cache, err := valkey.New(cfg.Valkey.Addr, time.Duration(cfg.Valkey.TTLSeconds)*time.Second)
		if err != nil {
			slog.Warn("valkey unavailable", "error", err)
		} else {
			defer cache.Close()
			deps.Cache = cache
			deps.Sessions = cache
		}
	}

	// Overlay mirroring
	if cfg.NATS.Enabled {
		pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats unavailable", "error", err)
		} else {
			defer pub.Close()
			deps.Mirror = pub
			deps.NATS = pub.Conn()

			sub, err := natsadapter.NewSubscriber(pub.Conn())
			if err != nil {
				slog.Warn("nats watch unavailable", "error", err)
			} else {
				deps.Watcher = sub
			}
		}
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "fgbview API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, If-None-Match",
		ExposeHeaders:    "ETag, X-Feature-Count, X-Truncated, X-Request-ID",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "source", cfg.Source.Kind)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
